package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/rift_backend/config"
	"github.com/mmdatafocus/rift_backend/models"
	"github.com/mmdatafocus/rift_backend/repository"
)

// PublishFunc publishes one event and returns the broker's message id.
type PublishFunc func(ctx context.Context, msg config.EscrowEventMessage) (string, error)

type OutboxDispatcher struct {
	Store        repository.OutboxStore
	Publish      PublishFunc
	Logger       *logrus.Logger
	DispatcherID string
	Now          func() time.Time

	BatchSize      int
	PollInterval   time.Duration
	LockTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
}

func NewOutboxDispatcher(store repository.OutboxStore, logger *logrus.Logger) *OutboxDispatcher {
	return &OutboxDispatcher{
		Store:          store,
		Publish:        config.PublishEscrowEventWithResult,
		Logger:         logger,
		DispatcherID:   uuid.NewString(),
		Now:            func() time.Time { return time.Now().UTC() },
		BatchSize:      50,
		PollInterval:   500 * time.Millisecond,
		LockTimeout:    30 * time.Second,
		MaxAttempts:    20,
		InitialBackoff: 5 * time.Second,
	}
}

func (d *OutboxDispatcher) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

// DispatchOnce claims one batch and publishes it. It returns how many messages were sent.
func (d *OutboxDispatcher) DispatchOnce(ctx context.Context) int {
	if d.Store == nil || d.Publish == nil {
		return 0
	}
	now := d.now()
	claimed, err := d.Store.ClaimOutbox(ctx, repository.OutboxClaim{
		DispatcherId: d.DispatcherID,
		Now:          now,
		BatchSize:    d.BatchSize,
		LockTimeout:  d.LockTimeout,
		MaxAttempts:  d.MaxAttempts,
	})
	if err != nil {
		d.log().WithFields(logrus.Fields{"field": "OutboxDispatcher"}).Warnf("claim failed: %v", err)
		return 0
	}

	sent := 0
	for _, rec := range claimed {
		pubID, pubErr := d.Publish(ctx, ToEventMessage(rec))
		if pubErr != nil {
			d.markPublishFailed(ctx, rec, pubErr)
			continue
		}
		if err := d.Store.MarkOutboxSent(ctx, rec.ID, pubID, now); err != nil {
			d.log().WithFields(logrus.Fields{
				"field":     "OutboxDispatcher",
				"record_id": rec.ID,
			}).Warnf("published but not marked sent, will be re-published after the lock times out: %v", err)
			continue
		}
		sent++
	}
	return sent
}

// ToEventMessage is the wire form of an outbox row.
func ToEventMessage(m models.OutboxMessage) config.EscrowEventMessage {
	return config.EscrowEventMessage{
		ID:            m.ID,
		EventType:     m.EventType,
		AggregateType: m.AggregateType,
		AggregateId:   m.AggregateId,
		OccurredAt:    m.OccurredAt,
		Payload:       m.Payload,
		CorrelationId: m.CorrelationId,
	}
}

func (d *OutboxDispatcher) markPublishFailed(ctx context.Context, rec models.OutboxMessage, err error) {
	attempt := rec.PublishAttempts
	msg := err.Error()

	// Terminal after MaxAttempts (DLQ equivalent).
	if d.MaxAttempts > 0 && attempt >= d.MaxAttempts {
		_ = d.Store.MarkOutboxFailed(ctx, rec.ID, msg, nil, true)
		d.log().WithFields(logrus.Fields{
			"field":        "OutboxDispatcher",
			"aggregate_id": rec.AggregateId,
			"record_id":    rec.ID,
			"attempt":      attempt,
		}).Error("outbox publish moved to DEAD after max attempts: " + fmt.Sprintf("%v", err))
		return
	}

	next := d.now().Add(d.backoff(attempt))
	_ = d.Store.MarkOutboxFailed(ctx, rec.ID, msg, &next, false)
	d.log().WithFields(logrus.Fields{
		"field":        "OutboxDispatcher",
		"aggregate_id": rec.AggregateId,
		"record_id":    rec.ID,
		"attempt":      attempt,
		"next_attempt": next,
	}).Warn("outbox publish failed: " + msg)
}

func (d *OutboxDispatcher) backoff(attempt int) time.Duration {
	backoff := d.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff > time.Minute*10 {
			return time.Minute * 10
		}
	}
	return backoff
}

func (d *OutboxDispatcher) now() time.Time {
	if d.Now == nil {
		return time.Now().UTC()
	}
	return d.Now().UTC()
}

func (d *OutboxDispatcher) log() *logrus.Logger {
	if d.Logger == nil {
		return logrus.StandardLogger()
	}
	return d.Logger
}
