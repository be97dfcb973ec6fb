// Package workflow is the transaction lifecycle engine. Every operation re-reads the transaction
// under a row lock, checks who is calling and from which status, and commits the status change,
// its ledger entries, the audit event and the outbox message in one unit of work.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"github.com/mmdatafocus/rift_backend/config"
	"github.com/mmdatafocus/rift_backend/ledger"
	"github.com/mmdatafocus/rift_backend/models"
	"github.com/mmdatafocus/rift_backend/payments"
	"github.com/mmdatafocus/rift_backend/repository"
	"github.com/mmdatafocus/rift_backend/scheduler"
	"github.com/mmdatafocus/rift_backend/storage"
	"github.com/mmdatafocus/rift_backend/vault"
	"github.com/mmdatafocus/rift_backend/verification"
)

const tracerName = "github.com/mmdatafocus/rift_backend/workflow"

type Engine struct {
	Store    repository.Store
	Payments payments.Gateway
	Objects  storage.ObjectStore
	Sealer   *vault.Sealer
	Verifier *verification.Pipeline
	Policy   config.Policy
	Locker   Locker
	Cache    *repository.SnapshotCache
	Logger   *logrus.Logger
	Tracer   trace.Tracer
	Now      func() time.Time
}

// NewEngine wires an engine with no lock and no cache. Callers set Locker and Cache when redis is available.
func NewEngine(store repository.Store, gateway payments.Gateway, objects storage.ObjectStore, sealer *vault.Sealer, verifier *verification.Pipeline, policy config.Policy, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{
		Store:    store,
		Payments: gateway,
		Objects:  objects,
		Sealer:   sealer,
		Verifier: verifier,
		Policy:   policy,
		Locker:   NoopLocker{},
		Logger:   logger,
		Tracer:   otel.Tracer(tracerName),
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now().UTC()
}

func (e *Engine) tracer() trace.Tracer {
	if e.Tracer == nil {
		return otel.Tracer(tracerName)
	}
	return e.Tracer
}

func (e *Engine) logger() *logrus.Logger {
	if e.Logger == nil {
		return logrus.StandardLogger()
	}
	return e.Logger
}

func (e *Engine) startSpan(ctx context.Context, name, transactionId string) (context.Context, trace.Span) {
	return e.tracer().Start(ctx, "workflow."+name, trace.WithAttributes(
		attribute.String("rift.operation", name),
		attribute.String("rift.transaction_id", transactionId),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (e *Engine) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.Policy.ExternalCallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.Policy.ExternalCallTimeout)
}

// lock takes the best-effort per-transaction lock. Failing to get it only costs contention.
func (e *Engine) lock(ctx context.Context, transactionId string) func() {
	if e.Locker == nil {
		return func() {}
	}
	unlock, err := e.Locker.Lock(ctx, "rift:tx:"+transactionId, e.Policy.LockTTL)
	if err != nil {
		e.logger().WithFields(logrus.Fields{
			"field":          "workflow",
			"transaction_id": transactionId,
		}).Debugf("proceeding without transaction lock: %v", err)
		return func() {}
	}
	return unlock
}

// step is one guarded transition in progress. Operations mutate tx and queue side effects;
// commit writes them together.
type step struct {
	ctx           context.Context
	repo          repository.Repo
	tx            *models.Transaction
	from          models.TransactionStatus
	version       int
	actor         models.Actor
	party         models.Party
	now           time.Time
	correlationId string

	entries []models.LedgerEntry
	outbox  []*models.OutboxMessage
	detail  map[string]any
	err     error
}

func (s *step) post(entries ...models.LedgerEntry) {
	s.entries = append(s.entries, entries...)
}

func (s *step) note(key string, value any) {
	if s.detail == nil {
		s.detail = map[string]any{}
	}
	s.detail[key] = value
}

// emit queues an outbox message. The payload is serialized now so later mutations do not leak into it.
func (s *step) emit(eventType, aggregateType, aggregateId string, payload any) {
	if s.err != nil {
		return
	}
	msg, err := models.NewOutboxMessage(s.ctx, eventType, aggregateType, aggregateId, payload, s.now)
	if err != nil {
		s.err = err
		return
	}
	msg.CorrelationId = s.correlationId
	s.outbox = append(s.outbox, msg)
}

// announce queues eventType with the transaction as it will be committed.
func (s *step) announce(eventType string) {
	s.emit(eventType, models.AggregateTransaction, s.tx.ID, s.tx)
}

func (s *step) commit(operation string) error {
	if s.err != nil {
		return s.err
	}
	if err := s.repo.UpdateTransaction(s.ctx, s.tx, s.from, s.version); err != nil {
		return err
	}
	if len(s.entries) > 0 {
		existing, err := s.repo.ListLedgerEntries(s.ctx, repository.LedgerFilter{TransactionId: s.tx.ID})
		if err != nil {
			return err
		}
		if err := ledger.CheckTransaction(s.tx, append(existing, s.entries...)); err != nil {
			return fmt.Errorf("%s: %w", operation, err)
		}
		if err := s.repo.AppendLedgerEntries(s.ctx, s.entries); err != nil {
			return err
		}
	}
	if err := appendEvent(s.ctx, s.repo, s.tx, operation, s.from, s.actor, s.party, s.detail, s.correlationId, s.now); err != nil {
		return err
	}
	for _, m := range s.outbox {
		if err := s.repo.EnqueueOutbox(s.ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func appendEvent(ctx context.Context, r repository.Repo, t *models.Transaction, operation string, from models.TransactionStatus, actor models.Actor, party models.Party, detail map[string]any, correlationId string, at time.Time) error {
	var raw datatypes.JSON
	if len(detail) > 0 {
		b, err := json.Marshal(detail)
		if err != nil {
			return err
		}
		raw = b
	}
	return r.AppendTransactionEvent(ctx, &models.TransactionEvent{
		TransactionId: t.ID,
		Operation:     operation,
		FromStatus:    from,
		ToStatus:      t.Status,
		ActorId:       actor.UserId,
		ActorRole:     party,
		Detail:        raw,
		CorrelationId: correlationId,
		OccurredAt:    at,
	})
}

// transition runs fn as a guarded state change of transaction id on behalf of actor.
func (e *Engine) transition(ctx context.Context, actor models.Actor, id, operation string, fn func(s *step) error) (t *models.Transaction, err error) {
	ctx, span := e.startSpan(ctx, operation, id)
	defer func() { endSpan(span, err) }()

	unlock := e.lock(ctx, id)
	defer unlock()

	correlationId := models.CorrelationIdFromContextOrNew(ctx)
	var out *models.Transaction
	err = e.Store.WithinTx(ctx, func(r repository.Repo) error {
		current, err := r.GetTransactionForUpdate(ctx, id)
		if err != nil {
			return err
		}
		party, err := guard(operation, current, actor)
		if err != nil {
			return err
		}
		s := &step{
			ctx:           ctx,
			repo:          r,
			tx:            current,
			from:          current.Status,
			version:       current.Version,
			actor:         actor,
			party:         party,
			now:           e.now(),
			correlationId: correlationId,
		}
		if err := fn(s); err != nil {
			return err
		}
		if err := s.commit(operation); err != nil {
			return err
		}
		out = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.Cache.Invalidate(ctx, id)
	e.logger().WithFields(logrus.Fields{
		"field":          "workflow",
		"operation":      operation,
		"transaction_id": id,
		"status":         out.Status,
		"correlation_id": correlationId,
	}).Info("transition committed")
	return out, nil
}

// precheck validates caller and status before an external call is made. The same checks run
// again inside the unit of work.
func (e *Engine) precheck(ctx context.Context, actor models.Actor, id, operation string) (*models.Transaction, models.Party, error) {
	t, err := e.Store.GetTransaction(ctx, id)
	if err != nil {
		return nil, "", err
	}
	party, err := guard(operation, t, actor)
	if err != nil {
		return nil, "", err
	}
	return t, party, nil
}

func (e *Engine) external(service, operation string, err error) error {
	e.logger().WithFields(logrus.Fields{
		"field":     "workflow",
		"service":   service,
		"operation": operation,
	}).Warnf("external call failed: %v", err)
	return &models.ExternalServiceError{Service: service, Op: operation, Err: err}
}

func (e *Engine) deadline(t *models.Transaction, status models.TransactionStatus, from time.Time) *time.Time {
	w := e.Policy.GraceWindows()
	d := w.Deadline(t.ItemKind, scheduler.PhaseForStatus(t.ItemKind, status), from)
	return &d
}

func arm(t *models.Transaction, deadline *time.Time) {
	t.AutoReleaseArmed = true
	t.GracePeriodDeadline = deadline
}

func disarm(t *models.Transaction) {
	t.AutoReleaseArmed = false
}
