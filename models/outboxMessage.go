package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/rift_backend/appctx"
)

// OutboxMessage is written in the same DB transaction as the change it announces.
// The outbox dispatcher publishes it to Pub/Sub after commit.
type OutboxMessage struct {
	ID               int        `gorm:"primary_key" json:"id"`
	EventType        string     `gorm:"size:64;not null" json:"event_type"`
	AggregateType    string     `gorm:"size:32;not null" json:"aggregate_type"`
	AggregateId      string     `gorm:"size:64;not null;index" json:"aggregate_id"`
	Payload          []byte     `gorm:"type:json" json:"payload"`
	OccurredAt       time.Time  `gorm:"not null" json:"occurred_at"`
	PublishStatus    string     `gorm:"size:20;not null;default:PENDING;index:idx_outbox_publish,priority:1" json:"publish_status"`
	NextAttemptAt    *time.Time `gorm:"index:idx_outbox_publish,priority:2" json:"next_attempt_at"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	PublishedAt      *time.Time `json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:128" json:"pub_sub_message_id"`
	LockedAt         *time.Time `json:"locked_at"`
	LockedBy         *string    `gorm:"size:64" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string     `gorm:"size:64" json:"correlation_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// NewOutboxMessage builds a PENDING outbox row carrying obj as its JSON payload.
func NewOutboxMessage(ctx context.Context, eventType, aggregateType, aggregateId string, obj any, at time.Time) (*OutboxMessage, error) {
	payload, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	return &OutboxMessage{
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateId:   aggregateId,
		Payload:       payload,
		OccurredAt:    at,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: CorrelationIdFromContextOrNew(ctx),
	}, nil
}

func CorrelationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := appctx.GetString(ctx, appctx.ContextKeyCorrelationId); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
