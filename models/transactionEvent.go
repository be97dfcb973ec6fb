package models

import (
	"time"

	"gorm.io/datatypes"
)

// TransactionEvent is the append-only audit trail of every lifecycle transition.
type TransactionEvent struct {
	ID            int               `gorm:"primary_key" json:"id"`
	TransactionId string            `gorm:"type:char(36);not null;index" json:"transaction_id"`
	Operation     string            `gorm:"size:40;not null" json:"operation"`
	FromStatus    TransactionStatus `gorm:"size:40" json:"from_status"`
	ToStatus      TransactionStatus `gorm:"size:40;not null" json:"to_status"`
	ActorId       string            `gorm:"size:64;not null" json:"actor_id"`
	ActorRole     Party             `gorm:"size:20;not null" json:"actor_role"`
	Detail        datatypes.JSON    `json:"detail"`
	CorrelationId string            `gorm:"size:64" json:"correlation_id"`
	OccurredAt    time.Time         `gorm:"not null" json:"occurred_at"`
}

// Sequence is a named counter row for human-readable numbers.
type Sequence struct {
	Name      string    `gorm:"size:64;primary_key" json:"name"`
	Value     int64     `gorm:"not null;default:0" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Sequence) TableName() string { return "rift_sequences" }

const SequenceTransaction = "transaction"
