package models

import (
	"time"

	"gorm.io/datatypes"
)

// Dispute freezes a funded transaction until an admin resolves it.
// At most one non-resolved dispute exists per transaction.
type Dispute struct {
	ID              string         `gorm:"type:char(36);primary_key" json:"id"`
	TransactionId   string         `gorm:"type:char(36);not null;index" json:"transaction_id"`
	RaisedBy        string         `gorm:"size:64;not null" json:"raised_by"`
	RaisedByRole    Party          `gorm:"size:20;not null" json:"raised_by_role"`
	ReasonCode      DisputeReason  `gorm:"size:40;not null" json:"reason_code"`
	Summary         string         `gorm:"type:text" json:"summary"`
	Evidence        datatypes.JSON `json:"evidence"`
	Status          DisputeStatus  `gorm:"size:20;not null;index" json:"status"`
	Outcome         DisputeOutcome `gorm:"size:20" json:"outcome"`
	ResolutionNotes string         `gorm:"type:text" json:"resolution_notes"`
	ResolvedBy      string         `gorm:"size:64" json:"resolved_by"`
	ResolvedAt      *time.Time     `json:"resolved_at"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// DisputeEvidence is one entry of Dispute.Evidence.
type DisputeEvidence struct {
	AddedBy   string    `json:"added_by"`
	AddedAt   time.Time `json:"added_at"`
	Reference string    `json:"reference"`
	Note      string    `json:"note,omitempty"`
}
