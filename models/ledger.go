package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntry is one row of the append-only wallet journal. Balances are projections over these rows.
type LedgerEntry struct {
	ID            int             `gorm:"primary_key" json:"id"`
	UserId        string          `gorm:"size:64;not null;index:idx_ledger_user_currency,priority:1" json:"user_id"`
	Currency      string          `gorm:"size:3;not null;index:idx_ledger_user_currency,priority:2" json:"currency"`
	Type          LedgerEntryType `gorm:"size:32;not null" json:"type"`
	Bucket        LedgerBucket    `gorm:"size:16;not null" json:"bucket"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	TransactionId *string         `gorm:"type:char(36);index" json:"transaction_id"`
	PayoutId      *string         `gorm:"type:char(36);index" json:"payout_id"`
	Memo          string          `gorm:"size:255" json:"memo"`
	CorrelationId string          `gorm:"size:64" json:"correlation_id"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// Payout is a withdrawal request advanced by the payout subsystem.
type Payout struct {
	ID                string          `gorm:"type:char(36);primary_key" json:"id"`
	UserId            string          `gorm:"size:64;not null;index" json:"user_id"`
	Amount            decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Currency          string          `gorm:"size:3;not null" json:"currency"`
	Status            PayoutStatus    `gorm:"size:20;not null;index:idx_payout_status_sched,priority:1" json:"status"`
	IsFirstWithdrawal bool            `gorm:"not null;default:false" json:"is_first_withdrawal"`
	ScheduledFor      time.Time       `gorm:"not null;index:idx_payout_status_sched,priority:2" json:"scheduled_for"`
	ExternalPayoutId  string          `gorm:"size:128;index" json:"external_payout_id"`
	FailureReason     string          `gorm:"type:text" json:"failure_reason"`
	CompletedAt       *time.Time      `json:"completed_at"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// PayoutProfile is the local half of withdrawal eligibility. The identity service owns the rest.
type PayoutProfile struct {
	UserId               string              `gorm:"size:64;primary_key" json:"user_id"`
	PhoneNumber          string              `gorm:"size:32" json:"phone_number"`
	PhoneRegion          string              `gorm:"size:2" json:"phone_region"`
	PayoutAccountStatus  PayoutAccountStatus `gorm:"size:20;not null;default:NONE" json:"payout_account_status"`
	DefaultCurrency      string              `gorm:"size:3" json:"default_currency"`
	LastEligibilityCheck *time.Time          `json:"last_eligibility_check"`
	CreatedAt            time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}
