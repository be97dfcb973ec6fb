package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is one escrow deal ("rift") between a buyer and a seller.
// Fee columns are frozen at fund time and never recomputed.
type Transaction struct {
	ID                  string            `gorm:"type:char(36);primary_key" json:"id"`
	SequenceNo          int64             `gorm:"not null;uniqueIndex" json:"sequence_no"`
	TransactionNumber   string            `gorm:"size:32;not null;uniqueIndex" json:"transaction_number"`
	ItemKind            ItemKind          `gorm:"size:32;not null" json:"item_kind"`
	Title               string            `gorm:"size:255;not null" json:"title"`
	Description         string            `gorm:"type:text" json:"description"`
	Subtotal            decimal.Decimal   `gorm:"type:decimal(20,4);not null" json:"subtotal"`
	Currency            string            `gorm:"size:3;not null" json:"currency"`
	BuyerFeeRate        decimal.Decimal   `gorm:"type:decimal(10,6);not null;default:0" json:"buyer_fee_rate"`
	SellerFeeRate       decimal.Decimal   `gorm:"type:decimal(10,6);not null;default:0" json:"seller_fee_rate"`
	BuyerFee            decimal.Decimal   `gorm:"type:decimal(20,4);not null;default:0" json:"buyer_fee"`
	SellerFee           decimal.Decimal   `gorm:"type:decimal(20,4);not null;default:0" json:"seller_fee"`
	BuyerTotal          decimal.Decimal   `gorm:"type:decimal(20,4);not null;default:0" json:"buyer_total"`
	SellerNet           decimal.Decimal   `gorm:"type:decimal(20,4);not null;default:0" json:"seller_net"`
	BuyerId             string            `gorm:"size:64;not null;index" json:"buyer_id"`
	SellerId            string            `gorm:"size:64;index" json:"seller_id"`
	InviteCode          string            `gorm:"size:64;index" json:"-"`
	Status              TransactionStatus `gorm:"size:40;not null;index:idx_rift_status_deadline,priority:1" json:"status"`
	Version             int               `gorm:"not null;default:1" json:"version"`
	PaymentReference    string            `gorm:"size:128" json:"-"`
	AutoReleaseArmed    bool              `gorm:"not null;default:false" json:"auto_release_armed"`
	GracePeriodDeadline *time.Time        `gorm:"index:idx_rift_status_deadline,priority:2" json:"grace_period_deadline"`
	FundedAt            *time.Time        `json:"funded_at"`
	ProofSubmittedAt    *time.Time        `json:"proof_submitted_at"`
	ReleasedAt          *time.Time        `json:"released_at"`
	RefundedAt          *time.Time        `json:"refunded_at"`
	CancelledAt         *time.Time        `json:"cancelled_at"`
	CreatedAt           time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Transaction) TableName() string { return "rift_transactions" }

// FormatTransactionNumber renders the human-readable number for a sequence value.
func FormatTransactionNumber(seq int64) string {
	return fmt.Sprintf("RIFT-%06d", seq)
}

// PartiesOf returns every capacity in which the actor relates to t.
func (t *Transaction) PartiesOf(actor Actor) []Party {
	var parties []Party
	switch actor.Role {
	case RoleSystem:
		return []Party{PartySystem}
	case RoleAdmin:
		parties = append(parties, PartyAdmin)
	}
	if actor.UserId != "" {
		if actor.UserId == t.BuyerId {
			parties = append(parties, PartyBuyer)
		}
		if t.SellerId != "" && actor.UserId == t.SellerId {
			parties = append(parties, PartySeller)
		}
	}
	return parties
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserId string `json:"user_id"`
	Role   Role   `json:"role"`
}

var SystemActor = Actor{UserId: "system", Role: RoleSystem}
