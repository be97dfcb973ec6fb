package models

import (
	"fmt"
	"strings"
)

// Older clients still send and expect the legacy status names. The core only ever
// stores TransactionStatus; translation happens at the HTTP boundary through these tables.
var legacyStatusAliases = map[string]TransactionStatus{
	"PENDING":            TransactionStatusAwaitingPayment,
	"PENDING_PAYMENT":    TransactionStatusAwaitingPayment,
	"AWAITING_FUNDS":     TransactionStatusAwaitingPayment,
	"PAID":               TransactionStatusFunded,
	"ESCROW_FUNDED":      TransactionStatusFunded,
	"SHIPPED":            TransactionStatusInTransit,
	"DELIVERED":          TransactionStatusDeliveredPendingRelease,
	"PROOF_UPLOADED":     TransactionStatusProofSubmitted,
	"AWAITING_REVIEW":    TransactionStatusUnderReview,
	"COMPLETED":          TransactionStatusReleased,
	"FUNDS_RELEASED":     TransactionStatusReleased,
	"IN_DISPUTE":         TransactionStatusDisputed,
	"DISPUTE_RESOLVED":   TransactionStatusResolved,
	"PAYOUT_PENDING":     TransactionStatusPayoutScheduled,
	"PAYOUT_COMPLETED":   TransactionStatusPaidOut,
	"REFUND_ISSUED":      TransactionStatusRefunded,
	"CANCELED":           TransactionStatusCancelled,
	"VOIDED":             TransactionStatusCancelled,
	"AWAITING_SHIP":      TransactionStatusAwaitingShipment,
	"AWAITING_DELIVERY":  TransactionStatusAwaitingShipment,
	"DELIVERY_CONFIRMED": TransactionStatusDeliveredPendingRelease,
}

// displayStatus is the coarse label shown by clients; several canonical statuses share one label.
var displayStatus = map[TransactionStatus]string{
	TransactionStatusDraft:                   "DRAFT",
	TransactionStatusAwaitingPayment:         "AWAITING_PAYMENT",
	TransactionStatusFunded:                  "IN_PROGRESS",
	TransactionStatusAwaitingShipment:        "IN_PROGRESS",
	TransactionStatusProofSubmitted:          "DELIVERED",
	TransactionStatusUnderReview:             "UNDER_REVIEW",
	TransactionStatusInTransit:               "IN_PROGRESS",
	TransactionStatusDeliveredPendingRelease: "DELIVERED",
	TransactionStatusReleased:                "COMPLETED",
	TransactionStatusDisputed:                "DISPUTED",
	TransactionStatusResolved:                "DELIVERED",
	TransactionStatusPayoutScheduled:         "COMPLETED",
	TransactionStatusPaidOut:                 "COMPLETED",
	TransactionStatusRefunded:                "REFUNDED",
	TransactionStatusCancelled:               "CANCELLED",
}

// ParseTransactionStatus accepts canonical names and legacy aliases, case-insensitively.
func ParseTransactionStatus(raw string) (TransactionStatus, error) {
	key := strings.ToUpper(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, "-", "_")
	key = strings.ReplaceAll(key, " ", "_")
	if s := TransactionStatus(key); s.IsValid() {
		return s, nil
	}
	if s, ok := legacyStatusAliases[key]; ok {
		return s, nil
	}
	return "", fmt.Errorf("unknown transaction status %q", raw)
}

// DisplayStatus maps a canonical status to its client label.
func DisplayStatus(s TransactionStatus) string {
	if v, ok := displayStatus[s]; ok {
		return v
	}
	return string(s)
}
