// Package ledger is the wallet journal: entry builders for every financial event, balance
// projections over the append-only rows, and the withdrawal/payout service.
//
// Per transaction the entries always net to 0, sellerNet or buyerTotal:
//
//	fund      ESCROW_HOLD     +sellerNet  PENDING   seller
//	release   HOLD_RELEASE    -sellerNet  PENDING   seller
//	          CREDIT_RELEASE  +sellerNet  AVAILABLE seller
//	refund    DEBIT_REFUND    -sellerNet  PENDING   seller
//	          CREDIT_REFUND   +buyerTotal AVAILABLE buyer
//	chargeback DEBIT_CHARGEBACK -sellerNet AVAILABLE seller
package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/mmdatafocus/rift_backend/models"
)

func txEntry(t *models.Transaction, userId string, typ models.LedgerEntryType, bucket models.LedgerBucket, amount decimal.Decimal, memo, correlationId string) models.LedgerEntry {
	id := t.ID
	return models.LedgerEntry{
		UserId:        userId,
		Currency:      t.Currency,
		Type:          typ,
		Bucket:        bucket,
		Amount:        amount,
		TransactionId: &id,
		Memo:          memo,
		CorrelationId: correlationId,
	}
}

// HoldEntries books the seller's net amount as pending when the buyer's payment is captured.
func HoldEntries(t *models.Transaction, correlationId string) []models.LedgerEntry {
	return []models.LedgerEntry{
		txEntry(t, t.SellerId, models.LedgerEntryEscrowHold, models.LedgerBucketPending, t.SellerNet,
			"escrow hold "+t.TransactionNumber, correlationId),
	}
}

// ReleaseEntries moves the hold from pending to available for the seller.
func ReleaseEntries(t *models.Transaction, correlationId string) []models.LedgerEntry {
	return []models.LedgerEntry{
		txEntry(t, t.SellerId, models.LedgerEntryHoldRelease, models.LedgerBucketPending, t.SellerNet.Neg(),
			"hold released "+t.TransactionNumber, correlationId),
		txEntry(t, t.SellerId, models.LedgerEntryCreditRelease, models.LedgerBucketAvailable, t.SellerNet,
			"release "+t.TransactionNumber, correlationId),
	}
}

// RefundEntries reverses the seller's hold and credits the buyer everything they paid.
func RefundEntries(t *models.Transaction, correlationId string) []models.LedgerEntry {
	return []models.LedgerEntry{
		txEntry(t, t.SellerId, models.LedgerEntryDebitRefund, models.LedgerBucketPending, t.SellerNet.Neg(),
			"hold reversed "+t.TransactionNumber, correlationId),
		txEntry(t, t.BuyerId, models.LedgerEntryCreditRefund, models.LedgerBucketAvailable, t.BuyerTotal,
			"refund "+t.TransactionNumber, correlationId),
	}
}

// ChargebackEntry claws a released amount back from the seller's available balance.
func ChargebackEntry(t *models.Transaction, reason, correlationId string) models.LedgerEntry {
	memo := "chargeback " + t.TransactionNumber
	if reason != "" {
		memo += ": " + reason
	}
	return txEntry(t, t.SellerId, models.LedgerEntryDebitChargeback, models.LedgerBucketAvailable, t.SellerNet.Neg(), memo, correlationId)
}

func payoutEntry(p *models.Payout, typ models.LedgerEntryType, amount decimal.Decimal, memo, correlationId string) models.LedgerEntry {
	id := p.ID
	return models.LedgerEntry{
		UserId:        p.UserId,
		Currency:      p.Currency,
		Type:          typ,
		Bucket:        models.LedgerBucketAvailable,
		Amount:        amount,
		PayoutId:      &id,
		Memo:          memo,
		CorrelationId: correlationId,
	}
}

func WithdrawalEntry(p *models.Payout, correlationId string) models.LedgerEntry {
	return payoutEntry(p, models.LedgerEntryDebitWithdrawal, p.Amount.Neg(), "withdrawal", correlationId)
}

// WithdrawalReversalEntry returns a failed payout's amount to the available balance.
func WithdrawalReversalEntry(p *models.Payout, correlationId string) models.LedgerEntry {
	return payoutEntry(p, models.LedgerEntryWithdrawalReversal, p.Amount, "payout failed", correlationId)
}

func AdjustmentEntry(userId, currency string, amount decimal.Decimal, memo, correlationId string) models.LedgerEntry {
	return models.LedgerEntry{
		UserId:        userId,
		Currency:      currency,
		Type:          models.LedgerEntryAdjustment,
		Bucket:        models.LedgerBucketAvailable,
		Amount:        amount,
		Memo:          memo,
		CorrelationId: correlationId,
	}
}
