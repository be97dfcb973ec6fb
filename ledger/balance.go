package ledger

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/mmdatafocus/rift_backend/models"
)

// Balance is a projection of one user's entries in one currency.
type Balance struct {
	UserId    string          `json:"user_id"`
	Currency  string          `json:"currency"`
	Available decimal.Decimal `json:"available"`
	Pending   decimal.Decimal `json:"pending"`
}

// Project sums entries per currency. Entries of other users are ignored.
func Project(userId string, entries []models.LedgerEntry) []Balance {
	byCurrency := map[string]*Balance{}
	for _, e := range entries {
		if e.UserId != userId {
			continue
		}
		b, ok := byCurrency[e.Currency]
		if !ok {
			b = &Balance{UserId: userId, Currency: e.Currency, Available: decimal.Zero, Pending: decimal.Zero}
			byCurrency[e.Currency] = b
		}
		switch e.Bucket {
		case models.LedgerBucketAvailable:
			b.Available = b.Available.Add(e.Amount)
		case models.LedgerBucketPending:
			b.Pending = b.Pending.Add(e.Amount)
		}
	}
	out := make([]Balance, 0, len(byCurrency))
	for _, b := range byCurrency {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out
}

// BalanceIn returns the projection for one currency, zero when the user has no entries in it.
func BalanceIn(userId, currency string, entries []models.LedgerEntry) Balance {
	for _, b := range Project(userId, entries) {
		if b.Currency == currency {
			return b
		}
	}
	return Balance{UserId: userId, Currency: currency, Available: decimal.Zero, Pending: decimal.Zero}
}

// Sum is the signed total of entries.
func Sum(entries []models.LedgerEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	return total
}

// CheckTransaction verifies that the entries booked against t never create money: at most one
// hold, at most one release or refund, and a net of 0, sellerNet or buyerTotal.
func CheckTransaction(t *models.Transaction, entries []models.LedgerEntry) error {
	counts := map[models.LedgerEntryType]int{}
	pending := decimal.Zero
	for _, e := range entries {
		if e.TransactionId == nil || *e.TransactionId != t.ID {
			return fmt.Errorf("entry %d does not belong to transaction %s", e.ID, t.ID)
		}
		counts[e.Type]++
		if e.Bucket == models.LedgerBucketPending {
			pending = pending.Add(e.Amount)
		}
	}
	if counts[models.LedgerEntryEscrowHold] > 1 {
		return fmt.Errorf("transaction %s held %d times", t.TransactionNumber, counts[models.LedgerEntryEscrowHold])
	}
	releases := counts[models.LedgerEntryCreditRelease]
	refunds := counts[models.LedgerEntryCreditRefund]
	if releases+refunds > 1 {
		return fmt.Errorf("transaction %s settled %d times", t.TransactionNumber, releases+refunds)
	}
	if releases+refunds == 1 && counts[models.LedgerEntryEscrowHold] == 0 {
		return fmt.Errorf("transaction %s settled without a hold", t.TransactionNumber)
	}
	if counts[models.LedgerEntryDebitChargeback] > releases {
		return fmt.Errorf("transaction %s charged back without a release", t.TransactionNumber)
	}
	if pending.IsNegative() || (!pending.IsZero() && !pending.Equal(t.SellerNet)) {
		return fmt.Errorf("transaction %s pending net %s is neither 0 nor the hold", t.TransactionNumber, pending)
	}
	sum := Sum(entries)
	if !sum.IsZero() && !sum.Equal(t.SellerNet) && !sum.Equal(t.BuyerTotal) {
		return fmt.Errorf("transaction %s nets %s, want 0, %s or %s", t.TransactionNumber, sum, t.SellerNet, t.BuyerTotal)
	}
	return nil
}
