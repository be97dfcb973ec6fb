// Package payments talks to the card processor and the payout rail.
package payments

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var ErrDeclined = errors.New("payment declined")

// Gateway is the payment processor. Every call is idempotent on the processor side
// for the same reference.
type Gateway interface {
	Authorize(ctx context.Context, idempotencyKey string, amount decimal.Decimal, currency string) (string, error)
	Capture(ctx context.Context, reference string) error
	Void(ctx context.Context, reference string) error
	Payout(ctx context.Context, payoutId, userId string, amount decimal.Decimal, currency string) (string, error)
}
