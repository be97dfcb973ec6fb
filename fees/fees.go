// Package fees computes the buyer/seller fee breakdown of a transaction.
//
// Every amount passes through RoundMoney exactly once, so the breakdown always satisfies
// BuyerTotal - BuyerFee == Subtotal == SellerNet + SellerFee.
package fees

import (
	"errors"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of minor-unit digits kept on every fee amount.
const MoneyPlaces = 2

// Rates is the configured fee schedule. It is passed in by the caller; this package keeps no rate state.
type Rates struct {
	Buyer  decimal.Decimal `json:"buyer"`
	Seller decimal.Decimal `json:"seller"`
}

func DefaultRates() Rates {
	return Rates{
		Buyer:  decimal.RequireFromString("0.03"),
		Seller: decimal.RequireFromString("0.05"),
	}
}

func (r Rates) Validate() error {
	one := decimal.NewFromInt(1)
	if r.Buyer.IsNegative() || r.Buyer.GreaterThanOrEqual(one) {
		return errors.New("buyer fee rate must be in [0, 1)")
	}
	if r.Seller.IsNegative() || r.Seller.GreaterThanOrEqual(one) {
		return errors.New("seller fee rate must be in [0, 1)")
	}
	return nil
}

type Breakdown struct {
	Subtotal   decimal.Decimal `json:"subtotal"`
	BuyerFee   decimal.Decimal `json:"buyer_fee"`
	SellerFee  decimal.Decimal `json:"seller_fee"`
	BuyerTotal decimal.Decimal `json:"buyer_total"`
	SellerNet  decimal.Decimal `json:"seller_net"`
	Rates      Rates           `json:"rates"`
}

// RoundMoney rounds half away from zero (half-up for the positive amounts used here) to MoneyPlaces.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

var (
	ErrNonPositiveSubtotal = errors.New("subtotal must be positive")
	ErrSubtotalPrecision   = errors.New("subtotal has more than 2 decimal places")
)

// Calculate returns the fee breakdown for subtotal under rates.
func Calculate(subtotal decimal.Decimal, rates Rates) (Breakdown, error) {
	if !subtotal.IsPositive() {
		return Breakdown{}, ErrNonPositiveSubtotal
	}
	if !subtotal.Equal(RoundMoney(subtotal)) {
		return Breakdown{}, ErrSubtotalPrecision
	}
	if err := rates.Validate(); err != nil {
		return Breakdown{}, err
	}
	buyerFee := RoundMoney(subtotal.Mul(rates.Buyer))
	sellerFee := RoundMoney(subtotal.Mul(rates.Seller))
	return Breakdown{
		Subtotal:   subtotal,
		BuyerFee:   buyerFee,
		SellerFee:  sellerFee,
		BuyerTotal: subtotal.Add(buyerFee),
		SellerNet:  subtotal.Sub(sellerFee),
		Rates:      rates,
	}, nil
}
