package fees

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCalculateHundredDollarScenario(t *testing.T) {
	b, err := Calculate(d("100.00"), DefaultRates())
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	checks := []struct {
		name string
		got  decimal.Decimal
		want string
	}{
		{"buyer fee", b.BuyerFee, "3.00"},
		{"seller fee", b.SellerFee, "5.00"},
		{"buyer total", b.BuyerTotal, "103.00"},
		{"seller net", b.SellerNet, "95.00"},
	}
	for _, c := range checks {
		if !c.got.Equal(d(c.want)) {
			t.Fatalf("%s: want %s, got %s", c.name, c.want, c.got)
		}
	}
}

func TestCalculateRoundsHalfUp(t *testing.T) {
	cases := []struct {
		subtotal  string
		buyerFee  string
		sellerFee string
	}{
		// 0.50 * 0.03 = 0.015 -> 0.02
		{"0.50", "0.02", "0.03"},
		// 10.10 * 0.05 = 0.505 -> 0.51
		{"10.10", "0.30", "0.51"},
		// 33.33 * 0.03 = 0.9999 -> 1.00
		{"33.33", "1.00", "1.67"},
		{"0.01", "0.00", "0.00"},
	}
	for _, c := range cases {
		b, err := Calculate(d(c.subtotal), DefaultRates())
		if err != nil {
			t.Fatalf("Calculate(%s): %v", c.subtotal, err)
		}
		if !b.BuyerFee.Equal(d(c.buyerFee)) {
			t.Fatalf("subtotal %s: buyer fee want %s got %s", c.subtotal, c.buyerFee, b.BuyerFee)
		}
		if !b.SellerFee.Equal(d(c.sellerFee)) {
			t.Fatalf("subtotal %s: seller fee want %s got %s", c.subtotal, c.sellerFee, b.SellerFee)
		}
	}
}

func TestCalculateRoundTrip(t *testing.T) {
	rates := []Rates{
		DefaultRates(),
		{Buyer: d("0.025"), Seller: d("0.0725")},
		{Buyer: d("0"), Seller: d("0.1")},
	}
	for _, r := range rates {
		for cents := int64(1); cents <= 250000; cents += 997 {
			subtotal := decimal.New(cents, -2)
			b, err := Calculate(subtotal, r)
			if err != nil {
				t.Fatalf("Calculate(%s): %v", subtotal, err)
			}
			if !b.BuyerTotal.Sub(b.BuyerFee).Equal(subtotal) {
				t.Fatalf("buyerTotal - buyerFee != subtotal for %s", subtotal)
			}
			if !b.SellerNet.Add(b.SellerFee).Equal(subtotal) {
				t.Fatalf("sellerNet + sellerFee != subtotal for %s", subtotal)
			}
			if !b.BuyerFee.Equal(RoundMoney(b.BuyerFee)) || !b.SellerFee.Equal(RoundMoney(b.SellerFee)) {
				t.Fatalf("fees for %s not rounded to cents: %s / %s", subtotal, b.BuyerFee, b.SellerFee)
			}
		}
	}
}

func TestCalculateRejectsBadInput(t *testing.T) {
	if _, err := Calculate(d("0"), DefaultRates()); !errors.Is(err, ErrNonPositiveSubtotal) {
		t.Fatalf("zero subtotal: want ErrNonPositiveSubtotal, got %v", err)
	}
	if _, err := Calculate(d("-5"), DefaultRates()); !errors.Is(err, ErrNonPositiveSubtotal) {
		t.Fatalf("negative subtotal: want ErrNonPositiveSubtotal, got %v", err)
	}
	if _, err := Calculate(d("1.005"), DefaultRates()); !errors.Is(err, ErrSubtotalPrecision) {
		t.Fatalf("3dp subtotal: want ErrSubtotalPrecision, got %v", err)
	}
	if _, err := Calculate(d("10"), Rates{Buyer: d("1"), Seller: d("0")}); err == nil {
		t.Fatalf("rate of 1 should be rejected")
	}
}

func TestRatesAreFrozenInBreakdown(t *testing.T) {
	r := Rates{Buyer: d("0.04"), Seller: d("0.06")}
	b, err := Calculate(d("50.00"), r)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	r.Buyer = d("0.5")
	if !b.Rates.Buyer.Equal(d("0.04")) {
		t.Fatalf("breakdown should keep the rate it was computed with, got %s", b.Rates.Buyer)
	}
}
