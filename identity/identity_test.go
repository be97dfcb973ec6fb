package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestEligibility(t *testing.T) {
	e := Eligibility{PhoneVerified: true, IdentityVerified: true}
	if e.Eligible() {
		t.Fatalf("payout account not approved yet")
	}
	if m := e.Missing(); len(m) != 1 || m[0] != "payout_account_approved" {
		t.Fatalf("missing %v", m)
	}
	e.PayoutAccountApproved = true
	if !e.Eligible() || len(e.Missing()) != 0 {
		t.Fatalf("fully verified user should be eligible")
	}
}

func TestHTTPVerifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/users/u-1/payout-eligibility":
			_, _ = w.Write([]byte(`{"phone_verified":true,"identity_verified":true,"payout_account_approved":true}`))
		case "/v1/users/u-2/payout-eligibility":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	v, err := NewHTTPVerifier(srv.URL, "", time.Second)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	e, err := v.PayoutEligibility(context.Background(), "u-1")
	if err != nil || !e.Eligible() {
		t.Fatalf("u-1: %+v %v", e, err)
	}
	e, err = v.PayoutEligibility(context.Background(), "u-2")
	if err != nil || e.Eligible() {
		t.Fatalf("unknown user should be ineligible: %+v %v", e, err)
	}
	if _, err := v.PayoutEligibility(context.Background(), "u-3"); err == nil {
		t.Fatalf("server error should surface")
	}
}

func TestNormalizePhoneNumber(t *testing.T) {
	e164, region, err := NormalizePhoneNumber("(650) 253-0000", "US")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if e164 != "+16502530000" || region != "US" {
		t.Fatalf("got %s %s", e164, region)
	}
	if _, _, err := NormalizePhoneNumber("12", "US"); err == nil {
		t.Fatalf("short number accepted")
	}
}
