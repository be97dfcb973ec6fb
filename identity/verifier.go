// Package identity answers whether a user may receive payouts.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Eligibility is the identity service's view of a user.
type Eligibility struct {
	PhoneVerified         bool `json:"phone_verified"`
	IdentityVerified      bool `json:"identity_verified"`
	PayoutAccountApproved bool `json:"payout_account_approved"`
}

func (e Eligibility) Eligible() bool {
	return e.PhoneVerified && e.IdentityVerified && e.PayoutAccountApproved
}

// Missing lists the requirements not yet met.
func (e Eligibility) Missing() []string {
	var out []string
	if !e.PhoneVerified {
		out = append(out, "phone_verified")
	}
	if !e.IdentityVerified {
		out = append(out, "identity_verified")
	}
	if !e.PayoutAccountApproved {
		out = append(out, "payout_account_approved")
	}
	return out
}

type Verifier interface {
	PayoutEligibility(ctx context.Context, userId string) (Eligibility, error)
}

type HTTPVerifier struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewHTTPVerifier(baseURL, apiKey string, timeout time.Duration) (*HTTPVerifier, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("identity service base url is empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPVerifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// NewHTTPVerifierFromEnv reads IDENTITY_API_BASE_URL and IDENTITY_API_KEY.
func NewHTTPVerifierFromEnv(timeout time.Duration) (*HTTPVerifier, error) {
	return NewHTTPVerifier(os.Getenv("IDENTITY_API_BASE_URL"), os.Getenv("IDENTITY_API_KEY"), timeout)
}

func (v *HTTPVerifier) PayoutEligibility(ctx context.Context, userId string) (Eligibility, error) {
	endpoint := v.baseURL + "/v1/users/" + url.PathEscape(userId) + "/payout-eligibility"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Eligibility{}, err
	}
	req.Header.Set("Accept", "application/json")
	if v.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+v.apiKey)
	}
	resp, err := v.http.Do(req)
	if err != nil {
		return Eligibility{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == http.StatusNotFound {
		return Eligibility{}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Eligibility{}, fmt.Errorf("identity service error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out Eligibility
	if err := json.Unmarshal(body, &out); err != nil {
		return Eligibility{}, err
	}
	return out, nil
}
