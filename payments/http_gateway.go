package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// HTTPGateway is the processor REST client. Calls are rate limited and carry an Idempotency-Key.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter <-chan time.Time
}

func NewHTTPGateway(baseURL, apiKey string, timeout time.Duration, ratePerSecond int) (*HTTPGateway, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("payment gateway base url is empty")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("payment gateway api key is empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if ratePerSecond <= 0 {
		ratePerSecond = 20
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		limiter: time.Tick(time.Second / time.Duration(ratePerSecond)),
	}, nil
}

// NewHTTPGatewayFromEnv reads PAYMENTS_API_BASE_URL, PAYMENTS_API_KEY and PAYMENTS_RATE_LIMIT_PER_SEC.
func NewHTTPGatewayFromEnv(timeout time.Duration) (*HTTPGateway, error) {
	rate := 20
	if v := strings.TrimSpace(os.Getenv("PAYMENTS_RATE_LIMIT_PER_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			rate = n
		}
	}
	return NewHTTPGateway(os.Getenv("PAYMENTS_API_BASE_URL"), os.Getenv("PAYMENTS_API_KEY"), timeout, rate)
}

type amountRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	UserId   string          `json:"user_id,omitempty"`
}

type referenceResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

func (g *HTTPGateway) Authorize(ctx context.Context, idempotencyKey string, amount decimal.Decimal, currency string) (string, error) {
	var out referenceResponse
	if err := g.post(ctx, "/v1/authorizations", idempotencyKey, amountRequest{Amount: amount, Currency: currency}, &out); err != nil {
		return "", err
	}
	if out.Reference == "" {
		return "", errors.New("payment gateway returned no reference")
	}
	return out.Reference, nil
}

func (g *HTTPGateway) Capture(ctx context.Context, reference string) error {
	return g.post(ctx, "/v1/authorizations/"+reference+"/capture", "capture:"+reference, nil, nil)
}

func (g *HTTPGateway) Void(ctx context.Context, reference string) error {
	return g.post(ctx, "/v1/authorizations/"+reference+"/void", "void:"+reference, nil, nil)
}

func (g *HTTPGateway) Payout(ctx context.Context, payoutId, userId string, amount decimal.Decimal, currency string) (string, error) {
	var out referenceResponse
	body := amountRequest{Amount: amount, Currency: currency, UserId: userId}
	if err := g.post(ctx, "/v1/payouts", "payout:"+payoutId, body, &out); err != nil {
		return "", err
	}
	return out.Reference, nil
}

func (g *HTTPGateway) post(ctx context.Context, path, idempotencyKey string, body any, out any) error {
	select {
	case <-g.limiter:
	case <-ctx.Done():
		return ctx.Err()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == http.StatusPaymentRequired {
		return fmt.Errorf("%w: %s", ErrDeclined, strings.TrimSpace(string(raw)))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("payment gateway error %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
