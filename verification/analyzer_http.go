package verification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// HTTPAnalyzer calls the remote evidence scoring service.
type HTTPAnalyzer struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewHTTPAnalyzer(baseURL, apiKey string, timeout time.Duration) (*HTTPAnalyzer, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("analyzer base url is empty")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPAnalyzer{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// NewHTTPAnalyzerFromEnv reads EVIDENCE_ANALYZER_URL and EVIDENCE_ANALYZER_API_KEY.
// It returns nil when no url is configured; the pipeline then fails closed.
func NewHTTPAnalyzerFromEnv(timeout time.Duration) (*HTTPAnalyzer, error) {
	baseURL := strings.TrimSpace(os.Getenv("EVIDENCE_ANALYZER_URL"))
	if baseURL == "" {
		return nil, nil
	}
	return NewHTTPAnalyzer(baseURL, os.Getenv("EVIDENCE_ANALYZER_API_KEY"), timeout)
}

type analyzeRequest struct {
	TransactionId string          `json:"transaction_id"`
	ItemKind      string          `json:"item_kind"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Currency      string          `json:"currency"`
	Kind          string          `json:"kind"`
	ContentType   string          `json:"content_type"`
	FileName      string          `json:"file_name,omitempty"`
	Data          []byte          `json:"data"`
}

func (a *HTTPAnalyzer) Analyze(ctx context.Context, art Artifact, vctx Context) (*Analysis, error) {
	payload, err := json.Marshal(analyzeRequest{
		TransactionId: vctx.TransactionId,
		ItemKind:      string(vctx.ItemKind),
		Subtotal:      vctx.Subtotal,
		Currency:      vctx.Currency,
		Kind:          string(art.Kind),
		ContentType:   art.ContentType,
		FileName:      art.FileName,
		Data:          art.Data,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/analyze", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("analyzer error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out Analysis
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
