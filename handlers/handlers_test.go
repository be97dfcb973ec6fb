package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/rift_backend/config"
	"github.com/mmdatafocus/rift_backend/identity"
	"github.com/mmdatafocus/rift_backend/ledger"
	"github.com/mmdatafocus/rift_backend/middlewares"
	"github.com/mmdatafocus/rift_backend/models"
	"github.com/mmdatafocus/rift_backend/repository"
	"github.com/mmdatafocus/rift_backend/storage"
	"github.com/mmdatafocus/rift_backend/utils"
	"github.com/mmdatafocus/rift_backend/vault"
	"github.com/mmdatafocus/rift_backend/verification"
	"github.com/mmdatafocus/rift_backend/workflow"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type stubGateway struct {
	mu           sync.Mutex
	authorizeErr error
	n            int
}

func (g *stubGateway) Authorize(context.Context, string, decimal.Decimal, string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.authorizeErr != nil {
		return "", g.authorizeErr
	}
	g.n++
	return fmt.Sprintf("auth-%d", g.n), nil
}
func (g *stubGateway) Capture(context.Context, string) error { return nil }
func (g *stubGateway) Void(context.Context, string) error    { return nil }
func (g *stubGateway) Payout(_ context.Context, payoutId, _ string, _ decimal.Decimal, _ string) (string, error) {
	return "ext-" + payoutId, nil
}

type stubAnalyzer struct{}

func (stubAnalyzer) Analyze(context.Context, verification.Artifact, verification.Context) (*verification.Analysis, error) {
	return &verification.Analysis{Score: 90}, nil
}

type stubIdentity struct{}

func (stubIdentity) PayoutEligibility(context.Context, string) (identity.Eligibility, error) {
	return identity.Eligibility{PhoneVerified: true, IdentityVerified: true, PayoutAccountApproved: true}, nil
}

type server struct {
	router  *gin.Engine
	store   *repository.MemoryStore
	gateway *stubGateway
	handler *Handler
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("API_SECRET", "handler-test-secret")

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store := repository.NewMemoryStore()
	store.Now = func() time.Time { return t0 }
	sealer, err := vault.NewSealer(make([]byte, 32))
	if err != nil {
		t.Fatalf("sealer: %v", err)
	}
	policy := config.DefaultPolicy()
	gw := &stubGateway{}
	engine := workflow.NewEngine(store, gw, storage.NewMemoryStore(), sealer,
		verification.NewPipeline(stubAnalyzer{}, policy.VerificationThresholds(), logger), policy, logger)
	engine.Now = func() time.Time { return t0 }
	ledgerSvc := ledger.NewService(store, stubIdentity{}, gw, ledger.DefaultRules(), logger)
	ledgerSvc.Now = func() time.Time { return t0 }

	h := New(engine, ledgerSvc, workflow.NewSweeper(engine), logger)
	h.PushToken = "push-secret"

	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(middlewares.AuthMiddleware())
	r.Use(middlewares.ErrorLogger(logger))
	h.Register(r)
	return &server{router: r, store: store, gateway: gw, handler: h}
}

func token(t *testing.T, userId string, role models.Role) string {
	t.Helper()
	tok, err := utils.JwtGenerate(userId, string(role))
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return tok
}

func (s *server) do(t *testing.T, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

type txBody struct {
	ID            string          `json:"id"`
	Status        string          `json:"status"`
	DisplayStatus string          `json:"display_status"`
	BuyerTotal    decimal.Decimal `json:"buyer_total"`
}

func (s *server) create(t *testing.T, buyerTok string) txBody {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/transactions", buyerTok, gin.H{
		"item_kind": "digital",
		"title":     "Game license",
		"subtotal":  "100.00",
		"currency":  "usd",
		"seller_id": "seller-1",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	var tx txBody
	decode(t, w, &tx)
	return tx
}

func TestDigitalTransactionOverHTTP(t *testing.T) {
	s := newServer(t)
	buyerTok := token(t, "buyer-1", models.RoleUser)
	sellerTok := token(t, "seller-1", models.RoleUser)

	tx := s.create(t, buyerTok)
	if tx.Status != string(models.TransactionStatusAwaitingPayment) || !tx.BuyerTotal.Equal(decimal.RequireFromString("103")) {
		t.Fatalf("unexpected created transaction: %+v", tx)
	}
	if tx.DisplayStatus != models.DisplayStatus(models.TransactionStatusAwaitingPayment) {
		t.Fatalf("display status: %q", tx.DisplayStatus)
	}

	if w := s.do(t, http.MethodPost, "/api/v1/transactions/"+tx.ID+"/fund", buyerTok, nil); w.Code != http.StatusOK {
		t.Fatalf("fund: %d %s", w.Code, w.Body.String())
	}

	w := s.do(t, http.MethodPost, "/api/v1/transactions/"+tx.ID+"/proofs", sellerTok, gin.H{
		"kind": "license_key",
		"data": "ABCDE-12345-FGHIJ-67890",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("proof: %d %s", w.Code, w.Body.String())
	}
	var proof struct {
		Asset struct {
			ID string `json:"id"`
		} `json:"asset"`
	}
	decode(t, w, &proof)

	w = s.do(t, http.MethodPost, "/api/v1/transactions/"+tx.ID+"/vault/"+proof.Asset.ID, buyerTok, gin.H{"action": "revealed"})
	if w.Code != http.StatusOK {
		t.Fatalf("vault access: %d %s", w.Code, w.Body.String())
	}
	var access workflow.VaultAccess
	decode(t, w, &access)
	if access.Payload != "ABCDE-12345-FGHIJ-67890" {
		t.Fatalf("buyer should see the key, got %+v", access)
	}

	w = s.do(t, http.MethodPost, "/api/v1/transactions/"+tx.ID+"/release", buyerTok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("release: %d %s", w.Code, w.Body.String())
	}
	decode(t, w, &tx)
	if tx.Status != string(models.TransactionStatusReleased) {
		t.Fatalf("want RELEASED, got %s", tx.Status)
	}

	w = s.do(t, http.MethodGet, "/api/v1/wallet", sellerTok, nil)
	var wallet struct {
		Balances []ledger.Balance `json:"balances"`
	}
	decode(t, w, &wallet)
	if len(wallet.Balances) != 1 || !wallet.Balances[0].Available.Equal(decimal.RequireFromString("95")) {
		t.Fatalf("seller wallet: %+v", wallet.Balances)
	}

	w = s.do(t, http.MethodGet, "/api/v1/wallet/statement", sellerTok, nil)
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != xlsxContentType || w.Body.Len() == 0 {
		t.Fatalf("statement: %d %s", w.Code, w.Header().Get("Content-Type"))
	}
}

func TestErrorsMapToStatusCodes(t *testing.T) {
	s := newServer(t)
	buyerTok := token(t, "buyer-1", models.RoleUser)
	tx := s.create(t, buyerTok)

	if w := s.do(t, http.MethodGet, "/api/v1/transactions/"+tx.ID, "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: want 401, got %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/api/v1/transactions/"+tx.ID, "not-a-jwt", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: want 401, got %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/api/v1/transactions/"+tx.ID, token(t, "someone-else", models.RoleUser), nil); w.Code != http.StatusForbidden {
		t.Fatalf("stranger: want 403, got %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/api/v1/transactions/missing", buyerTok, nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing: want 404, got %d", w.Code)
	}

	w := s.do(t, http.MethodPost, "/api/v1/transactions/"+tx.ID+"/dispute", buyerTok, gin.H{"reason": "OTHER", "summary": "too early"})
	if w.Code != http.StatusConflict {
		t.Fatalf("dispute before funding: want 409, got %d %s", w.Code, w.Body.String())
	}
	var conflict struct {
		CurrentStatus string `json:"current_status"`
	}
	decode(t, w, &conflict)
	if conflict.CurrentStatus != string(models.TransactionStatusAwaitingPayment) {
		t.Fatalf("conflict should name the current status: %s", w.Body.String())
	}

	w = s.do(t, http.MethodPost, "/api/v1/transactions", buyerTok, gin.H{"item_kind": "DIGITAL", "title": "x", "subtotal": "10", "currency": "US"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("short currency: want 422, got %d", w.Code)
	}

	s.gateway.authorizeErr = errors.New("gateway timeout")
	w = s.do(t, http.MethodPost, "/api/v1/transactions/"+tx.ID+"/fund", buyerTok, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("gateway outage: want 503, got %d %s", w.Code, w.Body.String())
	}
	var unavailable struct {
		Retryable bool `json:"retryable"`
	}
	decode(t, w, &unavailable)
	if !unavailable.Retryable {
		t.Fatalf("outage should be retryable: %s", w.Body.String())
	}
}

func TestMultipartProofUpload(t *testing.T) {
	s := newServer(t)
	buyerTok := token(t, "buyer-1", models.RoleUser)
	tx := s.create(t, buyerTok)
	if w := s.do(t, http.MethodPost, "/api/v1/transactions/"+tx.ID+"/fund", buyerTok, nil); w.Code != http.StatusOK {
		t.Fatalf("fund: %d", w.Code)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("kind", "file"); err != nil {
		t.Fatalf("field: %v", err)
	}
	part, err := mw.CreateFormFile("file", "receipt.txt")
	if err != nil {
		t.Fatalf("part: %v", err)
	}
	part.Write([]byte("Order 1234 total USD 100.00 delivered"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions/"+tx.ID+"/proofs", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token(t, "seller-1", models.RoleUser))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload: %d %s", w.Code, w.Body.String())
	}
	var out struct {
		Asset struct {
			Kind     string `json:"kind"`
			FileName string `json:"file_name"`
		} `json:"asset"`
	}
	decode(t, w, &out)
	if out.Asset.Kind != string(models.AssetKindFile) {
		t.Fatalf("unexpected asset: %s", w.Body.String())
	}
}

func TestBase64ProofMustDecode(t *testing.T) {
	s := newServer(t)
	buyerTok := token(t, "buyer-1", models.RoleUser)
	tx := s.create(t, buyerTok)
	s.do(t, http.MethodPost, "/api/v1/transactions/"+tx.ID+"/fund", buyerTok, nil)

	sellerTok := token(t, "seller-1", models.RoleUser)
	w := s.do(t, http.MethodPost, "/api/v1/transactions/"+tx.ID+"/proofs", sellerTok, gin.H{
		"kind": "TEXT", "data": "%%%", "encoding": "base64",
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad base64: want 422, got %d", w.Code)
	}
	w = s.do(t, http.MethodPost, "/api/v1/transactions/"+tx.ID+"/proofs", sellerTok, gin.H{
		"kind": "LICENSE_KEY", "data": base64.StdEncoding.EncodeToString([]byte("ABCDE-12345-FGHIJ-67890")), "encoding": "base64",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("base64 key: %d %s", w.Code, w.Body.String())
	}
}

func TestInternalRoutesNeedAdminOrSystem(t *testing.T) {
	s := newServer(t)
	userTok := token(t, "buyer-1", models.RoleUser)
	if w := s.do(t, http.MethodPost, "/internal/auto-release/sweep", userTok, nil); w.Code != http.StatusForbidden {
		t.Fatalf("user sweep: want 403, got %d", w.Code)
	}
	w := s.do(t, http.MethodPost, "/internal/auto-release/sweep", token(t, "scheduler", models.RoleSystem), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("system sweep: %d %s", w.Code, w.Body.String())
	}
	var report workflow.SweepReport
	decode(t, w, &report)
	if !report.Ran || report.Examined != 0 {
		t.Fatalf("empty sweep: %+v", report)
	}

	if w := s.do(t, http.MethodPost, "/internal/ops/outbox/replay", token(t, "scheduler", models.RoleSystem), nil); w.Code != http.StatusForbidden {
		t.Fatalf("replay is admin only, got %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/internal/ops/outbox/replay", token(t, "admin-1", models.RoleAdmin), gin.H{"ids": []int{}}); w.Code != http.StatusOK {
		t.Fatalf("admin replay: %d %s", w.Code, w.Body.String())
	}
}

func pushBody(t *testing.T, id string, rep any) any {
	t.Helper()
	data, err := json.Marshal(rep)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return gin.H{"message": gin.H{"id": id, "data": data}, "subscription": "payout-status"}
}

func TestPayoutStatusPush(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()
	if err := s.store.AppendLedgerEntries(ctx, []models.LedgerEntry{
		ledger.AdjustmentEntry("seller-1", "USD", decimal.RequireFromString("50.00"), "seed", "c"),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	p, err := s.handler.Ledger.RequestWithdrawal(ctx, models.Actor{UserId: "seller-1", Role: models.RoleUser}, decimal.RequireFromString("20.00"), "USD")
	if err != nil {
		t.Fatalf("withdrawal: %v", err)
	}

	if w := s.do(t, http.MethodPost, "/pubsub/payout-status?token=wrong", "", pushBody(t, "m-0", gin.H{})); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong push token: want 401, got %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/pubsub/payout-status?token=push-secret", "", gin.H{"message": "nope"}); w.Code != http.StatusNoContent {
		t.Fatalf("malformed push must be acked, got %d", w.Code)
	}
	unknown := pushBody(t, "m-1", gin.H{"payout_id": "missing", "status": "COMPLETED"})
	if w := s.do(t, http.MethodPost, "/pubsub/payout-status?token=push-secret", "", unknown); w.Code != http.StatusNoContent {
		t.Fatalf("unknown payout must be acked, got %d", w.Code)
	}

	failed := pushBody(t, "m-2", gin.H{"payout_id": p.ID, "status": "failed", "failure_reason": "account closed"})
	if w := s.do(t, http.MethodPost, "/pubsub/payout-status?token=push-secret", "", failed); w.Code != http.StatusNoContent {
		t.Fatalf("failed report: %d", w.Code)
	}
	got, err := s.store.GetPayout(ctx, p.ID)
	if err != nil || got.Status != models.PayoutStatusFailed {
		t.Fatalf("payout: %+v %v", got, err)
	}
	entries, _ := s.store.ListLedgerEntries(ctx, repository.LedgerFilter{UserId: "seller-1"})
	if bal := ledger.BalanceIn("seller-1", "USD", entries); !bal.Available.Equal(decimal.RequireFromString("50")) {
		t.Fatalf("failed payout should be reversed, available %s", bal.Available)
	}
}

func TestPayoutPushRejectedWithoutConfiguredToken(t *testing.T) {
	s := newServer(t)
	s.handler.PushToken = ""
	ctx := context.Background()
	if err := s.store.AppendLedgerEntries(ctx, []models.LedgerEntry{
		ledger.AdjustmentEntry("seller-1", "USD", decimal.RequireFromString("50.00"), "seed", "c"),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	p, err := s.handler.Ledger.RequestWithdrawal(ctx, models.Actor{UserId: "seller-1", Role: models.RoleUser}, decimal.RequireFromString("20.00"), "USD")
	if err != nil {
		t.Fatalf("withdrawal: %v", err)
	}

	forged := pushBody(t, "m-1", gin.H{"payout_id": p.ID, "status": "FAILED", "failure_reason": "forged"})
	for _, path := range []string{"/pubsub/payout-status", "/pubsub/payout-status?token="} {
		if w := s.do(t, http.MethodPost, path, "", forged); w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: want 401, got %d", path, w.Code)
		}
	}
	got, _ := s.store.GetPayout(ctx, p.ID)
	if got.Status != models.PayoutStatusPending {
		t.Fatalf("payout must not move, got %s", got.Status)
	}
	entries, _ := s.store.ListLedgerEntries(ctx, repository.LedgerFilter{UserId: "seller-1"})
	if bal := ledger.BalanceIn("seller-1", "USD", entries); !bal.Available.Equal(decimal.RequireFromString("30")) {
		t.Fatalf("withdrawal must stay debited, available %s", bal.Available)
	}
}

func TestPushTokenMatches(t *testing.T) {
	cases := []struct {
		want, got string
		ok        bool
	}{
		{"push-secret", "push-secret", true},
		{"push-secret", "push-secreT", false},
		{"push-secret", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		if got := pushTokenMatches(c.want, c.got); got != c.ok {
			t.Fatalf("pushTokenMatches(%q, %q) = %v", c.want, c.got, got)
		}
	}
}

func TestPayoutProfileEndpoint(t *testing.T) {
	s := newServer(t)
	tok := token(t, "seller-1", models.RoleUser)
	w := s.do(t, http.MethodPut, "/api/v1/payout-profile", tok, gin.H{"phone_number": "(201) 555-0123", "phone_region": "US"})
	if w.Code != http.StatusOK {
		t.Fatalf("update profile: %d %s", w.Code, w.Body.String())
	}
	var p models.PayoutProfile
	decode(t, w, &p)
	if p.PhoneNumber != "+12015550123" {
		t.Fatalf("phone should be E.164, got %q", p.PhoneNumber)
	}
	if w := s.do(t, http.MethodGet, "/api/v1/payout-profile?user_id=seller-1", token(t, "buyer-1", models.RoleUser), nil); w.Code != http.StatusForbidden {
		t.Fatalf("other user's profile: want 403, got %d", w.Code)
	}
}

func TestListAndDetailArePartyScoped(t *testing.T) {
	s := newServer(t)
	buyerTok := token(t, "buyer-1", models.RoleUser)
	sellerTok := token(t, "seller-1", models.RoleUser)

	first := s.create(t, buyerTok)
	s.create(t, buyerTok)
	if w := s.do(t, http.MethodPost, "/api/v1/transactions/"+first.ID+"/fund", buyerTok, nil); w.Code != http.StatusOK {
		t.Fatalf("fund: %d %s", w.Code, w.Body.String())
	}

	var list struct {
		Transactions []txBody `json:"transactions"`
	}
	w := s.do(t, http.MethodGet, "/api/v1/transactions?limit=10", sellerTok, nil)
	decode(t, w, &list)
	if w.Code != http.StatusOK || len(list.Transactions) != 2 {
		t.Fatalf("seller list: %d %s", w.Code, w.Body.String())
	}
	w = s.do(t, http.MethodGet, "/api/v1/transactions", token(t, "someone-else", models.RoleUser), nil)
	decode(t, w, &list)
	if len(list.Transactions) != 0 {
		t.Fatalf("strangers see nothing, got %d", len(list.Transactions))
	}

	var detail struct {
		Transaction txBody `json:"transaction"`
		Events      []struct {
			Operation string `json:"operation"`
			ToStatus  string `json:"to_status"`
		} `json:"events"`
	}
	w = s.do(t, http.MethodGet, "/api/v1/transactions/"+first.ID+"/detail", sellerTok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("detail: %d %s", w.Code, w.Body.String())
	}
	decode(t, w, &detail)
	if detail.Transaction.Status != string(models.TransactionStatusFunded) || len(detail.Events) == 0 {
		t.Fatalf("unexpected detail: %+v", detail)
	}
	if last := detail.Events[len(detail.Events)-1]; last.ToStatus != string(models.TransactionStatusFunded) {
		t.Fatalf("last audit event should record funding: %+v", last)
	}
	if w := s.do(t, http.MethodGet, "/api/v1/transactions/"+first.ID+"/detail", token(t, "someone-else", models.RoleUser), nil); w.Code != http.StatusForbidden {
		t.Fatalf("stranger detail: want 403, got %d", w.Code)
	}
}
