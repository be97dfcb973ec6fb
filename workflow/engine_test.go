package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/rift_backend/config"
	"github.com/mmdatafocus/rift_backend/ledger"
	"github.com/mmdatafocus/rift_backend/models"
	"github.com/mmdatafocus/rift_backend/payments"
	"github.com/mmdatafocus/rift_backend/repository"
	"github.com/mmdatafocus/rift_backend/storage"
	"github.com/mmdatafocus/rift_backend/vault"
	"github.com/mmdatafocus/rift_backend/verification"
)

var (
	buyer    = models.Actor{UserId: "buyer-1", Role: models.RoleUser}
	seller   = models.Actor{UserId: "seller-1", Role: models.RoleUser}
	admin    = models.Actor{UserId: "admin-1", Role: models.RoleAdmin}
	stranger = models.Actor{UserId: "someone-else", Role: models.RoleUser}

	t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeGateway struct {
	mu           sync.Mutex
	authorizeErr error
	captureErr   error
	authorized   int
	captured     []string
	voided       []string
}

func (g *fakeGateway) Authorize(_ context.Context, key string, _ decimal.Decimal, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.authorizeErr != nil {
		return "", g.authorizeErr
	}
	g.authorized++
	return fmt.Sprintf("auth-%d", g.authorized), nil
}

func (g *fakeGateway) Capture(_ context.Context, ref string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.captureErr != nil {
		return g.captureErr
	}
	g.captured = append(g.captured, ref)
	return nil
}

func (g *fakeGateway) Void(_ context.Context, ref string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.voided = append(g.voided, ref)
	return nil
}

func (g *fakeGateway) Payout(context.Context, string, string, decimal.Decimal, string) (string, error) {
	return "", errors.New("not used")
}

type fakeAnalyzer struct {
	mu    sync.Mutex
	score int
	err   error
}

func (a *fakeAnalyzer) set(score int, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.score, a.err = score, err
}

func (a *fakeAnalyzer) Analyze(context.Context, verification.Artifact, verification.Context) (*verification.Analysis, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	return &verification.Analysis{Score: a.score}, nil
}

type testEnv struct {
	engine   *Engine
	store    *repository.MemoryStore
	gateway  *fakeGateway
	analyzer *fakeAnalyzer
	objects  *storage.MemoryStore

	mu  sync.Mutex
	now time.Time
}

func (env *testEnv) clock() time.Time {
	env.mu.Lock()
	defer env.mu.Unlock()
	return env.now
}

func (env *testEnv) setNow(t time.Time) {
	env.mu.Lock()
	defer env.mu.Unlock()
	env.now = t
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	env := &testEnv{
		store:    repository.NewMemoryStore(),
		gateway:  &fakeGateway{},
		analyzer: &fakeAnalyzer{score: 90},
		objects:  storage.NewMemoryStore(),
		now:      t0,
	}
	env.store.Now = env.clock

	sealer, err := vault.NewSealer(make([]byte, 32))
	if err != nil {
		t.Fatalf("sealer: %v", err)
	}
	policy := config.DefaultPolicy()
	pipeline := verification.NewPipeline(env.analyzer, policy.VerificationThresholds(), logger)
	env.engine = NewEngine(env.store, env.gateway, env.objects, sealer, pipeline, policy, logger)
	env.engine.Now = env.clock
	return env
}

func (env *testEnv) create(t *testing.T, kind models.ItemKind, sellerId string) *models.Transaction {
	t.Helper()
	tx, err := env.engine.CreateTransaction(context.Background(), buyer, CreateInput{
		ItemKind: kind,
		Title:    "Game license",
		Subtotal: d("100.00"),
		Currency: "USD",
		SellerId: sellerId,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return tx
}

func (env *testEnv) funded(t *testing.T, kind models.ItemKind, sellerId string) *models.Transaction {
	t.Helper()
	tx := env.create(t, kind, sellerId)
	funded, err := env.engine.Fund(context.Background(), buyer, tx.ID)
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	return funded
}

func (env *testEnv) submitKey(t *testing.T, tx *models.Transaction, as models.Actor, key string) *ProofOutcome {
	t.Helper()
	out, err := env.engine.SubmitProof(context.Background(), as, tx.ID, ProofInput{
		Kind: models.AssetKindLicenseKey,
		Data: []byte(key),
	})
	if err != nil {
		t.Fatalf("submit proof: %v", err)
	}
	return out
}

func (env *testEnv) entries(t *testing.T, f repository.LedgerFilter) []models.LedgerEntry {
	t.Helper()
	out, err := env.store.ListLedgerEntries(context.Background(), f)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	return out
}

func (env *testEnv) status(t *testing.T, id string) models.TransactionStatus {
	t.Helper()
	tx, err := env.store.GetTransaction(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return tx.Status
}

func TestHundredDollarDigitalScenario(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	tx := env.funded(t, models.ItemKindDigital, seller.UserId)
	if !tx.BuyerTotal.Equal(d("103.00")) || !tx.SellerNet.Equal(d("95.00")) {
		t.Fatalf("fees: buyer total %s seller net %s", tx.BuyerTotal, tx.SellerNet)
	}
	if tx.Status != models.TransactionStatusFunded || tx.FundedAt == nil {
		t.Fatalf("want FUNDED with funded_at, got %s", tx.Status)
	}
	bal := ledger.BalanceIn(seller.UserId, "USD", env.entries(t, repository.LedgerFilter{UserId: seller.UserId}))
	if !bal.Pending.Equal(d("95.00")) || !bal.Available.IsZero() {
		t.Fatalf("after fund: pending %s available %s", bal.Pending, bal.Available)
	}

	out := env.submitKey(t, tx, seller, "ABCDE-12345-FGHIJ-67890")
	if !out.Result.Passed() {
		t.Fatalf("license key should pass verification: %+v", out.Result)
	}
	if out.Transaction.Status != models.TransactionStatusProofSubmitted || !out.Transaction.AutoReleaseArmed {
		t.Fatalf("want armed PROOF_SUBMITTED, got %s armed=%v", out.Transaction.Status, out.Transaction.AutoReleaseArmed)
	}
	if want := t0.Add(24 * time.Hour); !out.Transaction.GracePeriodDeadline.Equal(want) {
		t.Fatalf("deadline: want %s, got %s", want, out.Transaction.GracePeriodDeadline)
	}
	if len(out.Asset.SealedPayload) == 0 || out.Asset.ScanStatus != models.ScanStatusVerified {
		t.Fatalf("license key should be sealed and verified: %+v", out.Asset)
	}

	released, err := env.engine.Release(ctx, buyer, tx.ID)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released.Status != models.TransactionStatusReleased || released.AutoReleaseArmed {
		t.Fatalf("want disarmed RELEASED, got %s", released.Status)
	}
	bal = ledger.BalanceIn(seller.UserId, "USD", env.entries(t, repository.LedgerFilter{UserId: seller.UserId}))
	if !bal.Available.Equal(d("95.00")) || !bal.Pending.IsZero() {
		t.Fatalf("after release: available %s pending %s", bal.Available, bal.Pending)
	}
	txEntries := env.entries(t, repository.LedgerFilter{TransactionId: tx.ID})
	if err := ledger.CheckTransaction(released, txEntries); err != nil {
		t.Fatalf("ledger invariant: %v", err)
	}

	events, _ := env.store.ListTransactionEvents(ctx, tx.ID)
	if len(events) != 4 {
		t.Fatalf("want 4 audit events (create, fund, proof, release), got %d", len(events))
	}
	outbox, _ := env.store.ListOutbox(ctx, models.OutboxPublishStatusPending, 0)
	if len(outbox) != 4 {
		t.Fatalf("want 4 outbox messages, got %d", len(outbox))
	}
}

func TestDisputeAtAwaitingPaymentIsInvalidTransition(t *testing.T) {
	env := newTestEnv(t)
	tx := env.create(t, models.ItemKindDigital, seller.UserId)

	_, _, err := env.engine.OpenDispute(context.Background(), buyer, tx.ID, DisputeInput{
		Reason:  models.DisputeReasonNotReceived,
		Summary: "nothing arrived",
	})
	var invalid *models.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("want InvalidTransitionError, got %v", err)
	}
	if invalid.Current != models.TransactionStatusAwaitingPayment || invalid.Operation != OpOpenDispute {
		t.Fatalf("unexpected error detail: %+v", invalid)
	}
	if got := env.status(t, tx.ID); got != models.TransactionStatusAwaitingPayment {
		t.Fatalf("status changed to %s", got)
	}
}

func TestScorerDownRoutesToReview(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.analyzer.set(0, errors.New("connection refused"))

	tx := env.funded(t, models.ItemKindDigital, seller.UserId)
	out := env.submitKey(t, tx, seller, "ABCDE-12345-FGHIJ-67890")
	if out.Transaction.Status != models.TransactionStatusUnderReview || out.Transaction.AutoReleaseArmed {
		t.Fatalf("want disarmed UNDER_REVIEW, got %s armed=%v", out.Transaction.Status, out.Transaction.AutoReleaseArmed)
	}
	if !out.Result.HasFlag(verification.FlagScoringUnavailable) || out.Result.Passed() {
		t.Fatalf("want fail-closed result, got %+v", out.Result)
	}
	if out.Asset.ScanStatus != models.ScanStatusFlagged {
		t.Fatalf("asset should be flagged, got %s", out.Asset.ScanStatus)
	}

	if _, err := env.engine.ApproveProof(ctx, seller, tx.ID, "", ""); err == nil {
		t.Fatalf("seller must not approve their own proof")
	}
	approved, err := env.engine.ApproveProof(ctx, admin, tx.ID, "", "checked by hand")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != models.TransactionStatusProofSubmitted || !approved.AutoReleaseArmed {
		t.Fatalf("want armed PROOF_SUBMITTED after approval, got %s", approved.Status)
	}
	asset, _ := env.store.GetVaultAsset(ctx, out.Asset.ID)
	if asset.ScanStatus != models.ScanStatusVerified {
		t.Fatalf("approved asset should be verified, got %s", asset.ScanStatus)
	}
}

func TestRejectProofReturnsToSeller(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.analyzer.set(0, errors.New("timeout"))

	tx := env.funded(t, models.ItemKindDigital, seller.UserId)
	env.submitKey(t, tx, seller, "ABCDE-12345-FGHIJ-67890")
	if _, err := env.engine.RejectProof(ctx, admin, tx.ID, "", ""); err == nil {
		t.Fatalf("reject without a reason should fail")
	}
	rejected, err := env.engine.RejectProof(ctx, admin, tx.ID, "", "key does not activate")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != models.TransactionStatusAwaitingShipment || rejected.AutoReleaseArmed {
		t.Fatalf("want AWAITING_SHIPMENT, got %s", rejected.Status)
	}

	env.analyzer.set(92, nil)
	out := env.submitKey(t, rejected, seller, "ZXCVB-55555-QWERT-11111")
	if out.Transaction.Status != models.TransactionStatusProofSubmitted {
		t.Fatalf("resubmission should pass, got %s", out.Transaction.Status)
	}
}

func TestPaymentFailureLeavesStatusUnchanged(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	tx := env.create(t, models.ItemKindDigital, seller.UserId)

	env.gateway.authorizeErr = context.DeadlineExceeded
	_, err := env.engine.Fund(ctx, buyer, tx.ID)
	var ext *models.ExternalServiceError
	if !errors.As(err, &ext) || !models.IsRetryable(err) {
		t.Fatalf("want retryable ExternalServiceError, got %v", err)
	}
	if got := env.status(t, tx.ID); got != models.TransactionStatusAwaitingPayment {
		t.Fatalf("status changed to %s", got)
	}
	if n := len(env.entries(t, repository.LedgerFilter{TransactionId: tx.ID})); n != 0 {
		t.Fatalf("no ledger entries expected, got %d", n)
	}

	env.gateway.authorizeErr = payments.ErrDeclined
	var ve *models.ValidationError
	if _, err := env.engine.Fund(ctx, buyer, tx.ID); !errors.As(err, &ve) {
		t.Fatalf("declined card: want ValidationError, got %v", err)
	}

	env.gateway.authorizeErr = nil
	env.gateway.captureErr = errors.New("processor 502")
	if _, err := env.engine.Fund(ctx, buyer, tx.ID); !errors.As(err, &ext) {
		t.Fatalf("capture failure: want ExternalServiceError, got %v", err)
	}
	if len(env.gateway.voided) != 1 {
		t.Fatalf("failed capture should void the authorization, voided %v", env.gateway.voided)
	}

	env.gateway.captureErr = nil
	if _, err := env.engine.Fund(ctx, buyer, tx.ID); err != nil {
		t.Fatalf("retry after outage: %v", err)
	}
	// A second fund is rejected before any charge is attempted.
	authorized := env.gateway.authorized
	_, err = env.engine.Fund(ctx, buyer, tx.ID)
	var invalid *models.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("second fund: want InvalidTransitionError, got %v", err)
	}
	if env.gateway.authorized != authorized {
		t.Fatalf("rejected fund must not authorize a charge")
	}
	if n := len(env.entries(t, repository.LedgerFilter{TransactionId: tx.ID})); n != 1 {
		t.Fatalf("want exactly one hold, got %d entries", n)
	}
}

func TestWrongPartyIsUnauthorized(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	tx := env.create(t, models.ItemKindDigital, seller.UserId)

	var unauthorized *models.UnauthorizedError
	if _, err := env.engine.Fund(ctx, stranger, tx.ID); !errors.As(err, &unauthorized) {
		t.Fatalf("stranger fund: want UnauthorizedError, got %v", err)
	}
	if _, err := env.engine.Fund(ctx, seller, tx.ID); !errors.As(err, &unauthorized) {
		t.Fatalf("seller fund: want UnauthorizedError, got %v", err)
	}
	if _, err := env.engine.GetTransaction(ctx, stranger, tx.ID); !errors.As(err, &unauthorized) {
		t.Fatalf("stranger read: want UnauthorizedError, got %v", err)
	}
	if env.gateway.authorized != 0 {
		t.Fatalf("no payment should be attempted for an unauthorized caller")
	}

	if _, err := env.engine.Fund(ctx, buyer, tx.ID); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if _, err := env.engine.Release(ctx, seller, tx.ID); !errors.As(err, &unauthorized) {
		t.Fatalf("seller release: want UnauthorizedError, got %v", err)
	}
	if _, err := env.engine.Cancel(ctx, buyer, tx.ID, "changed my mind"); !errors.As(err, &unauthorized) {
		t.Fatalf("buyer cancel after funding: want UnauthorizedError, got %v", err)
	}
	if _, err := env.engine.AcknowledgeOrder(ctx, buyer, tx.ID); !errors.As(err, &unauthorized) {
		t.Fatalf("buyer acknowledge: want UnauthorizedError, got %v", err)
	}
}

func TestCancelAfterFundingRefundsBuyer(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	tx := env.funded(t, models.ItemKindServices, seller.UserId)
	if _, err := env.engine.AcknowledgeOrder(ctx, seller, tx.ID); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}

	cancelled, err := env.engine.Cancel(ctx, seller, tx.ID, "cannot deliver")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != models.TransactionStatusCancelled || cancelled.CancelledAt == nil {
		t.Fatalf("want CANCELLED, got %s", cancelled.Status)
	}
	buyerBal := ledger.BalanceIn(buyer.UserId, "USD", env.entries(t, repository.LedgerFilter{UserId: buyer.UserId}))
	if !buyerBal.Available.Equal(d("103.00")) {
		t.Fatalf("buyer should get the buyer total back, got %s", buyerBal.Available)
	}
	sellerBal := ledger.BalanceIn(seller.UserId, "USD", env.entries(t, repository.LedgerFilter{UserId: seller.UserId}))
	if !sellerBal.Pending.IsZero() || !sellerBal.Available.IsZero() {
		t.Fatalf("seller should hold nothing, got %s / %s", sellerBal.Pending, sellerBal.Available)
	}
	if err := ledger.CheckTransaction(cancelled, env.entries(t, repository.LedgerFilter{TransactionId: tx.ID})); err != nil {
		t.Fatalf("ledger invariant: %v", err)
	}

	unfunded := env.create(t, models.ItemKindServices, seller.UserId)
	if _, err := env.engine.Cancel(ctx, buyer, unfunded.ID, ""); err != nil {
		t.Fatalf("buyer may cancel before funding: %v", err)
	}
	if n := len(env.entries(t, repository.LedgerFilter{TransactionId: unfunded.ID})); n != 0 {
		t.Fatalf("unfunded cancel should not touch the ledger, got %d entries", n)
	}
}

func TestJoinDraftByInvite(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	draft := env.create(t, models.ItemKindOwnershipTransfer, "")
	if draft.Status != models.TransactionStatusDraft {
		t.Fatalf("want DRAFT, got %s", draft.Status)
	}
	code, err := env.engine.InviteCode(ctx, buyer, draft.ID)
	if err != nil || code == "" {
		t.Fatalf("invite code: %q %v", code, err)
	}
	if _, err := env.engine.InviteCode(ctx, seller, draft.ID); err == nil {
		t.Fatalf("only the buyer may read the invite code")
	}
	if _, err := env.engine.JoinTransaction(ctx, buyer, code); err == nil {
		t.Fatalf("buyer must not join as seller")
	}
	if _, err := env.engine.JoinTransaction(ctx, seller, "bogus"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("unknown code: want ErrNotFound, got %v", err)
	}

	joined, err := env.engine.JoinTransaction(ctx, seller, code)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if joined.Status != models.TransactionStatusAwaitingPayment || joined.SellerId != seller.UserId || joined.InviteCode != "" {
		t.Fatalf("unexpected joined transaction: %+v", joined)
	}
	if _, err := env.engine.JoinTransaction(ctx, stranger, code); err == nil {
		t.Fatalf("a used invite code must not be redeemable")
	}
}

func TestCreateQuotesFeesAndFundFreezesThem(t *testing.T) {
	env := newTestEnv(t)
	tx := env.create(t, models.ItemKindDigital, seller.UserId)
	if !tx.BuyerTotal.Equal(d("103")) || !tx.SellerNet.Equal(d("95")) || !tx.BuyerFee.Equal(d("3")) {
		t.Fatalf("created transaction should carry the quote: total %s net %s fee %s", tx.BuyerTotal, tx.SellerNet, tx.BuyerFee)
	}
	stored, _ := env.store.GetTransaction(context.Background(), tx.ID)
	if !stored.BuyerTotal.Equal(d("103")) {
		t.Fatalf("quote not persisted: %s", stored.BuyerTotal)
	}

	env.engine.Policy.BuyerFeeRate = d("0.05")
	funded, err := env.engine.Fund(context.Background(), buyer, tx.ID)
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	if !funded.BuyerTotal.Equal(d("105")) || !funded.BuyerFeeRate.Equal(d("0.05")) {
		t.Fatalf("fund should recompute at current rates: %s at %s", funded.BuyerTotal, funded.BuyerFeeRate)
	}

	env.engine.Policy.BuyerFeeRate = d("0.10")
	after, _ := env.store.GetTransaction(context.Background(), tx.ID)
	if !after.BuyerTotal.Equal(d("105")) {
		t.Fatalf("funded fees are frozen, got %s", after.BuyerTotal)
	}
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []CreateInput{
		{ItemKind: "CAR", Title: "x", Subtotal: d("10"), Currency: "USD"},
		{ItemKind: models.ItemKindDigital, Title: "", Subtotal: d("10"), Currency: "USD"},
		{ItemKind: models.ItemKindDigital, Title: "x", Subtotal: d("0"), Currency: "USD"},
		{ItemKind: models.ItemKindDigital, Title: "x", Subtotal: d("10.001"), Currency: "USD"},
		{ItemKind: models.ItemKindDigital, Title: "x", Subtotal: d("10"), Currency: "dollars"},
		{ItemKind: models.ItemKindDigital, Title: "x", Subtotal: d("10"), Currency: "USD", SellerId: buyer.UserId},
	}
	for i, in := range cases {
		var ve *models.ValidationError
		if _, err := env.engine.CreateTransaction(context.Background(), buyer, in); !errors.As(err, &ve) {
			t.Fatalf("case %d: want ValidationError, got %v", i, err)
		}
	}
	if _, err := env.engine.CreateTransaction(context.Background(), admin, CreateInput{
		ItemKind: models.ItemKindDigital, Title: "x", Subtotal: d("10"), Currency: "USD",
	}); err == nil {
		t.Fatalf("admins do not buy")
	}
}

func TestPayoutMarksFollowRelease(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	tx := env.funded(t, models.ItemKindDigital, seller.UserId)
	env.submitKey(t, tx, seller, "ABCDE-12345-FGHIJ-67890")

	if _, err := env.engine.MarkPayoutScheduled(ctx, models.SystemActor, tx.ID); err == nil {
		t.Fatalf("payout cannot be scheduled before release")
	}
	if _, err := env.engine.Release(ctx, buyer, tx.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := env.engine.MarkPayoutScheduled(ctx, buyer, tx.ID); err == nil {
		t.Fatalf("buyer cannot mark payouts")
	}
	if _, err := env.engine.MarkPayoutScheduled(ctx, models.SystemActor, tx.ID); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	paid, err := env.engine.MarkPaidOut(ctx, models.SystemActor, tx.ID)
	if err != nil {
		t.Fatalf("paid out: %v", err)
	}
	if paid.Status != models.TransactionStatusPaidOut {
		t.Fatalf("want PAID_OUT, got %s", paid.Status)
	}
	// payout marks never touch the ledger
	if n := len(env.entries(t, repository.LedgerFilter{TransactionId: tx.ID})); n != 3 {
		t.Fatalf("want 3 entries, got %d", n)
	}
}

func TestFileEvidenceGoesToObjectStorage(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	tx := env.funded(t, models.ItemKindDigital, seller.UserId)

	out, err := env.engine.SubmitProof(ctx, seller, tx.ID, ProofInput{
		Kind:        models.AssetKindFile,
		ContentType: "text/plain",
		FileName:    "receipt.txt",
		Data:        []byte("Order #A12345\nTotal $100.00 USD"),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.Asset.StoragePointer == "" || len(out.Asset.SealedPayload) != 0 {
		t.Fatalf("file evidence belongs in object storage: %+v", out.Asset)
	}
	key := storage.EvidenceObjectKey(tx.ID, out.Asset.ID, "receipt.txt")
	if _, _, ok := env.objects.Object(key); !ok {
		t.Fatalf("object %s not stored", key)
	}

	access, err := env.engine.RecordVaultAccess(ctx, buyer, tx.ID, out.Asset.ID, models.VaultActionDownloaded, ClientInfo{IP: "10.0.0.1", UserAgent: "test"})
	if err != nil {
		t.Fatalf("access: %v", err)
	}
	if access.URL == "" || access.ExpiresAt == nil || access.Payload != "" {
		t.Fatalf("want a signed url, got %+v", access)
	}
}

// slowObjects runs beforeReturn once an upload lands, standing in for a competing
// request that commits while the seller's upload is in flight.
type slowObjects struct {
	*storage.MemoryStore
	beforeReturn func()
}

func (s *slowObjects) Store(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	pointer, err := s.MemoryStore.Store(ctx, key, data, contentType)
	if s.beforeReturn != nil {
		s.beforeReturn()
		s.beforeReturn = nil
	}
	return pointer, err
}

func TestLostSubmitRaceRemovesUploadedEvidence(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	tx := env.funded(t, models.ItemKindDigital, seller.UserId)
	env.engine.Objects = &slowObjects{MemoryStore: env.objects, beforeReturn: func() {
		if _, _, err := env.engine.OpenDispute(ctx, buyer, tx.ID, DisputeInput{
			Reason:  models.DisputeReasonOther,
			Summary: "seller went quiet",
		}); err != nil {
			t.Fatalf("dispute: %v", err)
		}
	}}

	_, err := env.engine.SubmitProof(ctx, seller, tx.ID, ProofInput{
		Kind:        models.AssetKindFile,
		ContentType: "text/plain",
		FileName:    "receipt.txt",
		Data:        []byte("Order #A12345\nTotal $100.00 USD"),
	})
	var invalid *models.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("want InvalidTransitionError, got %v", err)
	}
	if n := env.objects.Len(); n != 0 {
		t.Fatalf("uploaded evidence should be deleted when the submit loses, %d objects left", n)
	}
	if got := env.status(t, tx.ID); got != models.TransactionStatusDisputed {
		t.Fatalf("want DISPUTED, got %s", got)
	}
}

func TestSubmitProofRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	tx := env.funded(t, models.ItemKindDigital, seller.UserId)
	cases := []ProofInput{
		{Kind: "PHOTO", Data: []byte("x")},
		{Kind: models.AssetKindText},
		{Kind: models.AssetKindFile, Data: []byte("x")},
		{Kind: models.AssetKindURL, Data: []byte("ftp://example.com/file")},
	}
	for i, in := range cases {
		var ve *models.ValidationError
		if _, err := env.engine.SubmitProof(context.Background(), seller, tx.ID, in); !errors.As(err, &ve) {
			t.Fatalf("case %d: want ValidationError, got %v", i, err)
		}
	}
	if got := env.status(t, tx.ID); got != models.TransactionStatusFunded {
		t.Fatalf("status changed to %s", got)
	}
}
