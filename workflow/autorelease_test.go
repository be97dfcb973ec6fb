package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmdatafocus/rift_backend/ledger"
	"github.com/mmdatafocus/rift_backend/models"
	"github.com/mmdatafocus/rift_backend/repository"
)

func TestDisputeOneMinuteBeforeDeadlineBlocksTick(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	tx := env.funded(t, models.ItemKindDigital, seller.UserId)
	env.submitKey(t, tx, seller, "ABCDE-12345-FGHIJ-67890")

	env.setNow(t0.Add(23*time.Hour + 59*time.Minute))
	if _, _, err := env.engine.OpenDispute(ctx, buyer, tx.ID, DisputeInput{
		Reason:  models.DisputeReasonNotAsDescribed,
		Summary: "key is for the wrong region",
	}); err != nil {
		t.Fatalf("open dispute: %v", err)
	}

	env.setNow(t0.Add(24 * time.Hour))
	res, err := env.engine.AutoReleaseTick(ctx, tx.ID)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if res.Outcome != TickDisputed || res.Status != models.TransactionStatusDisputed {
		t.Fatalf("want DISPUTED no-op, got %+v", res)
	}
	if n := len(env.entries(t, repository.LedgerFilter{TransactionId: tx.ID})); n != 1 {
		t.Fatalf("tick must not touch the ledger of a disputed transaction, got %d entries", n)
	}
}

func TestAutoReleaseTickIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	tx := env.funded(t, models.ItemKindDigital, seller.UserId)
	env.submitKey(t, tx, seller, "ABCDE-12345-FGHIJ-67890")

	env.setNow(t0.Add(23 * time.Hour))
	res, err := env.engine.AutoReleaseTick(ctx, tx.ID)
	if err != nil || res.Outcome != TickNotDue {
		t.Fatalf("early tick: want NOT_DUE, got %+v %v", res, err)
	}

	env.setNow(t0.Add(25 * time.Hour))
	res, err = env.engine.AutoReleaseTick(ctx, tx.ID)
	if err != nil || res.Outcome != TickReleased || res.Status != models.TransactionStatusReleased {
		t.Fatalf("due tick: want RELEASED, got %+v %v", res, err)
	}
	res, err = env.engine.AutoReleaseTick(ctx, tx.ID)
	if err != nil || res.Outcome != TickAlreadyReleased {
		t.Fatalf("second tick: want ALREADY_RELEASED, got %+v %v", res, err)
	}

	entries := env.entries(t, repository.LedgerFilter{TransactionId: tx.ID})
	if len(entries) != 3 {
		t.Fatalf("want hold plus one release pair, got %d entries", len(entries))
	}
	bal := ledger.BalanceIn(seller.UserId, "USD", entries)
	if !bal.Available.Equal(d("95.00")) {
		t.Fatalf("seller available: %s", bal.Available)
	}
	events, _ := env.store.ListTransactionEvents(ctx, tx.ID)
	last := events[len(events)-1]
	if last.Operation != OpAutoRelease || last.ActorRole != models.PartySystem {
		t.Fatalf("release should be attributed to the system: %+v", last)
	}
}

func TestTickOnUnarmedStatusIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	tx := env.funded(t, models.ItemKindDigital, seller.UserId)
	env.setNow(t0.Add(30 * 24 * time.Hour))
	res, err := env.engine.AutoReleaseTick(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if res.Outcome != TickSkipped || res.Status != models.TransactionStatusFunded {
		t.Fatalf("want SKIPPED, got %+v", res)
	}
	if _, err := env.engine.AutoReleaseTick(context.Background(), "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("unknown transaction: want ErrNotFound, got %v", err)
	}
}

func TestFirstBuyerAccessExtendsDeadline(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	tx := env.funded(t, models.ItemKindDigital, seller.UserId)
	out := env.submitKey(t, tx, seller, "ABCDE-12345-FGHIJ-67890")

	env.setNow(t0.Add(2 * time.Hour))
	sellerView, err := env.engine.RecordVaultAccess(ctx, seller, tx.ID, out.Asset.ID, models.VaultActionOpened, ClientInfo{})
	if err != nil {
		t.Fatalf("seller access: %v", err)
	}
	if sellerView.DeadlineExtended {
		t.Fatalf("seller access must not move the deadline")
	}

	env.setNow(t0.Add(20 * time.Hour))
	access, err := env.engine.RecordVaultAccess(ctx, buyer, tx.ID, out.Asset.ID, models.VaultActionRevealed, ClientInfo{IP: "203.0.113.9", UserAgent: "Mozilla/5.0"})
	if err != nil {
		t.Fatalf("buyer access: %v", err)
	}
	if access.Payload != "ABCDE-12345-FGHIJ-67890" || !access.DeadlineExtended {
		t.Fatalf("unexpected access result: %+v", access)
	}
	stored, _ := env.store.GetTransaction(ctx, tx.ID)
	if want := t0.Add(44 * time.Hour); !stored.GracePeriodDeadline.Equal(want) {
		t.Fatalf("deadline: want %s, got %s", want, stored.GracePeriodDeadline)
	}

	env.setNow(t0.Add(30 * time.Hour))
	again, err := env.engine.RecordVaultAccess(ctx, buyer, tx.ID, out.Asset.ID, models.VaultActionOpened, ClientInfo{})
	if err != nil {
		t.Fatalf("second access: %v", err)
	}
	if again.DeadlineExtended {
		t.Fatalf("only the first buyer access extends the deadline")
	}
	stored, _ = env.store.GetTransaction(ctx, tx.ID)
	if want := t0.Add(44 * time.Hour); !stored.GracePeriodDeadline.Equal(want) {
		t.Fatalf("deadline moved again: %s", stored.GracePeriodDeadline)
	}

	if res, _ := env.engine.AutoReleaseTick(ctx, tx.ID); res.Outcome != TickNotDue {
		t.Fatalf("original deadline passed but extension holds: got %s", res.Outcome)
	}
	env.setNow(t0.Add(44 * time.Hour))
	if res, _ := env.engine.AutoReleaseTick(ctx, tx.ID); res.Outcome != TickReleased {
		t.Fatalf("extended deadline elapsed: got %s", res.Outcome)
	}

	events, _ := env.store.ListVaultEvents(ctx, tx.ID)
	if len(events) != 4 {
		t.Fatalf("want upload plus three access events, got %d", len(events))
	}
	if _, err := env.engine.RecordVaultAccess(ctx, stranger, tx.ID, out.Asset.ID, models.VaultActionOpened, ClientInfo{}); err == nil {
		t.Fatalf("strangers cannot open evidence")
	}
	if _, err := env.engine.RecordVaultAccess(ctx, buyer, tx.ID, out.Asset.ID, models.VaultActionUploaded, ClientInfo{}); err == nil {
		t.Fatalf("UPLOADED is not an access action")
	}
}

func TestFirstViewOfResubmittedProofExtendsDeadline(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.analyzer.set(0, errors.New("connection refused"))
	tx := env.funded(t, models.ItemKindDigital, seller.UserId)
	first := env.submitKey(t, tx, seller, "ABCDE-12345-FGHIJ-67890")

	env.setNow(t0.Add(time.Hour))
	if _, err := env.engine.RecordVaultAccess(ctx, buyer, tx.ID, first.Asset.ID, models.VaultActionOpened, ClientInfo{}); err != nil {
		t.Fatalf("open first proof: %v", err)
	}
	rejected, err := env.engine.RejectProof(ctx, admin, tx.ID, "", "key does not activate")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}

	env.analyzer.set(92, nil)
	env.setNow(t0.Add(2 * time.Hour))
	second := env.submitKey(t, rejected, seller, "ZXCVB-55555-QWERT-11111")
	if want := t0.Add(26 * time.Hour); !second.Transaction.GracePeriodDeadline.Equal(want) {
		t.Fatalf("deadline after resubmission: want %s, got %s", want, second.Transaction.GracePeriodDeadline)
	}

	env.setNow(t0.Add(25 * time.Hour))
	access, err := env.engine.RecordVaultAccess(ctx, buyer, tx.ID, second.Asset.ID, models.VaultActionRevealed, ClientInfo{})
	if err != nil {
		t.Fatalf("open second proof: %v", err)
	}
	if !access.DeadlineExtended {
		t.Fatalf("first view of a new asset must extend the deadline")
	}
	stored, _ := env.store.GetTransaction(ctx, tx.ID)
	if want := t0.Add(49 * time.Hour); !stored.GracePeriodDeadline.Equal(want) {
		t.Fatalf("deadline: want %s, got %s", want, stored.GracePeriodDeadline)
	}

	env.setNow(t0.Add(26 * time.Hour))
	if res, _ := env.engine.AutoReleaseTick(ctx, tx.ID); res.Outcome != TickNotDue {
		t.Fatalf("buyer still inside the window for the new proof: got %s", res.Outcome)
	}
}

func TestPhysicalDeliveryFlow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	tx := env.funded(t, models.ItemKindPhysical, seller.UserId)
	if _, err := env.engine.AcknowledgeOrder(ctx, seller, tx.ID); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}

	out, err := env.engine.SubmitProof(ctx, seller, tx.ID, ProofInput{
		Kind: models.AssetKindTrackingNumber,
		Data: []byte("1Z999AA10123456784"),
	})
	if err != nil {
		t.Fatalf("submit tracking: %v", err)
	}
	if out.Transaction.Status != models.TransactionStatusInTransit {
		t.Fatalf("want IN_TRANSIT, got %s (flags %v)", out.Transaction.Status, out.Result.Flags)
	}
	if want := t0.Add(14 * 24 * time.Hour); !out.Transaction.GracePeriodDeadline.Equal(want) {
		t.Fatalf("transit deadline: want %s, got %s", want, out.Transaction.GracePeriodDeadline)
	}
	if _, err := env.engine.ConfirmDelivery(ctx, seller, tx.ID); err == nil {
		t.Fatalf("the seller cannot confirm their own delivery")
	}

	env.setNow(t0.Add(3 * 24 * time.Hour))
	delivered, err := env.engine.ConfirmDelivery(ctx, models.SystemActor, tx.ID)
	if err != nil {
		t.Fatalf("confirm delivery: %v", err)
	}
	if want := t0.Add(3*24*time.Hour + 12*time.Hour); delivered.Status != models.TransactionStatusDeliveredPendingRelease || !delivered.GracePeriodDeadline.Equal(want) {
		t.Fatalf("want DELIVERED_PENDING_RELEASE due %s, got %s due %s", want, delivered.Status, delivered.GracePeriodDeadline)
	}
	if _, err := env.engine.Release(ctx, buyer, tx.ID); err != nil {
		// buyers may still release early
		t.Fatalf("early release: %v", err)
	}
}

func TestPhysicalTickReleasesAfterDeliveredWindow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	tx := env.funded(t, models.ItemKindPhysical, seller.UserId)
	if _, err := env.engine.SubmitProof(ctx, seller, tx.ID, ProofInput{
		Kind: models.AssetKindTrackingNumber,
		Data: []byte("1Z999AA10123456784"),
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	env.setNow(t0.Add(48 * time.Hour))
	if _, err := env.engine.ConfirmDelivery(ctx, buyer, tx.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	env.setNow(t0.Add(60 * time.Hour))
	res, err := env.engine.AutoReleaseTick(ctx, tx.ID)
	if err != nil || res.Outcome != TickReleased {
		t.Fatalf("want RELEASED at delivered deadline, got %+v %v", res, err)
	}
}

func TestSweepOnceReleasesOnlyDueTransactions(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	due := env.funded(t, models.ItemKindDigital, "seller-a")
	env.submitKey(t, due, models.Actor{UserId: "seller-a", Role: models.RoleUser}, "ABCDE-12345-FGHIJ-67890")

	env.setNow(t0.Add(12 * time.Hour))
	later := env.funded(t, models.ItemKindDigital, "seller-b")
	env.submitKey(t, later, models.Actor{UserId: "seller-b", Role: models.RoleUser}, "QWERT-67890-ASDFG-12345")

	disputed := env.funded(t, models.ItemKindDigital, "seller-c")
	env.submitKey(t, disputed, models.Actor{UserId: "seller-c", Role: models.RoleUser}, "ZXCVB-11111-POIUY-22222")
	if _, _, err := env.engine.OpenDispute(ctx, buyer, disputed.ID, DisputeInput{Reason: models.DisputeReasonOther, Summary: "wrong item"}); err != nil {
		t.Fatalf("dispute: %v", err)
	}

	env.setNow(t0.Add(25 * time.Hour))
	sweeper := NewSweeper(env.engine)
	report, err := sweeper.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !report.Ran || report.Examined != 1 || report.Released != 1 || report.Errors != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if got := env.status(t, due.ID); got != models.TransactionStatusReleased {
		t.Fatalf("due transaction: %s", got)
	}
	if got := env.status(t, later.ID); got != models.TransactionStatusProofSubmitted {
		t.Fatalf("later transaction: %s", got)
	}

	report, err = sweeper.SweepOnce(ctx)
	if err != nil || report.Examined != 0 {
		t.Fatalf("second sweep should find nothing: %+v %v", report, err)
	}
}

func TestSweepSkipsWhenAnotherSweepHoldsTheLock(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	sweeper := NewSweeper(env.engine)

	var inner SweepReport
	acquired, err := env.store.WithAdvisoryLock(ctx, SweepLockName, func(ctx context.Context) error {
		var err error
		inner, err = sweeper.SweepOnce(ctx)
		return err
	})
	if err != nil || !acquired {
		t.Fatalf("outer lock: %v %v", acquired, err)
	}
	if inner.Ran {
		t.Fatalf("a concurrent sweep must not run")
	}
}
