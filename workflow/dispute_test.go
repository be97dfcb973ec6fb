package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/rift_backend/ledger"
	"github.com/mmdatafocus/rift_backend/models"
	"github.com/mmdatafocus/rift_backend/repository"
)

func (env *testEnv) disputed(t *testing.T, sellerId string) *models.Transaction {
	t.Helper()
	tx := env.funded(t, models.ItemKindDigital, sellerId)
	env.submitKey(t, tx, models.Actor{UserId: sellerId, Role: models.RoleUser}, "ABCDE-12345-FGHIJ-67890")
	out, dis, err := env.engine.OpenDispute(context.Background(), buyer, tx.ID, DisputeInput{
		Reason:   models.DisputeReasonInvalidProof,
		Summary:  "key already redeemed",
		Evidence: []string{"screenshot-1"},
	})
	if err != nil {
		t.Fatalf("open dispute: %v", err)
	}
	if out.Status != models.TransactionStatusDisputed || out.AutoReleaseArmed {
		t.Fatalf("want disarmed DISPUTED, got %s", out.Status)
	}
	if dis.Status != models.DisputeStatusSubmitted || dis.RaisedByRole != models.PartyBuyer {
		t.Fatalf("unexpected dispute: %+v", dis)
	}
	return out
}

func TestResolveFavorBuyerRefunds(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	tx := env.disputed(t, seller.UserId)

	var unauthorized *models.UnauthorizedError
	if _, _, err := env.engine.ResolveDispute(ctx, buyer, tx.ID, models.DisputeOutcomeFavorBuyer, ""); !errors.As(err, &unauthorized) {
		t.Fatalf("buyer resolving: want UnauthorizedError, got %v", err)
	}
	if _, _, err := env.engine.ResolveDispute(ctx, admin, tx.ID, "SPLIT", ""); err == nil {
		t.Fatalf("unknown outcome should be rejected")
	}

	out, dis, err := env.engine.ResolveDispute(ctx, admin, tx.ID, models.DisputeOutcomeFavorBuyer, "seller could not show delivery")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out.Status != models.TransactionStatusRefunded || out.RefundedAt == nil {
		t.Fatalf("want REFUNDED, got %s", out.Status)
	}
	if dis.Status != models.DisputeStatusResolvedBuyer || dis.ResolvedBy != admin.UserId || dis.ResolvedAt == nil {
		t.Fatalf("unexpected dispute: %+v", dis)
	}

	entries := env.entries(t, repository.LedgerFilter{TransactionId: tx.ID})
	if err := ledger.CheckTransaction(out, entries); err != nil {
		t.Fatalf("ledger invariant: %v", err)
	}
	if bal := ledger.BalanceIn(buyer.UserId, "USD", entries); !bal.Available.Equal(d("103.00")) {
		t.Fatalf("buyer refund: %s", bal.Available)
	}
	if bal := ledger.BalanceIn(seller.UserId, "USD", entries); !bal.Pending.IsZero() || !bal.Available.IsZero() {
		t.Fatalf("seller keeps nothing: %s / %s", bal.Pending, bal.Available)
	}

	if _, _, err := env.engine.ResolveDispute(ctx, admin, tx.ID, models.DisputeOutcomeFavorSeller, ""); err == nil {
		t.Fatalf("a refunded transaction cannot be resolved again")
	}
}

func TestResolveFavorSellerReleases(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	tx := env.disputed(t, seller.UserId)

	out, dis, err := env.engine.ResolveDispute(ctx, admin, tx.ID, models.DisputeOutcomeFavorSeller, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out.Status != models.TransactionStatusReleased || dis.Status != models.DisputeStatusResolvedSeller {
		t.Fatalf("want RELEASED / RESOLVED_SELLER, got %s / %s", out.Status, dis.Status)
	}
	bal := ledger.BalanceIn(seller.UserId, "USD", env.entries(t, repository.LedgerFilter{UserId: seller.UserId}))
	if !bal.Available.Equal(d("95.00")) {
		t.Fatalf("seller available: %s", bal.Available)
	}
}

func TestDismissedDisputeRearmsAutoRelease(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	tx := env.disputed(t, seller.UserId)

	env.setNow(t0.Add(30 * time.Hour))
	out, _, err := env.engine.ResolveDispute(ctx, admin, tx.ID, models.DisputeOutcomeDismissed, "no merit")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out.Status != models.TransactionStatusResolved || !out.AutoReleaseArmed {
		t.Fatalf("want armed RESOLVED, got %s armed=%v", out.Status, out.AutoReleaseArmed)
	}
	if want := t0.Add(54 * time.Hour); !out.GracePeriodDeadline.Equal(want) {
		t.Fatalf("deadline: want %s, got %s", want, out.GracePeriodDeadline)
	}

	env.setNow(t0.Add(54 * time.Hour))
	res, err := env.engine.AutoReleaseTick(ctx, tx.ID)
	if err != nil || res.Outcome != TickReleased {
		t.Fatalf("tick after dismissal: %+v %v", res, err)
	}
}

func TestDisputeInformationLoop(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	tx := env.disputed(t, seller.UserId)

	if _, err := env.engine.BeginDisputeReview(ctx, seller, tx.ID); err == nil {
		t.Fatalf("only admins review disputes")
	}
	dis, err := env.engine.BeginDisputeReview(ctx, admin, tx.ID)
	if err != nil || dis.Status != models.DisputeStatusUnderReview {
		t.Fatalf("begin review: %v %+v", err, dis)
	}
	if _, err := env.engine.RequestDisputeInfo(ctx, admin, tx.ID, "  "); err == nil {
		t.Fatalf("a question is required")
	}
	dis, err = env.engine.RequestDisputeInfo(ctx, admin, tx.ID, "Send the activation error")
	if err != nil || dis.Status != models.DisputeStatusNeedsInfo {
		t.Fatalf("request info: %v %+v", err, dis)
	}
	dis, err = env.engine.AddDisputeEvidence(ctx, seller, tx.ID, EvidenceInput{Reference: "activation-log.txt", Note: "worked on my side"})
	if err != nil || dis.Status != models.DisputeStatusSubmitted {
		t.Fatalf("add evidence: %v %+v", err, dis)
	}
	var evidence []models.DisputeEvidence
	if err := json.Unmarshal(dis.Evidence, &evidence); err != nil {
		t.Fatalf("evidence json: %v", err)
	}
	if len(evidence) != 2 || evidence[1].AddedBy != seller.UserId {
		t.Fatalf("unexpected evidence: %+v", evidence)
	}
	if _, err := env.engine.AddDisputeEvidence(ctx, stranger, tx.ID, EvidenceInput{Reference: "x"}); err == nil {
		t.Fatalf("strangers cannot add evidence")
	}

	// Sub-dispute moves bump the version but never the transaction status.
	stored, _ := env.store.GetTransaction(ctx, tx.ID)
	if stored.Status != models.TransactionStatusDisputed {
		t.Fatalf("status: %s", stored.Status)
	}
	events, _ := env.store.ListTransactionEvents(ctx, tx.ID)
	last := events[len(events)-1]
	if last.Operation != OpAddDisputeEvidence || last.FromStatus != last.ToStatus {
		t.Fatalf("unexpected audit event: %+v", last)
	}

	var invalid *models.InvalidTransitionError
	if _, _, err := env.engine.OpenDispute(ctx, seller, tx.ID, DisputeInput{Reason: models.DisputeReasonOther, Summary: "again"}); !errors.As(err, &invalid) {
		t.Fatalf("second dispute: want InvalidTransitionError, got %v", err)
	}
}

func TestDisputeBlocksRelease(t *testing.T) {
	env := newTestEnv(t)
	tx := env.disputed(t, seller.UserId)
	var invalid *models.InvalidTransitionError
	if _, err := env.engine.Release(context.Background(), buyer, tx.ID); !errors.As(err, &invalid) {
		t.Fatalf("release while disputed: want InvalidTransitionError, got %v", err)
	}
}

func TestConcurrentReleaseAndDispute(t *testing.T) {
	for i := 0; i < 20; i++ {
		env := newTestEnv(t)
		tx := env.funded(t, models.ItemKindDigital, seller.UserId)
		env.submitKey(t, tx, seller, "ABCDE-12345-FGHIJ-67890")

		var wg sync.WaitGroup
		var releaseErr, disputeErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, releaseErr = env.engine.Release(context.Background(), buyer, tx.ID)
		}()
		go func() {
			defer wg.Done()
			_, _, disputeErr = env.engine.OpenDispute(context.Background(), seller, tx.ID, DisputeInput{
				Reason:  models.DisputeReasonOther,
				Summary: "buyer is unresponsive",
			})
		}()
		wg.Wait()

		if (releaseErr == nil) == (disputeErr == nil) {
			t.Fatalf("exactly one must win: release=%v dispute=%v", releaseErr, disputeErr)
		}
		entries := env.entries(t, repository.LedgerFilter{TransactionId: tx.ID})
		status := env.status(t, tx.ID)
		switch {
		case releaseErr == nil:
			if status != models.TransactionStatusReleased || len(entries) != 3 {
				t.Fatalf("release won but status %s with %d entries", status, len(entries))
			}
		default:
			if status != models.TransactionStatusDisputed || len(entries) != 1 {
				t.Fatalf("dispute won but status %s with %d entries", status, len(entries))
			}
		}
	}
}
