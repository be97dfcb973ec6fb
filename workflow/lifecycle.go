package workflow

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/rift_backend/fees"
	"github.com/mmdatafocus/rift_backend/ledger"
	"github.com/mmdatafocus/rift_backend/models"
	"github.com/mmdatafocus/rift_backend/payments"
	"github.com/mmdatafocus/rift_backend/repository"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

type CreateInput struct {
	ItemKind    models.ItemKind
	Title       string
	Description string
	Subtotal    decimal.Decimal
	Currency    string
	// SellerId may be empty; the transaction then waits in DRAFT for the invited seller to join.
	SellerId string
}

func (in *CreateInput) validate(buyerId string) error {
	in.Title = strings.TrimSpace(in.Title)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	in.SellerId = strings.TrimSpace(in.SellerId)
	if !in.ItemKind.IsValid() {
		return models.NewValidationError("item_kind", "must be PHYSICAL, DIGITAL, OWNERSHIP_TRANSFER or SERVICES")
	}
	if in.Title == "" || utf8.RuneCountInString(in.Title) > 255 {
		return models.NewValidationError("title", "is required and at most 255 characters")
	}
	if !currencyPattern.MatchString(in.Currency) {
		return models.NewValidationError("currency", "must be a 3-letter ISO code")
	}
	if in.SellerId != "" && in.SellerId == buyerId {
		return models.NewValidationError("seller_id", "must differ from the buyer")
	}
	return nil
}

// CreateTransaction opens a rift with the caller as buyer.
func (e *Engine) CreateTransaction(ctx context.Context, actor models.Actor, in CreateInput) (t *models.Transaction, err error) {
	ctx, span := e.startSpan(ctx, OpCreateTransaction, "")
	defer func() { endSpan(span, err) }()

	if actor.Role != models.RoleUser || actor.UserId == "" {
		return nil, &models.UnauthorizedError{Operation: OpCreateTransaction, Required: []models.Party{models.PartyBuyer}}
	}
	if err := in.validate(actor.UserId); err != nil {
		return nil, err
	}
	// The quote shown before funding; Fund recomputes it and freezes the result.
	rates := e.Policy.FeeRates()
	quote, err := fees.Calculate(in.Subtotal, rates)
	if err != nil {
		return nil, models.NewValidationError("subtotal", err.Error())
	}

	now := e.now()
	correlationId := models.CorrelationIdFromContextOrNew(ctx)
	t = &models.Transaction{
		ID:          uuid.NewString(),
		ItemKind:    in.ItemKind,
		Title:       in.Title,
		Description: strings.TrimSpace(in.Description),
		Subtotal:    in.Subtotal,
		Currency:    in.Currency,
		BuyerId:     actor.UserId,
		SellerId:    in.SellerId,
		Status:      models.TransactionStatusAwaitingPayment,
		Version:     1,

		BuyerFeeRate:  rates.Buyer,
		SellerFeeRate: rates.Seller,
		BuyerFee:      quote.BuyerFee,
		SellerFee:     quote.SellerFee,
		BuyerTotal:    quote.BuyerTotal,
		SellerNet:     quote.SellerNet,
	}
	if t.SellerId == "" {
		t.Status = models.TransactionStatusDraft
		t.InviteCode = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	err = e.Store.WithinTx(ctx, func(r repository.Repo) error {
		seq, err := r.NextSequence(ctx, models.SequenceTransaction)
		if err != nil {
			return err
		}
		t.SequenceNo = seq
		t.TransactionNumber = models.FormatTransactionNumber(seq)
		if err := r.CreateTransaction(ctx, t); err != nil {
			return err
		}
		if err := appendEvent(ctx, r, t, OpCreateTransaction, "", actor, models.PartyBuyer, nil, correlationId, now); err != nil {
			return err
		}
		msg, err := models.NewOutboxMessage(ctx, models.EventTransactionCreated, models.AggregateTransaction, t.ID, t, now)
		if err != nil {
			return err
		}
		msg.CorrelationId = correlationId
		return r.EnqueueOutbox(ctx, msg)
	})
	if err != nil {
		return nil, err
	}
	e.logger().WithFields(logrus.Fields{
		"field":          "workflow",
		"operation":      OpCreateTransaction,
		"transaction_id": t.ID,
		"number":         t.TransactionNumber,
		"status":         t.Status,
	}).Info("transaction created")
	return t, nil
}

// InviteCode returns the code the buyer shares with the seller of a DRAFT transaction.
func (e *Engine) InviteCode(ctx context.Context, actor models.Actor, id string) (string, error) {
	t, err := e.Store.GetTransaction(ctx, id)
	if err != nil {
		return "", err
	}
	if actor.Role != models.RoleAdmin && actor.UserId != t.BuyerId {
		return "", &models.UnauthorizedError{Operation: "InviteCode", Required: []models.Party{models.PartyBuyer}}
	}
	if t.Status != models.TransactionStatusDraft {
		return "", &models.InvalidTransitionError{Operation: "InviteCode", Current: t.Status, Allowed: AllowedFrom(OpJoinTransaction)}
	}
	return t.InviteCode, nil
}

// JoinTransaction names the caller as seller of the draft behind inviteCode.
func (e *Engine) JoinTransaction(ctx context.Context, actor models.Actor, inviteCode string) (*models.Transaction, error) {
	inviteCode = strings.TrimSpace(inviteCode)
	if inviteCode == "" {
		return nil, models.NewValidationError("invite_code", "is required")
	}
	if actor.Role != models.RoleUser || actor.UserId == "" {
		return nil, &models.UnauthorizedError{Operation: OpJoinTransaction}
	}
	draft, err := e.Store.FindTransactionByInviteCode(ctx, inviteCode)
	if err != nil {
		return nil, err
	}
	return e.transition(ctx, actor, draft.ID, OpJoinTransaction, func(s *step) error {
		if s.tx.InviteCode != inviteCode {
			return models.ErrNotFound
		}
		if s.tx.BuyerId == actor.UserId {
			return models.NewValidationError("invite_code", "cannot be redeemed by the buyer")
		}
		s.party = models.PartySeller
		s.tx.SellerId = actor.UserId
		s.tx.InviteCode = ""
		s.tx.Status = models.TransactionStatusAwaitingPayment
		s.announce(models.EventTransactionJoined)
		return nil
	})
}

// Fund charges the buyer total and moves the seller net into the pending bucket.
// Payment runs before the unit of work; if the transition then loses a race the charge is voided.
func (e *Engine) Fund(ctx context.Context, actor models.Actor, id string) (*models.Transaction, error) {
	pre, _, err := e.precheck(ctx, actor, id, OpFund)
	if err != nil {
		return nil, err
	}
	rates := e.Policy.FeeRates()
	breakdown, err := fees.Calculate(pre.Subtotal, rates)
	if err != nil {
		return nil, models.NewValidationError("subtotal", err.Error())
	}
	ref, err := e.chargeBuyer(ctx, pre, breakdown)
	if err != nil {
		return nil, err
	}

	t, err := e.transition(ctx, actor, id, OpFund, func(s *step) error {
		now := s.now
		s.tx.BuyerFeeRate = rates.Buyer
		s.tx.SellerFeeRate = rates.Seller
		s.tx.BuyerFee = breakdown.BuyerFee
		s.tx.SellerFee = breakdown.SellerFee
		s.tx.BuyerTotal = breakdown.BuyerTotal
		s.tx.SellerNet = breakdown.SellerNet
		s.tx.PaymentReference = ref
		s.tx.FundedAt = &now
		s.tx.Status = models.TransactionStatusFunded
		s.post(ledger.HoldEntries(s.tx, s.correlationId)...)
		s.note("buyer_total", breakdown.BuyerTotal.StringFixed(2))
		s.note("seller_net", breakdown.SellerNet.StringFixed(2))
		s.announce(models.EventTransactionFunded)
		return nil
	})
	if err != nil {
		e.voidCharge(ctx, id, ref)
		return nil, err
	}
	return t, nil
}

func (e *Engine) chargeBuyer(ctx context.Context, t *models.Transaction, b fees.Breakdown) (ref string, err error) {
	ctx, span := e.startSpan(ctx, OpFund+".payment", t.ID)
	defer func() { endSpan(span, err) }()

	callCtx, cancel := e.callCtx(ctx)
	defer cancel()
	// A fresh key per attempt: a concurrent loser must void only its own authorization.
	ref, err = e.Payments.Authorize(callCtx, "fund:"+t.ID+":"+uuid.NewString(), b.BuyerTotal, t.Currency)
	if err != nil {
		if errors.Is(err, payments.ErrDeclined) {
			return "", models.NewValidationError("payment", "was declined by the processor")
		}
		return "", e.external("payments", OpFund, err)
	}
	if err := e.Payments.Capture(callCtx, ref); err != nil {
		e.voidCharge(ctx, t.ID, ref)
		if errors.Is(err, payments.ErrDeclined) {
			return "", models.NewValidationError("payment", "was declined by the processor")
		}
		return "", e.external("payments", OpFund, err)
	}
	return ref, nil
}

func (e *Engine) voidCharge(ctx context.Context, transactionId, ref string) {
	callCtx, cancel := e.callCtx(context.WithoutCancel(ctx))
	defer cancel()
	if err := e.Payments.Void(callCtx, ref); err != nil {
		e.logger().WithFields(logrus.Fields{
			"field":          "workflow",
			"transaction_id": transactionId,
		}).Errorf("void of unused payment failed, needs manual follow-up: %v", err)
	}
}

// AcknowledgeOrder records that the seller has seen the funded order.
func (e *Engine) AcknowledgeOrder(ctx context.Context, actor models.Actor, id string) (*models.Transaction, error) {
	return e.transition(ctx, actor, id, OpAcknowledgeOrder, func(s *step) error {
		s.tx.Status = models.TransactionStatusAwaitingShipment
		s.announce(models.EventOrderAcknowledged)
		return nil
	})
}

// Cancel ends a transaction before delivery. Once funded only the seller or an admin may cancel,
// and the hold is returned to the buyer's available balance.
func (e *Engine) Cancel(ctx context.Context, actor models.Actor, id, reason string) (*models.Transaction, error) {
	return e.transition(ctx, actor, id, OpCancel, func(s *step) error {
		funded := s.tx.Status == models.TransactionStatusFunded || s.tx.Status == models.TransactionStatusAwaitingShipment
		if funded {
			party, ok := firstParty(s.tx.PartiesOf(actor), models.PartySeller, models.PartyAdmin)
			if !ok {
				return &models.UnauthorizedError{Operation: OpCancel, Required: []models.Party{models.PartySeller, models.PartyAdmin}}
			}
			s.party = party
		}
		now := s.now
		s.tx.Status = models.TransactionStatusCancelled
		s.tx.CancelledAt = &now
		disarm(s.tx)
		if funded {
			s.post(ledger.RefundEntries(s.tx, s.correlationId)...)
		}
		if reason = strings.TrimSpace(reason); reason != "" {
			s.note("reason", reason)
		}
		s.announce(models.EventTransactionCancelled)
		return nil
	})
}

func firstParty(held []models.Party, want ...models.Party) (models.Party, bool) {
	for _, w := range want {
		for _, p := range held {
			if p == w {
				return p, true
			}
		}
	}
	return "", false
}

// MarkPayoutScheduled and MarkPaidOut follow the seller's payout of a released transaction.
func (e *Engine) MarkPayoutScheduled(ctx context.Context, actor models.Actor, id string) (*models.Transaction, error) {
	return e.transition(ctx, actor, id, OpMarkPayoutScheduled, func(s *step) error {
		s.tx.Status = models.TransactionStatusPayoutScheduled
		s.announce(models.EventPayoutScheduled)
		return nil
	})
}

func (e *Engine) MarkPaidOut(ctx context.Context, actor models.Actor, id string) (*models.Transaction, error) {
	return e.transition(ctx, actor, id, OpMarkPaidOut, func(s *step) error {
		s.tx.Status = models.TransactionStatusPaidOut
		s.announce(models.EventPaidOut)
		return nil
	})
}

// GetTransaction reads through the snapshot cache.
func (e *Engine) GetTransaction(ctx context.Context, actor models.Actor, id string) (*models.Transaction, error) {
	t, err := e.Cache.GetTransaction(ctx, e.Store, id)
	if err != nil {
		return nil, err
	}
	if _, err := guard(OpGetTransaction, t, actor); err != nil {
		return nil, err
	}
	return t, nil
}

// Detail is a transaction with its evidence, disputes and audit trail.
type Detail struct {
	Transaction *models.Transaction       `json:"transaction"`
	Assets      []models.VaultAsset       `json:"assets"`
	Disputes    []models.Dispute          `json:"disputes"`
	Events      []models.TransactionEvent `json:"events"`
}

func (e *Engine) GetDetail(ctx context.Context, actor models.Actor, id string) (*Detail, error) {
	t, err := e.GetTransaction(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	d := &Detail{Transaction: t}
	if d.Assets, err = e.Store.ListVaultAssets(ctx, id); err != nil {
		return nil, err
	}
	if d.Disputes, err = e.Store.ListDisputes(ctx, repository.DisputeFilter{TransactionId: id}); err != nil {
		return nil, err
	}
	if d.Events, err = e.Store.ListTransactionEvents(ctx, id); err != nil {
		return nil, err
	}
	return d, nil
}

// ListTransactions returns the caller's transactions as buyer or seller, newest first.
func (e *Engine) ListTransactions(ctx context.Context, actor models.Actor, limit int) ([]models.Transaction, error) {
	if actor.UserId == "" {
		return nil, &models.UnauthorizedError{Operation: "ListTransactions"}
	}
	return e.Store.ListTransactionsByParty(ctx, actor.UserId, limit)
}
