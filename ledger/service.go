package ledger

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/rift_backend/fees"
	"github.com/mmdatafocus/rift_backend/identity"
	"github.com/mmdatafocus/rift_backend/models"
	"github.com/mmdatafocus/rift_backend/payments"
	"github.com/mmdatafocus/rift_backend/repository"
)

// PayoutStatusHandler is the idempotency handler name for payout status reports.
const PayoutStatusHandler = "payout_status"

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// Rules are the withdrawal limits.
type Rules struct {
	MinWithdrawal        decimal.Decimal
	FirstWithdrawalDelay time.Duration
	ExternalCallTimeout  time.Duration
}

func DefaultRules() Rules {
	return Rules{
		MinWithdrawal:        decimal.NewFromInt(10),
		FirstWithdrawalDelay: 24 * time.Hour,
		ExternalCallTimeout:  10 * time.Second,
	}
}

// EligibilityError is returned when a user may not withdraw yet.
type EligibilityError struct {
	Missing []string
}

func (e *EligibilityError) Error() string {
	return "not eligible for payouts: missing " + strings.Join(e.Missing, ", ")
}

type Service struct {
	Store    repository.Store
	Identity identity.Verifier
	Gateway  payments.Gateway
	Rules    Rules
	Logger   *logrus.Logger
	Now      func() time.Time
}

func NewService(store repository.Store, verifier identity.Verifier, gateway payments.Gateway, rules Rules, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		Store:    store,
		Identity: verifier,
		Gateway:  gateway,
		Rules:    rules,
		Logger:   logger,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) now() time.Time {
	return s.Now().UTC()
}

func (s *Service) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.Rules.ExternalCallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.Rules.ExternalCallTimeout)
}

// Wallet returns the caller's balances per currency.
func (s *Service) Wallet(ctx context.Context, actor models.Actor, userId string) ([]Balance, error) {
	if err := requireSelfOrAdmin(actor, userId, "GetWallet"); err != nil {
		return nil, err
	}
	entries, err := s.Store.ListLedgerEntries(ctx, repository.LedgerFilter{UserId: userId})
	if err != nil {
		return nil, err
	}
	return Project(userId, entries), nil
}

func (s *Service) Entries(ctx context.Context, actor models.Actor, f repository.LedgerFilter) ([]models.LedgerEntry, error) {
	if err := requireSelfOrAdmin(actor, f.UserId, "ListLedger"); err != nil {
		return nil, err
	}
	if f.Limit <= 0 {
		f.Limit = repository.DefaultListLimit
	}
	return s.Store.ListLedgerEntries(ctx, f)
}

func (s *Service) Payouts(ctx context.Context, actor models.Actor, userId string, limit int) ([]models.Payout, error) {
	if err := requireSelfOrAdmin(actor, userId, "ListPayouts"); err != nil {
		return nil, err
	}
	return s.Store.ListPayouts(ctx, repository.PayoutFilter{UserId: userId, Limit: limit})
}

func requireSelfOrAdmin(actor models.Actor, userId, op string) error {
	if userId == "" {
		return models.NewValidationError("user_id", "is required")
	}
	if actor.Role == models.RoleAdmin || actor.Role == models.RoleSystem || actor.UserId == userId {
		return nil
	}
	return &models.UnauthorizedError{Operation: op, Required: []models.Party{models.PartyAdmin}}
}

// RequestWithdrawal debits the available balance and queues a payout for the payout worker.
// The first withdrawal of a user is held for Rules.FirstWithdrawalDelay.
func (s *Service) RequestWithdrawal(ctx context.Context, actor models.Actor, amount decimal.Decimal, currency string) (*models.Payout, error) {
	userId := actor.UserId
	if actor.Role != models.RoleUser || userId == "" {
		return nil, &models.UnauthorizedError{Operation: "RequestWithdrawal"}
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if !currencyPattern.MatchString(currency) {
		return nil, models.NewValidationError("currency", "must be a 3-letter ISO code")
	}
	if !amount.IsPositive() || !amount.Equal(fees.RoundMoney(amount)) {
		return nil, models.NewValidationError("amount", "must be positive with at most 2 decimal places")
	}
	if amount.LessThan(s.Rules.MinWithdrawal) {
		return nil, models.NewValidationError("amount", "is below the minimum withdrawal of "+s.Rules.MinWithdrawal.StringFixed(2))
	}

	callCtx, cancel := s.callCtx(ctx)
	elig, err := s.Identity.PayoutEligibility(callCtx, userId)
	cancel()
	if err != nil {
		return nil, &models.ExternalServiceError{Service: "identity", Op: "RequestWithdrawal", Err: err}
	}
	if !elig.Eligible() {
		return nil, &EligibilityError{Missing: elig.Missing()}
	}

	var payout *models.Payout
	err = s.Store.WithinTx(ctx, func(r repository.Repo) error {
		profile, err := r.LockPayoutProfile(ctx, userId)
		if err != nil {
			return err
		}
		if profile.PayoutAccountStatus == models.PayoutAccountStatusRejected {
			return &EligibilityError{Missing: []string{"payout_account_approved"}}
		}

		entries, err := r.ListLedgerEntries(ctx, repository.LedgerFilter{UserId: userId, Currency: currency})
		if err != nil {
			return err
		}
		bal := BalanceIn(userId, currency, entries)
		if amount.GreaterThan(bal.Available) {
			return models.NewValidationError("amount", "exceeds the available balance")
		}

		prior, err := r.CountPayouts(ctx, userId)
		if err != nil {
			return err
		}
		now := s.now()
		p := &models.Payout{
			ID:                uuid.NewString(),
			UserId:            userId,
			Amount:            amount,
			Currency:          currency,
			Status:            models.PayoutStatusPending,
			IsFirstWithdrawal: prior == 0,
			ScheduledFor:      now,
		}
		if p.IsFirstWithdrawal {
			p.ScheduledFor = now.Add(s.Rules.FirstWithdrawalDelay)
		}
		if err := r.CreatePayout(ctx, p); err != nil {
			return err
		}
		correlationId := models.CorrelationIdFromContextOrNew(ctx)
		if err := r.AppendLedgerEntries(ctx, []models.LedgerEntry{WithdrawalEntry(p, correlationId)}); err != nil {
			return err
		}
		profile.LastEligibilityCheck = &now
		if err := r.SavePayoutProfile(ctx, profile); err != nil {
			return err
		}
		msg, err := models.NewOutboxMessage(ctx, models.EventWithdrawalRequested, models.AggregatePayout, p.ID, p, now)
		if err != nil {
			return err
		}
		if err := r.EnqueueOutbox(ctx, msg); err != nil {
			return err
		}
		payout = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Logger.WithFields(logrus.Fields{
		"field":     "ledger",
		"payout_id": payout.ID,
		"first":     payout.IsFirstWithdrawal,
	}).Info("withdrawal requested")
	return payout, nil
}

// DispatchDuePayouts hands PENDING payouts whose ScheduledFor has passed to the payout rail.
// A transient rail error leaves the payout PENDING for the next run.
func (s *Service) DispatchDuePayouts(ctx context.Context, limit int) (int, error) {
	now := s.now()
	due, err := s.Store.ListPayouts(ctx, repository.PayoutFilter{
		Statuses:  []models.PayoutStatus{models.PayoutStatusPending},
		DueBefore: &now,
		Limit:     limit,
	})
	if err != nil {
		return 0, err
	}
	dispatched := 0
	for i := range due {
		p := due[i]
		if err := ctx.Err(); err != nil {
			return dispatched, err
		}
		callCtx, cancel := s.callCtx(ctx)
		ref, perr := s.Gateway.Payout(callCtx, p.ID, p.UserId, p.Amount, p.Currency)
		cancel()

		report := PayoutStatusReport{PayoutId: p.ID, MessageId: "dispatch:" + p.ID}
		switch {
		case perr == nil:
			report.Status = models.PayoutStatusScheduled
			report.ExternalPayoutId = ref
		case errors.Is(perr, payments.ErrDeclined):
			report.Status = models.PayoutStatusFailed
			report.FailureReason = perr.Error()
		default:
			s.Logger.WithFields(logrus.Fields{"field": "ledger", "payout_id": p.ID}).
				Warnf("payout rail unavailable: %v", perr)
			continue
		}
		if err := s.ApplyPayoutStatus(ctx, report); err != nil {
			var conflict *models.ConflictError
			if errors.As(err, &conflict) {
				continue
			}
			return dispatched, err
		}
		if report.Status == models.PayoutStatusScheduled {
			dispatched++
		}
	}
	return dispatched, nil
}

// PayoutStatusReport is what the payout subsystem sends back, at least once.
type PayoutStatusReport struct {
	MessageId        string              `json:"message_id"`
	PayoutId         string              `json:"payout_id"`
	ExternalPayoutId string              `json:"external_payout_id"`
	Status           models.PayoutStatus `json:"status"`
	FailureReason    string              `json:"failure_reason"`
}

var payoutTransitions = map[models.PayoutStatus][]models.PayoutStatus{
	models.PayoutStatusPending:    {models.PayoutStatusScheduled, models.PayoutStatusProcessing, models.PayoutStatusCompleted, models.PayoutStatusFailed},
	models.PayoutStatusScheduled:  {models.PayoutStatusProcessing, models.PayoutStatusCompleted, models.PayoutStatusFailed},
	models.PayoutStatusProcessing: {models.PayoutStatusCompleted, models.PayoutStatusFailed},
}

func canMovePayout(from, to models.PayoutStatus) bool {
	for _, s := range payoutTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ApplyPayoutStatus advances a payout from a status report. Redelivered reports are skipped
// through the idempotency table, and a report repeating the current status is a no-op.
// A FAILED payout returns its amount to the available balance.
func (s *Service) ApplyPayoutStatus(ctx context.Context, rep PayoutStatusReport) error {
	if rep.PayoutId == "" || rep.MessageId == "" {
		return models.NewValidationError("payout_id", "and message_id are required")
	}
	switch rep.Status {
	case models.PayoutStatusScheduled, models.PayoutStatusProcessing, models.PayoutStatusCompleted, models.PayoutStatusFailed:
	default:
		return models.NewValidationError("status", "must be SCHEDULED, PROCESSING, COMPLETED or FAILED")
	}

	var changed *models.Payout
	err := s.Store.WithinTx(ctx, func(r repository.Repo) error {
		skip, err := r.BeginIdempotency(ctx, PayoutStatusHandler, rep.MessageId)
		if err != nil {
			return err
		}
		if skip {
			return nil
		}
		p, err := r.GetPayout(ctx, rep.PayoutId)
		if err != nil {
			return err
		}
		if p.Status == rep.Status {
			return r.MarkIdempotencySucceeded(ctx, PayoutStatusHandler, rep.MessageId)
		}
		if !canMovePayout(p.Status, rep.Status) {
			return &models.ConflictError{Resource: "payout", Detail: fmt.Sprintf("is %s and cannot move to %s", p.Status, rep.Status)}
		}
		from := p.Status
		now := s.now()
		p.Status = rep.Status
		if rep.ExternalPayoutId != "" {
			p.ExternalPayoutId = rep.ExternalPayoutId
		}
		if rep.Status == models.PayoutStatusFailed {
			p.FailureReason = rep.FailureReason
		}
		if rep.Status.IsFinal() {
			p.CompletedAt = &now
		}
		if err := r.UpdatePayout(ctx, p, from); err != nil {
			return err
		}
		if rep.Status == models.PayoutStatusFailed {
			entry := WithdrawalReversalEntry(p, models.CorrelationIdFromContextOrNew(ctx))
			if err := r.AppendLedgerEntries(ctx, []models.LedgerEntry{entry}); err != nil {
				return err
			}
		}
		msg, err := models.NewOutboxMessage(ctx, models.EventPayoutStatusChanged, models.AggregatePayout, p.ID, p, now)
		if err != nil {
			return err
		}
		if err := r.EnqueueOutbox(ctx, msg); err != nil {
			return err
		}
		changed = p
		return r.MarkIdempotencySucceeded(ctx, PayoutStatusHandler, rep.MessageId)
	})
	if err != nil {
		return err
	}
	if changed != nil {
		s.Logger.WithFields(logrus.Fields{
			"field":     "ledger",
			"payout_id": changed.ID,
			"status":    changed.Status,
		}).Info("payout status applied")
	}
	return nil
}

// RecordChargeback debits the seller for a released transaction whose card payment was reversed.
func (s *Service) RecordChargeback(ctx context.Context, actor models.Actor, transactionId, reason string) (*models.LedgerEntry, error) {
	if actor.Role != models.RoleAdmin && actor.Role != models.RoleSystem {
		return nil, &models.UnauthorizedError{Operation: "RecordChargeback", Required: []models.Party{models.PartyAdmin, models.PartySystem}}
	}
	var entry models.LedgerEntry
	err := s.Store.WithinTx(ctx, func(r repository.Repo) error {
		t, err := r.GetTransactionForUpdate(ctx, transactionId)
		if err != nil {
			return err
		}
		if !t.Status.IsReleased() {
			return &models.InvalidTransitionError{
				Operation: "RecordChargeback",
				Current:   t.Status,
				Allowed:   []models.TransactionStatus{models.TransactionStatusReleased, models.TransactionStatusPayoutScheduled, models.TransactionStatusPaidOut},
			}
		}
		existing, err := r.ListLedgerEntries(ctx, repository.LedgerFilter{TransactionId: t.ID})
		if err != nil {
			return err
		}
		for _, e := range existing {
			if e.Type == models.LedgerEntryDebitChargeback {
				return &models.ConflictError{Resource: "transaction", Detail: "already charged back"}
			}
		}
		entry = ChargebackEntry(t, reason, models.CorrelationIdFromContextOrNew(ctx))
		if err := CheckTransaction(t, append(existing, entry)); err != nil {
			return err
		}
		if err := r.AppendLedgerEntries(ctx, []models.LedgerEntry{entry}); err != nil {
			return err
		}
		msg, err := models.NewOutboxMessage(ctx, models.EventLedgerAdjusted, models.AggregateWallet, t.SellerId, entry, s.now())
		if err != nil {
			return err
		}
		return r.EnqueueOutbox(ctx, msg)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// RecordAdjustment books an admin correction on a user's available balance.
func (s *Service) RecordAdjustment(ctx context.Context, actor models.Actor, userId, currency string, amount decimal.Decimal, memo string) (*models.LedgerEntry, error) {
	if actor.Role != models.RoleAdmin {
		return nil, &models.UnauthorizedError{Operation: "RecordAdjustment", Required: []models.Party{models.PartyAdmin}}
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	switch {
	case userId == "":
		return nil, models.NewValidationError("user_id", "is required")
	case !currencyPattern.MatchString(currency):
		return nil, models.NewValidationError("currency", "must be a 3-letter ISO code")
	case amount.IsZero() || !amount.Equal(fees.RoundMoney(amount)):
		return nil, models.NewValidationError("amount", "must be non-zero with at most 2 decimal places")
	case strings.TrimSpace(memo) == "":
		return nil, models.NewValidationError("memo", "is required")
	}
	entry := AdjustmentEntry(userId, currency, amount, "adjustment by "+actor.UserId+": "+strings.TrimSpace(memo), models.CorrelationIdFromContextOrNew(ctx))
	err := s.Store.WithinTx(ctx, func(r repository.Repo) error {
		if err := r.AppendLedgerEntries(ctx, []models.LedgerEntry{entry}); err != nil {
			return err
		}
		msg, err := models.NewOutboxMessage(ctx, models.EventLedgerAdjusted, models.AggregateWallet, userId, entry, s.now())
		if err != nil {
			return err
		}
		return r.EnqueueOutbox(ctx, msg)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
