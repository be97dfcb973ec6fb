package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/mmdatafocus/rift_backend/dispute"
	"github.com/mmdatafocus/rift_backend/ledger"
	"github.com/mmdatafocus/rift_backend/models"
)

type DisputeInput struct {
	Reason   models.DisputeReason
	Summary  string
	Evidence []string
}

type EvidenceInput struct {
	Reference string
	Note      string
}

// OpenDispute freezes the transaction: auto-release is disarmed until an admin resolves it.
func (e *Engine) OpenDispute(ctx context.Context, actor models.Actor, id string, in DisputeInput) (*models.Transaction, *models.Dispute, error) {
	if !in.Reason.IsValid() {
		return nil, nil, models.NewValidationError("reason", "is not a supported dispute reason")
	}
	in.Summary = strings.TrimSpace(in.Summary)
	if in.Summary == "" {
		return nil, nil, models.NewValidationError("summary", "is required")
	}

	var opened *models.Dispute
	t, err := e.transition(ctx, actor, id, OpOpenDispute, func(s *step) error {
		if _, err := s.repo.GetActiveDispute(s.ctx, id); err == nil {
			return &models.ConflictError{Resource: "dispute", Detail: "already open for this transaction"}
		} else if !errors.Is(err, models.ErrNotFound) {
			return err
		}
		evidence := make([]models.DisputeEvidence, 0, len(in.Evidence))
		for _, ref := range in.Evidence {
			if ref = strings.TrimSpace(ref); ref != "" {
				evidence = append(evidence, models.DisputeEvidence{AddedBy: actor.UserId, AddedAt: s.now, Reference: ref})
			}
		}
		raw, err := json.Marshal(evidence)
		if err != nil {
			return err
		}
		d := &models.Dispute{
			ID:            uuid.NewString(),
			TransactionId: id,
			RaisedBy:      actor.UserId,
			RaisedByRole:  s.party,
			ReasonCode:    in.Reason,
			Summary:       in.Summary,
			Evidence:      raw,
			Status:        models.DisputeStatusDraft,
		}
		if err := moveDispute(d, models.DisputeStatusSubmitted); err != nil {
			return err
		}
		if err := s.repo.CreateDispute(s.ctx, d); err != nil {
			return err
		}
		s.tx.Status = models.TransactionStatusDisputed
		disarm(s.tx)
		s.note("dispute_id", d.ID)
		s.note("reason", d.ReasonCode)
		s.emit(models.EventDisputeOpened, models.AggregateTransaction, id, d)
		opened = d
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return t, opened, nil
}

func moveDispute(d *models.Dispute, to models.DisputeStatus) error {
	if err := dispute.Transition(d, to); err != nil {
		return &models.ConflictError{Resource: "dispute", Detail: err.Error()}
	}
	return nil
}

// updateDispute runs fn on the transaction's active dispute and persists it conditionally.
func (e *Engine) updateDispute(ctx context.Context, actor models.Actor, id, operation string, fn func(s *step, d *models.Dispute) error) (*models.Dispute, error) {
	var out *models.Dispute
	_, err := e.transition(ctx, actor, id, operation, func(s *step) error {
		d, err := s.repo.GetActiveDispute(s.ctx, id)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return &models.ConflictError{Resource: "dispute", Detail: "no open dispute for this transaction"}
			}
			return err
		}
		prev := d.Status
		if err := fn(s, d); err != nil {
			return err
		}
		if err := s.repo.UpdateDispute(s.ctx, d, prev); err != nil {
			return err
		}
		s.note("dispute_id", d.ID)
		s.note("dispute_status", d.Status)
		s.emit(models.EventDisputeUpdated, models.AggregateTransaction, id, d)
		out = d
		return nil
	})
	return out, err
}

// BeginDisputeReview marks the dispute as picked up by an admin.
func (e *Engine) BeginDisputeReview(ctx context.Context, actor models.Actor, id string) (*models.Dispute, error) {
	return e.updateDispute(ctx, actor, id, OpBeginDisputeReview, func(s *step, d *models.Dispute) error {
		return moveDispute(d, models.DisputeStatusUnderReview)
	})
}

// RequestDisputeInfo asks the parties for more evidence.
func (e *Engine) RequestDisputeInfo(ctx context.Context, actor models.Actor, id, question string) (*models.Dispute, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, models.NewValidationError("question", "is required")
	}
	return e.updateDispute(ctx, actor, id, OpRequestDisputeInfo, func(s *step, d *models.Dispute) error {
		s.note("question", question)
		return moveDispute(d, models.DisputeStatusNeedsInfo)
	})
}

// AddDisputeEvidence appends a party's evidence. Answering a NEEDS_INFO request resubmits the dispute.
func (e *Engine) AddDisputeEvidence(ctx context.Context, actor models.Actor, id string, in EvidenceInput) (*models.Dispute, error) {
	in.Reference = strings.TrimSpace(in.Reference)
	if in.Reference == "" {
		return nil, models.NewValidationError("reference", "is required")
	}
	return e.updateDispute(ctx, actor, id, OpAddDisputeEvidence, func(s *step, d *models.Dispute) error {
		var evidence []models.DisputeEvidence
		if len(d.Evidence) > 0 {
			if err := json.Unmarshal(d.Evidence, &evidence); err != nil {
				return err
			}
		}
		evidence = append(evidence, models.DisputeEvidence{
			AddedBy:   actor.UserId,
			AddedAt:   s.now,
			Reference: in.Reference,
			Note:      strings.TrimSpace(in.Note),
		})
		raw, err := json.Marshal(evidence)
		if err != nil {
			return err
		}
		d.Evidence = raw
		if d.Status == models.DisputeStatusNeedsInfo {
			return moveDispute(d, models.DisputeStatusSubmitted)
		}
		return nil
	})
}

// ResolveDispute applies the admin's decision. Favor-buyer refunds, favor-seller releases and
// dismiss returns the transaction to RESOLVED with auto-release re-armed.
func (e *Engine) ResolveDispute(ctx context.Context, actor models.Actor, id string, outcome models.DisputeOutcome, notes string) (*models.Transaction, *models.Dispute, error) {
	final, err := dispute.ResolvedStatusFor(outcome)
	if err != nil {
		return nil, nil, err
	}
	var resolved *models.Dispute
	t, err := e.transition(ctx, actor, id, OpResolveDispute, func(s *step) error {
		d, err := s.repo.GetActiveDispute(s.ctx, id)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return &models.ConflictError{Resource: "dispute", Detail: "no open dispute for this transaction"}
			}
			return err
		}
		prev := d.Status
		if err := moveDispute(d, final); err != nil {
			return err
		}
		now := s.now
		d.Outcome = outcome
		d.ResolutionNotes = strings.TrimSpace(notes)
		d.ResolvedBy = actor.UserId
		d.ResolvedAt = &now
		if err := s.repo.UpdateDispute(s.ctx, d, prev); err != nil {
			return err
		}

		switch dispute.TransactionStatusFor(outcome) {
		case models.TransactionStatusRefunded:
			s.tx.Status = models.TransactionStatusRefunded
			s.tx.RefundedAt = &now
			disarm(s.tx)
			s.post(ledger.RefundEntries(s.tx, s.correlationId)...)
			s.announce(models.EventTransactionRefunded)
		case models.TransactionStatusReleased:
			releaseFunds(s)
		default:
			s.tx.Status = models.TransactionStatusResolved
			arm(s.tx, e.deadline(s.tx, s.tx.Status, now))
		}
		s.note("dispute_id", d.ID)
		s.note("outcome", outcome)
		s.emit(models.EventDisputeResolved, models.AggregateTransaction, id, d)
		resolved = d
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return t, resolved, nil
}
