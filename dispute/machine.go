// Package dispute holds the dispute sub-machine: its transition table and guards.
package dispute

import (
	"fmt"

	"github.com/mmdatafocus/rift_backend/models"
)

var transitions = map[models.DisputeStatus][]models.DisputeStatus{
	models.DisputeStatusDraft: {
		models.DisputeStatusSubmitted,
	},
	models.DisputeStatusSubmitted: {
		models.DisputeStatusUnderReview,
		models.DisputeStatusNeedsInfo,
		models.DisputeStatusResolvedBuyer,
		models.DisputeStatusResolvedSeller,
		models.DisputeStatusResolved,
	},
	models.DisputeStatusUnderReview: {
		models.DisputeStatusNeedsInfo,
		models.DisputeStatusResolvedBuyer,
		models.DisputeStatusResolvedSeller,
		models.DisputeStatusResolved,
	},
	models.DisputeStatusNeedsInfo: {
		models.DisputeStatusSubmitted,
		models.DisputeStatusResolvedBuyer,
		models.DisputeStatusResolvedSeller,
		models.DisputeStatusResolved,
	},
}

// TransitionError reports an illegal dispute status change.
type TransitionError struct {
	From models.DisputeStatus
	To   models.DisputeStatus
}

func (e *TransitionError) Error() string {
	if e.From.IsResolved() {
		return fmt.Sprintf("dispute is final (%s); cannot move to %s", e.From, e.To)
	}
	return fmt.Sprintf("dispute cannot move from %s to %s", e.From, e.To)
}

func CanTransition(from, to models.DisputeStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition applies to on d after checking the table. Resolved disputes never change again.
func Transition(d *models.Dispute, to models.DisputeStatus) error {
	if !CanTransition(d.Status, to) {
		return &TransitionError{From: d.Status, To: to}
	}
	d.Status = to
	return nil
}

// IsActive reports whether d still blocks release paths.
func IsActive(d *models.Dispute) bool {
	return d != nil && !d.Status.IsResolved()
}

// ResolvedStatusFor maps an admin outcome to the dispute's final status.
func ResolvedStatusFor(outcome models.DisputeOutcome) (models.DisputeStatus, error) {
	switch outcome {
	case models.DisputeOutcomeFavorBuyer:
		return models.DisputeStatusResolvedBuyer, nil
	case models.DisputeOutcomeFavorSeller:
		return models.DisputeStatusResolvedSeller, nil
	case models.DisputeOutcomeDismissed:
		return models.DisputeStatusResolved, nil
	}
	return "", models.NewValidationError("outcome", "must be FAVOR_BUYER, FAVOR_SELLER or DISMISSED")
}

// TransactionStatusFor is the status the owning transaction lands in for outcome.
func TransactionStatusFor(outcome models.DisputeOutcome) models.TransactionStatus {
	switch outcome {
	case models.DisputeOutcomeFavorBuyer:
		return models.TransactionStatusRefunded
	case models.DisputeOutcomeFavorSeller:
		return models.TransactionStatusReleased
	default:
		return models.TransactionStatusResolved
	}
}
