// Package scheduler owns the auto-release deadline policy.
//
// A deadline is armed when proof is accepted and may only move later when the buyer
// first opens the evidence. The sweep that acts on elapsed deadlines lives in workflow.
package scheduler

import (
	"errors"
	"time"

	"github.com/mmdatafocus/rift_backend/models"
)

// Phase is the point in the lifecycle a deadline is being armed for.
type Phase string

const (
	// PhaseProofAccepted covers digital, ownership-transfer and services deliveries.
	PhaseProofAccepted Phase = "PROOF_ACCEPTED"
	PhaseInTransit     Phase = "IN_TRANSIT"
	PhaseDelivered     Phase = "DELIVERED"
)

// Windows holds the grace period per item kind and phase.
type Windows struct {
	Digital           time.Duration
	OwnershipTransfer time.Duration
	Services          time.Duration
	PhysicalTransit   time.Duration
	PhysicalDelivered time.Duration
}

func DefaultWindows() Windows {
	return Windows{
		Digital:           24 * time.Hour,
		OwnershipTransfer: 24 * time.Hour,
		Services:          24 * time.Hour,
		PhysicalTransit:   14 * 24 * time.Hour,
		PhysicalDelivered: 12 * time.Hour,
	}
}

func (w Windows) Validate() error {
	for _, d := range []time.Duration{w.Digital, w.OwnershipTransfer, w.Services, w.PhysicalTransit, w.PhysicalDelivered} {
		if d <= 0 {
			return errors.New("grace windows must be positive")
		}
	}
	if w.PhysicalDelivered > w.PhysicalTransit {
		return errors.New("physical delivered window must not exceed the transit window")
	}
	return nil
}

// For returns the grace window for kind in phase.
func (w Windows) For(kind models.ItemKind, phase Phase) time.Duration {
	switch kind {
	case models.ItemKindPhysical:
		if phase == PhaseDelivered {
			return w.PhysicalDelivered
		}
		return w.PhysicalTransit
	case models.ItemKindOwnershipTransfer:
		return w.OwnershipTransfer
	case models.ItemKindServices:
		return w.Services
	default:
		return w.Digital
	}
}

// Deadline arms a fresh deadline counted from from.
func (w Windows) Deadline(kind models.ItemKind, phase Phase, from time.Time) time.Time {
	return from.Add(w.For(kind, phase)).UTC()
}

// AccessWindow is the review window granted from the buyer's first access to evidence.
func (w Windows) AccessWindow(kind models.ItemKind) time.Duration {
	if kind == models.ItemKindPhysical {
		return w.PhysicalDelivered
	}
	return w.For(kind, PhaseProofAccepted)
}

// ExtendOnAccess returns max(current, accessAt+window). A nil current arms from accessAt.
func ExtendOnAccess(current *time.Time, accessAt time.Time, window time.Duration) time.Time {
	candidate := accessAt.Add(window).UTC()
	if current != nil && current.After(candidate) {
		return current.UTC()
	}
	return candidate
}

// PhaseForStatus maps the status a transaction is entering to the phase used for arming.
func PhaseForStatus(kind models.ItemKind, status models.TransactionStatus) Phase {
	if kind != models.ItemKindPhysical {
		return PhaseProofAccepted
	}
	switch status {
	case models.TransactionStatusInTransit:
		return PhaseInTransit
	default:
		return PhaseDelivered
	}
}

// IsDue reports whether an armed deadline has elapsed at now.
func IsDue(t *models.Transaction, now time.Time) bool {
	if t == nil || !t.AutoReleaseArmed || t.GracePeriodDeadline == nil {
		return false
	}
	return !now.Before(*t.GracePeriodDeadline)
}

// AutoReleaseEligible lists the statuses from which an elapsed deadline releases funds.
var AutoReleaseEligible = []models.TransactionStatus{
	models.TransactionStatusProofSubmitted,
	models.TransactionStatusInTransit,
	models.TransactionStatusDeliveredPendingRelease,
	models.TransactionStatusResolved,
}
