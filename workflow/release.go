package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmdatafocus/rift_backend/ledger"
	"github.com/mmdatafocus/rift_backend/models"
	"github.com/mmdatafocus/rift_backend/scheduler"
)

// Release is the buyer accepting delivery.
func (e *Engine) Release(ctx context.Context, actor models.Actor, id string) (*models.Transaction, error) {
	return e.transition(ctx, actor, id, OpRelease, func(s *step) error {
		releaseFunds(s)
		return nil
	})
}

// releaseFunds moves the seller net from pending to available. It is the only release path.
func releaseFunds(s *step) {
	now := s.now
	s.tx.Status = models.TransactionStatusReleased
	s.tx.ReleasedAt = &now
	disarm(s.tx)
	s.post(ledger.ReleaseEntries(s.tx, s.correlationId)...)
	s.announce(models.EventTransactionReleased)
}

type TickOutcome string

const (
	TickReleased        TickOutcome = "RELEASED"
	TickAlreadyReleased TickOutcome = "ALREADY_RELEASED"
	TickNotDue          TickOutcome = "NOT_DUE"
	TickDisputed        TickOutcome = "DISPUTED"
	// TickSkipped covers any other status the deadline no longer applies to.
	TickSkipped TickOutcome = "SKIPPED"
)

type TickResult struct {
	TransactionId string                   `json:"transaction_id"`
	Outcome       TickOutcome              `json:"outcome"`
	Status        models.TransactionStatus `json:"status"`
}

// tickSkip rolls back a tick that found nothing to do.
type tickSkip struct {
	outcome TickOutcome
	status  models.TransactionStatus
}

func (s *tickSkip) Error() string {
	return fmt.Sprintf("auto-release skipped: %s (%s)", s.outcome, s.status)
}

// AutoReleaseTick releases one transaction whose grace deadline has elapsed. Status, dispute,
// armed flag and deadline are all re-checked under the row lock, so running it twice or racing
// a dispute never releases twice. Anything but a release is reported as a no-op outcome.
func (e *Engine) AutoReleaseTick(ctx context.Context, id string) (TickResult, error) {
	res := TickResult{TransactionId: id}
	t, err := e.transition(ctx, models.SystemActor, id, OpAutoRelease, func(s *step) error {
		if !scheduler.IsDue(s.tx, s.now) {
			return &tickSkip{outcome: TickNotDue, status: s.tx.Status}
		}
		if _, err := s.repo.GetActiveDispute(s.ctx, id); err == nil {
			return &tickSkip{outcome: TickDisputed, status: s.tx.Status}
		} else if !errors.Is(err, models.ErrNotFound) {
			return err
		}
		s.note("deadline", s.tx.GracePeriodDeadline)
		releaseFunds(s)
		return nil
	})

	var skip *tickSkip
	var invalid *models.InvalidTransitionError
	switch {
	case err == nil:
		res.Outcome = TickReleased
		res.Status = t.Status
	case errors.As(err, &skip):
		res.Outcome = skip.outcome
		res.Status = skip.status
	case errors.As(err, &invalid):
		res.Status = invalid.Current
		switch {
		case invalid.Current.IsReleased():
			res.Outcome = TickAlreadyReleased
		case invalid.Current == models.TransactionStatusDisputed:
			res.Outcome = TickDisputed
		default:
			res.Outcome = TickSkipped
		}
	default:
		return res, err
	}
	return res, nil
}
