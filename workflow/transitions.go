package workflow

import (
	"github.com/mmdatafocus/rift_backend/models"
)

const (
	OpCreateTransaction   = "CreateTransaction"
	OpJoinTransaction     = "JoinTransaction"
	OpFund                = "Fund"
	OpAcknowledgeOrder    = "AcknowledgeOrder"
	OpSubmitProof         = "SubmitProof"
	OpApproveProof        = "ApproveProof"
	OpRejectProof         = "RejectProof"
	OpConfirmDelivery     = "ConfirmDelivery"
	OpRelease             = "Release"
	OpAutoRelease         = "AutoReleaseTick"
	OpOpenDispute         = "OpenDispute"
	OpBeginDisputeReview  = "BeginDisputeReview"
	OpRequestDisputeInfo  = "RequestDisputeInfo"
	OpAddDisputeEvidence  = "AddDisputeEvidence"
	OpResolveDispute      = "ResolveDispute"
	OpCancel              = "Cancel"
	OpMarkPayoutScheduled = "MarkPayoutScheduled"
	OpMarkPaidOut         = "MarkPaidOut"
	OpRecordVaultAccess   = "RecordVaultAccess"
	OpGetTransaction      = "GetTransaction"
)

// rule is who may run an operation and from which statuses. Parties are listed in order of
// preference: an actor who is both admin and buyer acts as the first listed capacity.
type rule struct {
	from    []models.TransactionStatus
	parties []models.Party
}

var (
	releasable = []models.TransactionStatus{
		models.TransactionStatusProofSubmitted,
		models.TransactionStatusUnderReview,
		models.TransactionStatusDeliveredPendingRelease,
		models.TransactionStatusResolved,
	}
	disputable = []models.TransactionStatus{
		models.TransactionStatusFunded,
		models.TransactionStatusAwaitingShipment,
		models.TransactionStatusProofSubmitted,
		models.TransactionStatusUnderReview,
		models.TransactionStatusInTransit,
		models.TransactionStatusDeliveredPendingRelease,
	}
	parties = []models.Party{models.PartyBuyer, models.PartySeller}
)

var rules = map[string]rule{
	OpJoinTransaction: {
		from: []models.TransactionStatus{models.TransactionStatusDraft},
	},
	OpFund: {
		from:    []models.TransactionStatus{models.TransactionStatusAwaitingPayment},
		parties: []models.Party{models.PartyBuyer},
	},
	OpAcknowledgeOrder: {
		from:    []models.TransactionStatus{models.TransactionStatusFunded},
		parties: []models.Party{models.PartySeller},
	},
	OpSubmitProof: {
		from:    []models.TransactionStatus{models.TransactionStatusFunded, models.TransactionStatusAwaitingShipment},
		parties: []models.Party{models.PartySeller},
	},
	OpApproveProof: {
		from:    []models.TransactionStatus{models.TransactionStatusUnderReview},
		parties: []models.Party{models.PartyAdmin},
	},
	OpRejectProof: {
		from:    []models.TransactionStatus{models.TransactionStatusUnderReview},
		parties: []models.Party{models.PartyAdmin},
	},
	OpConfirmDelivery: {
		from:    []models.TransactionStatus{models.TransactionStatusInTransit},
		parties: []models.Party{models.PartySystem, models.PartyBuyer, models.PartyAdmin},
	},
	OpRelease: {
		from:    releasable,
		parties: []models.Party{models.PartyBuyer},
	},
	OpAutoRelease: {
		from: []models.TransactionStatus{
			models.TransactionStatusProofSubmitted,
			models.TransactionStatusInTransit,
			models.TransactionStatusDeliveredPendingRelease,
			models.TransactionStatusResolved,
		},
		parties: []models.Party{models.PartySystem},
	},
	OpOpenDispute: {
		from:    disputable,
		parties: parties,
	},
	OpBeginDisputeReview: {
		from:    []models.TransactionStatus{models.TransactionStatusDisputed},
		parties: []models.Party{models.PartyAdmin},
	},
	OpRequestDisputeInfo: {
		from:    []models.TransactionStatus{models.TransactionStatusDisputed},
		parties: []models.Party{models.PartyAdmin},
	},
	OpAddDisputeEvidence: {
		from:    []models.TransactionStatus{models.TransactionStatusDisputed},
		parties: parties,
	},
	OpResolveDispute: {
		from:    []models.TransactionStatus{models.TransactionStatusDisputed},
		parties: []models.Party{models.PartyAdmin},
	},
	OpCancel: {
		from: []models.TransactionStatus{
			models.TransactionStatusDraft,
			models.TransactionStatusAwaitingPayment,
			models.TransactionStatusFunded,
			models.TransactionStatusAwaitingShipment,
		},
		parties: []models.Party{models.PartySeller, models.PartyBuyer, models.PartyAdmin},
	},
	OpMarkPayoutScheduled: {
		from:    []models.TransactionStatus{models.TransactionStatusReleased},
		parties: []models.Party{models.PartySystem, models.PartyAdmin},
	},
	OpMarkPaidOut: {
		from:    []models.TransactionStatus{models.TransactionStatusPayoutScheduled},
		parties: []models.Party{models.PartySystem, models.PartyAdmin},
	},
	OpRecordVaultAccess: {
		from:    models.AllTransactionStatuses,
		parties: []models.Party{models.PartyBuyer, models.PartySeller, models.PartyAdmin},
	},
	OpGetTransaction: {
		from:    models.AllTransactionStatuses,
		parties: []models.Party{models.PartyBuyer, models.PartySeller, models.PartyAdmin, models.PartySystem},
	},
}

// AllowedFrom lists the statuses operation may start from.
func AllowedFrom(operation string) []models.TransactionStatus {
	return append([]models.TransactionStatus(nil), rules[operation].from...)
}

// guard resolves the capacity actor acts in and checks the current status. The caller is checked
// first so a stranger learns nothing about the status.
func guard(operation string, t *models.Transaction, actor models.Actor) (models.Party, error) {
	r, ok := rules[operation]
	if !ok {
		return "", &models.UnauthorizedError{Operation: operation}
	}
	party, err := r.authorize(operation, t, actor)
	if err != nil {
		return "", err
	}
	if !allows(r.from, t.Status) {
		return "", &models.InvalidTransitionError{Operation: operation, Current: t.Status, Allowed: AllowedFrom(operation)}
	}
	return party, nil
}

func (r rule) authorize(operation string, t *models.Transaction, actor models.Actor) (models.Party, error) {
	if len(r.parties) == 0 {
		return "", nil
	}
	held := t.PartiesOf(actor)
	for _, want := range r.parties {
		for _, p := range held {
			if p == want {
				return p, nil
			}
		}
	}
	return "", &models.UnauthorizedError{Operation: operation, Required: r.parties}
}

func allows(from []models.TransactionStatus, status models.TransactionStatus) bool {
	for _, s := range from {
		if s == status {
			return true
		}
	}
	return false
}
