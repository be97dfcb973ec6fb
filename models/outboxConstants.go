package models

// Outbox publish statuses for OutboxMessage.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// Event types written to the outbox.
const (
	EventTransactionCreated   = "transaction.created"
	EventTransactionJoined    = "transaction.joined"
	EventTransactionFunded    = "transaction.funded"
	EventOrderAcknowledged    = "transaction.acknowledged"
	EventProofSubmitted       = "transaction.proof_submitted"
	EventProofApproved        = "transaction.proof_approved"
	EventProofRejected        = "transaction.proof_rejected"
	EventDeliveryConfirmed    = "transaction.delivery_confirmed"
	EventTransactionReleased  = "transaction.released"
	EventTransactionRefunded  = "transaction.refunded"
	EventTransactionCancelled = "transaction.cancelled"
	EventPayoutScheduled      = "transaction.payout_scheduled"
	EventPaidOut              = "transaction.paid_out"
	EventDisputeOpened        = "dispute.opened"
	EventDisputeUpdated       = "dispute.updated"
	EventDisputeResolved      = "dispute.resolved"
	EventVaultAccessed        = "vault.accessed"
	EventWithdrawalRequested  = "payout.requested"
	EventPayoutStatusChanged  = "payout.status_changed"
	EventLedgerAdjusted       = "ledger.adjusted"
)

const (
	AggregateTransaction = "transaction"
	AggregatePayout      = "payout"
	AggregateWallet      = "wallet"
)
