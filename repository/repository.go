// Package repository is the durable store of the escrow engine.
//
// Every lifecycle mutation runs inside Store.WithinTx. Writes to a transaction row are
// conditional on the status and version read at the start of the unit of work; a lost race
// surfaces as *models.ConflictError and nothing in the unit is committed.
package repository

import (
	"context"
	"time"

	"github.com/mmdatafocus/rift_backend/models"
)

type LedgerFilter struct {
	UserId        string
	Currency      string
	TransactionId string
	PayoutId      string
	Since         *time.Time
	Until         *time.Time
	Limit         int
}

type PayoutFilter struct {
	UserId    string
	Statuses  []models.PayoutStatus
	DueBefore *time.Time
	Limit     int
}

type DisputeFilter struct {
	TransactionId string
	Statuses      []models.DisputeStatus
	Limit         int
}

// Repo is the set of reads and writes available to one unit of work.
type Repo interface {
	NextSequence(ctx context.Context, name string) (int64, error)

	CreateTransaction(ctx context.Context, t *models.Transaction) error
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	// GetTransactionForUpdate row-locks the transaction until the unit of work ends.
	GetTransactionForUpdate(ctx context.Context, id string) (*models.Transaction, error)
	FindTransactionByInviteCode(ctx context.Context, code string) (*models.Transaction, error)
	// UpdateTransaction writes t only if the stored row still has expectedStatus and expectedVersion.
	// On success t.Version is expectedVersion+1.
	UpdateTransaction(ctx context.Context, t *models.Transaction, expectedStatus models.TransactionStatus, expectedVersion int) error
	ListTransactionsByParty(ctx context.Context, userId string, limit int) ([]models.Transaction, error)
	ListDueAutoRelease(ctx context.Context, now time.Time, limit int) ([]models.Transaction, error)

	CreateVaultAsset(ctx context.Context, a *models.VaultAsset) error
	GetVaultAsset(ctx context.Context, id string) (*models.VaultAsset, error)
	// UpdateVaultAssetScan writes only the scan result columns.
	UpdateVaultAssetScan(ctx context.Context, a *models.VaultAsset) error
	ListVaultAssets(ctx context.Context, transactionId string) ([]models.VaultAsset, error)
	ListSellerAssets(ctx context.Context, sellerId, excludeTransactionId string, limit int) ([]models.VaultAsset, error)
	AppendVaultEvent(ctx context.Context, e *models.VaultEvent) error
	// HasBuyerAccess reports whether the buyer already opened this asset.
	HasBuyerAccess(ctx context.Context, transactionId, assetId, buyerId string) (bool, error)
	ListVaultEvents(ctx context.Context, transactionId string) ([]models.VaultEvent, error)

	CreateDispute(ctx context.Context, d *models.Dispute) error
	GetDispute(ctx context.Context, id string) (*models.Dispute, error)
	// GetActiveDispute returns models.ErrNotFound when the transaction has no unresolved dispute.
	GetActiveDispute(ctx context.Context, transactionId string) (*models.Dispute, error)
	UpdateDispute(ctx context.Context, d *models.Dispute, expectedStatus models.DisputeStatus) error
	ListDisputes(ctx context.Context, f DisputeFilter) ([]models.Dispute, error)

	AppendLedgerEntries(ctx context.Context, entries []models.LedgerEntry) error
	ListLedgerEntries(ctx context.Context, f LedgerFilter) ([]models.LedgerEntry, error)

	CreatePayout(ctx context.Context, p *models.Payout) error
	GetPayout(ctx context.Context, id string) (*models.Payout, error)
	UpdatePayout(ctx context.Context, p *models.Payout, expectedStatus models.PayoutStatus) error
	ListPayouts(ctx context.Context, f PayoutFilter) ([]models.Payout, error)
	CountPayouts(ctx context.Context, userId string) (int64, error)

	GetPayoutProfile(ctx context.Context, userId string) (*models.PayoutProfile, error)
	// LockPayoutProfile serializes withdrawals of one user for the rest of the unit of work.
	LockPayoutProfile(ctx context.Context, userId string) (*models.PayoutProfile, error)
	SavePayoutProfile(ctx context.Context, p *models.PayoutProfile) error

	AppendTransactionEvent(ctx context.Context, e *models.TransactionEvent) error
	ListTransactionEvents(ctx context.Context, transactionId string) ([]models.TransactionEvent, error)

	EnqueueOutbox(ctx context.Context, m *models.OutboxMessage) error

	// BeginIdempotency records a STARTED key. skip is true when the message already succeeded.
	BeginIdempotency(ctx context.Context, handlerName, messageId string) (skip bool, err error)
	MarkIdempotencySucceeded(ctx context.Context, handlerName, messageId string) error
	MarkIdempotencyFailed(ctx context.Context, handlerName, messageId string, cause error) error
}

// OutboxClaim configures one dispatcher claim.
type OutboxClaim struct {
	DispatcherId string
	Now          time.Time
	BatchSize    int
	LockTimeout  time.Duration
	MaxAttempts  int
}

// OutboxStore is used by the dispatcher outside of lifecycle units of work.
type OutboxStore interface {
	// ClaimOutbox marks due rows PROCESSING for the dispatcher. Rows past MaxAttempts go DEAD and are not returned.
	ClaimOutbox(ctx context.Context, c OutboxClaim) ([]models.OutboxMessage, error)
	MarkOutboxSent(ctx context.Context, id int, pubSubMessageId string, at time.Time) error
	MarkOutboxFailed(ctx context.Context, id int, cause string, nextAttempt *time.Time, dead bool) error
	// ReplayOutbox resets FAILED or DEAD rows to PENDING. Empty ids replays every such row.
	ReplayOutbox(ctx context.Context, ids []int) (int64, error)
	ListOutbox(ctx context.Context, status string, limit int) ([]models.OutboxMessage, error)
}

type Store interface {
	Repo
	OutboxStore
	// WithinTx runs fn as one atomic unit. Any error rolls back every write fn made.
	WithinTx(ctx context.Context, fn func(r Repo) error) error
	// WithAdvisoryLock runs fn only if the named cluster-wide lock is free. acquired reports whether fn ran.
	WithAdvisoryLock(ctx context.Context, name string, fn func(ctx context.Context) error) (acquired bool, err error)
}

// DefaultListLimit caps list reads that come without an explicit limit.
const DefaultListLimit = 200

func limitOrDefault(limit int) int {
	if limit <= 0 || limit > 1000 {
		return DefaultListLimit
	}
	return limit
}

func conflict(resource string, expected any) error {
	return &models.ConflictError{Resource: resource, Detail: "changed since it was read (expected " + toString(expected) + ")"}
}

func toString(v any) string {
	switch x := v.(type) {
	case models.TransactionStatus:
		return string(x)
	case models.DisputeStatus:
		return string(x)
	case models.PayoutStatus:
		return string(x)
	case string:
		return x
	}
	return "state"
}
