package models

import (
	"gorm.io/gorm"
)

// MigrateTable brings the schema to the current version. There is exactly one schema; no runtime fallbacks.
func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(
		&Transaction{},
		&VaultAsset{}, &VaultEvent{},
		&Dispute{},
		&LedgerEntry{}, &Payout{}, &PayoutProfile{},
		&TransactionEvent{}, &Sequence{},
		&OutboxMessage{},
		&IdempotencyKey{},
	)
}
