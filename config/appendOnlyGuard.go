package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmdatafocus/rift_backend/appctx"
	"gorm.io/gorm"
)

// ErrAppendOnly is returned when an UPDATE or DELETE targets a journal table.
var ErrAppendOnly = errors.New("append-only table")

// AppendOnlyTables are journals whose rows are write-once.
var AppendOnlyTables = map[string]bool{
	"ledger_entries":     true,
	"vault_events":       true,
	"transaction_events": true,
}

// AppendOnlyGuardPlugin rejects UPDATE and DELETE statements on the journal tables.
//
// NOTE:
// - This does NOT apply to Raw/Exec SQL. Repository code never issues raw writes against these tables.
// - Maintenance bypass is explicit via appctx.ContextKeyAllowLedgerRewrite.
type AppendOnlyGuardPlugin struct{}

func NewAppendOnlyGuardPlugin() *AppendOnlyGuardPlugin { return &AppendOnlyGuardPlugin{} }

func (p *AppendOnlyGuardPlugin) Name() string { return "append_only_guard" }

func (p *AppendOnlyGuardPlugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Update().Before("gorm:update").Register("append_only_guard:update", appendOnlyGuardCallback); err != nil {
		return err
	}
	if err := db.Callback().Delete().Before("gorm:delete").Register("append_only_guard:delete", appendOnlyGuardCallback); err != nil {
		return err
	}
	return nil
}

func appendOnlyGuardCallback(db *gorm.DB) {
	if db == nil || db.Statement == nil {
		return
	}
	if shouldBypassAppendOnly(db.Statement.Context) {
		return
	}
	table := db.Statement.Table
	if table == "" && db.Statement.Schema != nil {
		table = db.Statement.Schema.Table
	}
	if AppendOnlyTables[table] {
		_ = db.AddError(fmt.Errorf("%w: %s", ErrAppendOnly, table))
	}
}

func shouldBypassAppendOnly(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, ok := appctx.GetBool(ctx, appctx.ContextKeyAllowLedgerRewrite)
	return ok && v
}
