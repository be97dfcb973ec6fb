package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mmdatafocus/rift_backend/models"
	"github.com/mmdatafocus/rift_backend/scheduler"
)

var ErrIdempotencyInProgress = errors.New("idempotency in progress")

// GormStore is the MySQL-backed Store.
type GormStore struct {
	gormRepo
	root *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{gormRepo: gormRepo{db: db}, root: db}
}

type gormRepo struct {
	db   *gorm.DB
	inTx bool
}

func (r *gormRepo) q(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

func (s *GormStore) WithinTx(ctx context.Context, fn func(r Repo) error) error {
	return s.root.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepo{db: tx, inTx: true})
	})
}

// WithAdvisoryLock uses MySQL GET_LOCK, which is connection-scoped, so fn's own queries may use
// other pool connections while the lock connection stays pinned.
func (s *GormStore) WithAdvisoryLock(ctx context.Context, name string, fn func(ctx context.Context) error) (bool, error) {
	acquired := false
	err := s.root.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		var ok sql.NullInt64
		if err := conn.Raw("SELECT GET_LOCK(?, 0)", name).Scan(&ok).Error; err != nil {
			return err
		}
		if !ok.Valid || ok.Int64 != 1 {
			return nil
		}
		acquired = true
		defer func() {
			var released sql.NullInt64
			_ = conn.Raw("SELECT RELEASE_LOCK(?)", name).Scan(&released).Error
		}()
		return fn(ctx)
	})
	return acquired, err
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ErrNotFound
	}
	return err
}

func (r *gormRepo) NextSequence(ctx context.Context, name string) (int64, error) {
	var value int64
	run := func(tx *gorm.DB) error {
		if err := tx.Exec(
			"INSERT INTO rift_sequences (name, value, updated_at) VALUES (?, 1, ?) "+
				"ON DUPLICATE KEY UPDATE value = value + 1, updated_at = VALUES(updated_at)",
			name, time.Now().UTC()).Error; err != nil {
			return err
		}
		return tx.Raw("SELECT value FROM rift_sequences WHERE name = ?", name).Scan(&value).Error
	}
	var err error
	if r.inTx {
		err = run(r.q(ctx))
	} else {
		err = r.q(ctx).Transaction(run)
	}
	return value, err
}

func (r *gormRepo) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	return r.q(ctx).Create(t).Error
}

func (r *gormRepo) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	var t models.Transaction
	if err := r.q(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (r *gormRepo) GetTransactionForUpdate(ctx context.Context, id string) (*models.Transaction, error) {
	q := r.q(ctx)
	if r.inTx {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var t models.Transaction
	if err := q.Where("id = ?", id).First(&t).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (r *gormRepo) FindTransactionByInviteCode(ctx context.Context, code string) (*models.Transaction, error) {
	var t models.Transaction
	if err := r.q(ctx).Where("invite_code = ? AND invite_code <> ''", code).First(&t).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (r *gormRepo) UpdateTransaction(ctx context.Context, t *models.Transaction, expectedStatus models.TransactionStatus, expectedVersion int) error {
	t.Version = expectedVersion + 1
	res := r.q(ctx).Model(t).
		Where("status = ? AND version = ?", expectedStatus, expectedVersion).
		Select("*").
		Omit("id", "sequence_no", "transaction_number", "created_at").
		Updates(t)
	if res.Error != nil {
		t.Version = expectedVersion
		return res.Error
	}
	if res.RowsAffected == 0 {
		t.Version = expectedVersion
		return conflict("transaction", expectedStatus)
	}
	return nil
}

func (r *gormRepo) ListTransactionsByParty(ctx context.Context, userId string, limit int) ([]models.Transaction, error) {
	var out []models.Transaction
	err := r.q(ctx).Where("buyer_id = ? OR seller_id = ?", userId, userId).
		Order("sequence_no DESC").Limit(limitOrDefault(limit)).Find(&out).Error
	return out, err
}

func (r *gormRepo) ListDueAutoRelease(ctx context.Context, now time.Time, limit int) ([]models.Transaction, error) {
	var out []models.Transaction
	err := r.q(ctx).
		Where("status IN ? AND auto_release_armed = ? AND grace_period_deadline IS NOT NULL AND grace_period_deadline <= ?",
			scheduler.AutoReleaseEligible, true, now).
		Order("grace_period_deadline ASC").
		Limit(limitOrDefault(limit)).
		Find(&out).Error
	return out, err
}

func (r *gormRepo) CreateVaultAsset(ctx context.Context, a *models.VaultAsset) error {
	return r.q(ctx).Create(a).Error
}

func (r *gormRepo) GetVaultAsset(ctx context.Context, id string) (*models.VaultAsset, error) {
	var a models.VaultAsset
	if err := r.q(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (r *gormRepo) UpdateVaultAssetScan(ctx context.Context, a *models.VaultAsset) error {
	res := r.q(ctx).Model(a).
		Select("scan_status", "quality_score", "route_to_review", "flags", "extracted_data").
		Updates(a)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *gormRepo) ListVaultAssets(ctx context.Context, transactionId string) ([]models.VaultAsset, error) {
	var out []models.VaultAsset
	err := r.q(ctx).Where("transaction_id = ?", transactionId).Order("created_at ASC, id ASC").Find(&out).Error
	return out, err
}

func (r *gormRepo) ListSellerAssets(ctx context.Context, sellerId, excludeTransactionId string, limit int) ([]models.VaultAsset, error) {
	var out []models.VaultAsset
	err := r.q(ctx).
		Where("uploader_id = ? AND transaction_id <> ?", sellerId, excludeTransactionId).
		Order("created_at DESC").
		Limit(limitOrDefault(limit)).
		Find(&out).Error
	return out, err
}

func (r *gormRepo) AppendVaultEvent(ctx context.Context, e *models.VaultEvent) error {
	return r.q(ctx).Create(e).Error
}

var buyerAccessActions = []models.VaultAction{
	models.VaultActionOpened, models.VaultActionRevealed, models.VaultActionDownloaded,
}

func (r *gormRepo) HasBuyerAccess(ctx context.Context, transactionId, assetId, buyerId string) (bool, error) {
	var n int64
	err := r.q(ctx).Model(&models.VaultEvent{}).
		Where("transaction_id = ? AND asset_id = ? AND actor_id = ? AND actor_role = ? AND action IN ?",
			transactionId, assetId, buyerId, models.PartyBuyer, buyerAccessActions).
		Count(&n).Error
	return n > 0, err
}

func (r *gormRepo) ListVaultEvents(ctx context.Context, transactionId string) ([]models.VaultEvent, error) {
	var out []models.VaultEvent
	err := r.q(ctx).Where("transaction_id = ?", transactionId).Order("id ASC").Find(&out).Error
	return out, err
}

func (r *gormRepo) CreateDispute(ctx context.Context, d *models.Dispute) error {
	return r.q(ctx).Create(d).Error
}

func (r *gormRepo) GetDispute(ctx context.Context, id string) (*models.Dispute, error) {
	var d models.Dispute
	if err := r.q(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

var resolvedDisputeStatuses = []models.DisputeStatus{
	models.DisputeStatusResolvedBuyer, models.DisputeStatusResolvedSeller, models.DisputeStatusResolved,
}

func (r *gormRepo) GetActiveDispute(ctx context.Context, transactionId string) (*models.Dispute, error) {
	q := r.q(ctx)
	if r.inTx {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var d models.Dispute
	err := q.Where("transaction_id = ? AND status NOT IN ?", transactionId, resolvedDisputeStatuses).
		Order("created_at DESC").First(&d).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (r *gormRepo) UpdateDispute(ctx context.Context, d *models.Dispute, expectedStatus models.DisputeStatus) error {
	res := r.q(ctx).Model(d).
		Where("status = ?", expectedStatus).
		Select("*").
		Omit("id", "transaction_id", "created_at").
		Updates(d)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return conflict("dispute", expectedStatus)
	}
	return nil
}

func (r *gormRepo) ListDisputes(ctx context.Context, f DisputeFilter) ([]models.Dispute, error) {
	q := r.q(ctx)
	if f.TransactionId != "" {
		q = q.Where("transaction_id = ?", f.TransactionId)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	var out []models.Dispute
	err := q.Order("created_at DESC").Limit(limitOrDefault(f.Limit)).Find(&out).Error
	return out, err
}

func (r *gormRepo) AppendLedgerEntries(ctx context.Context, entries []models.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return r.q(ctx).Create(&entries).Error
}

// ListLedgerEntries has no default limit: balance projections need every row.
func (r *gormRepo) ListLedgerEntries(ctx context.Context, f LedgerFilter) ([]models.LedgerEntry, error) {
	q := r.q(ctx)
	if f.UserId != "" {
		q = q.Where("user_id = ?", f.UserId)
	}
	if f.Currency != "" {
		q = q.Where("currency = ?", f.Currency)
	}
	if f.TransactionId != "" {
		q = q.Where("transaction_id = ?", f.TransactionId)
	}
	if f.PayoutId != "" {
		q = q.Where("payout_id = ?", f.PayoutId)
	}
	if f.Since != nil {
		q = q.Where("created_at >= ?", *f.Since)
	}
	if f.Until != nil {
		q = q.Where("created_at < ?", *f.Until)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []models.LedgerEntry
	err := q.Order("id ASC").Find(&out).Error
	return out, err
}

func (r *gormRepo) CreatePayout(ctx context.Context, p *models.Payout) error {
	return r.q(ctx).Create(p).Error
}

func (r *gormRepo) GetPayout(ctx context.Context, id string) (*models.Payout, error) {
	q := r.q(ctx)
	if r.inTx {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var p models.Payout
	if err := q.Where("id = ?", id).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *gormRepo) UpdatePayout(ctx context.Context, p *models.Payout, expectedStatus models.PayoutStatus) error {
	res := r.q(ctx).Model(p).
		Where("status = ?", expectedStatus).
		Select("*").
		Omit("id", "user_id", "amount", "currency", "created_at").
		Updates(p)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return conflict("payout", expectedStatus)
	}
	return nil
}

func (r *gormRepo) ListPayouts(ctx context.Context, f PayoutFilter) ([]models.Payout, error) {
	q := r.q(ctx)
	if f.UserId != "" {
		q = q.Where("user_id = ?", f.UserId)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.DueBefore != nil {
		q = q.Where("scheduled_for <= ?", *f.DueBefore)
	}
	var out []models.Payout
	err := q.Order("scheduled_for ASC, id ASC").Limit(limitOrDefault(f.Limit)).Find(&out).Error
	return out, err
}

func (r *gormRepo) CountPayouts(ctx context.Context, userId string) (int64, error) {
	var n int64
	err := r.q(ctx).Model(&models.Payout{}).Where("user_id = ?", userId).Count(&n).Error
	return n, err
}

func (r *gormRepo) GetPayoutProfile(ctx context.Context, userId string) (*models.PayoutProfile, error) {
	var p models.PayoutProfile
	if err := r.q(ctx).Where("user_id = ?", userId).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *gormRepo) LockPayoutProfile(ctx context.Context, userId string) (*models.PayoutProfile, error) {
	if err := r.q(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&models.PayoutProfile{
		UserId:              userId,
		PayoutAccountStatus: models.PayoutAccountStatusNone,
	}).Error; err != nil {
		return nil, err
	}
	q := r.q(ctx)
	if r.inTx {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var p models.PayoutProfile
	if err := q.Where("user_id = ?", userId).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *gormRepo) SavePayoutProfile(ctx context.Context, p *models.PayoutProfile) error {
	return r.q(ctx).Save(p).Error
}

func (r *gormRepo) AppendTransactionEvent(ctx context.Context, e *models.TransactionEvent) error {
	return r.q(ctx).Create(e).Error
}

func (r *gormRepo) ListTransactionEvents(ctx context.Context, transactionId string) ([]models.TransactionEvent, error) {
	var out []models.TransactionEvent
	err := r.q(ctx).Where("transaction_id = ?", transactionId).Order("id ASC").Find(&out).Error
	return out, err
}

func (r *gormRepo) EnqueueOutbox(ctx context.Context, m *models.OutboxMessage) error {
	return r.q(ctx).Create(m).Error
}

func (r *gormRepo) BeginIdempotency(ctx context.Context, handlerName, messageId string) (bool, error) {
	key := models.IdempotencyKey{
		HandlerName: handlerName,
		MessageId:   messageId,
		Status:      models.IdempotencyStatusStarted,
	}
	if err := r.q(ctx).Create(&key).Error; err == nil {
		return false, nil
	} else if !isDuplicateKeyErr(err) {
		return false, err
	}

	var existing models.IdempotencyKey
	if err := r.q(ctx).Where("handler_name = ? AND message_id = ?", handlerName, messageId).
		First(&existing).Error; err != nil {
		return false, err
	}
	switch existing.Status {
	case models.IdempotencyStatusSucceeded:
		return true, nil
	case models.IdempotencyStatusStarted:
		// another worker is on it unless the row went stale
		if time.Since(existing.UpdatedAt) < models.IdempotencyStaleAfter {
			return false, ErrIdempotencyInProgress
		}
	}
	return false, r.q(ctx).Model(&models.IdempotencyKey{}).
		Where("id = ?", existing.ID).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusStarted, "last_error": nil}).Error
}

func (r *gormRepo) MarkIdempotencySucceeded(ctx context.Context, handlerName, messageId string) error {
	return r.q(ctx).Model(&models.IdempotencyKey{}).
		Where("handler_name = ? AND message_id = ?", handlerName, messageId).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusSucceeded, "last_error": nil}).Error
}

func (r *gormRepo) MarkIdempotencyFailed(ctx context.Context, handlerName, messageId string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return r.q(ctx).Model(&models.IdempotencyKey{}).
		Where("handler_name = ? AND message_id = ?", handlerName, messageId).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusFailed, "last_error": &msg}).Error
}

func (s *GormStore) ClaimOutbox(ctx context.Context, c OutboxClaim) ([]models.OutboxMessage, error) {
	staleBefore := c.Now.Add(-c.LockTimeout)
	var claimed []models.OutboxMessage
	err := s.root.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// due PENDING/FAILED rows, plus PROCESSING rows whose dispatcher died mid-batch
		q := tx.
			Where(`
				(
					publish_status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
				)
				OR
				(
					publish_status = ? AND locked_at IS NOT NULL AND locked_at <= ?
				)
			`, []string{models.OutboxPublishStatusPending, models.OutboxPublishStatusFailed}, c.Now,
				models.OutboxPublishStatusProcessing, staleBefore).
			Order("id ASC").
			Limit(c.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		var rows []models.OutboxMessage
		if err := q.Find(&rows).Error; err != nil {
			return err
		}
		for i := range rows {
			if c.MaxAttempts > 0 && rows[i].PublishAttempts >= c.MaxAttempts {
				msg := fmt.Sprintf("max publish attempts exceeded (%d)", c.MaxAttempts)
				if err := tx.Model(&models.OutboxMessage{}).Where("id = ?", rows[i].ID).Updates(map[string]interface{}{
					"publish_status":     models.OutboxPublishStatusDead,
					"last_publish_error": &msg,
					"next_attempt_at":    nil,
					"locked_at":          nil,
					"locked_by":          nil,
				}).Error; err != nil {
					return err
				}
				continue
			}
			now := c.Now
			dispatcher := c.DispatcherId
			rows[i].PublishStatus = models.OutboxPublishStatusProcessing
			rows[i].LockedAt = &now
			rows[i].LockedBy = &dispatcher
			rows[i].PublishAttempts++
			rows[i].LastPublishError = nil
			if err := tx.Model(&models.OutboxMessage{}).Where("id = ?", rows[i].ID).Updates(map[string]interface{}{
				"publish_status":     models.OutboxPublishStatusProcessing,
				"locked_at":          &now,
				"locked_by":          &dispatcher,
				"publish_attempts":   gorm.Expr("publish_attempts + 1"),
				"last_publish_error": nil,
				"next_attempt_at":    nil,
			}).Error; err != nil {
				return err
			}
			claimed = append(claimed, rows[i])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *GormStore) MarkOutboxSent(ctx context.Context, id int, pubSubMessageId string, at time.Time) error {
	return s.root.WithContext(ctx).Model(&models.OutboxMessage{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"publish_status":     models.OutboxPublishStatusSent,
			"published_at":       &at,
			"pub_sub_message_id": &pubSubMessageId,
			"locked_at":          nil,
			"locked_by":          nil,
			"next_attempt_at":    nil,
		}).Error
}

func (s *GormStore) MarkOutboxFailed(ctx context.Context, id int, cause string, nextAttempt *time.Time, dead bool) error {
	status := models.OutboxPublishStatusFailed
	if dead {
		status = models.OutboxPublishStatusDead
		nextAttempt = nil
	}
	return s.root.WithContext(ctx).Model(&models.OutboxMessage{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"publish_status":     status,
			"last_publish_error": &cause,
			"next_attempt_at":    nextAttempt,
			"locked_at":          nil,
			"locked_by":          nil,
		}).Error
}

func (s *GormStore) ReplayOutbox(ctx context.Context, ids []int) (int64, error) {
	q := s.root.WithContext(ctx).Model(&models.OutboxMessage{}).
		Where("publish_status IN ?", []string{models.OutboxPublishStatusFailed, models.OutboxPublishStatusDead})
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	}
	res := q.Updates(map[string]interface{}{
		"publish_status":     models.OutboxPublishStatusPending,
		"publish_attempts":   0,
		"next_attempt_at":    nil,
		"locked_at":          nil,
		"locked_by":          nil,
		"last_publish_error": nil,
	})
	return res.RowsAffected, res.Error
}

func (s *GormStore) ListOutbox(ctx context.Context, status string, limit int) ([]models.OutboxMessage, error) {
	q := s.root.WithContext(ctx)
	if status != "" {
		q = q.Where("publish_status = ?", status)
	}
	var out []models.OutboxMessage
	err := q.Order("id DESC").Limit(limitOrDefault(limit)).Find(&out).Error
	return out, err
}
