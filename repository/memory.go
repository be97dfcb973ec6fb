package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mmdatafocus/rift_backend/models"
	"github.com/mmdatafocus/rift_backend/scheduler"
)

// MemoryStore is an in-process Store for tests and local runs. WithinTx holds the store mutex
// for the whole unit of work and commits a cloned state only when fn succeeds.
type MemoryStore struct {
	memRepo
	mu    sync.Mutex
	state *memState

	lockMu sync.Mutex
	locks  map[string]bool

	// Now stamps CreatedAt/UpdatedAt. Tests replace it with a fake clock.
	Now func() time.Time
}

type memState struct {
	seq         map[string]int64
	txs         map[string]models.Transaction
	assets      []models.VaultAsset
	vaultEvents []models.VaultEvent
	disputes    []models.Dispute
	ledger      []models.LedgerEntry
	payouts     []models.Payout
	profiles    map[string]models.PayoutProfile
	txEvents    []models.TransactionEvent
	outbox      []models.OutboxMessage
	idem        map[string]models.IdempotencyKey
	nextId      int
}

func newMemState() *memState {
	return &memState{
		seq:      map[string]int64{},
		txs:      map[string]models.Transaction{},
		profiles: map[string]models.PayoutProfile{},
		idem:     map[string]models.IdempotencyKey{},
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		seq:         make(map[string]int64, len(s.seq)),
		txs:         make(map[string]models.Transaction, len(s.txs)),
		assets:      append([]models.VaultAsset(nil), s.assets...),
		vaultEvents: append([]models.VaultEvent(nil), s.vaultEvents...),
		disputes:    append([]models.Dispute(nil), s.disputes...),
		ledger:      append([]models.LedgerEntry(nil), s.ledger...),
		payouts:     append([]models.Payout(nil), s.payouts...),
		profiles:    make(map[string]models.PayoutProfile, len(s.profiles)),
		txEvents:    append([]models.TransactionEvent(nil), s.txEvents...),
		outbox:      append([]models.OutboxMessage(nil), s.outbox...),
		idem:        make(map[string]models.IdempotencyKey, len(s.idem)),
		nextId:      s.nextId,
	}
	for k, v := range s.seq {
		c.seq[k] = v
	}
	for k, v := range s.txs {
		c.txs[k] = v
	}
	for k, v := range s.profiles {
		c.profiles[k] = v
	}
	for k, v := range s.idem {
		c.idem[k] = v
	}
	return c
}

func (s *memState) id() int {
	s.nextId++
	return s.nextId
}

func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		state: newMemState(),
		locks: map[string]bool{},
		Now:   func() time.Time { return time.Now().UTC() },
	}
	m.memRepo = memRepo{store: m}
	return m
}

func (m *MemoryStore) now() time.Time {
	return m.Now().UTC()
}

func (m *MemoryStore) WithinTx(ctx context.Context, fn func(r Repo) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := m.state.clone()
	if err := fn(&memRepo{store: m, tx: work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *MemoryStore) WithAdvisoryLock(ctx context.Context, name string, fn func(ctx context.Context) error) (bool, error) {
	m.lockMu.Lock()
	if m.locks[name] {
		m.lockMu.Unlock()
		return false, nil
	}
	m.locks[name] = true
	m.lockMu.Unlock()
	defer func() {
		m.lockMu.Lock()
		delete(m.locks, name)
		m.lockMu.Unlock()
	}()
	return true, fn(ctx)
}

type memRepo struct {
	store *MemoryStore
	tx    *memState
}

func (r *memRepo) with(fn func(s *memState) error) error {
	if r.tx != nil {
		return fn(r.tx)
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return fn(r.store.state)
}

func (r *memRepo) NextSequence(_ context.Context, name string) (int64, error) {
	var v int64
	err := r.with(func(s *memState) error {
		s.seq[name]++
		v = s.seq[name]
		return nil
	})
	return v, err
}

func (r *memRepo) CreateTransaction(_ context.Context, t *models.Transaction) error {
	return r.with(func(s *memState) error {
		if _, ok := s.txs[t.ID]; ok {
			return &models.ConflictError{Resource: "transaction", Detail: "already exists"}
		}
		now := r.store.now()
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		t.UpdatedAt = now
		if t.Version == 0 {
			t.Version = 1
		}
		s.txs[t.ID] = *t
		return nil
	})
}

func (r *memRepo) GetTransaction(_ context.Context, id string) (*models.Transaction, error) {
	var out *models.Transaction
	err := r.with(func(s *memState) error {
		t, ok := s.txs[id]
		if !ok {
			return models.ErrNotFound
		}
		out = &t
		return nil
	})
	return out, err
}

func (r *memRepo) GetTransactionForUpdate(ctx context.Context, id string) (*models.Transaction, error) {
	return r.GetTransaction(ctx, id)
}

func (r *memRepo) FindTransactionByInviteCode(_ context.Context, code string) (*models.Transaction, error) {
	var out *models.Transaction
	err := r.with(func(s *memState) error {
		for _, t := range s.txs {
			if code != "" && t.InviteCode == code {
				t := t
				out = &t
				return nil
			}
		}
		return models.ErrNotFound
	})
	return out, err
}

func (r *memRepo) UpdateTransaction(_ context.Context, t *models.Transaction, expectedStatus models.TransactionStatus, expectedVersion int) error {
	return r.with(func(s *memState) error {
		cur, ok := s.txs[t.ID]
		if !ok {
			return models.ErrNotFound
		}
		if cur.Status != expectedStatus || cur.Version != expectedVersion {
			return conflict("transaction", expectedStatus)
		}
		t.Version = expectedVersion + 1
		t.UpdatedAt = r.store.now()
		t.CreatedAt = cur.CreatedAt
		s.txs[t.ID] = *t
		return nil
	})
}

func (r *memRepo) ListTransactionsByParty(_ context.Context, userId string, limit int) ([]models.Transaction, error) {
	var out []models.Transaction
	err := r.with(func(s *memState) error {
		for _, t := range s.txs {
			if t.BuyerId == userId || (t.SellerId != "" && t.SellerId == userId) {
				out = append(out, t)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNo > out[j].SequenceNo })
	return capList(out, limitOrDefault(limit)), err
}

func (r *memRepo) ListDueAutoRelease(_ context.Context, now time.Time, limit int) ([]models.Transaction, error) {
	eligible := map[models.TransactionStatus]bool{}
	for _, st := range scheduler.AutoReleaseEligible {
		eligible[st] = true
	}
	var out []models.Transaction
	err := r.with(func(s *memState) error {
		for _, t := range s.txs {
			if eligible[t.Status] && scheduler.IsDue(&t, now) {
				out = append(out, t)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].GracePeriodDeadline.Equal(*out[j].GracePeriodDeadline) {
			return out[i].GracePeriodDeadline.Before(*out[j].GracePeriodDeadline)
		}
		return out[i].SequenceNo < out[j].SequenceNo
	})
	return capList(out, limitOrDefault(limit)), err
}

func (r *memRepo) CreateVaultAsset(_ context.Context, a *models.VaultAsset) error {
	return r.with(func(s *memState) error {
		now := r.store.now()
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		a.UpdatedAt = now
		s.assets = append(s.assets, *a)
		return nil
	})
}

func (r *memRepo) GetVaultAsset(_ context.Context, id string) (*models.VaultAsset, error) {
	var out *models.VaultAsset
	err := r.with(func(s *memState) error {
		for _, a := range s.assets {
			if a.ID == id {
				a := a
				out = &a
				return nil
			}
		}
		return models.ErrNotFound
	})
	return out, err
}

func (r *memRepo) UpdateVaultAssetScan(_ context.Context, a *models.VaultAsset) error {
	return r.with(func(s *memState) error {
		for i := range s.assets {
			if s.assets[i].ID == a.ID {
				s.assets[i].ScanStatus = a.ScanStatus
				s.assets[i].QualityScore = a.QualityScore
				s.assets[i].RouteToReview = a.RouteToReview
				s.assets[i].Flags = a.Flags
				s.assets[i].ExtractedData = a.ExtractedData
				s.assets[i].UpdatedAt = r.store.now()
				return nil
			}
		}
		return models.ErrNotFound
	})
}

func (r *memRepo) ListVaultAssets(_ context.Context, transactionId string) ([]models.VaultAsset, error) {
	var out []models.VaultAsset
	err := r.with(func(s *memState) error {
		for _, a := range s.assets {
			if a.TransactionId == transactionId {
				out = append(out, a)
			}
		}
		return nil
	})
	return out, err
}

func (r *memRepo) ListSellerAssets(_ context.Context, sellerId, excludeTransactionId string, limit int) ([]models.VaultAsset, error) {
	var out []models.VaultAsset
	err := r.with(func(s *memState) error {
		for i := len(s.assets) - 1; i >= 0; i-- {
			a := s.assets[i]
			if a.UploaderId == sellerId && a.TransactionId != excludeTransactionId {
				out = append(out, a)
			}
		}
		return nil
	})
	return capList(out, limitOrDefault(limit)), err
}

func (r *memRepo) AppendVaultEvent(_ context.Context, e *models.VaultEvent) error {
	return r.with(func(s *memState) error {
		e.ID = s.id()
		s.vaultEvents = append(s.vaultEvents, *e)
		return nil
	})
}

func (r *memRepo) HasBuyerAccess(_ context.Context, transactionId, assetId, buyerId string) (bool, error) {
	found := false
	err := r.with(func(s *memState) error {
		for _, e := range s.vaultEvents {
			if e.TransactionId == transactionId && e.AssetId == assetId && e.ActorId == buyerId &&
				e.ActorRole == models.PartyBuyer && e.Action.IsBuyerAccess() {
				found = true
				return nil
			}
		}
		return nil
	})
	return found, err
}

func (r *memRepo) ListVaultEvents(_ context.Context, transactionId string) ([]models.VaultEvent, error) {
	var out []models.VaultEvent
	err := r.with(func(s *memState) error {
		for _, e := range s.vaultEvents {
			if e.TransactionId == transactionId {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

func (r *memRepo) CreateDispute(_ context.Context, d *models.Dispute) error {
	return r.with(func(s *memState) error {
		now := r.store.now()
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
		d.UpdatedAt = now
		s.disputes = append(s.disputes, *d)
		return nil
	})
}

func (r *memRepo) GetDispute(_ context.Context, id string) (*models.Dispute, error) {
	var out *models.Dispute
	err := r.with(func(s *memState) error {
		for _, d := range s.disputes {
			if d.ID == id {
				d := d
				out = &d
				return nil
			}
		}
		return models.ErrNotFound
	})
	return out, err
}

func (r *memRepo) GetActiveDispute(_ context.Context, transactionId string) (*models.Dispute, error) {
	var out *models.Dispute
	err := r.with(func(s *memState) error {
		for i := len(s.disputes) - 1; i >= 0; i-- {
			d := s.disputes[i]
			if d.TransactionId == transactionId && !d.Status.IsResolved() {
				out = &d
				return nil
			}
		}
		return models.ErrNotFound
	})
	return out, err
}

func (r *memRepo) UpdateDispute(_ context.Context, d *models.Dispute, expectedStatus models.DisputeStatus) error {
	return r.with(func(s *memState) error {
		for i := range s.disputes {
			if s.disputes[i].ID != d.ID {
				continue
			}
			if s.disputes[i].Status != expectedStatus {
				return conflict("dispute", expectedStatus)
			}
			d.CreatedAt = s.disputes[i].CreatedAt
			d.UpdatedAt = r.store.now()
			s.disputes[i] = *d
			return nil
		}
		return models.ErrNotFound
	})
}

func (r *memRepo) ListDisputes(_ context.Context, f DisputeFilter) ([]models.Dispute, error) {
	statuses := map[models.DisputeStatus]bool{}
	for _, st := range f.Statuses {
		statuses[st] = true
	}
	var out []models.Dispute
	err := r.with(func(s *memState) error {
		for i := len(s.disputes) - 1; i >= 0; i-- {
			d := s.disputes[i]
			if f.TransactionId != "" && d.TransactionId != f.TransactionId {
				continue
			}
			if len(statuses) > 0 && !statuses[d.Status] {
				continue
			}
			out = append(out, d)
		}
		return nil
	})
	return capList(out, limitOrDefault(f.Limit)), err
}

func (r *memRepo) AppendLedgerEntries(_ context.Context, entries []models.LedgerEntry) error {
	return r.with(func(s *memState) error {
		now := r.store.now()
		for i := range entries {
			entries[i].ID = s.id()
			if entries[i].CreatedAt.IsZero() {
				entries[i].CreatedAt = now
			}
			s.ledger = append(s.ledger, entries[i])
		}
		return nil
	})
}

func (r *memRepo) ListLedgerEntries(_ context.Context, f LedgerFilter) ([]models.LedgerEntry, error) {
	var out []models.LedgerEntry
	err := r.with(func(s *memState) error {
		for _, e := range s.ledger {
			if f.UserId != "" && e.UserId != f.UserId {
				continue
			}
			if f.Currency != "" && e.Currency != f.Currency {
				continue
			}
			if f.TransactionId != "" && (e.TransactionId == nil || *e.TransactionId != f.TransactionId) {
				continue
			}
			if f.PayoutId != "" && (e.PayoutId == nil || *e.PayoutId != f.PayoutId) {
				continue
			}
			if f.Since != nil && e.CreatedAt.Before(*f.Since) {
				continue
			}
			if f.Until != nil && !e.CreatedAt.Before(*f.Until) {
				continue
			}
			out = append(out, e)
		}
		return nil
	})
	if f.Limit > 0 {
		out = capList(out, f.Limit)
	}
	return out, err
}

func (r *memRepo) CreatePayout(_ context.Context, p *models.Payout) error {
	return r.with(func(s *memState) error {
		now := r.store.now()
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		p.UpdatedAt = now
		s.payouts = append(s.payouts, *p)
		return nil
	})
}

func (r *memRepo) GetPayout(_ context.Context, id string) (*models.Payout, error) {
	var out *models.Payout
	err := r.with(func(s *memState) error {
		for _, p := range s.payouts {
			if p.ID == id {
				p := p
				out = &p
				return nil
			}
		}
		return models.ErrNotFound
	})
	return out, err
}

func (r *memRepo) UpdatePayout(_ context.Context, p *models.Payout, expectedStatus models.PayoutStatus) error {
	return r.with(func(s *memState) error {
		for i := range s.payouts {
			if s.payouts[i].ID != p.ID {
				continue
			}
			if s.payouts[i].Status != expectedStatus {
				return conflict("payout", expectedStatus)
			}
			p.CreatedAt = s.payouts[i].CreatedAt
			p.UpdatedAt = r.store.now()
			s.payouts[i] = *p
			return nil
		}
		return models.ErrNotFound
	})
}

func (r *memRepo) ListPayouts(_ context.Context, f PayoutFilter) ([]models.Payout, error) {
	statuses := map[models.PayoutStatus]bool{}
	for _, st := range f.Statuses {
		statuses[st] = true
	}
	var out []models.Payout
	err := r.with(func(s *memState) error {
		for _, p := range s.payouts {
			if f.UserId != "" && p.UserId != f.UserId {
				continue
			}
			if len(statuses) > 0 && !statuses[p.Status] {
				continue
			}
			if f.DueBefore != nil && p.ScheduledFor.After(*f.DueBefore) {
				continue
			}
			out = append(out, p)
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	return capList(out, limitOrDefault(f.Limit)), err
}

func (r *memRepo) CountPayouts(_ context.Context, userId string) (int64, error) {
	var n int64
	err := r.with(func(s *memState) error {
		for _, p := range s.payouts {
			if p.UserId == userId {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *memRepo) GetPayoutProfile(_ context.Context, userId string) (*models.PayoutProfile, error) {
	var out *models.PayoutProfile
	err := r.with(func(s *memState) error {
		p, ok := s.profiles[userId]
		if !ok {
			return models.ErrNotFound
		}
		out = &p
		return nil
	})
	return out, err
}

func (r *memRepo) LockPayoutProfile(_ context.Context, userId string) (*models.PayoutProfile, error) {
	var out *models.PayoutProfile
	err := r.with(func(s *memState) error {
		p, ok := s.profiles[userId]
		if !ok {
			now := r.store.now()
			p = models.PayoutProfile{
				UserId:              userId,
				PayoutAccountStatus: models.PayoutAccountStatusNone,
				CreatedAt:           now,
				UpdatedAt:           now,
			}
			s.profiles[userId] = p
		}
		out = &p
		return nil
	})
	return out, err
}

func (r *memRepo) SavePayoutProfile(_ context.Context, p *models.PayoutProfile) error {
	return r.with(func(s *memState) error {
		now := r.store.now()
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		p.UpdatedAt = now
		s.profiles[p.UserId] = *p
		return nil
	})
}

func (r *memRepo) AppendTransactionEvent(_ context.Context, e *models.TransactionEvent) error {
	return r.with(func(s *memState) error {
		e.ID = s.id()
		s.txEvents = append(s.txEvents, *e)
		return nil
	})
}

func (r *memRepo) ListTransactionEvents(_ context.Context, transactionId string) ([]models.TransactionEvent, error) {
	var out []models.TransactionEvent
	err := r.with(func(s *memState) error {
		for _, e := range s.txEvents {
			if e.TransactionId == transactionId {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

func (r *memRepo) EnqueueOutbox(_ context.Context, m *models.OutboxMessage) error {
	return r.with(func(s *memState) error {
		now := r.store.now()
		m.ID = s.id()
		if m.PublishStatus == "" {
			m.PublishStatus = models.OutboxPublishStatusPending
		}
		m.CreatedAt = now
		m.UpdatedAt = now
		s.outbox = append(s.outbox, *m)
		return nil
	})
}

func idemKey(handlerName, messageId string) string {
	return handlerName + "\x00" + messageId
}

func (r *memRepo) BeginIdempotency(_ context.Context, handlerName, messageId string) (bool, error) {
	skip := false
	err := r.with(func(s *memState) error {
		now := r.store.now()
		k := idemKey(handlerName, messageId)
		existing, ok := s.idem[k]
		if !ok {
			s.idem[k] = models.IdempotencyKey{
				ID: s.id(), HandlerName: handlerName, MessageId: messageId,
				Status: models.IdempotencyStatusStarted, CreatedAt: now, UpdatedAt: now,
			}
			return nil
		}
		switch existing.Status {
		case models.IdempotencyStatusSucceeded:
			skip = true
			return nil
		case models.IdempotencyStatusStarted:
			if now.Sub(existing.UpdatedAt) < models.IdempotencyStaleAfter {
				return ErrIdempotencyInProgress
			}
		}
		existing.Status = models.IdempotencyStatusStarted
		existing.LastError = nil
		existing.UpdatedAt = now
		s.idem[k] = existing
		return nil
	})
	return skip, err
}

func (r *memRepo) MarkIdempotencySucceeded(_ context.Context, handlerName, messageId string) error {
	return r.markIdempotency(handlerName, messageId, models.IdempotencyStatusSucceeded, nil)
}

func (r *memRepo) MarkIdempotencyFailed(_ context.Context, handlerName, messageId string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return r.markIdempotency(handlerName, messageId, models.IdempotencyStatusFailed, &msg)
}

func (r *memRepo) markIdempotency(handlerName, messageId string, status models.IdempotencyStatus, lastError *string) error {
	return r.with(func(s *memState) error {
		k := idemKey(handlerName, messageId)
		existing, ok := s.idem[k]
		if !ok {
			return models.ErrNotFound
		}
		existing.Status = status
		existing.LastError = lastError
		existing.UpdatedAt = r.store.now()
		s.idem[k] = existing
		return nil
	})
}

func (m *MemoryStore) ClaimOutbox(_ context.Context, c OutboxClaim) ([]models.OutboxMessage, error) {
	var claimed []models.OutboxMessage
	err := m.with(func(s *memState) error {
		staleBefore := c.Now.Add(-c.LockTimeout)
		for i := range s.outbox {
			if c.BatchSize > 0 && len(claimed) >= c.BatchSize {
				break
			}
			row := &s.outbox[i]
			due := (row.PublishStatus == models.OutboxPublishStatusPending || row.PublishStatus == models.OutboxPublishStatusFailed) &&
				(row.NextAttemptAt == nil || !row.NextAttemptAt.After(c.Now))
			stale := row.PublishStatus == models.OutboxPublishStatusProcessing &&
				row.LockedAt != nil && !row.LockedAt.After(staleBefore)
			if !due && !stale {
				continue
			}
			if c.MaxAttempts > 0 && row.PublishAttempts >= c.MaxAttempts {
				msg := fmt.Sprintf("max publish attempts exceeded (%d)", c.MaxAttempts)
				row.PublishStatus = models.OutboxPublishStatusDead
				row.LastPublishError = &msg
				row.NextAttemptAt, row.LockedAt, row.LockedBy = nil, nil, nil
				continue
			}
			now := c.Now
			by := c.DispatcherId
			row.PublishStatus = models.OutboxPublishStatusProcessing
			row.LockedAt = &now
			row.LockedBy = &by
			row.PublishAttempts++
			row.LastPublishError = nil
			row.NextAttemptAt = nil
			row.UpdatedAt = now
			claimed = append(claimed, *row)
		}
		return nil
	})
	return claimed, err
}

func (m *MemoryStore) MarkOutboxSent(_ context.Context, id int, pubSubMessageId string, at time.Time) error {
	return m.updateOutbox(id, func(row *models.OutboxMessage) {
		row.PublishStatus = models.OutboxPublishStatusSent
		row.PublishedAt = &at
		row.PubSubMessageId = &pubSubMessageId
		row.LockedAt, row.LockedBy, row.NextAttemptAt = nil, nil, nil
	})
}

func (m *MemoryStore) MarkOutboxFailed(_ context.Context, id int, cause string, nextAttempt *time.Time, dead bool) error {
	return m.updateOutbox(id, func(row *models.OutboxMessage) {
		row.PublishStatus = models.OutboxPublishStatusFailed
		row.NextAttemptAt = nextAttempt
		if dead {
			row.PublishStatus = models.OutboxPublishStatusDead
			row.NextAttemptAt = nil
		}
		row.LastPublishError = &cause
		row.LockedAt, row.LockedBy = nil, nil
	})
}

func (m *MemoryStore) updateOutbox(id int, fn func(row *models.OutboxMessage)) error {
	return m.with(func(s *memState) error {
		for i := range s.outbox {
			if s.outbox[i].ID == id {
				fn(&s.outbox[i])
				s.outbox[i].UpdatedAt = m.now()
				return nil
			}
		}
		return models.ErrNotFound
	})
}

func (m *MemoryStore) ReplayOutbox(_ context.Context, ids []int) (int64, error) {
	want := map[int]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var n int64
	err := m.with(func(s *memState) error {
		for i := range s.outbox {
			row := &s.outbox[i]
			if row.PublishStatus != models.OutboxPublishStatusFailed && row.PublishStatus != models.OutboxPublishStatusDead {
				continue
			}
			if len(want) > 0 && !want[row.ID] {
				continue
			}
			row.PublishStatus = models.OutboxPublishStatusPending
			row.PublishAttempts = 0
			row.NextAttemptAt, row.LockedAt, row.LockedBy, row.LastPublishError = nil, nil, nil, nil
			n++
		}
		return nil
	})
	return n, err
}

func (m *MemoryStore) ListOutbox(_ context.Context, status string, limit int) ([]models.OutboxMessage, error) {
	var out []models.OutboxMessage
	err := m.with(func(s *memState) error {
		for i := len(s.outbox) - 1; i >= 0; i-- {
			if status == "" || s.outbox[i].PublishStatus == status {
				out = append(out, s.outbox[i])
			}
		}
		return nil
	})
	return capList(out, limitOrDefault(limit)), err
}

func capList[T any](in []T, limit int) []T {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}
