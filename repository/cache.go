package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/rift_backend/models"
)

const (
	snapshotKeyPrefix = "rift:tx:"
	snapshotGenPrefix = "rift:txgen:"
	// Generation keys outlive any read in flight.
	snapshotGenTTL = time.Hour
)

// SnapshotCache is a read-through Redis cache of transaction rows for read endpoints.
// It is never read inside a unit of work, and Redis failures fall back to the store.
// Cached snapshots omit json:"-" fields, so callers needing the invite code read the store.
type SnapshotCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

func NewSnapshotCache(rdb *redis.Client, ttl time.Duration, logger *logrus.Logger) *SnapshotCache {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &SnapshotCache{rdb: rdb, ttl: ttl, logger: logger}
}

func (c *SnapshotCache) enabled() bool {
	return c != nil && c.rdb != nil
}

// GetTransaction reads through the cache. A miss is written back only when no
// Invalidate ran between the generation read and the write.
func (c *SnapshotCache) GetTransaction(ctx context.Context, r Repo, id string) (*models.Transaction, error) {
	var gen int64
	writeBack := false
	if c.enabled() {
		raw, err := c.rdb.Get(ctx, snapshotKeyPrefix+id).Bytes()
		switch {
		case err == nil:
			var t models.Transaction
			if jerr := json.Unmarshal(raw, &t); jerr == nil {
				return &t, nil
			}
		case !errors.Is(err, redis.Nil):
			c.logger.WithFields(logrus.Fields{"field": "snapshot_cache", "transaction_id": id}).
				Warnf("redis get failed: %v", err)
		}
		g, err := c.rdb.Get(ctx, snapshotGenPrefix+id).Int64()
		if err == nil || errors.Is(err, redis.Nil) {
			gen, writeBack = g, true
		}
	}
	t, err := r.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if writeBack {
		c.putAtGeneration(ctx, t, gen)
	}
	return t, nil
}

var errGenerationMoved = errors.New("snapshot generation moved")

func (c *SnapshotCache) putAtGeneration(ctx context.Context, t *models.Transaction, gen int64) {
	raw, err := json.Marshal(t)
	if err != nil {
		return
	}
	genKey := snapshotGenPrefix + t.ID
	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errGenerationMoved
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, snapshotKeyPrefix+t.ID, raw, c.ttl)
			return nil
		})
		return err
	}, genKey)
	if err == nil || errors.Is(err, errGenerationMoved) || errors.Is(err, redis.TxFailedErr) {
		return
	}
	c.logger.WithFields(logrus.Fields{"field": "snapshot_cache", "transaction_id": t.ID}).
		Warnf("redis set failed: %v", err)
}

// Invalidate drops cached rows and bumps their generation so reads already in
// flight do not write the old row back. Call it after the unit of work commits.
func (c *SnapshotCache) Invalidate(ctx context.Context, ids ...string) {
	if !c.enabled() || len(ids) == 0 {
		return
	}
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, id := range ids {
			p.Incr(ctx, snapshotGenPrefix+id)
			p.Expire(ctx, snapshotGenPrefix+id, snapshotGenTTL)
			p.Del(ctx, snapshotKeyPrefix+id)
		}
		return nil
	})
	if err != nil {
		c.logger.WithFields(logrus.Fields{"field": "snapshot_cache"}).Warnf("redis invalidate failed: %v", err)
	}
}
