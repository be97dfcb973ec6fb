package workflow

import (
	"context"
	"time"

	"github.com/bsm/redislock"
)

// Locker hands out short-lived cross-instance locks. Correctness never depends on them; they
// only keep concurrent requests for the same transaction from piling up on the row lock.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

type NoopLocker struct{}

func (NoopLocker) Lock(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}

type RedisLocker struct {
	Client *redislock.Client
	// Wait bounds how long Lock retries before giving up.
	Wait time.Duration
}

func NewRedisLocker(client *redislock.Client) *RedisLocker {
	return &RedisLocker{Client: client, Wait: 2 * time.Second}
}

func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if l == nil || l.Client == nil {
		return func() {}, nil
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	const step = 50 * time.Millisecond
	retries := int(l.Wait / step)
	lock, err := l.Client.Obtain(ctx, key, ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(step), retries),
	})
	if err != nil {
		return nil, err
	}
	return func() {
		_ = lock.Release(context.WithoutCancel(ctx))
	}, nil
}
