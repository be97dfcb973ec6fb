package config

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	rdb    *redis.Client
	locker *redislock.Client
)

func GetRedisDB() *redis.Client {
	return rdb
}

func GetRedisLock() *redislock.Client {
	return locker
}

// RedisSettings configures the cache and lock client. REDIS_URL, when set, wins over the
// individual fields.
type RedisSettings struct {
	URL      string `env:"REDIS_URL"`
	Address  string `env:"REDIS_ADDRESS"   envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB"        envDefault:"0"`
	PoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"100"`
}

func (s RedisSettings) Options() (*redis.Options, error) {
	if s.URL != "" {
		opt, err := redis.ParseURL(s.URL)
		if err != nil {
			return nil, fmt.Errorf("REDIS_URL: %w", err)
		}
		if s.PoolSize > 0 {
			opt.PoolSize = s.PoolSize
		}
		return opt, nil
	}
	return &redis.Options{
		Addr:     s.Address,
		Password: s.Password,
		DB:       s.DB,
		PoolSize: s.PoolSize,
	}, nil
}

// ConnectRedisWithRetry pings until Redis answers or ctx ends. Redis is optional: on
// cancellation the globals stay nil and callers fall back to DB-only paths.
func ConnectRedisWithRetry(ctx context.Context) {
	log := GetLogger().WithFields(logrus.Fields{"field": "redis"})
	var settings RedisSettings
	if err := env.Parse(&settings); err != nil {
		log.Error("parse redis env: " + err.Error())
		return
	}
	opt, err := settings.Options()
	if err != nil {
		log.Error(err.Error())
		return
	}

	for attempt := 1; ; attempt++ {
		client := redis.NewClient(opt)
		err := client.Ping(ctx).Err()
		if err == nil {
			rdb = client
			locker = redislock.New(rdb)
			log.WithFields(logrus.Fields{"attempt": attempt, "addr": opt.Addr}).Info("connected to redis")
			return
		}
		_ = client.Close()

		sleep := BackoffFor(attempt)
		log.WithFields(logrus.Fields{"attempt": attempt, "addr": opt.Addr, "retry": sleep.String()}).Warn("redis not reachable: " + err.Error())
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}
