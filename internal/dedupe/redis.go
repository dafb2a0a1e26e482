package dedupe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadrelay_backend/platform/config"

	"github.com/redis/go-redis/v9"
)

const (
	leadKeyPrefix = "relay:lead:"
	sendKeyPrefix = "relay:send:"

	inflightValue = "inflight"
	doneValue     = "done"
)

// RedisStore is a Store backed by Redis, for multi-instance deployments.
// Check-and-insert relies on SET NX; expiry is native key TTL, so no janitor
// is needed.
type RedisStore struct {
	client   *redis.Client
	leadTTL  time.Duration
	cooldown time.Duration
}

// NewRedisStore connects to the configured Redis instance.
func NewRedisStore(cfg config.StoreConfig) (*RedisStore, error) {
	opt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	return &RedisStore{
		client:   redis.NewClient(opt),
		leadTTL:  cfg.GetDedupeTTL(),
		cooldown: cfg.GetSendCooldown(),
	}, nil
}

// NewRedisStoreWithClient wraps an existing client. Test hook.
func NewRedisStoreWithClient(client *redis.Client, cfg config.StoreConfig) *RedisStore {
	return &RedisStore{
		client:   client,
		leadTTL:  cfg.GetDedupeTTL(),
		cooldown: cfg.GetSendCooldown(),
	}
}

// TryBegin implements Store.
func (s *RedisStore) TryBegin(ctx context.Context, key string) (Status, error) {
	redisKey := leadKeyPrefix + key

	// A key can expire between the failed SET NX and the GET; retry once so
	// that window does not surface as a spurious inflight.
	for attempt := 0; attempt < 2; attempt++ {
		set, err := s.client.SetNX(ctx, redisKey, inflightValue, s.leadTTL).Result()
		if err != nil {
			return Accepted, fmt.Errorf("dedupe setnx: %w", err)
		}
		if set {
			return Accepted, nil
		}

		value, err := s.client.Get(ctx, redisKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return Accepted, fmt.Errorf("dedupe get: %w", err)
		}

		if value == doneValue {
			return AlreadyDone, nil
		}
		return AlreadyInflight, nil
	}

	return AlreadyInflight, nil
}

// MarkDone implements Store.
func (s *RedisStore) MarkDone(ctx context.Context, key string) error {
	return s.client.Set(ctx, leadKeyPrefix+key, doneValue, s.leadTTL).Err()
}

// Release implements Store.
func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, leadKeyPrefix+key).Err()
}

// WithinCooldown implements Store.
func (s *RedisStore) WithinCooldown(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, sendKeyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("cooldown exists: %w", err)
	}
	return n > 0, nil
}

// RecordSend implements Store.
func (s *RedisStore) RecordSend(ctx context.Context, key string) error {
	return s.client.Set(ctx, sendKeyPrefix+key, "1", s.cooldown).Err()
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
