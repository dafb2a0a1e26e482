package routing

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// counterExpiry bounds how long a day scope's counters are retained after
// the scope stops being written.
const counterExpiry = 48 * time.Hour

// Counters tracks per-scope assignment counts per operator. Scopes roll over
// implicitly (a new day produces a new key).
type Counters interface {
	// Incr atomically increments the operator's count within the scope.
	Incr(ctx context.Context, scope, operatorID string) error
	// Counts returns all operator counts for the scope.
	Counts(ctx context.Context, scope string) (map[string]int64, error)
}

type scopeEntry struct {
	counts  map[string]int64
	touched time.Time
}

// MemoryCounters is an in-process Counters implementation.
type MemoryCounters struct {
	mu     sync.Mutex
	scopes map[string]*scopeEntry

	// now is injectable for deterministic tests.
	now func() time.Time
}

// NewMemoryCounters creates an empty in-memory counter store.
func NewMemoryCounters() *MemoryCounters {
	return &MemoryCounters{
		scopes: make(map[string]*scopeEntry),
		now:    time.Now,
	}
}

// Incr implements Counters.
func (m *MemoryCounters) Incr(_ context.Context, scope, operatorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.scopes[scope]
	if !ok {
		entry = &scopeEntry{counts: make(map[string]int64)}
		m.scopes[scope] = entry
	}
	entry.counts[operatorID]++
	entry.touched = m.now()

	m.pruneLocked()
	return nil
}

// Counts implements Counters.
func (m *MemoryCounters) Counts(_ context.Context, scope string) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.scopes[scope]
	if !ok {
		return map[string]int64{}, nil
	}

	out := make(map[string]int64, len(entry.counts))
	for id, c := range entry.counts {
		out[id] = c
	}
	return out, nil
}

func (m *MemoryCounters) pruneLocked() {
	cutoff := m.now().Add(-counterExpiry)
	for scope, entry := range m.scopes {
		if entry.touched.Before(cutoff) {
			delete(m.scopes, scope)
		}
	}
}

var _ Counters = (*MemoryCounters)(nil)

const counterKeyPrefix = "relay:fairshare:"

// RedisCounters is a Counters implementation on a shared Redis hash per
// scope, for multi-instance deployments.
type RedisCounters struct {
	client *redis.Client
}

// NewRedisCounters wraps an existing Redis client.
func NewRedisCounters(client *redis.Client) *RedisCounters {
	return &RedisCounters{client: client}
}

// Incr implements Counters using HINCRBY plus a rolling expiry.
func (r *RedisCounters) Incr(ctx context.Context, scope, operatorID string) error {
	key := counterKeyPrefix + scope
	if err := r.client.HIncrBy(ctx, key, operatorID, 1).Err(); err != nil {
		return fmt.Errorf("fairshare hincrby: %w", err)
	}
	return r.client.Expire(ctx, key, counterExpiry).Err()
}

// Counts implements Counters.
func (r *RedisCounters) Counts(ctx context.Context, scope string) (map[string]int64, error) {
	values, err := r.client.HGetAll(ctx, counterKeyPrefix+scope).Result()
	if err != nil {
		return nil, fmt.Errorf("fairshare hgetall: %w", err)
	}

	counts := make(map[string]int64, len(values))
	for id, raw := range values {
		if c, err := strconv.ParseInt(raw, 10, 64); err == nil {
			counts[id] = c
		}
	}
	return counts, nil
}

var _ Counters = (*RedisCounters)(nil)
