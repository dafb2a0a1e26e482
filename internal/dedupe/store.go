// Package dedupe provides the time-windowed idempotency and send-cooldown
// stores shared by concurrent pipeline invocations. Two implementations exist:
// an in-process map store and a Redis-backed store for multi-instance
// deployments. Both expose the same atomic check-and-set semantics.
package dedupe

import (
	"context"
	"strings"
	"sync"
	"time"

	"leadrelay_backend/platform/config"
)

// Status is the outcome of an idempotency check-and-insert.
type Status int

const (
	// Accepted means no live record existed; an inflight record was inserted.
	Accepted Status = iota
	// AlreadyInflight means another pipeline instance holds the key.
	AlreadyInflight
	// AlreadyDone means the lead was fully processed within the TTL window.
	AlreadyDone
)

func (s Status) String() string {
	switch s {
	case Accepted:
		return "accepted"
	case AlreadyInflight:
		return "inflight"
	case AlreadyDone:
		return "done"
	default:
		return "unknown"
	}
}

// Store is the idempotency and cooldown contract used by the relay pipeline.
type Store interface {
	// TryBegin atomically inserts an inflight record if the key is absent
	// (or expired) and returns the prior status otherwise.
	TryBegin(ctx context.Context, key string) (Status, error)
	// MarkDone promotes the key to done, keeping it for the dedupe TTL.
	MarkDone(ctx context.Context, key string) error
	// Release removes the key so a legitimate retry can reprocess the lead.
	Release(ctx context.Context, key string) error
	// WithinCooldown reports whether a send was recorded for the key within
	// the cooldown window.
	WithinCooldown(ctx context.Context, key string) (bool, error)
	// RecordSend marks the key as sent now.
	RecordSend(ctx context.Context, key string) error
	Close() error
}

// LeadKey derives the idempotency key for a lead: the upstream lead id when
// present, otherwise phone:propertyCode.
func LeadKey(originLeadID, phoneDigits, propertyCode string) string {
	if originLeadID != "" {
		return "olx:" + originLeadID
	}
	return phoneDigits + ":" + propertyCode
}

// CooldownKey derives the send-cooldown key for a contact/template pair.
func CooldownKey(contactID, templateID string) string {
	return strings.Join([]string{contactID, templateID}, ":")
}

const janitorInterval = time.Minute

type leadEntry struct {
	status    Status
	expiresAt time.Time
}

// MemoryStore is a mutex-guarded in-process Store with a periodic janitor
// purging expired entries.
type MemoryStore struct {
	mu    sync.Mutex
	leads map[string]leadEntry
	sends map[string]time.Time

	leadTTL  time.Duration
	cooldown time.Duration

	// now is injectable for deterministic tests.
	now func() time.Time

	stop chan struct{}
	once sync.Once
}

// NewMemoryStore creates a MemoryStore and starts its purge janitor.
func NewMemoryStore(cfg config.StoreConfig) *MemoryStore {
	s := &MemoryStore{
		leads:    make(map[string]leadEntry),
		sends:    make(map[string]time.Time),
		leadTTL:  cfg.GetDedupeTTL(),
		cooldown: cfg.GetSendCooldown(),
		now:      time.Now,
		stop:     make(chan struct{}),
	}

	go s.janitor()
	return s
}

func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.purge()
		case <-s.stop:
			return
		}
	}
}

func (s *MemoryStore) purge() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, entry := range s.leads {
		if now.After(entry.expiresAt) {
			delete(s.leads, key)
		}
	}
	for key, sentAt := range s.sends {
		if now.Sub(sentAt) >= s.cooldown {
			delete(s.sends, key)
		}
	}
}

// TryBegin implements Store.
func (s *MemoryStore) TryBegin(_ context.Context, key string) (Status, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.leads[key]; ok && now.Before(entry.expiresAt) {
		return entry.status, nil
	}

	s.leads[key] = leadEntry{status: AlreadyInflight, expiresAt: now.Add(s.leadTTL)}
	return Accepted, nil
}

// MarkDone implements Store.
func (s *MemoryStore) MarkDone(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.leads[key] = leadEntry{status: AlreadyDone, expiresAt: s.now().Add(s.leadTTL)}
	return nil
}

// Release implements Store.
func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.leads, key)
	return nil
}

// WithinCooldown implements Store.
func (s *MemoryStore) WithinCooldown(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sentAt, ok := s.sends[key]
	return ok && s.now().Sub(sentAt) < s.cooldown, nil
}

// RecordSend implements Store.
func (s *MemoryStore) RecordSend(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sends[key] = s.now()
	return nil
}

// Close stops the janitor.
func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

var _ Store = (*MemoryStore)(nil)
