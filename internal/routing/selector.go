package routing

import (
	"context"
	"sort"
	"sync"
	"time"

	"leadrelay_backend/platform/apperr"
	"leadrelay_backend/platform/logger"
)

// ErrNoOperators is returned when a queue has no configured operators.
// Only possible with an empty roster, which is a configuration fault.
var ErrNoOperators = apperr.Config("operator roster is empty")

// Selector picks the next operator for a queue. The live map carries remote
// availability; a nil map means no availability data and disables filtering.
type Selector interface {
	Select(ctx context.Context, queue string, pool []Operator, live map[string]bool) (Operator, error)
}

// filterLive keeps operators marked available. Availability is advisory: an
// empty result falls back to the full pool so a lead is always assigned.
func filterLive(pool []Operator, live map[string]bool) []Operator {
	if live == nil {
		return pool
	}

	var online []Operator
	for _, op := range pool {
		if live[op.ID] {
			online = append(online, op)
		}
	}
	if len(online) == 0 {
		return pool
	}
	return online
}

// sortedCandidates returns a copy sorted by ascending id so the rotation
// cycle is stable regardless of set membership order.
func sortedCandidates(pool []Operator) []Operator {
	candidates := make([]Operator, len(pool))
	copy(candidates, pool)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	return candidates
}

// RoundRobin distributes operators cyclically with one monotonic cursor per
// queue.
type RoundRobin struct {
	mu      sync.Mutex
	cursors map[string]uint64
}

// NewRoundRobin creates a RoundRobin selector.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{cursors: make(map[string]uint64)}
}

// Select implements Selector.
func (r *RoundRobin) Select(_ context.Context, queue string, pool []Operator, live map[string]bool) (Operator, error) {
	if len(pool) == 0 {
		return Operator{}, ErrNoOperators
	}

	candidates := sortedCandidates(filterLive(pool, live))

	r.mu.Lock()
	cursor := r.cursors[queue]
	r.cursors[queue]++
	r.mu.Unlock()

	return candidates[cursor%uint64(len(candidates))], nil
}

// FairShare picks the operator with the fewest assignments in the current
// day scope, breaking ties with a secondary per-queue rotation.
type FairShare struct {
	counters   Counters
	customerID string
	log        *logger.Logger

	mu         sync.Mutex
	tieCursors map[string]uint64

	// now is injectable for deterministic tests.
	now func() time.Time
}

// NewFairShare creates a FairShare selector on top of an assignment counter
// store.
func NewFairShare(counters Counters, customerID string, log *logger.Logger) *FairShare {
	return &FairShare{
		counters:   counters,
		customerID: customerID,
		log:        log,
		tieCursors: make(map[string]uint64),
		now:        time.Now,
	}
}

// scope rolls over daily; a new day starts an empty counter set.
func (f *FairShare) scope() string {
	return f.customerID + ":" + f.now().UTC().Format("2006-01-02")
}

// Select implements Selector.
func (f *FairShare) Select(ctx context.Context, queue string, pool []Operator, live map[string]bool) (Operator, error) {
	if len(pool) == 0 {
		return Operator{}, ErrNoOperators
	}

	candidates := sortedCandidates(filterLive(pool, live))
	scope := f.scope()

	counts, err := f.counters.Counts(ctx, scope)
	if err != nil {
		// Counter loss degrades fair-share to plain rotation; assignment
		// must not be blocked.
		if f.log != nil {
			f.log.Warn("fair-share counters unavailable", "error", err)
		}
		counts = map[string]int64{}
	}

	min := counts[candidates[0].ID]
	for _, op := range candidates[1:] {
		if c := counts[op.ID]; c < min {
			min = c
		}
	}

	var tied []Operator
	for _, op := range candidates {
		if counts[op.ID] == min {
			tied = append(tied, op)
		}
	}

	f.mu.Lock()
	cursor := f.tieCursors[queue]
	f.tieCursors[queue]++
	f.mu.Unlock()

	chosen := tied[cursor%uint64(len(tied))]

	if err := f.counters.Incr(ctx, scope, chosen.ID); err != nil && f.log != nil {
		f.log.Warn("fair-share increment failed", "error", err, "operator", chosen.ID)
	}
	return chosen, nil
}
