// Package routing picks the operator that owns a new contact: leads are
// partitioned into queues by property code, filtered by live availability
// when known, and distributed round-robin or fair-share.
package routing

import (
	"leadrelay_backend/platform/config"
)

// GeneralQueue is the default queue for leads outside any regional code set.
const GeneralQueue = "general"

// Operator is one member of the configured roster.
type Operator struct {
	ID   string
	Name string
}

// Roster is the static operator configuration: the general pool, an optional
// regional pool, and the property-code set that routes into it.
type Roster struct {
	general       []Operator
	regional      []Operator
	regionalQueue string
	regionalCodes map[string]struct{}
	names         map[string]string
}

// NewRoster builds a Roster from configuration. Regional operators reference
// roster entries by id; unknown ids are ignored.
func NewRoster(cfg config.RoutingConfig) *Roster {
	r := &Roster{
		regionalQueue: cfg.GetRegionalQueue(),
		regionalCodes: make(map[string]struct{}),
		names:         make(map[string]string),
	}

	byID := make(map[string]Operator)
	for _, entry := range cfg.GetOperators() {
		op := Operator{ID: entry.ID, Name: entry.Name}
		r.general = append(r.general, op)
		byID[entry.ID] = op
		r.names[entry.ID] = entry.Name
	}

	for _, id := range cfg.GetRegionalOperators() {
		if op, ok := byID[id]; ok {
			r.regional = append(r.regional, op)
		}
	}
	for _, code := range cfg.GetRegionalPropertyCodes() {
		r.regionalCodes[code] = struct{}{}
	}

	return r
}

// ResolveQueue maps a property code to its queue.
func (r *Roster) ResolveQueue(propertyCode string) string {
	if r.regionalQueue == "" || len(r.regional) == 0 {
		return GeneralQueue
	}
	if _, ok := r.regionalCodes[propertyCode]; ok {
		return r.regionalQueue
	}
	return GeneralQueue
}

// Pool returns the candidate operators for a queue.
func (r *Roster) Pool(queue string) []Operator {
	if queue == r.regionalQueue && len(r.regional) > 0 {
		return r.regional
	}
	return r.general
}

// DisplayName resolves an operator id to its configured display name.
// Unknown ids resolve to the id itself.
func (r *Roster) DisplayName(id string) string {
	if name, ok := r.names[id]; ok && name != "" {
		return name
	}
	return id
}
