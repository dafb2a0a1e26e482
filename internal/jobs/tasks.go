// Package jobs defers transiently-failed leads for a later attempt through
// an asynq queue backed by Redis.
package jobs

// TaskLeadReprocess re-runs a lead whose upstream calls failed transiently.
// The payload is the JSON-encoded lead, attempt counter included.
const TaskLeadReprocess = "lead.reprocess"

// QueueLeads is the asynq queue all relay tasks run on.
const QueueLeads = "leads"
