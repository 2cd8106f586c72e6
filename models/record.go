package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditRecord is a single raw event as returned by the audit feed.
// Time is the event time as a millisecond-epoch string; FieldsMap holds
// the flattened event fields keyed by dotted paths (e.g. "change.Before").
type AuditRecord struct {
	Time      string         `json:"time"`
	FieldsMap map[string]any `json:"fieldsMap"`
}

// TransformedRecord is the downstream-facing shape of an AuditRecord:
// all FieldsMap keys plus an injected "event_timestamp" key.
type TransformedRecord map[string]any

// EventTimestamp returns the injected event_timestamp value, or "" when absent.
func (r TransformedRecord) EventTimestamp() string {
	if v, ok := r["event_timestamp"].(string); ok {
		return v
	}
	return ""
}

// RunTally tracks progress counters for one drain run.
// All counters are monotonically non-decreasing.
type RunTally struct {
	Records int // sum of fetchedCount across successful pages
	Pages   int // pages classified as success
	Calls   int // HTTP attempts issued, including retries
}

// DrainResult is the aggregate outcome of a completed drain run.
type DrainResult struct {
	RunID     uuid.UUID
	AccountID string
	TimeFrame string
	Records   []AuditRecord
	Tally     RunTally
	Started   time.Time
	Finished  time.Time
}

// Duration returns the wall-clock duration of the run.
func (r *DrainResult) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// NewDrainResult creates a DrainResult for a starting run.
func NewDrainResult(accountID, timeFrame string) *DrainResult {
	return &DrainResult{
		RunID:     uuid.New(),
		AccountID: accountID,
		TimeFrame: timeFrame,
		Started:   time.Now(),
	}
}
