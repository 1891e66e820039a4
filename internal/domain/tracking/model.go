// Package tracking maintains the per-row extraction ledger that makes the
// pipeline idempotent across restarts.
package tracking

import "time"

// Extraction statuses. The ledger holds at most one entry per
// (resource type, source id) pair; reprocessing overwrites it in place.
const (
	StatusPending = "Pending"
	StatusSuccess = "Success"
	StatusFailed  = "Failed"
)

// Entry is one ledger record.
type Entry struct {
	ResourceType  string     `json:"resourceType"`
	SourceID      string     `json:"sourceId"`
	Status        string     `json:"status"`
	RowHash       *string    `json:"rowHash,omitempty"`
	LastUpdated   *time.Time `json:"lastUpdated,omitempty"`
	RetryCount    int        `json:"retryCount"`
	ErrorMessage  *string    `json:"errorMessage,omitempty"`
	FirstSeenAt   time.Time  `json:"firstSeenAt"`
	LastAttemptAt time.Time  `json:"lastAttemptAt"`
	SucceededAt   *time.Time `json:"succeededAt,omitempty"`
}

// StatusCounts summarizes the ledger for one resource type.
type StatusCounts struct {
	Pending int `json:"pending"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}
