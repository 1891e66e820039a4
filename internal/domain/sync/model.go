// Package sync persists transformed FHIR resources to the staging store that
// downstream synchronization picks up from.
package sync

import (
	"time"

	"github.com/google/uuid"
)

// Sync statuses for a staged resource.
const (
	StatusPending = "Pending"
	StatusSynced  = "Synced"
	StatusFailed  = "Failed"
)

// Record is one staged FHIR resource awaiting downstream sync.
type Record struct {
	ID               uuid.UUID `json:"id"`
	ResourceID       string    `json:"resourceId"`
	ResourceType     string    `json:"resourceType"`
	FHIRJSON         []byte    `json:"fhirJson"`
	Status           string    `json:"status"`
	FacilityID       string    `json:"facilityId"`
	ExtractSource    string    `json:"extractSource"`
	RetryCount       int       `json:"retryCount"`
	TransactionID    *string   `json:"transactionId,omitempty"`
	SyncedResourceID *string   `json:"syncedResourceId,omitempty"`
	CreatedDate      time.Time `json:"createdDate"`
}
