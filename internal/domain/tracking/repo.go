package tracking

import "context"

type Repository interface {
	// Exists reports whether any entry is recorded for the pair. Presence
	// alone gates re-extraction; a Failed entry stays in place until an
	// operator resets it.
	Exists(ctx context.Context, resourceType, sourceID string) (bool, error)
	// Upsert writes or overwrites the ledger entry for the entry's
	// (resource type, source id) pair.
	Upsert(ctx context.Context, e *Entry) error
	ListFailedOrPending(ctx context.Context, resourceType string, limit int) ([]*Entry, error)
	CountByStatus(ctx context.Context, resourceType string) (*StatusCounts, error)
}
