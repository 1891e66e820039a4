package emr

import (
	"context"

	"github.com/ehr/extractor/internal/domain/mapping"
)

// RowSource extracts pending rows for one resource type's mapping.
type RowSource interface {
	// Extract returns source rows that have not yet been successfully
	// processed, oldest first by the mapping's last-updated column.
	Extract(ctx context.Context, def *mapping.Definition) ([]Row, error)
	// CountPending reports how many rows Extract would return.
	CountPending(ctx context.Context, def *mapping.Definition) (int, error)
}
