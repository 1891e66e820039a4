package tracking

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) Exists(ctx context.Context, resourceType, sourceID string) (bool, error) {
	var found bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM ses_extract_tracking
			WHERE resource_type = $1 AND source_id = $2
		)`, resourceType, sourceID).Scan(&found)
	return found, err
}

func (r *repoPG) Upsert(ctx context.Context, e *Entry) error {
	// Concurrent workers racing on the same row resolve through the unique
	// (resource_type, source_id) index rather than in application code.
	_, err := r.pool.Exec(ctx, `
		INSERT INTO ses_extract_tracking
			(resource_type, source_id, status, row_hash, last_updated, retry_count, error_message, first_seen_at, last_attempt_at, succeeded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW(), $8)
		ON CONFLICT (resource_type, source_id) DO UPDATE SET
			status = EXCLUDED.status,
			row_hash = EXCLUDED.row_hash,
			last_updated = EXCLUDED.last_updated,
			retry_count = EXCLUDED.retry_count,
			error_message = EXCLUDED.error_message,
			last_attempt_at = NOW(),
			succeeded_at = EXCLUDED.succeeded_at`,
		e.ResourceType, e.SourceID, e.Status, e.RowHash, e.LastUpdated, e.RetryCount, e.ErrorMessage, e.SucceededAt,
	)
	return err
}

func (r *repoPG) ListFailedOrPending(ctx context.Context, resourceType string, limit int) ([]*Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT resource_type, source_id, status, row_hash, last_updated, retry_count, error_message, first_seen_at, last_attempt_at, succeeded_at
		FROM ses_extract_tracking
		WHERE resource_type = $1 AND status IN ($2, $3)
		ORDER BY last_attempt_at DESC
		LIMIT $4`, resourceType, StatusFailed, StatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (r *repoPG) CountByStatus(ctx context.Context, resourceType string) (*StatusCounts, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM ses_extract_tracking
		WHERE resource_type = $1 GROUP BY status`, resourceType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := &StatusCounts{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		switch status {
		case StatusPending:
			counts.Pending = n
		case StatusSuccess:
			counts.Success = n
		case StatusFailed:
			counts.Failed = n
		}
	}
	return counts, rows.Err()
}

func collectEntries(rows pgx.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ResourceType, &e.SourceID, &e.Status, &e.RowHash,
			&e.LastUpdated, &e.RetryCount, &e.ErrorMessage,
			&e.FirstSeenAt, &e.LastAttemptAt, &e.SucceededAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
