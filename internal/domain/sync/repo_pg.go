package sync

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

var resourceTypePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9]*$`)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

// tableFor derives the staging table name, one table per resource type.
func tableFor(resourceType string) (string, error) {
	if !resourceTypePattern.MatchString(resourceType) {
		return "", fmt.Errorf("unsafe resource type %q", resourceType)
	}
	return "fhir_sync_" + strings.ToLower(resourceType), nil
}

func (r *repoPG) EnsureCollection(ctx context.Context, resourceType string) error {
	table, err := tableFor(resourceType)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			resource_id TEXT NOT NULL,
			resource_type TEXT NOT NULL,
			fhir_json JSONB NOT NULL,
			status TEXT NOT NULL,
			facility_id TEXT NOT NULL,
			extract_source TEXT NOT NULL,
			retry_count INT NOT NULL DEFAULT 0,
			transaction_id TEXT,
			synced_resource_id TEXT,
			created_date TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, table))
	if err != nil {
		return fmt.Errorf("ensure staging table %s: %w", table, err)
	}
	return nil
}

func (r *repoPG) Insert(ctx context.Context, rec *Record) error {
	table, err := tableFor(rec.ResourceType)
	if err != nil {
		return err
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	_, err = r.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s
			(id, resource_id, resource_type, fhir_json, status, facility_id, extract_source, retry_count, transaction_id, synced_resource_id, created_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW())`, table),
		rec.ID, rec.ResourceID, rec.ResourceType, rec.FHIRJSON, rec.Status,
		rec.FacilityID, rec.ExtractSource, rec.RetryCount, rec.TransactionID, rec.SyncedResourceID,
	)
	if err != nil {
		return fmt.Errorf("stage %s/%s: %w", rec.ResourceType, rec.ResourceID, err)
	}
	return nil
}
