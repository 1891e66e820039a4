// Package extractor orchestrates the extract, transform, validate, persist
// pipeline for one resource type at a time.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/extractor/internal/domain/document"
	"github.com/ehr/extractor/internal/domain/emr"
	"github.com/ehr/extractor/internal/domain/mapping"
	"github.com/ehr/extractor/internal/domain/sync"
	"github.com/ehr/extractor/internal/domain/tracking"
	"github.com/ehr/extractor/internal/domain/transform"
	"github.com/ehr/extractor/internal/platform/fhir"
	"github.com/ehr/extractor/pkg/rowhash"
)

const extractSource = "extractor"

type Service struct {
	mappings    *mapping.Store
	source      emr.RowSource
	transformer *transform.Transformer
	validator   fhir.Validator
	records     sync.Repository
	ledger      tracking.Repository
	log         zerolog.Logger
	facilityID  string
}

func NewService(
	mappings *mapping.Store,
	source emr.RowSource,
	transformer *transform.Transformer,
	validator fhir.Validator,
	records sync.Repository,
	ledger tracking.Repository,
	logger zerolog.Logger,
	facilityID string,
) *Service {
	return &Service{
		mappings:    mappings,
		source:      source,
		transformer: transformer,
		validator:   validator,
		records:     records,
		ledger:      ledger,
		log:         logger,
		facilityID:  facilityID,
	}
}

// ExtractAndPersist runs one extraction pass for resourceType and returns
// the number of rows that reached the staging store. A failing row is
// recorded in the ledger and never aborts the remaining rows; the error
// return covers pass-level failures such as an unreachable source database.
func (s *Service) ExtractAndPersist(ctx context.Context, resourceType string) (int, error) {
	correlationID := uuid.New().String()
	log := s.log.With().Str("correlation_id", correlationID).Str("resource_type", resourceType).Logger()

	def, err := s.mappings.Load(resourceType)
	if err != nil {
		return 0, err
	}

	rows, err := s.source.Extract(ctx, def)
	if err != nil {
		return 0, fmt.Errorf("extract %s rows: %w", resourceType, err)
	}
	log.Info().Int("rows", len(rows)).Str("table", def.SourceTable).Msg("extracted pending rows")

	persisted := 0
	for _, row := range rows {
		if ctx.Err() != nil {
			return persisted, ctx.Err()
		}

		sourceID := sourceIDOf(row, def)
		if sourceID == "" {
			log.Warn().Msg("skipping row with blank source id")
			continue
		}

		ok, err := s.processRow(ctx, log, def, row, sourceID)
		if err != nil {
			return persisted, err
		}
		if ok {
			persisted++
		}
	}

	log.Info().Int("persisted", persisted).Msg("extraction pass completed")
	return persisted, nil
}

// processRow handles a single row end to end. The returned error is only
// non-nil for ledger write failures, which mean idempotency can no longer be
// guaranteed and the pass must stop.
func (s *Service) processRow(ctx context.Context, log zerolog.Logger, def *mapping.Definition, row emr.Row, sourceID string) (persisted bool, err error) {
	rowLog := log.With().Str("source_id", sourceID).Logger()

	// Presence of a ledger entry for (resource type, source id) is the sole
	// re-extraction gate, whatever its status or hash.
	exists, err := s.ledger.Exists(ctx, def.ResourceType, sourceID)
	if err != nil {
		return false, fmt.Errorf("ledger lookup for %s: %w", sourceID, err)
	}
	if exists {
		rowLog.Debug().Msg("row already processed, skipping")
		return false, nil
	}

	hash := rowhash.Compute(row)
	lastUpdated := lastUpdatedOf(row, def)

	fhirDoc, failure, unhandled := s.buildResource(rowLog, def, row)
	if failure != "" {
		rowLog.Warn().Str("error", failure).Msg("row failed, recorded in ledger")
		if unhandled {
			return false, s.recordFailure(ctx, def.ResourceType, sourceID, nil, nil, failure)
		}
		return false, s.recordFailure(ctx, def.ResourceType, sourceID, &hash, lastUpdated, failure)
	}

	payload, err := json.Marshal(fhirDoc)
	if err != nil {
		return false, s.recordFailure(ctx, def.ResourceType, sourceID, &hash, lastUpdated, "serialize resource: "+err.Error())
	}

	rec := &sync.Record{
		ResourceID:    sourceID,
		ResourceType:  def.ResourceType,
		FHIRJSON:      payload,
		Status:        sync.StatusPending,
		FacilityID:    s.facilityID,
		ExtractSource: extractSource,
	}
	if err := s.records.Insert(ctx, rec); err != nil {
		rowLog.Error().Err(err).Msg("staging insert failed")
		return false, s.recordFailure(ctx, def.ResourceType, sourceID, &hash, lastUpdated, "persist resource: "+err.Error())
	}

	now := time.Now().UTC()
	entry := &tracking.Entry{
		ResourceType: def.ResourceType,
		SourceID:     sourceID,
		Status:       tracking.StatusSuccess,
		RowHash:      &hash,
		LastUpdated:  lastUpdated,
		SucceededAt:  &now,
	}
	if err := s.ledger.Upsert(ctx, entry); err != nil {
		return false, fmt.Errorf("record success for %s: %w", sourceID, err)
	}

	rowLog.Info().Msg("row staged for sync")
	return true, nil
}

// buildResource transforms and validates one row, isolating panics from
// mapping edge cases so a poison row cannot take down the pass. A non-empty
// failure string means the row must be recorded as Failed; unhandled marks
// failures outside the normal record-error and validation paths (panics,
// conflicting path expressions), which are ledgered without hash or
// timestamp.
func (s *Service) buildResource(log zerolog.Logger, def *mapping.Definition, row emr.Row) (doc *document.Object, failure string, unhandled bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("transform panicked")
			doc, failure, unhandled = nil, fmt.Sprintf("transform panic: %v", r), true
		}
	}()

	fhirDoc, recordErrors, err := s.transformer.Transform(row, def)
	if err != nil {
		return nil, err.Error(), true
	}
	if len(recordErrors) > 0 {
		return nil, strings.Join(recordErrors, "; "), false
	}

	result := s.validator.Validate(document.AsValue(fhirDoc).(map[string]any))
	if !result.IsValid {
		return nil, strings.Join(result.Errors, "; "), false
	}

	return fhirDoc, "", false
}

func (s *Service) recordFailure(ctx context.Context, resourceType, sourceID string, hash *string, lastUpdated *time.Time, message string) error {
	entry := &tracking.Entry{
		ResourceType: resourceType,
		SourceID:     sourceID,
		Status:       tracking.StatusFailed,
		RowHash:      hash,
		LastUpdated:  lastUpdated,
		ErrorMessage: &message,
	}
	if err := s.ledger.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("record failure for %s: %w", sourceID, err)
	}
	return nil
}

// lastUpdatedLayouts cover the text timestamp shapes EMR columns arrive in
// when the driver does not decode them natively.
var lastUpdatedLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func lastUpdatedOf(row emr.Row, def *mapping.Definition) *time.Time {
	switch v := row[def.LastUpdatedColumn].(type) {
	case time.Time:
		u := v.UTC()
		return &u
	case string:
		for _, layout := range lastUpdatedLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				u := t.UTC()
				return &u
			}
		}
	}
	return nil
}

func sourceIDOf(row emr.Row, def *mapping.Definition) string {
	raw, ok := row[def.SourceIDColumn]
	if !ok || raw == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprintf("%v", raw))
}
