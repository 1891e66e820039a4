package extractor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/extractor/internal/domain/sync"
)

// Worker polls one resource type in a loop: run a pass, then back off 180s
// when the source is drained or 60s after an error.
type Worker struct {
	svc          *Service
	records      sync.Repository
	resourceType string
	idleBackoff  time.Duration
	errorBackoff time.Duration
	log          zerolog.Logger
}

func NewWorker(svc *Service, records sync.Repository, resourceType string, idleBackoff, errorBackoff time.Duration, logger zerolog.Logger) *Worker {
	if idleBackoff <= 0 {
		idleBackoff = 180 * time.Second
	}
	if errorBackoff <= 0 {
		errorBackoff = 60 * time.Second
	}
	return &Worker{
		svc:          svc,
		records:      records,
		resourceType: resourceType,
		idleBackoff:  idleBackoff,
		errorBackoff: errorBackoff,
		log:          logger.With().Str("resource_type", resourceType).Logger(),
	}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Msg("extraction worker starting")

	if err := w.records.EnsureCollection(ctx, w.resourceType); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			w.log.Info().Msg("extraction worker stopping")
			return ctx.Err()
		}

		n, err := w.svc.ExtractAndPersist(ctx, w.resourceType)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				w.log.Info().Msg("extraction worker stopping")
				return ctx.Err()
			}
			w.log.Error().Err(err).Msg("extraction pass failed")
			if !w.sleep(ctx, w.errorBackoff) {
				return ctx.Err()
			}
		case n == 0:
			if !w.sleep(ctx, w.idleBackoff) {
				return ctx.Err()
			}
		default:
			// Rows were staged; poll again immediately in case more are
			// waiting behind this batch.
		}
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
