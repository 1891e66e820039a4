package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/extractor/internal/config"
	"github.com/ehr/extractor/internal/domain/emr"
	"github.com/ehr/extractor/internal/domain/extractor"
	"github.com/ehr/extractor/internal/domain/health"
	"github.com/ehr/extractor/internal/domain/mapping"
	syncdomain "github.com/ehr/extractor/internal/domain/sync"
	"github.com/ehr/extractor/internal/domain/tracking"
	"github.com/ehr/extractor/internal/domain/transform"
	"github.com/ehr/extractor/internal/platform/db"
	"github.com/ehr/extractor/internal/platform/fhir"
	"github.com/ehr/extractor/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "extractor",
		Short: "EMR to FHIR extraction worker",
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(extractCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run extraction workers and the status server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkers()
		},
	}
}

func extractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Run a single extraction pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			resource, _ := cmd.Flags().GetString("resource")
			return runOnce(resource)
		},
	}
	cmd.Flags().String("resource", "", "Extract only this resource type (default: all configured)")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

// deps holds everything a command needs after bootstrap. Both pools stay
// open for the lifetime of the process.
type deps struct {
	cfg      *config.Config
	logger   zerolog.Logger
	mappings *mapping.Store
	svc      *extractor.Service
	records  syncdomain.Repository
	ledger   tracking.Repository
	closeFns []func()
}

func (d *deps) close() {
	for i := len(d.closeFns) - 1; i >= 0; i-- {
		d.closeFns[i]()
	}
}

func bootstrap(ctx context.Context) (*deps, error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("connect to staging database: %w", err)
	}
	logger.Info().Msg("connected to staging database")

	emrPool, err := db.NewPool(ctx, cfg.EMRDatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to EMR database: %w", err)
	}
	logger.Info().Msg("connected to EMR database")

	mappings, err := mapping.NewStore(cfg.MappingsDir, logger)
	if err != nil {
		pool.Close()
		emrPool.Close()
		return nil, fmt.Errorf("load mapping definitions: %w", err)
	}
	logger.Info().Strs("resource_types", mappings.ResourceTypes()).Msg("mapping definitions loaded")

	if _, err := uuid.Parse(cfg.FacilityID()); err != nil {
		logger.Warn().Str("facility_id", cfg.FacilityID()).Msg("facility id is not a UUID")
	}

	transformer := transform.New(logger, transform.OrganizationReference{
		Reference: cfg.ManagingOrgReference,
		Display:   cfg.ManagingOrgDisplay,
	}, cfg.DefaultCountryCode)

	var validator fhir.Validator = fhir.NewStructuralValidator()
	if !cfg.ValidationEnabled {
		validator = fhir.PassThroughValidator{}
		logger.Warn().Msg("resource validation disabled")
	}

	source := emr.NewRepo(emrPool)
	records := syncdomain.NewRepo(pool)
	ledger := tracking.NewRepo(pool)
	svc := extractor.NewService(mappings, source, transformer, validator, records, ledger, logger, cfg.FacilityID())

	return &deps{
		cfg:      cfg,
		logger:   logger,
		mappings: mappings,
		svc:      svc,
		records:  records,
		ledger:   ledger,
		closeFns: []func(){pool.Close, emrPool.Close},
	}, nil
}

func runWorkers() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer d.close()

	var wg sync.WaitGroup
	for _, rt := range d.cfg.ResourceTypes {
		worker := extractor.NewWorker(d.svc, d.records, rt, d.cfg.IdleBackoff, d.cfg.ErrorBackoff, d.logger)
		wg.Add(1)
		go func(rt string) {
			defer wg.Done()
			if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
				d.logger.Error().Err(err).Str("resource_type", rt).Msg("worker exited")
			}
		}(rt)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recovery(d.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(d.logger))

	health.NewHandler(d.ledger, d.mappings).RegisterRoutes(e)

	go func() {
		addr := ":" + d.cfg.Port
		d.logger.Info().Str("addr", addr).Msg("status server listening")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			d.logger.Error().Err(err).Msg("status server stopped")
		}
	}()

	<-ctx.Done()
	d.logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		d.logger.Error().Err(err).Msg("status server shutdown failed")
	}

	wg.Wait()
	d.logger.Info().Msg("all workers stopped")
	return nil
}

func runOnce(resource string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer d.close()

	types := d.cfg.ResourceTypes
	if resource != "" {
		types = []string{resource}
	}

	var failed bool
	for _, rt := range types {
		if err := d.records.EnsureCollection(ctx, rt); err != nil {
			d.logger.Error().Err(err).Str("resource_type", rt).Msg("failed to prepare staging table")
			failed = true
			continue
		}
		n, err := d.svc.ExtractAndPersist(ctx, rt)
		if err != nil {
			d.logger.Error().Err(err).Str("resource_type", rt).Msg("extraction pass failed")
			failed = true
			continue
		}
		d.logger.Info().Str("resource_type", rt).Int("staged", n).Msg("extraction pass complete")
	}
	if failed {
		return fmt.Errorf("one or more extraction passes failed")
	}
	return nil
}
