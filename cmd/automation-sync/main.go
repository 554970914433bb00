package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pipeline_backend/internal/automation/definitions"
	"pipeline_backend/platform/config"
	"pipeline_backend/platform/db"
	"pipeline_backend/platform/logger"
	"pipeline_backend/platform/validator"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// errDryRun rolls the transaction back after a successful apply.
var errDryRun = errors.New("dry run")

func main() {
	file := flag.String("file", "automation.yaml", "path to the automation definitions file")
	dryRun := flag.Bool("dry-run", false, "validate and apply inside a transaction, then roll back")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting automation sync", "file", *file, "dry_run", *dryRun)

	f, err := os.Open(*file)
	if err != nil {
		log.Error("failed to open definitions file", "error", err)
		os.Exit(1)
	}
	defs, err := definitions.Load(f, validator.New())
	_ = f.Close()
	if err != nil {
		log.Error("invalid definitions file", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 3, time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	var summary definitions.Summary
	err = db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		s, err := definitions.Apply(ctx, definitions.NewQuerierStore(tx), defs)
		summary = s
		if err != nil {
			return err
		}
		if *dryRun {
			return errDryRun
		}
		return nil
	})
	if err != nil && !errors.Is(err, errDryRun) {
		log.Error("automation sync failed", "error", err)
		os.Exit(1)
	}

	log.Info("automation sync complete",
		"dry_run", *dryRun,
		"templates", summary.Templates,
		"cadences", summary.Cadences,
		"rules", summary.Rules,
		"sla", summary.SLA,
	)
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
