package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"pipeline_backend/internal/automation"
	"pipeline_backend/internal/automation/effects"
	"pipeline_backend/internal/automation/runstatus"
	"pipeline_backend/internal/events"
	"pipeline_backend/internal/notification"
	"pipeline_backend/internal/notification/outbox"
	"pipeline_backend/internal/scheduler"
	"pipeline_backend/platform/config"
	"pipeline_backend/platform/db"
	"pipeline_backend/platform/logger"
	"pipeline_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// minLedgerFloor keeps cadence and rule history long enough for any dedupe
// window configured per rule.
const minLedgerFloor = 30 * 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	eventBus := events.NewInMemoryBus(log)
	val := validator.New()

	redisClient, err := scheduler.NewRedisClient(cfg)
	if err != nil {
		log.Error("failed to initialize redis client", "error", err)
		panic("failed to initialize redis client: " + err.Error())
	}
	defer func() { _ = redisClient.Close() }()

	// The oracle only serves on-demand HTTP qualification.
	automationModule := automation.NewModule(pool, eventBus, cfg,
		runstatus.New(redisClient, cfg.GetRunStatusTTL()), nil, val, log)
	notificationModule := notification.New(pool, val, log)

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize scheduler client", "error", err)
		panic("failed to initialize scheduler client: " + err.Error())
	}
	defer func() { _ = client.Close() }()
	scheduler.NewFirstContactSubscriber(client, log).Register(eventBus)

	relay, err := scheduler.NewDispatchRelay(cfg, outbox.New(pool), cfg.GetDispatchDelay(), log)
	if err != nil {
		log.Error("failed to initialize dispatch relay", "error", err)
		panic("failed to initialize dispatch relay: " + err.Error())
	}
	defer func() { _ = relay.Close() }()

	periodic, err := scheduler.NewPeriodicScheduler(cfg, cfg.GetJobSchedules(), cfg.GetBusinessLocation(), log)
	if err != nil {
		log.Error("failed to initialize periodic scheduler", "error", err)
		panic("failed to initialize periodic scheduler: " + err.Error())
	}

	floor := cfg.GetDedupeWindow()
	if floor < minLedgerFloor {
		floor = minLedgerFloor
	}
	cleanup := scheduler.NewLedgerCleanup(automationModule.Runner(), log,
		cfg.GetLedgerCleanupInterval(), cfg.GetLedgerRetention(), floor)

	checker := scheduler.NewFirstContactChecker(automationModule.Repository(), notificationModule.InApp(), effects.NewApplier(pool), log)
	worker, err := scheduler.NewWorker(cfg, automationModule.Runner(), checker, cfg.GetDefaultBatchSize(), cfg.GetMaxPages(), log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		relay.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		cleanup.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := periodic.Run(ctx); err != nil {
			log.Error("periodic scheduler stopped", "error", err)
		}
	}()

	worker.Run(ctx)
	wg.Wait()
	eventBus.Wait()
	log.Info("scheduler stopped")
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
