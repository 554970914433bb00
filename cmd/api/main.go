package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pipeline_backend/internal/automation"
	"pipeline_backend/internal/automation/ports"
	"pipeline_backend/internal/automation/qualify"
	"pipeline_backend/internal/automation/runstatus"
	"pipeline_backend/internal/events"
	apphttp "pipeline_backend/internal/http"
	"pipeline_backend/internal/http/router"
	"pipeline_backend/internal/notification"
	"pipeline_backend/internal/scheduler"
	"pipeline_backend/migrations"
	"pipeline_backend/platform/ai/gemini"
	"pipeline_backend/platform/config"
	"pipeline_backend/platform/db"
	"pipeline_backend/platform/logger"
	"pipeline_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

const oracleTemperature = 0.2

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

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
	log.Info("database connection established")

	if cfg.MigrationsEnabled {
		if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
			return db.RunMigrations(ctx, pool, migrations.FS)
		}); err != nil {
			log.Error("failed to run database migrations", "error", err)
			panic("failed to run database migrations: " + err.Error())
		}
		log.Info("database migrations complete")
	}

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	// Shared validator instance for dependency injection
	val := validator.New()

	status, closeStatus := initRunStatus(cfg, log)
	if closeStatus != nil {
		defer closeStatus()
	}

	firstContact, closeScheduler := initFirstContactScheduler(cfg, log)
	if closeScheduler != nil {
		defer closeScheduler()
	}

	oracle := initOracle(ctx, cfg, log)

	// ========================================================================
	// Domain Modules
	// ========================================================================

	automationModule := automation.NewModule(pool, eventBus, cfg, status, oracle, val, log)

	notificationModule := notification.New(pool, val, log)
	notificationModule.RegisterHandlers(eventBus)
	defer notificationModule.Close()

	if firstContact != nil {
		scheduler.NewFirstContactSubscriber(firstContact, log).Register(eventBus)
	}

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config: cfg,
		Logger: log,
		Health: db.NewPoolAdapter(pool),
		Modules: []apphttp.Module{
			automationModule,
			notificationModule,
		},
	}

	engine := router.New(app)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		notificationModule.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
		eventBus.Wait()
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

func initRunStatus(cfg *config.Config, log *logger.Logger) (ports.RunStatusStore, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; run status is not persisted")
		return (*runstatus.Store)(nil), nil
	}

	client, err := scheduler.NewRedisClient(cfg)
	if err != nil {
		log.Error("failed to initialize run status store", "error", err)
		return (*runstatus.Store)(nil), nil
	}

	return runstatus.New(client, cfg.GetRunStatusTTL()), func() {
		_ = client.Close()
	}
}

func initFirstContactScheduler(cfg config.SchedulerConfig, log *logger.Logger) (scheduler.FirstContactScheduler, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; first contact checks disabled")
		return nil, nil
	}

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize first contact scheduler", "error", err)
		return nil, nil
	}

	return client, func() {
		_ = client.Close()
	}
}

func initOracle(ctx context.Context, cfg config.OracleConfig, log *logger.Logger) ports.ScoringOracle {
	if !cfg.IsOracleEnabled() {
		log.Info("GEMINI_API_KEY not configured; lead qualification disabled")
		return nil
	}

	client, err := gemini.NewClient(ctx, gemini.Config{
		APIKey:      cfg.GetGeminiAPIKey(),
		Model:       cfg.GetGeminiModel(),
		Temperature: oracleTemperature,
	})
	if err != nil {
		log.Error("failed to initialize scoring oracle", "error", err)
		return nil
	}
	log.Info("scoring oracle enabled", "model", client.Name())
	return qualify.NewOracle(client)
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
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
