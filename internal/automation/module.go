package automation

import (
	"pipeline_backend/internal/automation/cadence"
	"pipeline_backend/internal/automation/distribution"
	"pipeline_backend/internal/automation/effects"
	"pipeline_backend/internal/automation/handler"
	"pipeline_backend/internal/automation/ports"
	"pipeline_backend/internal/automation/qualify"
	"pipeline_backend/internal/automation/repository"
	"pipeline_backend/internal/automation/rules"
	"pipeline_backend/internal/automation/sla"
	"pipeline_backend/internal/automation/temperature"
	"pipeline_backend/internal/events"
	apphttp "pipeline_backend/internal/http"
	"pipeline_backend/internal/notification/inapp"
	"pipeline_backend/platform/config"
	"pipeline_backend/platform/logger"
	"pipeline_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ModuleConfig combines the config interfaces the engine reads.
type ModuleConfig interface {
	config.AutomationConfig
	config.ScheduleConfig
}

// Module is the automation bounded context module implementing http.Module.
type Module struct {
	handler    *handler.Handler
	runner     *Runner
	repository *repository.Repository
}

// NewModule wires the engine. A nil oracle leaves the qualify job disabled.
func NewModule(
	pool *pgxpool.Pool,
	eventBus events.Bus,
	cfg ModuleConfig,
	status ports.RunStatusStore,
	oracle ports.ScoringOracle,
	val *validator.Validator,
	log *logger.Logger,
) *Module {
	repo := repository.New(pool)
	alerts := inapp.NewRepository(pool)
	applier := effects.NewApplier(pool)

	services := Services{
		Rules: rules.NewService(repo, repo, repo, repo, applier,
			cfg.GetDedupeWindow(), cfg.GetBusinessLocation(), log),
		SLA: sla.NewMonitor(repo, repo, repo, alerts, applier,
			cfg.GetSLAAlertCooldown(), cfg.GetStaleLeadAfter(), log),
		Distribution: distribution.NewService(repo, repo, applier, eventBus,
			cfg.GetFirstContactTaskDelay(), log),
		Temperature: temperature.NewService(repo, repo, applier, eventBus,
			cfg.GetHighValueThreshold(), log),
		Cadences: cadence.NewService(repo, repo, repo, applier,
			cfg.GetDispatchDelay(), cfg.GetPhoneRegion(), log),
		Qualify: qualify.NewService(repo, repo, oracle, applier, log),
	}

	runner := NewRunner(services, repo, status, eventBus, cfg.GetJobSchedules(), log)
	h := handler.New(runner, val, handler.Limits{
		Default: cfg.GetDefaultBatchSize(),
		Max:     cfg.GetMaxBatchSize(),
	}, log)

	return &Module{handler: h, runner: runner, repository: repo}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "automation"
}

// Runner returns the job runner for the scheduler worker.
func (m *Module) Runner() *Runner {
	return m.runner
}

// Repository returns the engine store for the scheduler and the sync tool.
func (m *Module) Repository() *repository.Repository {
	return m.repository
}

// RegisterRoutes mounts automation routes on the service-token group.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/automation"))
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
