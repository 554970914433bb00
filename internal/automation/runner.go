package automation

import (
	"context"
	"fmt"
	"time"

	"pipeline_backend/internal/automation/cadence"
	"pipeline_backend/internal/automation/distribution"
	"pipeline_backend/internal/automation/domain"
	"pipeline_backend/internal/automation/ports"
	"pipeline_backend/internal/automation/qualify"
	"pipeline_backend/internal/automation/rules"
	"pipeline_backend/internal/automation/sla"
	"pipeline_backend/internal/automation/temperature"
	"pipeline_backend/internal/events"
	"pipeline_backend/platform/config"
	"pipeline_backend/platform/logger"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "pipeline_backend/automation"

// JobQualify is the on-demand oracle job. It has no schedule.
const JobQualify = "qualify"

// ScheduledJobs lists the periodic jobs in status order.
var ScheduledJobs = []string{config.JobRules, config.JobSLA, config.JobDistribution, config.JobTemperature, config.JobCadences}

// Runner is the single entry point used by both the HTTP handlers and the
// scheduler worker. Every run is traced, logged, recorded in the run-status
// store and announced on the event bus.
type Runner struct {
	rules        *rules.Service
	sla          *sla.Monitor
	distribution *distribution.Service
	temperature  *temperature.Service
	cadences     *cadence.Service
	qualify      *qualify.Service
	ledger       ports.Ledger
	status       ports.RunStatusStore
	bus          events.Bus
	schedules    map[string]string
	log          *logger.Logger
	tracer       trace.Tracer
	now          func() time.Time
}

// Services bundles the engine components a Runner drives.
type Services struct {
	Rules        *rules.Service
	SLA          *sla.Monitor
	Distribution *distribution.Service
	Temperature  *temperature.Service
	Cadences     *cadence.Service
	Qualify      *qualify.Service
}

func NewRunner(services Services, ledger ports.Ledger, status ports.RunStatusStore, bus events.Bus, schedules map[string]string, log *logger.Logger) *Runner {
	return &Runner{
		rules:        services.Rules,
		sla:          services.SLA,
		distribution: services.Distribution,
		temperature:  services.Temperature,
		cadences:     services.Cadences,
		qualify:      services.Qualify,
		ledger:       ledger,
		status:       status,
		bus:          bus,
		schedules:    schedules,
		log:          log,
		tracer:       otel.Tracer(tracerName),
		now:          time.Now,
	}
}

func (r *Runner) Rules(ctx context.Context, opts rules.RunOptions) (*domain.RunReport, error) {
	return r.run(ctx, config.JobRules, opts.DryRun || opts.Mode == rules.ModeEvaluate, func(ctx context.Context) (*domain.RunReport, error) {
		return r.rules.Run(ctx, opts)
	})
}

func (r *Runner) SLA(ctx context.Context, opts sla.Options) (*domain.RunReport, error) {
	return r.run(ctx, config.JobSLA, opts.DryRun, func(ctx context.Context) (*domain.RunReport, error) {
		return r.sla.Run(ctx, opts)
	})
}

func (r *Runner) Distribution(ctx context.Context, opts distribution.Options) (*domain.RunReport, error) {
	return r.run(ctx, config.JobDistribution, opts.DryRun, func(ctx context.Context) (*domain.RunReport, error) {
		return r.distribution.Run(ctx, opts)
	})
}

func (r *Runner) Temperature(ctx context.Context, opts temperature.Options) (*domain.RunReport, error) {
	return r.run(ctx, config.JobTemperature, opts.DryRun, func(ctx context.Context) (*domain.RunReport, error) {
		return r.temperature.Run(ctx, opts)
	})
}

func (r *Runner) Cadences(ctx context.Context, opts cadence.Options) (*domain.RunReport, error) {
	return r.run(ctx, config.JobCadences, opts.DryRun, func(ctx context.Context) (*domain.RunReport, error) {
		return r.cadences.Run(ctx, opts)
	})
}

func (r *Runner) Qualify(ctx context.Context, opts qualify.Options) (*domain.RunReport, error) {
	return r.run(ctx, JobQualify, opts.DryRun, func(ctx context.Context) (*domain.RunReport, error) {
		return r.qualify.Run(ctx, opts)
	})
}

// PurgeLedger deletes ledger rows older than retention. Retention never drops
// below floor so no dedupe window can lose its entries.
func (r *Runner) PurgeLedger(ctx context.Context, retention, floor time.Duration) (int64, error) {
	if retention < floor {
		retention = floor
	}
	ctx, span := r.tracer.Start(ctx, "automation.ledger.purge")
	defer span.End()

	deleted, err := r.ledger.PurgeBefore(ctx, r.now().Add(-retention))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	span.SetAttributes(attribute.Int64("automation.ledger.deleted", deleted))
	if deleted > 0 {
		r.log.Info("ledger purged", "deleted", deleted, "retention", retention.String())
	}
	return deleted, nil
}

// Status reports the latest run of every job and when the scheduler fires it next.
func (r *Runner) Status(ctx context.Context) (map[string]domain.JobStatus, error) {
	jobs := append(append([]string{}, ScheduledJobs...), JobQualify)
	latest, err := r.status.Latest(ctx, jobs)
	if err != nil {
		return nil, err
	}

	now := r.now()
	result := make(map[string]domain.JobStatus, len(jobs))
	for _, job := range jobs {
		status := domain.JobStatus{Schedule: r.schedules[job]}
		if status.Schedule != "" {
			if schedule, parseErr := cron.ParseStandard(status.Schedule); parseErr == nil {
				next := schedule.Next(now)
				status.NextRun = &next
			}
		}
		if report, ok := latest[job]; ok {
			report := report
			status.LastRun = &report
		}
		result[job] = status
	}
	return result, nil
}

func (r *Runner) run(ctx context.Context, job string, dryRun bool, fn func(context.Context) (*domain.RunReport, error)) (*domain.RunReport, error) {
	ctx = context.WithValue(ctx, logger.JobKey, job)
	ctx, span := r.tracer.Start(ctx, "automation."+job,
		trace.WithAttributes(
			attribute.String("automation.job", job),
			attribute.Bool("automation.dry_run", dryRun),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	log := r.log.WithContext(ctx)
	start := r.now()
	report, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("automation run aborted", "error", err)
		return nil, err
	}
	if report == nil {
		err := fmt.Errorf("%s run returned no report", job)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("automation.processed", report.Processed),
		attribute.Int("automation.succeeded", report.Succeeded),
		attribute.Int("automation.failed", report.Failed),
		attribute.Int("automation.skipped", report.Skipped),
	)
	span.SetStatus(codes.Ok, "")
	log.JobRun(job, report.Processed, report.Succeeded, report.Failed, report.DryRun, float64(r.now().Sub(start).Milliseconds()))

	if r.status != nil {
		if saveErr := r.status.Save(ctx, *report); saveErr != nil {
			log.Warn("failed to save run status", "error", saveErr)
		}
	}
	if r.bus != nil {
		r.bus.Publish(ctx, events.JobCompleted{
			BaseEvent: events.NewBaseEvent(),
			Job:       job,
			Processed: report.Processed,
			Succeeded: report.Succeeded,
			Failed:    report.Failed,
			DryRun:    report.DryRun,
		})
	}
	return report, nil
}
