package scheduler

import (
	"context"
	"fmt"

	"pipeline_backend/internal/automation/cadence"
	"pipeline_backend/internal/automation/distribution"
	"pipeline_backend/internal/automation/domain"
	"pipeline_backend/internal/automation/rules"
	"pipeline_backend/internal/automation/sla"
	"pipeline_backend/internal/automation/temperature"
	"pipeline_backend/platform/config"
	"pipeline_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// JobRunner runs the periodic engine jobs.
type JobRunner interface {
	Rules(ctx context.Context, opts rules.RunOptions) (*domain.RunReport, error)
	SLA(ctx context.Context, opts sla.Options) (*domain.RunReport, error)
	Distribution(ctx context.Context, opts distribution.Options) (*domain.RunReport, error)
	Temperature(ctx context.Context, opts temperature.Options) (*domain.RunReport, error)
	Cadences(ctx context.Context, opts cadence.Options) (*domain.RunReport, error)
}

type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	runner    JobRunner
	checker   *FirstContactChecker
	batchSize int
	maxPages  int
	log       *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, runner JobRunner, checker *FirstContactChecker, batchSize, maxPages int, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
	})

	w := newWorker(runner, checker, batchSize, maxPages, log)
	w.server = server
	return w, nil
}

func newWorker(runner JobRunner, checker *FirstContactChecker, batchSize, maxPages int, log *logger.Logger) *Worker {
	w := &Worker{
		mux:       asynq.NewServeMux(),
		runner:    runner,
		checker:   checker,
		batchSize: batchSize,
		maxPages:  maxPages,
		log:       log,
	}
	w.mux.HandleFunc(TaskAutomationRun, w.handleAutomationRun)
	w.mux.HandleFunc(TaskFirstContactCheck, w.handleFirstContactCheck)
	return w
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleAutomationRun(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseAutomationRunPayload(task)
	if err != nil {
		return fmt.Errorf("automation run payload: %v: %w", err, asynq.SkipRetry)
	}

	report, err := w.runJob(ctx, payload.Job)
	if err != nil {
		return err
	}
	if report != nil && report.Failed > 0 {
		w.log.Warn("automation run finished with failures", "job", payload.Job, "failed", report.Failed)
	}
	return nil
}

// runJob invokes one job with the scheduled defaults: a full live run over
// every scope, up to maxPages batches wide.
func (w *Worker) runJob(ctx context.Context, job string) (*domain.RunReport, error) {
	switch job {
	case config.JobRules:
		return w.runner.Rules(ctx, rules.RunOptions{Mode: rules.ModeRun, Limit: w.batchSize, MaxPages: w.maxPages})
	case config.JobSLA:
		return w.runner.SLA(ctx, sla.Options{Limit: w.batchSize, MaxPages: w.maxPages})
	case config.JobDistribution:
		return w.runner.Distribution(ctx, distribution.Options{Limit: w.batchSize, MaxPages: w.maxPages})
	case config.JobTemperature:
		return w.runner.Temperature(ctx, temperature.Options{Limit: w.batchSize, MaxPages: w.maxPages})
	case config.JobCadences:
		return w.runner.Cadences(ctx, cadence.Options{Limit: w.batchSize, MaxPages: w.maxPages})
	default:
		return nil, fmt.Errorf("unknown automation job %q: %w", job, asynq.SkipRetry)
	}
}

func (w *Worker) handleFirstContactCheck(ctx context.Context, task *asynq.Task) error {
	if w.checker == nil {
		return nil
	}
	payload, err := ParseFirstContactCheckPayload(task)
	if err != nil {
		return fmt.Errorf("first contact payload: %v: %w", err, asynq.SkipRetry)
	}
	return w.checker.Check(ctx, payload)
}
