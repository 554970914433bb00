package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

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

type callRecorder struct {
	calls     []string
	rulesOpts rules.RunOptions
	limit     int
	pages     map[string]int
}

func (c *callRecorder) report(job string, maxPages int) *domain.RunReport {
	c.calls = append(c.calls, job)
	if c.pages == nil {
		c.pages = map[string]int{}
	}
	c.pages[job] = maxPages
	return domain.NewRunReport(job, false, testNow)
}

func (c *callRecorder) Rules(_ context.Context, opts rules.RunOptions) (*domain.RunReport, error) {
	c.rulesOpts = opts
	return c.report(config.JobRules, opts.MaxPages), nil
}

func (c *callRecorder) SLA(_ context.Context, opts sla.Options) (*domain.RunReport, error) {
	c.limit = opts.Limit
	return c.report(config.JobSLA, opts.MaxPages), nil
}

func (c *callRecorder) Distribution(_ context.Context, opts distribution.Options) (*domain.RunReport, error) {
	return c.report(config.JobDistribution, opts.MaxPages), nil
}

func (c *callRecorder) Temperature(_ context.Context, opts temperature.Options) (*domain.RunReport, error) {
	return c.report(config.JobTemperature, opts.MaxPages), nil
}

func (c *callRecorder) Cadences(_ context.Context, opts cadence.Options) (*domain.RunReport, error) {
	return c.report(config.JobCadences, opts.MaxPages), nil
}

func runTask(t *testing.T, w *Worker, job string) error {
	t.Helper()
	task, err := NewAutomationRunTask(AutomationRunPayload{Job: job})
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	return w.mux.ProcessTask(context.Background(), task)
}

func TestWorkerRoutesEveryScheduledJob(t *testing.T) {
	runner := &callRecorder{}
	w := newWorker(runner, nil, 150, 8, logger.Discard())

	for _, job := range []string{config.JobRules, config.JobSLA, config.JobDistribution, config.JobTemperature, config.JobCadences} {
		if err := runTask(t, w, job); err != nil {
			t.Fatalf("%s task returned error: %v", job, err)
		}
	}
	if len(runner.calls) != 5 {
		t.Fatalf("expected five runs, got %v", runner.calls)
	}
	if runner.rulesOpts.Mode != rules.ModeRun || runner.rulesOpts.DryRun || runner.rulesOpts.Limit != 150 {
		t.Fatalf("scheduled rules run must be live with the batch size, got %+v", runner.rulesOpts)
	}
	if runner.limit != 150 {
		t.Fatalf("expected sla batch size 150, got %d", runner.limit)
	}
	for job, pages := range runner.pages {
		if pages != 8 {
			t.Fatalf("%s: scheduled run should walk up to 8 pages, got %d", job, pages)
		}
	}
}

func TestWorkerRejectsUnknownJobWithoutRetry(t *testing.T) {
	w := newWorker(&callRecorder{}, nil, 10, 1, logger.Discard())
	if err := runTask(t, w, "reindex"); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestUniqueWindowStaysShortOfInterval(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 7, 0, 0, time.UTC)
	cases := map[string]time.Duration{
		"*/15 * * * *": 14 * time.Minute,
		"0 * * * *":    59 * time.Minute,
		"* * * * *":    time.Minute,
		"not a spec":   time.Minute,
	}
	for spec, want := range cases {
		if got := uniqueWindow(spec, now); got != want {
			t.Fatalf("uniqueWindow(%q) = %s, want %s", spec, got, want)
		}
	}
}
