package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"pipeline_backend/platform/config"
	"pipeline_backend/platform/logger"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
)

// PeriodicScheduler enqueues one automation.run task per job on its cron spec.
// Overlapping fires of the same job collapse into one task.
type PeriodicScheduler struct {
	scheduler *asynq.Scheduler
	log       *logger.Logger
}

func NewPeriodicScheduler(cfg config.SchedulerConfig, schedules map[string]string, location *time.Location, log *logger.Logger) (*PeriodicScheduler, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	s := asynq.NewScheduler(opt, &asynq.SchedulerOpts{Location: location})
	queue := queueName(cfg)

	jobs := make([]string, 0, len(schedules))
	for job := range schedules {
		jobs = append(jobs, job)
	}
	sort.Strings(jobs)

	for _, job := range jobs {
		spec := strings.TrimSpace(schedules[job])
		if spec == "" {
			log.Info("periodic job disabled", "job", job)
			continue
		}
		task, err := NewAutomationRunTask(AutomationRunPayload{Job: job})
		if err != nil {
			return nil, err
		}
		entryID, err := s.Register(spec, task,
			asynq.Queue(queue),
			asynq.Unique(uniqueWindow(spec, time.Now())),
			asynq.MaxRetry(3),
		)
		if err != nil {
			return nil, fmt.Errorf("register %s schedule: %w", job, err)
		}
		log.Info("periodic job registered", "job", job, "schedule", spec, "entry_id", entryID)
	}

	return &PeriodicScheduler{scheduler: s, log: log}, nil
}

// Run starts the scheduler and blocks until ctx is done.
func (p *PeriodicScheduler) Run(ctx context.Context) error {
	if p == nil || p.scheduler == nil {
		return nil
	}
	if err := p.scheduler.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	p.scheduler.Shutdown()
	return nil
}

// uniqueWindow keeps a slow run from piling up duplicates without blocking
// the next regular fire: one minute short of the spec's interval.
func uniqueWindow(spec string, now time.Time) time.Duration {
	const minimum = time.Minute
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return minimum
	}
	first := schedule.Next(now)
	window := schedule.Next(first).Sub(first) - time.Minute
	if window < minimum {
		return minimum
	}
	return window
}
