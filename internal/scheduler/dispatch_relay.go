package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pipeline_backend/internal/notification/outbox"
	"pipeline_backend/platform/config"
	"pipeline_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"golang.org/x/time/rate"
)

const (
	relayInterval    = 2 * time.Second
	relayBatchSize   = 50
	relayBaseBackoff = 30 * time.Second
)

// OutboxStore is the slice of the outbox the relay needs.
type OutboxStore interface {
	ClaimPending(ctx context.Context, limit int) ([]outbox.Record, error)
	MarkPending(ctx context.Context, id uuid.UUID, lastError string, backoff time.Duration) error
	MarkRelayed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error
}

// Enqueuer hands tasks to asynq.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// DispatchRelay moves committed outbox rows onto the delivery queue. Sends are
// paced by the dispatch delay so a large cadence batch does not burst the
// channel provider.
type DispatchRelay struct {
	client  *asynq.Client
	enqueue Enqueuer
	repo    OutboxStore
	limiter *rate.Limiter
	log     *logger.Logger
}

func NewDispatchRelay(cfg config.SchedulerConfig, repo OutboxStore, dispatchDelay time.Duration, log *logger.Logger) (*DispatchRelay, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	client := asynq.NewClient(opt)
	relay := newDispatchRelay(client, repo, dispatchDelay, log)
	relay.client = client
	return relay, nil
}

func newDispatchRelay(enqueue Enqueuer, repo OutboxStore, dispatchDelay time.Duration, log *logger.Logger) *DispatchRelay {
	limit := rate.Inf
	if dispatchDelay > 0 {
		limit = rate.Every(dispatchDelay)
	}
	return &DispatchRelay{
		enqueue: enqueue,
		repo:    repo,
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
	}
}

func (d *DispatchRelay) Close() error {
	if d == nil || d.client == nil {
		return nil
	}
	return d.client.Close()
}

func (d *DispatchRelay) Run(ctx context.Context) {
	if d == nil || d.enqueue == nil || d.repo == nil {
		return
	}

	ticker := time.NewTicker(relayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if _, err := d.relayOnce(ctx); err != nil && ctx.Err() == nil {
			d.log.Warn("outbox relay failed", "error", err)
		}
	}
}

// relayOnce claims one batch and returns how many rows reached the queue.
func (d *DispatchRelay) relayOnce(ctx context.Context) (int, error) {
	records, err := d.repo.ClaimPending(ctx, relayBatchSize)
	if err != nil {
		return 0, err
	}

	relayed := 0
	for _, rec := range records {
		if err := d.limiter.Wait(ctx); err != nil {
			// Shutdown mid-batch: hand the row back untouched.
			_ = d.repo.MarkPending(context.WithoutCancel(ctx), rec.ID, "relay interrupted", 0)
			continue
		}
		if err := d.relay(ctx, rec); err != nil {
			d.retryOrFail(ctx, rec, err)
			continue
		}
		if err := d.repo.MarkRelayed(ctx, rec.ID); err != nil {
			d.log.Warn("outbox mark relayed failed", "outbox_id", rec.ID, "error", err)
		}
		relayed++
	}
	return relayed, nil
}

func (d *DispatchRelay) relay(ctx context.Context, rec outbox.Record) error {
	task, err := NewDispatchDeliverTask(DispatchDeliverPayload{
		OutboxID:  rec.ID.String(),
		LeadID:    rec.LeadID.String(),
		Channel:   string(rec.Channel),
		Recipient: rec.Recipient,
		Body:      rec.Body,
		Attempt:   rec.Attempts,
	})
	if err != nil {
		return err
	}

	_, err = d.enqueue.EnqueueContext(ctx, task,
		asynq.ProcessAt(rec.RunAt),
		asynq.Queue(DeliveryQueue),
		asynq.TaskID("dispatch:"+rec.ID.String()),
		asynq.Retention(24*time.Hour),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

func (d *DispatchRelay) retryOrFail(ctx context.Context, rec outbox.Record, cause error) {
	msg := cause.Error()
	if rec.Attempts >= outbox.MaxAttempts {
		if err := d.repo.MarkFailed(ctx, rec.ID, msg); err != nil {
			d.log.Warn("outbox mark failed failed", "outbox_id", rec.ID, "error", err)
		}
		d.log.Error("outbox message gave up", "outbox_id", rec.ID, "attempts", rec.Attempts, "error", cause)
		return
	}
	backoff := time.Duration(rec.Attempts*rec.Attempts) * relayBaseBackoff
	if err := d.repo.MarkPending(ctx, rec.ID, msg, backoff); err != nil {
		d.log.Warn("outbox mark pending failed", "outbox_id", rec.ID, "error", err)
	}
}
