// Package outbox stores outbound cadence messages until the scheduler relays
// them to the messaging channel.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pipeline_backend/internal/automation/domain"
	"pipeline_backend/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Status string

const (
	StatusPending        Status = "pending"
	StatusRelayed        Status = "relayed"
	StatusFailed         Status = "failed"
	errRepoNotConfigured        = "outbox repository not configured"
)

// MaxAttempts bounds delivery retries before a message is marked failed.
const MaxAttempts = 5

type Record struct {
	ID         uuid.UUID
	LeadID     uuid.UUID
	Channel    domain.Channel
	Recipient  string
	Body       string
	SourceKind domain.SourceKind
	SourceID   uuid.UUID
	StepKey    string
	RunAt      time.Time
	Status     Status
	Attempts   int
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert enqueues a dispatch inside the caller's transaction.
func Insert(ctx context.Context, q db.Querier, e domain.DispatchEffect, runAt time.Time) (uuid.UUID, error) {
	if e.LeadID == uuid.Nil || e.SourceID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("leadId and sourceId are required")
	}
	if e.Recipient == "" || e.Body == "" {
		return uuid.Nil, fmt.Errorf("recipient and body are required")
	}
	if runAt.IsZero() {
		runAt = time.Now().UTC()
	}

	var id uuid.UUID
	err := q.QueryRow(ctx,
		`INSERT INTO dispatch_outbox (lead_id, channel, recipient, body, source_kind, source_id, step_key, run_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		e.LeadID, string(e.Channel), e.Recipient, e.Body, string(e.SourceKind), e.SourceID, e.StepKey, runAt,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// ClaimPending moves due messages out of pending and returns them. Concurrent
// relays never claim the same row.
func (r *Repository) ClaimPending(ctx context.Context, limit int) ([]Record, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New(errRepoNotConfigured)
	}
	if limit < 1 {
		limit = 50
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `WITH cte AS (
		SELECT id
		FROM dispatch_outbox
		WHERE status = 'pending' AND run_at <= now()
		ORDER BY run_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	)
	UPDATE dispatch_outbox o
	SET status = 'relayed', attempts = o.attempts + 1, updated_at = now()
	FROM cte
	WHERE o.id = cte.id
	RETURNING o.id, o.lead_id, o.channel, o.recipient, o.body, o.source_kind, o.source_id, o.step_key, o.run_at, o.status, o.attempts`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Record
	for rows.Next() {
		var rec Record
		var channel, sourceKind, status string
		if err := rows.Scan(&rec.ID, &rec.LeadID, &channel, &rec.Recipient, &rec.Body, &sourceKind, &rec.SourceID, &rec.StepKey, &rec.RunAt, &status, &rec.Attempts); err != nil {
			return nil, err
		}
		rec.Channel = domain.Channel(channel)
		rec.SourceKind = domain.SourceKind(sourceKind)
		rec.Status = Status(status)
		results = append(results, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return results, nil
}

// MarkPending returns a claimed message to the queue after a failed delivery,
// delayed by backoff.
func (r *Repository) MarkPending(ctx context.Context, id uuid.UUID, lastError string, backoff time.Duration) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE dispatch_outbox
		 SET status = 'pending', last_error = $2, run_at = now() + $3::interval, updated_at = now()
		 WHERE id = $1`,
		id, lastError, fmt.Sprintf("%d milliseconds", backoff.Milliseconds()),
	)
	return err
}

func (r *Repository) MarkRelayed(ctx context.Context, id uuid.UUID) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE dispatch_outbox
		 SET status = 'relayed', last_error = NULL, updated_at = now()
		 WHERE id = $1`,
		id,
	)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE dispatch_outbox
		 SET status = 'failed', last_error = $2, updated_at = now()
		 WHERE id = $1`,
		id, lastError,
	)
	return err
}
