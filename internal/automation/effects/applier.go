// Package effects commits the effects produced by the engine to the lead store.
package effects

import (
	"context"
	"fmt"
	"time"

	"pipeline_backend/internal/automation/domain"
	"pipeline_backend/internal/automation/repository"
	"pipeline_backend/internal/notification/inapp"
	"pipeline_backend/internal/notification/outbox"
	"pipeline_backend/platform/db"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Applier writes a batch of effects in one transaction: either all of them
// land or none do.
type Applier struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewApplier(pool *pgxpool.Pool) *Applier {
	return &Applier{pool: pool, now: time.Now}
}

func (a *Applier) Apply(ctx context.Context, batch []domain.Effect) error {
	if len(batch) == 0 {
		return nil
	}
	if a == nil || a.pool == nil {
		return fmt.Errorf("effects applier not configured")
	}
	return db.WithTx(ctx, a.pool, func(tx pgx.Tx) error {
		return ApplyAll(ctx, tx, batch, a.now())
	})
}

// ApplyAll writes effects in order on q and stops at the first failure.
func ApplyAll(ctx context.Context, q db.Querier, batch []domain.Effect, now time.Time) error {
	for _, effect := range batch {
		if err := applyOne(ctx, q, effect, now); err != nil {
			return fmt.Errorf("%s effect for lead %s: %w", effect.Kind(), effect.Lead(), err)
		}
	}
	return nil
}

func applyOne(ctx context.Context, q db.Querier, effect domain.Effect, now time.Time) error {
	switch e := effect.(type) {
	case domain.StageChangeEffect:
		return repository.MoveStage(ctx, q, e)
	case domain.TaskEffect:
		return repository.InsertTask(ctx, q, e)
	case domain.NotificationEffect:
		_, err := inapp.Create(ctx, q, e)
		return err
	case domain.TagEffect:
		return repository.AddTag(ctx, q, e)
	case domain.TemperatureEffect:
		return repository.SetTemperature(ctx, q, e)
	case domain.HistoryEffect:
		return repository.InsertHistory(ctx, q, e)
	case domain.AssignmentEffect:
		return repository.Assign(ctx, q, e)
	case domain.DispatchEffect:
		_, err := outbox.Insert(ctx, q, e, now)
		return err
	case domain.QualificationEffect:
		return repository.SetQualification(ctx, q, e)
	case domain.LedgerEffect:
		return repository.AppendExecution(ctx, q, e.Record, now)
	default:
		return fmt.Errorf("unsupported effect %T", effect)
	}
}
