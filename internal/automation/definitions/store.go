package definitions

import (
	"context"

	"pipeline_backend/internal/automation/domain"
	"pipeline_backend/internal/automation/repository"
	"pipeline_backend/platform/db"

	"github.com/google/uuid"
)

// QuerierStore writes definitions through q, typically a transaction.
type QuerierStore struct {
	q db.Querier
}

func NewQuerierStore(q db.Querier) QuerierStore {
	return QuerierStore{q: q}
}

func (s QuerierStore) ResolvePipeline(ctx context.Context, name string) (uuid.UUID, error) {
	return repository.ResolvePipeline(ctx, s.q, name)
}

func (s QuerierStore) ResolveStage(ctx context.Context, pipelineID uuid.UUID, name string) (uuid.UUID, error) {
	return repository.ResolveStage(ctx, s.q, pipelineID, name)
}

func (s QuerierStore) UpsertTemplate(ctx context.Context, tpl domain.MessageTemplate) (uuid.UUID, error) {
	return repository.UpsertTemplate(ctx, s.q, tpl)
}

func (s QuerierStore) UpsertCadence(ctx context.Context, cadence domain.Cadence) (uuid.UUID, error) {
	return repository.UpsertCadence(ctx, s.q, cadence)
}

func (s QuerierStore) UpsertRule(ctx context.Context, rule domain.AutomationRule) (uuid.UUID, error) {
	return repository.UpsertRule(ctx, s.q, rule)
}

func (s QuerierStore) UpsertSLAConfig(ctx context.Context, cfg domain.SLAConfig) (uuid.UUID, error) {
	return repository.UpsertSLAConfig(ctx, s.q, cfg)
}
