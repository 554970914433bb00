package repository

import (
	"context"

	"pipeline_backend/platform/db"

	"github.com/google/uuid"
)

const (
	opResolvePipeline = "automation.repository.resolve_pipeline"
	opResolveStage    = "automation.repository.resolve_stage"
)

// ResolvePipeline looks a pipeline up by name.
func ResolvePipeline(ctx context.Context, q db.Querier, name string) (uuid.UUID, error) {
	var id uuid.UUID
	if err := q.QueryRow(ctx, `SELECT id FROM pipelines WHERE name = $1`, name).Scan(&id); err != nil {
		return uuid.Nil, notFoundOr(err, opResolvePipeline, "pipeline "+name)
	}
	return id, nil
}

// ResolveStage looks a stage up by name within a pipeline.
func ResolveStage(ctx context.Context, q db.Querier, pipelineID uuid.UUID, name string) (uuid.UUID, error) {
	var id uuid.UUID
	if err := q.QueryRow(ctx, `SELECT id FROM pipeline_stages WHERE pipeline_id = $1 AND name = $2`, pipelineID, name).Scan(&id); err != nil {
		return uuid.Nil, notFoundOr(err, opResolveStage, "stage "+name)
	}
	return id, nil
}
