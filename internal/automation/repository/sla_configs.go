package repository

import (
	"context"

	"pipeline_backend/internal/automation/domain"
	"pipeline_backend/platform/apperr"
	"pipeline_backend/platform/db"

	"github.com/google/uuid"
)

const (
	opListSLAConfigs = "automation.repository.list_sla_configs"
	opUpsertSLA      = "automation.repository.upsert_sla_config"
)

func (r *Repository) ListSLAConfigs(ctx context.Context) ([]domain.SLAConfig, error) {
	if err := r.ready(opListSLAConfigs); err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, pipeline_id, stage_id, warning_hours::float8, max_hours::float8, critical_hours::float8, business_hours_only
		FROM sla_configs`)
	if err != nil {
		return nil, apperr.Upstream("list sla configs failed", err).WithOp(opListSLAConfigs)
	}
	defer rows.Close()

	var configs []domain.SLAConfig
	for rows.Next() {
		var cfg domain.SLAConfig
		if scanErr := rows.Scan(&cfg.ID, &cfg.PipelineID, &cfg.StageID, &cfg.WarningHours, &cfg.MaxHours, &cfg.CriticalHours, &cfg.BusinessHoursOnly); scanErr != nil {
			return nil, apperr.Upstream("scan sla config failed", scanErr).WithOp(opListSLAConfigs)
		}
		configs = append(configs, cfg)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, apperr.Upstream("iterate sla configs failed", rowsErr).WithOp(opListSLAConfigs)
	}
	return configs, nil
}

// UpsertSLAConfig writes thresholds for one pipeline/stage scope.
func UpsertSLAConfig(ctx context.Context, q db.Querier, cfg domain.SLAConfig) (uuid.UUID, error) {
	if err := cfg.Validate(); err != nil {
		return uuid.Nil, apperr.Validation(err.Error()).WithOp(opUpsertSLA)
	}

	var id uuid.UUID
	err := q.QueryRow(ctx, `
		INSERT INTO sla_configs (pipeline_id, stage_id, warning_hours, max_hours, critical_hours, business_hours_only)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (COALESCE(pipeline_id, '00000000-0000-0000-0000-000000000000'::uuid),
		             COALESCE(stage_id, '00000000-0000-0000-0000-000000000000'::uuid))
		DO UPDATE SET
			warning_hours = EXCLUDED.warning_hours,
			max_hours = EXCLUDED.max_hours,
			critical_hours = EXCLUDED.critical_hours,
			business_hours_only = EXCLUDED.business_hours_only
		RETURNING id`,
		cfg.PipelineID, cfg.StageID, cfg.WarningHours, cfg.MaxHours, cfg.CriticalHours, cfg.BusinessHoursOnly,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, apperr.Upstream("upsert sla config failed", err).WithOp(opUpsertSLA)
	}
	return id, nil
}
