package repository

import (
	"context"

	"pipeline_backend/internal/automation/domain"
	"pipeline_backend/platform/apperr"
	"pipeline_backend/platform/db"

	"github.com/google/uuid"
)

const (
	opListActiveCadences = "automation.repository.list_active_cadences"
	opGetCadence         = "automation.repository.get_cadence"
	opGetTemplates       = "automation.repository.get_templates"
	opUpsertCadence      = "automation.repository.upsert_cadence"
	opUpsertTemplate     = "automation.repository.upsert_template"
)

// ListActiveCadences returns active cadences with their steps in position order.
func (r *Repository) ListActiveCadences(ctx context.Context, cadenceID *uuid.UUID) ([]domain.Cadence, error) {
	if err := r.ready(opListActiveCadences); err != nil {
		return nil, err
	}
	return r.loadCadences(ctx, opListActiveCadences, `WHERE c.is_active AND ($1::uuid IS NULL OR c.id = $1)`, cadenceID)
}

// GetCadence returns one cadence regardless of its active flag.
func (r *Repository) GetCadence(ctx context.Context, id uuid.UUID) (domain.Cadence, error) {
	if err := r.ready(opGetCadence); err != nil {
		return domain.Cadence{}, err
	}
	cadences, err := r.loadCadences(ctx, opGetCadence, `WHERE c.id = $1`, id)
	if err != nil {
		return domain.Cadence{}, err
	}
	if len(cadences) == 0 {
		return domain.Cadence{}, apperr.NotFound("cadence not found").WithOp(opGetCadence)
	}
	return cadences[0], nil
}

func (r *Repository) loadCadences(ctx context.Context, op, where string, arg any) ([]domain.Cadence, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT c.id, c.name, c.pipeline_id, c.stage_id, c.is_active,
		       s.id, s.position, s.day_offset, s.channel, s.template_id, s.body
		FROM cadences c
		LEFT JOIN cadence_steps s ON s.cadence_id = c.id
		`+where+`
		ORDER BY c.name, s.position, s.day_offset`, arg)
	if err != nil {
		return nil, apperr.Upstream("list cadences failed", err).WithOp(op)
	}
	defer rows.Close()

	var cadences []domain.Cadence
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var cadence domain.Cadence
		var stepID *uuid.UUID
		var position, dayOffset *int
		var channel, body *string
		var templateID *uuid.UUID
		if scanErr := rows.Scan(&cadence.ID, &cadence.Name, &cadence.PipelineID, &cadence.StageID, &cadence.Active,
			&stepID, &position, &dayOffset, &channel, &templateID, &body); scanErr != nil {
			return nil, apperr.Upstream("scan cadence failed", scanErr).WithOp(op)
		}

		i, ok := index[cadence.ID]
		if !ok {
			cadences = append(cadences, cadence)
			i = len(cadences) - 1
			index[cadence.ID] = i
		}
		if stepID == nil {
			continue
		}
		cadences[i].Steps = append(cadences[i].Steps, domain.CadenceStep{
			ID:         *stepID,
			Position:   *position,
			DayOffset:  *dayOffset,
			Channel:    domain.Channel(*channel),
			TemplateID: templateID,
			Body:       *body,
		})
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, apperr.Upstream("iterate cadences failed", rowsErr).WithOp(op)
	}
	return cadences, nil
}

func (r *Repository) GetTemplates(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.MessageTemplate, error) {
	if err := r.ready(opGetTemplates); err != nil {
		return nil, err
	}
	templates := make(map[uuid.UUID]domain.MessageTemplate, len(ids))
	if len(ids) == 0 {
		return templates, nil
	}

	rows, err := r.pool.Query(ctx, `SELECT id, name, channel, body FROM message_templates WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, apperr.Upstream("list templates failed", err).WithOp(opGetTemplates)
	}
	defer rows.Close()

	for rows.Next() {
		var tpl domain.MessageTemplate
		var channel string
		if scanErr := rows.Scan(&tpl.ID, &tpl.Name, &channel, &tpl.Body); scanErr != nil {
			return nil, apperr.Upstream("scan template failed", scanErr).WithOp(opGetTemplates)
		}
		tpl.Channel = domain.Channel(channel)
		templates[tpl.ID] = tpl
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, apperr.Upstream("iterate templates failed", rowsErr).WithOp(opGetTemplates)
	}
	return templates, nil
}

// UpsertTemplate writes a message template keyed by name.
func UpsertTemplate(ctx context.Context, q db.Querier, tpl domain.MessageTemplate) (uuid.UUID, error) {
	var id uuid.UUID
	err := q.QueryRow(ctx, `
		INSERT INTO message_templates (name, channel, body)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET channel = EXCLUDED.channel, body = EXCLUDED.body
		RETURNING id`, tpl.Name, string(tpl.Channel), tpl.Body).Scan(&id)
	if err != nil {
		return uuid.Nil, apperr.Upstream("upsert template failed", err).WithOp(opUpsertTemplate)
	}
	return id, nil
}

// UpsertCadence writes a cadence keyed by name and replaces its steps.
func UpsertCadence(ctx context.Context, q db.Querier, cadence domain.Cadence) (uuid.UUID, error) {
	if err := cadence.Validate(); err != nil {
		return uuid.Nil, apperr.Validation(err.Error()).WithOp(opUpsertCadence)
	}

	var id uuid.UUID
	err := q.QueryRow(ctx, `
		INSERT INTO cadences (name, pipeline_id, stage_id, is_active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET
			pipeline_id = EXCLUDED.pipeline_id,
			stage_id = EXCLUDED.stage_id,
			is_active = EXCLUDED.is_active
		RETURNING id`, cadence.Name, cadence.PipelineID, cadence.StageID, cadence.Active).Scan(&id)
	if err != nil {
		return uuid.Nil, apperr.Upstream("upsert cadence failed", err).WithOp(opUpsertCadence)
	}

	if _, err := q.Exec(ctx, `DELETE FROM cadence_steps WHERE cadence_id = $1`, id); err != nil {
		return uuid.Nil, apperr.Upstream("clear cadence steps failed", err).WithOp(opUpsertCadence)
	}
	for _, step := range cadence.Steps {
		if _, err := q.Exec(ctx, `
			INSERT INTO cadence_steps (cadence_id, position, day_offset, channel, template_id, body)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			id, step.Position, step.DayOffset, string(step.Channel), step.TemplateID, step.Body); err != nil {
			return uuid.Nil, apperr.Upstream("insert cadence step failed", err).WithOp(opUpsertCadence)
		}
	}
	return id, nil
}
