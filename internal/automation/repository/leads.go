package repository

import (
	"context"
	"time"

	"pipeline_backend/internal/automation/domain"
	"pipeline_backend/internal/automation/ports"
	"pipeline_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	opListOpenLeads     = "automation.repository.list_open_leads"
	opGetLead           = "automation.repository.get_lead"
	opStageCatalog      = "automation.repository.stage_catalog"
	opInteractionsSince = "automation.repository.interactions_since"
)

const leadColumns = `
	l.id, l.pipeline_id, p.team_id, l.stage_id, s.name, s.category,
	l.assigned_agent_id, COALESCE(a.name, ''), l.temperature, l.tags, l.estimated_value::float8,
	l.first_name, l.last_name, l.phone, l.email,
	l.stage_entered_at, l.last_activity_at, l.last_contact_at, l.assigned_at, l.first_contact_due_at,
	l.created_at, l.won_at, l.lost_at`

const leadFrom = `
	FROM leads l
	JOIN pipelines p ON p.id = l.pipeline_id
	JOIN pipeline_stages s ON s.id = l.stage_id
	LEFT JOIN agents a ON a.id = l.assigned_agent_id`

func scanLead(row pgx.Row) (domain.Lead, error) {
	var lead domain.Lead
	var category, temperature string
	err := row.Scan(
		&lead.ID, &lead.PipelineID, &lead.TeamID, &lead.StageID, &lead.StageName, &category,
		&lead.AssignedAgentID, &lead.AssignedAgentName, &temperature, &lead.Tags, &lead.EstimatedValue,
		&lead.FirstName, &lead.LastName, &lead.Phone, &lead.Email,
		&lead.StageEnteredAt, &lead.LastActivityAt, &lead.LastContactAt, &lead.AssignedAt, &lead.FirstContactDueAt,
		&lead.CreatedAt, &lead.WonAt, &lead.LostAt,
	)
	if err != nil {
		return domain.Lead{}, err
	}
	lead.StageCategory = domain.StageCategory(category)
	lead.Temperature = domain.Temperature(temperature)
	return lead, nil
}

// ListOpenLeads returns a bounded batch of won/lost-free leads in creation
// order. Every predicate of the filter is evaluated in the query so the batch
// holds only leads the calling job can act on.
func (r *Repository) ListOpenLeads(ctx context.Context, filter ports.LeadFilter) ([]domain.Lead, error) {
	if err := r.ready(opListOpenLeads); err != nil {
		return nil, err
	}

	limit := filter.Limit
	if limit < 1 {
		limit = ports.DefaultLeadLimit
	}

	rows, err := r.pool.Query(ctx, `SELECT `+leadColumns+leadFrom+`
		WHERE l.won_at IS NULL AND l.lost_at IS NULL
		  AND ($1::uuid IS NULL OR l.id = $1)
		  AND ($2::uuid IS NULL OR l.pipeline_id = $2)
		  AND ($3::uuid IS NULL OR l.stage_id = $3)
		  AND ($4::uuid IS NULL OR p.team_id = $4)
		  AND (NOT $5 OR l.assigned_agent_id IS NULL)
		  AND ($6::uuid[] IS NULL OR p.team_id = ANY($6))
		  AND ($7::timestamptz IS NULL OR COALESCE(l.stage_entered_at, l.created_at) >= $7)
		  AND ($8::timestamptz IS NULL OR COALESCE(l.stage_entered_at, l.created_at) <= $8)
		  AND ($9::timestamptz IS NULL OR l.last_contact_at IS NULL OR l.last_contact_at <= $9)
		  AND ($10::text IS NULL OR l.temperature = $10)
		  AND (NOT $11 OR COALESCE(l.stage_entered_at, l.created_at) <= $12::timestamptz
		       OR COALESCE(l.last_contact_at, l.created_at) <= $13::timestamptz)
		  AND ($14::text IS NULL OR NOT EXISTS (
		        SELECT 1 FROM automation_executions e
		        WHERE e.lead_id = l.id AND e.source_kind = $14 AND e.source_id = $15::uuid
		          AND e.step_key = $16::text AND e.executed_at >= $17::timestamptz
		          AND e.status IN ('completed', 'partial')))
		  AND ($18::timestamptz IS NULL OR (l.created_at, l.id) > ($18, $19::uuid))
		ORDER BY l.created_at ASC, l.id ASC
		LIMIT $20 OFFSET $21`,
		filterArgs(filter, limit)...,
	)
	if err != nil {
		return nil, apperr.Upstream("list leads failed", err).WithOp(opListOpenLeads)
	}
	defer rows.Close()

	leads := make([]domain.Lead, 0, limit)
	for rows.Next() {
		lead, scanErr := scanLead(rows)
		if scanErr != nil {
			return nil, apperr.Upstream("scan lead failed", scanErr).WithOp(opListOpenLeads)
		}
		leads = append(leads, lead)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, apperr.Upstream("iterate leads failed", rowsErr).WithOp(opListOpenLeads)
	}
	return leads, nil
}

// filterArgs lays the filter out in ListOpenLeads parameter order. Unset
// predicates bind as NULL.
func filterArgs(filter ports.LeadFilter, limit int) []any {
	var temperature *string
	if filter.Temperature != nil {
		value := string(*filter.Temperature)
		temperature = &value
	}

	var overdueStage, overdueContact *time.Time
	if filter.Overdue != nil {
		overdueStage, overdueContact = filter.Overdue.StageEnteredBefore, filter.Overdue.ContactBefore
	}

	var sourceKind, stepKey *string
	var sourceID *uuid.UUID
	var since *time.Time
	if ex := filter.NotExecuted; ex != nil {
		kind := string(ex.SourceKind)
		sourceKind, sourceID, stepKey, since = &kind, &ex.SourceID, &ex.StepKey, &ex.Since
	}

	var afterAt *time.Time
	var afterID *uuid.UUID
	if filter.After != nil {
		afterAt, afterID = &filter.After.CreatedAt, &filter.After.ID
	}

	return []any{
		filter.LeadID, filter.PipelineID, filter.StageID, filter.TeamID, filter.Unassigned,
		filter.TeamIDs, filter.StageEnteredAfter, filter.StageEnteredBefore, filter.ContactBefore, temperature,
		filter.Overdue != nil, overdueStage, overdueContact,
		sourceKind, sourceID, stepKey, since,
		afterAt, afterID,
		limit, filter.Offset,
	}
}

func (r *Repository) GetLead(ctx context.Context, id uuid.UUID) (domain.Lead, error) {
	if err := r.ready(opGetLead); err != nil {
		return domain.Lead{}, err
	}
	lead, err := scanLead(r.pool.QueryRow(ctx, `SELECT `+leadColumns+leadFrom+` WHERE l.id = $1`, id))
	if err != nil {
		return domain.Lead{}, notFoundOr(err, opGetLead, "lead")
	}
	return lead, nil
}

func (r *Repository) StageCatalog(ctx context.Context) (domain.StageCatalog, error) {
	if err := r.ready(opStageCatalog); err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `SELECT id, pipeline_id, name, category FROM pipeline_stages`)
	if err != nil {
		return nil, apperr.Upstream("list stages failed", err).WithOp(opStageCatalog)
	}
	defer rows.Close()

	catalog := make(domain.StageCatalog)
	for rows.Next() {
		var stage domain.Stage
		var category string
		if scanErr := rows.Scan(&stage.ID, &stage.PipelineID, &stage.Name, &category); scanErr != nil {
			return nil, apperr.Upstream("scan stage failed", scanErr).WithOp(opStageCatalog)
		}
		stage.Category = domain.StageCategory(category)
		catalog[stage.ID] = stage
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, apperr.Upstream("iterate stages failed", rowsErr).WithOp(opStageCatalog)
	}
	return catalog, nil
}

func (r *Repository) InteractionsSince(ctx context.Context, leadIDs []uuid.UUID, since time.Time) (map[uuid.UUID][]domain.Interaction, error) {
	if err := r.ready(opInteractionsSince); err != nil {
		return nil, err
	}
	result := make(map[uuid.UUID][]domain.Interaction, len(leadIDs))
	if len(leadIDs) == 0 {
		return result, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT lead_id, kind, direction, sentiment, occurred_at
		FROM lead_interactions
		WHERE lead_id = ANY($1) AND occurred_at >= $2
		ORDER BY occurred_at ASC`, leadIDs, since)
	if err != nil {
		return nil, apperr.Upstream("list interactions failed", err).WithOp(opInteractionsSince)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.Interaction
		var sentiment *string
		if scanErr := rows.Scan(&item.LeadID, &item.Kind, &item.Direction, &sentiment, &item.OccurredAt); scanErr != nil {
			return nil, apperr.Upstream("scan interaction failed", scanErr).WithOp(opInteractionsSince)
		}
		if sentiment != nil {
			value := domain.Sentiment(*sentiment)
			item.Sentiment = &value
		}
		result[item.LeadID] = append(result[item.LeadID], item)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, apperr.Upstream("iterate interactions failed", rowsErr).WithOp(opInteractionsSince)
	}
	return result, nil
}
