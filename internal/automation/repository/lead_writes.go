package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"pipeline_backend/internal/automation/domain"
	"pipeline_backend/platform/db"

	"github.com/jackc/pgx/v5/pgconn"
)

// errLeadClosed is returned when a write targets a lead that was won or lost
// after it was read.
var errLeadClosed = errors.New("lead is closed")

// The helpers below run inside the applier's transaction. Every lead update is
// guarded by won_at/lost_at so a lead closed mid-run is never touched.

func MoveStage(ctx context.Context, q db.Querier, e domain.StageChangeEffect) error {
	tag, err := q.Exec(ctx, `
		UPDATE leads
		SET stage_id = $2, stage_entered_at = $3, last_activity_at = $3, updated_at = now()
		WHERE id = $1 AND won_at IS NULL AND lost_at IS NULL`,
		e.LeadID, e.ToStageID, e.EnteredAt)
	return expectOne(tag, err, "move stage")
}

func AddTag(ctx context.Context, q db.Querier, e domain.TagEffect) error {
	tag := strings.TrimSpace(e.Tag)
	if tag == "" {
		return fmt.Errorf("add tag: tag is required")
	}
	result, err := q.Exec(ctx, `
		UPDATE leads
		SET tags = CASE
				WHEN EXISTS (SELECT 1 FROM unnest(tags) t WHERE lower(t) = lower($2)) THEN tags
				ELSE array_append(tags, $2)
			END,
			updated_at = now()
		WHERE id = $1 AND won_at IS NULL AND lost_at IS NULL`,
		e.LeadID, tag)
	return expectOne(result, err, "add tag")
}

func SetTemperature(ctx context.Context, q db.Querier, e domain.TemperatureEffect) error {
	tag, err := q.Exec(ctx, `
		UPDATE leads
		SET temperature = $2, updated_at = now()
		WHERE id = $1 AND won_at IS NULL AND lost_at IS NULL`,
		e.LeadID, string(e.To))
	return expectOne(tag, err, "set temperature")
}

// Assign sets the owner only when the lead is still unassigned, so two
// overlapping distribution runs cannot both claim it.
func Assign(ctx context.Context, q db.Querier, e domain.AssignmentEffect) error {
	tag, err := q.Exec(ctx, `
		UPDATE leads
		SET assigned_agent_id = $2, assigned_at = $3, first_contact_due_at = $4, updated_at = now()
		WHERE id = $1 AND assigned_agent_id IS NULL AND won_at IS NULL AND lost_at IS NULL`,
		e.LeadID, e.AgentID, e.AssignedAt, e.FirstContactDueAt)
	if err != nil {
		return fmt.Errorf("assign lead: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyAssigned
	}
	return nil
}

func SetQualification(ctx context.Context, q db.Querier, e domain.QualificationEffect) error {
	tag, err := q.Exec(ctx, `
		UPDATE leads
		SET ai_score = $2, ai_qualification = $3, ai_scored_at = $4, updated_at = now()
		WHERE id = $1 AND won_at IS NULL AND lost_at IS NULL`,
		e.LeadID, e.Score, e.Qualification, e.ScoredAt)
	return expectOne(tag, err, "set qualification")
}

func InsertHistory(ctx context.Context, q db.Querier, e domain.HistoryEffect) error {
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal history metadata: %w", err)
	}
	actor := e.Actor
	if actor == "" {
		actor = domain.ActorAutomation
	}

	_, err = q.Exec(ctx, `
		INSERT INTO lead_history (lead_id, event_type, from_value, to_value, summary, actor, metadata)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7)`,
		e.LeadID, e.EventType, e.FromValue, e.ToValue, e.Summary, actor, raw)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

func InsertTask(ctx context.Context, q db.Querier, e domain.TaskEffect) error {
	_, err := q.Exec(ctx, `
		INSERT INTO lead_tasks (lead_id, agent_id, title, description, due_at, source)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.LeadID, e.AgentID, e.Title, e.Description, e.DueAt, e.Source)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return fmt.Errorf("insert task: lead or agent no longer exists")
		}
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func expectOne(tag pgconn.CommandTag, err error, what string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", what, errLeadClosed)
	}
	return nil
}
