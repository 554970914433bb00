package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pipeline_backend/internal/automation/domain"
	"pipeline_backend/internal/automation/ports"
	"pipeline_backend/platform/apperr"
	"pipeline_backend/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	opListActiveRules = "automation.repository.list_active_rules"
	opGetRule         = "automation.repository.get_rule"
	opRecordRuleRun   = "automation.repository.record_rule_run"
	opUpsertRule      = "automation.repository.upsert_rule"
)

const ruleColumns = `id, name, trigger_type, trigger_config, actions, pipeline_id, stage_id,
	is_active, dedupe_window_hours, run_count, last_run_at`

func scanRule(row pgx.Row) (domain.AutomationRule, error) {
	var rule domain.AutomationRule
	var triggerType string
	var triggerConfig, actions []byte
	var windowHours *int
	if err := row.Scan(&rule.ID, &rule.Name, &triggerType, &triggerConfig, &actions, &rule.PipelineID, &rule.StageID,
		&rule.Active, &windowHours, &rule.RunCount, &rule.LastRunAt); err != nil {
		return domain.AutomationRule{}, err
	}

	trigger, err := domain.ParseTrigger(domain.TriggerType(triggerType), triggerConfig)
	if err != nil {
		return domain.AutomationRule{}, fmt.Errorf("rule %q: %w", rule.Name, err)
	}
	rule.Trigger = trigger
	if err := json.Unmarshal(actions, &rule.Actions); err != nil {
		return domain.AutomationRule{}, fmt.Errorf("rule %q actions: %w", rule.Name, err)
	}
	if windowHours != nil && *windowHours > 0 {
		rule.DedupeWindow = time.Duration(*windowHours) * time.Hour
	}
	return rule, nil
}

// ListActiveRules returns active rules, optionally narrowed to one rule or to
// rules that can apply to one pipeline. A stored rule that no longer decodes
// fails the listing so it surfaces instead of silently never firing.
func (r *Repository) ListActiveRules(ctx context.Context, filter ports.RuleFilter) ([]domain.AutomationRule, error) {
	if err := r.ready(opListActiveRules); err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+ruleColumns+`
		FROM automation_rules
		WHERE is_active
		  AND ($1::uuid IS NULL OR id = $1)
		  AND ($2::uuid IS NULL OR pipeline_id IS NULL OR pipeline_id = $2)
		ORDER BY name`, filter.RuleID, filter.PipelineID)
	if err != nil {
		return nil, apperr.Upstream("list rules failed", err).WithOp(opListActiveRules)
	}
	defer rows.Close()

	var rules []domain.AutomationRule
	for rows.Next() {
		rule, scanErr := scanRule(rows)
		if scanErr != nil {
			return nil, apperr.Upstream("decode rule failed", scanErr).WithOp(opListActiveRules)
		}
		rules = append(rules, rule)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, apperr.Upstream("iterate rules failed", rowsErr).WithOp(opListActiveRules)
	}
	return rules, nil
}

func (r *Repository) GetRule(ctx context.Context, id uuid.UUID) (domain.AutomationRule, error) {
	if err := r.ready(opGetRule); err != nil {
		return domain.AutomationRule{}, err
	}
	rule, err := scanRule(r.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM automation_rules WHERE id = $1`, id))
	if err != nil {
		return domain.AutomationRule{}, notFoundOr(err, opGetRule, "rule")
	}
	return rule, nil
}

// RecordRuleRun bumps the rule's run counter. It is the only rule write the
// engine performs.
func (r *Repository) RecordRuleRun(ctx context.Context, id uuid.UUID, runs int, at time.Time) error {
	if err := r.ready(opRecordRuleRun); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE automation_rules
		SET run_count = run_count + $2, last_run_at = $3
		WHERE id = $1`, id, runs, at)
	if err != nil {
		return apperr.Upstream("record rule run failed", err).WithOp(opRecordRuleRun)
	}
	return nil
}

// UpsertRule writes a rule definition keyed by name. Run counters are kept.
func UpsertRule(ctx context.Context, q db.Querier, rule domain.AutomationRule) (uuid.UUID, error) {
	if err := rule.Validate(); err != nil {
		return uuid.Nil, apperr.Validation(err.Error()).WithOp(opUpsertRule)
	}
	config, err := rule.Trigger.ConfigJSON()
	if err != nil {
		return uuid.Nil, apperr.Validation(err.Error()).WithOp(opUpsertRule)
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return uuid.Nil, apperr.Validation(err.Error()).WithOp(opUpsertRule)
	}
	var windowHours *int
	if rule.DedupeWindow > 0 {
		hours := int(rule.DedupeWindow / time.Hour)
		windowHours = &hours
	}

	var id uuid.UUID
	err = q.QueryRow(ctx, `
		INSERT INTO automation_rules (name, trigger_type, trigger_config, actions, pipeline_id, stage_id, is_active, dedupe_window_hours)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (name) DO UPDATE SET
			trigger_type = EXCLUDED.trigger_type,
			trigger_config = EXCLUDED.trigger_config,
			actions = EXCLUDED.actions,
			pipeline_id = EXCLUDED.pipeline_id,
			stage_id = EXCLUDED.stage_id,
			is_active = EXCLUDED.is_active,
			dedupe_window_hours = EXCLUDED.dedupe_window_hours,
			updated_at = now()
		RETURNING id`,
		rule.Name, string(rule.Trigger.Type), config, actions, rule.PipelineID, rule.StageID, rule.Active, windowHours,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, apperr.Upstream("upsert rule failed", err).WithOp(opUpsertRule)
	}
	return id, nil
}
