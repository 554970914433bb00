package repository

import (
	"context"
	"time"

	"pipeline_backend/internal/automation/domain"
	"pipeline_backend/internal/automation/ports"
	"pipeline_backend/platform/apperr"
	"pipeline_backend/platform/db"

	"github.com/google/uuid"
)

const (
	opLatestExecutions = "automation.repository.latest_executions"
	opAppendExecution  = "automation.repository.append_execution"
	opPurgeExecutions  = "automation.repository.purge_executions"
)

// LatestExecutions returns, per lead, the newest completed or partial entry of
// one source and step at or after query.Since. Failed entries never block.
func (r *Repository) LatestExecutions(ctx context.Context, query ports.LedgerQuery) (domain.LedgerSnapshot, error) {
	if err := r.ready(opLatestExecutions); err != nil {
		return nil, err
	}
	snapshot := make(domain.LedgerSnapshot)
	if len(query.LeadIDs) == 0 {
		return snapshot, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT lead_id, MAX(executed_at)
		FROM automation_executions
		WHERE source_kind = $1 AND source_id = $2 AND step_key = $3
		  AND lead_id = ANY($4) AND executed_at >= $5
		  AND status IN ('completed', 'partial')
		GROUP BY lead_id`,
		string(query.SourceKind), query.SourceID, query.StepKey, query.LeadIDs, query.Since)
	if err != nil {
		return nil, apperr.Upstream("load ledger failed", err).WithOp(opLatestExecutions)
	}
	defer rows.Close()

	for rows.Next() {
		var leadID uuid.UUID
		var at time.Time
		if scanErr := rows.Scan(&leadID, &at); scanErr != nil {
			return nil, apperr.Upstream("scan ledger failed", scanErr).WithOp(opLatestExecutions)
		}
		snapshot[leadID] = at
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, apperr.Upstream("iterate ledger failed", rowsErr).WithOp(opLatestExecutions)
	}
	return snapshot, nil
}

// AppendExecution writes one ledger row on q. Rows are never updated.
func AppendExecution(ctx context.Context, q db.Querier, record domain.ExecutionRecord, now time.Time) error {
	result := record.Result
	if len(result) == 0 {
		result = []byte("{}")
	}
	executedAt := record.ExecutedAt
	if executedAt.IsZero() {
		executedAt = now.UTC()
	}

	_, err := q.Exec(ctx, `
		INSERT INTO automation_executions (source_kind, source_id, step_key, lead_id, executed_at, status, result)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(record.SourceKind), record.SourceID, record.StepKey, record.LeadID, executedAt, string(record.Status), []byte(result))
	if err != nil {
		return apperr.Upstream("append ledger entry failed", err).WithOp(opAppendExecution)
	}
	return nil
}

// PurgeBefore deletes ledger rows older than cutoff and reports how many went.
func (r *Repository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := r.ready(opPurgeExecutions); err != nil {
		return 0, err
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM automation_executions WHERE executed_at < $1`, cutoff)
	if err != nil {
		return 0, apperr.Upstream("purge ledger failed", err).WithOp(opPurgeExecutions)
	}
	return tag.RowsAffected(), nil
}
