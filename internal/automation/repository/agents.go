package repository

import (
	"context"

	"pipeline_backend/internal/automation/domain"
	"pipeline_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	opListEligibleAgents   = "automation.repository.list_eligible_agents"
	opActiveLoads          = "automation.repository.active_loads"
	opListEscalationAgents = "automation.repository.list_escalation_agents"
)

func scanAgents(rows pgx.Rows, op string) ([]domain.Agent, error) {
	defer rows.Close()

	var agents []domain.Agent
	for rows.Next() {
		var agent domain.Agent
		var role string
		if err := rows.Scan(&agent.ID, &agent.TeamID, &agent.Name, &role, &agent.Active, &agent.AcceptsLeads); err != nil {
			return nil, apperr.Upstream("scan agent failed", err).WithOp(op)
		}
		agent.Role = domain.AgentRole(role)
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Upstream("iterate agents failed", err).WithOp(op)
	}
	return agents, nil
}

func (r *Repository) ListEligibleAgents(ctx context.Context, teamID *uuid.UUID) ([]domain.Agent, error) {
	if err := r.ready(opListEligibleAgents); err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, team_id, name, role, is_active, accepts_leads
		FROM agents
		WHERE is_active AND accepts_leads AND ($1::uuid IS NULL OR team_id = $1)
		ORDER BY team_id, id`, teamID)
	if err != nil {
		return nil, apperr.Upstream("list agents failed", err).WithOp(opListEligibleAgents)
	}
	return scanAgents(rows, opListEligibleAgents)
}

// ActiveLoads counts open leads per agent. Agents without leads are reported as zero.
func (r *Repository) ActiveLoads(ctx context.Context, agentIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	if err := r.ready(opActiveLoads); err != nil {
		return nil, err
	}
	loads := make(map[uuid.UUID]int, len(agentIDs))
	for _, id := range agentIDs {
		loads[id] = 0
	}
	if len(agentIDs) == 0 {
		return loads, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT assigned_agent_id, COUNT(*)
		FROM leads
		WHERE assigned_agent_id = ANY($1) AND won_at IS NULL AND lost_at IS NULL
		GROUP BY assigned_agent_id`, agentIDs)
	if err != nil {
		return nil, apperr.Upstream("count agent loads failed", err).WithOp(opActiveLoads)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var count int
		if scanErr := rows.Scan(&id, &count); scanErr != nil {
			return nil, apperr.Upstream("scan agent load failed", scanErr).WithOp(opActiveLoads)
		}
		loads[id] = count
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, apperr.Upstream("iterate agent loads failed", rowsErr).WithOp(opActiveLoads)
	}
	return loads, nil
}

func (r *Repository) ListEscalationAgents(ctx context.Context, teamIDs []uuid.UUID) (map[uuid.UUID][]domain.Agent, error) {
	if err := r.ready(opListEscalationAgents); err != nil {
		return nil, err
	}
	result := make(map[uuid.UUID][]domain.Agent)
	if len(teamIDs) == 0 {
		return result, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, team_id, name, role, is_active, accepts_leads
		FROM agents
		WHERE is_active AND role IN ('coordinator', 'manager') AND team_id = ANY($1)
		ORDER BY team_id, id`, teamIDs)
	if err != nil {
		return nil, apperr.Upstream("list escalation agents failed", err).WithOp(opListEscalationAgents)
	}
	agents, err := scanAgents(rows, opListEscalationAgents)
	if err != nil {
		return nil, err
	}
	for _, agent := range agents {
		result[agent.TeamID] = append(result[agent.TeamID], agent)
	}
	return result, nil
}
