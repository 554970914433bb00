// Package distribution assigns unassigned leads to the least loaded eligible
// agent of the lead's team.
package distribution

import (
	"bytes"
	"sort"

	"pipeline_backend/internal/automation/domain"

	"github.com/google/uuid"
)

// Assignment pairs a lead with the agent chosen for it.
type Assignment struct {
	LeadID  uuid.UUID `json:"lead_id"`
	AgentID uuid.UUID `json:"agent_id"`
	TeamID  uuid.UUID `json:"team_id"`
}

// Skip explains why a lead was left unassigned.
type Skip struct {
	LeadID uuid.UUID `json:"lead_id"`
	Reason string    `json:"reason"`
}

const (
	reasonNoTeam  = "lead pipeline has no team"
	reasonNoAgent = "team has no eligible agent"
)

// Distribute assigns leads in input order. Within a team agents are ordered by
// (load asc, id asc); each lead goes to the head of that order and the agent's
// load is bumped before the next lead is placed, so the cursor walks the
// least loaded tie group round-robin. loads is copied, never mutated.
func Distribute(leads []domain.Lead, agentsByTeam map[uuid.UUID][]domain.Agent, loads map[uuid.UUID]int) ([]Assignment, []Skip, map[uuid.UUID]int) {
	current := make(map[uuid.UUID]int, len(loads))
	for id, load := range loads {
		current[id] = load
	}

	eligible := make(map[uuid.UUID][]domain.Agent, len(agentsByTeam))
	for teamID, agents := range agentsByTeam {
		for _, agent := range agents {
			if agent.Active && agent.AcceptsLeads {
				eligible[teamID] = append(eligible[teamID], agent)
			}
		}
	}

	var assignments []Assignment
	var skips []Skip
	for _, lead := range leads {
		if lead.IsTerminal() || lead.AssignedAgentID != nil {
			continue
		}
		if lead.TeamID == nil {
			skips = append(skips, Skip{LeadID: lead.ID, Reason: reasonNoTeam})
			continue
		}
		agents := eligible[*lead.TeamID]
		if len(agents) == 0 {
			skips = append(skips, Skip{LeadID: lead.ID, Reason: reasonNoAgent})
			continue
		}

		next := leastLoaded(agents, current)
		current[next.ID]++
		assignments = append(assignments, Assignment{LeadID: lead.ID, AgentID: next.ID, TeamID: *lead.TeamID})
	}
	return assignments, skips, current
}

func leastLoaded(agents []domain.Agent, loads map[uuid.UUID]int) domain.Agent {
	sorted := append([]domain.Agent(nil), agents...)
	sort.Slice(sorted, func(i, j int) bool {
		li, lj := loads[sorted[i].ID], loads[sorted[j].ID]
		if li != lj {
			return li < lj
		}
		return bytes.Compare(sorted[i].ID[:], sorted[j].ID[:]) < 0
	})
	return sorted[0]
}
