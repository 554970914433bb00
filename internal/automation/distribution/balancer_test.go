package distribution

import (
	"testing"

	"pipeline_backend/internal/automation/domain"

	"github.com/google/uuid"
)

func teamAgents(teamID uuid.UUID, n int) []domain.Agent {
	agents := make([]domain.Agent, 0, n)
	for i := 0; i < n; i++ {
		agents = append(agents, domain.Agent{ID: uuid.New(), TeamID: teamID, Active: true, AcceptsLeads: true})
	}
	return agents
}

func unassignedLeads(teamID uuid.UUID, n int) []domain.Lead {
	leads := make([]domain.Lead, 0, n)
	for i := 0; i < n; i++ {
		leads = append(leads, domain.Lead{ID: uuid.New(), TeamID: &teamID})
	}
	return leads
}

func TestDistributeKeepsEqualLoadsWithinOne(t *testing.T) {
	for _, tc := range []struct{ agents, leads int }{{2, 1}, {3, 7}, {4, 4}, {5, 23}, {7, 100}} {
		teamID := uuid.New()
		agents := teamAgents(teamID, tc.agents)
		loads := map[uuid.UUID]int{}
		for _, agent := range agents {
			loads[agent.ID] = 2
		}

		assignments, skips, final := Distribute(unassignedLeads(teamID, tc.leads), map[uuid.UUID][]domain.Agent{teamID: agents}, loads)
		if len(assignments) != tc.leads || len(skips) != 0 {
			t.Fatalf("%d agents/%d leads: expected every lead assigned, got %d (skips %d)", tc.agents, tc.leads, len(assignments), len(skips))
		}
		lowest, highest := final[agents[0].ID], final[agents[0].ID]
		for _, agent := range agents {
			load := final[agent.ID]
			if load < lowest {
				lowest = load
			}
			if load > highest {
				highest = load
			}
		}
		if highest-lowest > 1 {
			t.Fatalf("%d agents/%d leads: load spread %d exceeds 1", tc.agents, tc.leads, highest-lowest)
		}
		if loads[agents[0].ID] != 2 {
			t.Fatalf("input loads must not be mutated")
		}
	}
}

func TestDistributePrefersIdleAgent(t *testing.T) {
	teamID := uuid.New()
	agents := teamAgents(teamID, 2)
	idle, busy := agents[0], agents[1]
	loads := map[uuid.UUID]int{idle.ID: 0, busy.ID: 3}

	assignments, _, _ := Distribute(unassignedLeads(teamID, 1), map[uuid.UUID][]domain.Agent{teamID: agents}, loads)
	if len(assignments) != 1 || assignments[0].AgentID != idle.ID {
		t.Fatalf("expected the lead to go to the agent with 0 active leads, got %+v", assignments)
	}
}

func TestDistributeFillsGapBeforeRotating(t *testing.T) {
	teamID := uuid.New()
	agents := teamAgents(teamID, 2)
	loads := map[uuid.UUID]int{agents[0].ID: 0, agents[1].ID: 3}

	_, _, final := Distribute(unassignedLeads(teamID, 5), map[uuid.UUID][]domain.Agent{teamID: agents}, loads)
	if final[agents[0].ID] != 4 || final[agents[1].ID] != 4 {
		t.Fatalf("expected loads 4/4, got %d/%d", final[agents[0].ID], final[agents[1].ID])
	}
}

func TestDistributeSkipsTeamWithoutEligibleAgents(t *testing.T) {
	staffed, empty := uuid.New(), uuid.New()
	paused := domain.Agent{ID: uuid.New(), TeamID: empty, Active: true, AcceptsLeads: false}
	leads := append(unassignedLeads(staffed, 2), unassignedLeads(empty, 3)...)
	agents := map[uuid.UUID][]domain.Agent{staffed: teamAgents(staffed, 1), empty: {paused}}

	assignments, skips, _ := Distribute(leads, agents, nil)
	if len(assignments) != 2 || len(skips) != 3 {
		t.Fatalf("expected 2 assigned and 3 skipped, got %d/%d", len(assignments), len(skips))
	}
	for _, skip := range skips {
		if skip.Reason != reasonNoAgent {
			t.Fatalf("unexpected skip reason %q", skip.Reason)
		}
	}
}

func TestDistributeIgnoresTerminalAndAssignedLeads(t *testing.T) {
	teamID := uuid.New()
	agents := teamAgents(teamID, 1)
	leads := unassignedLeads(teamID, 3)
	won := leads[0].CreatedAt
	leads[0].WonAt = &won
	owner := uuid.New()
	leads[1].AssignedAgentID = &owner

	assignments, _, _ := Distribute(leads, map[uuid.UUID][]domain.Agent{teamID: agents}, nil)
	if len(assignments) != 1 || assignments[0].LeadID != leads[2].ID {
		t.Fatalf("only the open unassigned lead may be assigned, got %+v", assignments)
	}
}
