package distribution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pipeline_backend/internal/automation/domain"
	"pipeline_backend/internal/automation/ports"
	"pipeline_backend/internal/events"
	"pipeline_backend/platform/apperr"
	"pipeline_backend/platform/logger"

	"github.com/google/uuid"
)

const opRun = "distribution.Service.Run"

// Publisher is the slice of the event bus the balancer needs.
type Publisher interface {
	Publish(ctx context.Context, event events.Event)
}

// Options scopes one distribution run.
type Options struct {
	TeamID     *uuid.UUID
	PipelineID *uuid.UUID
	Limit      int
	// MaxPages bounds how many pages of Limit unassigned leads one run reads.
	MaxPages int
	DryRun   bool
}

// Service pulls unassigned leads and agent loads from the store, distributes,
// and applies each assignment.
type Service struct {
	leads             ports.LeadReader
	agents            ports.AgentReader
	applier           ports.EffectApplier
	publisher         Publisher
	firstContactDelay time.Duration
	log               *logger.Logger
	now               func() time.Time
}

// NewService wires the distribution service. firstContactDelay sets the due
// time of the first-contact task created with every assignment.
func NewService(leads ports.LeadReader, agents ports.AgentReader, applier ports.EffectApplier, publisher Publisher, firstContactDelay time.Duration, log *logger.Logger) *Service {
	return &Service{
		leads:             leads,
		agents:            agents,
		applier:           applier,
		publisher:         publisher,
		firstContactDelay: firstContactDelay,
		log:               log,
		now:               time.Now,
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Run distributes unassigned leads of teams that have an eligible agent. Leads
// of teams nobody can take are left out of the query so they never crowd out
// the rest.
func (s *Service) Run(ctx context.Context, opts Options) (*domain.RunReport, error) {
	now := s.now()
	report := domain.NewRunReport("distribution", opts.DryRun, now)

	agents, err := s.agents.ListEligibleAgents(ctx, opts.TeamID)
	if err != nil {
		return nil, apperr.Upstream("failed to load agents", err).WithOp(opRun)
	}

	byTeam := make(map[uuid.UUID][]domain.Agent)
	byID := make(map[uuid.UUID]domain.Agent, len(agents))
	agentIDs := make([]uuid.UUID, 0, len(agents))
	teams := make([]uuid.UUID, 0)
	staffed := make(map[uuid.UUID]bool)
	for _, agent := range agents {
		if agent.Active && agent.AcceptsLeads && !staffed[agent.TeamID] {
			staffed[agent.TeamID] = true
			teams = append(teams, agent.TeamID)
		}
		byTeam[agent.TeamID] = append(byTeam[agent.TeamID], agent)
		byID[agent.ID] = agent
		agentIDs = append(agentIDs, agent.ID)
	}

	applied := make([]Assignment, 0)
	loads := map[uuid.UUID]int{}
	if len(teams) == 0 {
		report.Detail("assignments", applied)
		report.Detail("loads", loads)
		return report.Finish(s.now()), nil
	}

	loads, err = s.agents.ActiveLoads(ctx, agentIDs)
	if err != nil {
		return nil, apperr.Upstream("failed to load agent workloads", err).WithOp(opRun)
	}

	more, err := ports.EachPage(ctx, s.leads, ports.LeadFilter{
		TeamID:     opts.TeamID,
		TeamIDs:    teams,
		PipelineID: opts.PipelineID,
		Unassigned: true,
		Limit:      opts.Limit,
	}, opts.MaxPages, func(leads []domain.Lead) error {
		var assignments []Assignment
		var skips []Skip
		assignments, skips, loads = Distribute(leads, byTeam, loads)
		for _, skip := range skips {
			report.Skip()
			report.Add("skipped_"+skipKey(skip.Reason), 1)
		}
		done, err := s.assign(ctx, leads, assignments, byID, opts.DryRun, report, now)
		applied = append(applied, done...)
		return err
	})
	if err != nil {
		return nil, err
	}
	if more {
		report.Detail("truncated", true)
	}

	report.Detail("assignments", applied)
	report.Detail("loads", loads)
	return report.Finish(s.now()), nil
}

// assign applies the assignments planned for one page and announces each.
func (s *Service) assign(ctx context.Context, leads []domain.Lead, assignments []Assignment, byID map[uuid.UUID]domain.Agent, dryRun bool, report *domain.RunReport, now time.Time) ([]Assignment, error) {
	leadsByID := make(map[uuid.UUID]domain.Lead, len(leads))
	for _, lead := range leads {
		leadsByID[lead.ID] = lead
	}

	applied := make([]Assignment, 0, len(assignments))
	for _, assignment := range assignments {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		lead := leadsByID[assignment.LeadID]
		agent := byID[assignment.AgentID]
		if dryRun {
			applied = append(applied, assignment)
			report.Succeed()
			continue
		}

		effects := AssignmentEffects(lead, agent, now, s.firstContactDelay)
		if err := s.applier.Apply(ctx, effects); err != nil {
			if errors.Is(err, domain.ErrAlreadyAssigned) {
				report.Skip()
				report.Add("skipped_already_assigned", 1)
				continue
			}
			s.log.Warn("failed to assign lead", "lead_id", lead.ID, "agent_id", agent.ID, "error", err)
			leadID := lead.ID
			report.Fail(&leadID, nil, err)
			continue
		}
		applied = append(applied, assignment)
		report.Succeed()

		if s.publisher != nil {
			s.publisher.Publish(ctx, events.LeadAssigned{
				BaseEvent:         events.NewBaseEvent(),
				LeadID:            lead.ID,
				AgentID:           agent.ID,
				TeamID:            assignment.TeamID,
				FirstContactDueAt: now.Add(s.firstContactDelay),
			})
		}
	}
	return applied, nil
}

// AssignmentEffects lists every write that makes up one assignment.
func AssignmentEffects(lead domain.Lead, agent domain.Agent, now time.Time, firstContactDelay time.Duration) []domain.Effect {
	due := now.Add(firstContactDelay)
	agentID := agent.ID
	name := lead.FullName()
	if name == "" {
		name = "New lead"
	}
	return []domain.Effect{
		domain.AssignmentEffect{LeadID: lead.ID, AgentID: agent.ID, AssignedAt: now, FirstContactDueAt: due},
		domain.HistoryEffect{
			LeadID:    lead.ID,
			EventType: "assignment",
			ToValue:   agent.Name,
			Summary:   fmt.Sprintf("Assigned to %s", agent.Name),
			Actor:     domain.ActorDistribution,
			Metadata:  map[string]any{"agent_id": agent.ID.String()},
		},
		domain.NotificationEffect{
			LeadID:           lead.ID,
			RecipientAgentID: agent.ID,
			AlertType:        "lead_assigned",
			Title:            fmt.Sprintf("New lead: %s", name),
			Content:          fmt.Sprintf("%s was assigned to you. Make first contact before %s.", name, due.Format("15:04")),
			Category:         "distribution",
		},
		domain.TaskEffect{
			LeadID:  lead.ID,
			AgentID: &agentID,
			Title:   "First contact",
			DueAt:   due,
			Source:  "distribution",
		},
	}
}

func skipKey(reason string) string {
	switch reason {
	case reasonNoTeam:
		return "no_team"
	case reasonNoAgent:
		return "no_agent"
	}
	return "other"
}
