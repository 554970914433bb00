package sla

import (
	"context"
	"testing"
	"time"

	"pipeline_backend/internal/automation/domain"
	"pipeline_backend/internal/automation/ports"
	"pipeline_backend/platform/apperr"
	"pipeline_backend/platform/logger"

	"github.com/google/uuid"
)

// fakeLeads returns open leads in input order, honouring the overdue window
// and the limit.
type fakeLeads struct{ leads []domain.Lead }

func (f *fakeLeads) ListOpenLeads(_ context.Context, filter ports.LeadFilter) ([]domain.Lead, error) {
	var out []domain.Lead
	for _, lead := range domain.OpenLeads(f.leads) {
		if filter.Overdue != nil && !pastWindow(lead, *filter.Overdue) {
			continue
		}
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
		out = append(out, lead)
	}
	return out, nil
}

func pastWindow(lead domain.Lead, window ports.OverdueWindow) bool {
	if window.StageEnteredBefore != nil && !lead.StageEntry().After(*window.StageEnteredBefore) {
		return true
	}
	contact := lead.CreatedAt
	if lead.LastContactAt != nil {
		contact = *lead.LastContactAt
	}
	return window.ContactBefore != nil && !contact.After(*window.ContactBefore)
}

func (f *fakeLeads) GetLead(_ context.Context, id uuid.UUID) (domain.Lead, error) {
	for _, lead := range f.leads {
		if lead.ID == id {
			return lead, nil
		}
	}
	return domain.Lead{}, apperr.NotFound("lead not found")
}

type fakeAgents struct{ escalation map[uuid.UUID][]domain.Agent }

func (f fakeAgents) ListEligibleAgents(context.Context, *uuid.UUID) ([]domain.Agent, error) {
	return nil, nil
}

func (f fakeAgents) ActiveLoads(context.Context, []uuid.UUID) (map[uuid.UUID]int, error) {
	return nil, nil
}

func (f fakeAgents) ListEscalationAgents(context.Context, []uuid.UUID) (map[uuid.UUID][]domain.Agent, error) {
	return f.escalation, nil
}

type fakeConfigs []domain.SLAConfig

func (f fakeConfigs) ListSLAConfigs(context.Context) ([]domain.SLAConfig, error) { return f, nil }

// notificationLog plays both the alert lookup and the applier so dedupe sees
// notifications written by earlier runs.
type notificationLog struct {
	sent []sentNotification
}

type sentNotification struct {
	effect domain.NotificationEffect
	at     time.Time
}

func (n *notificationLog) RecentAlerts(_ context.Context, _ []uuid.UUID, _ []string, since time.Time) (map[uuid.UUID]map[string]bool, error) {
	out := map[uuid.UUID]map[string]bool{}
	for _, s := range n.sent {
		if s.at.Before(since) {
			continue
		}
		if out[s.effect.LeadID] == nil {
			out[s.effect.LeadID] = map[string]bool{}
		}
		out[s.effect.LeadID][s.effect.AlertType] = true
	}
	return out, nil
}

type logApplier struct {
	log *notificationLog
	now *time.Time
}

func (a logApplier) Apply(_ context.Context, effects []domain.Effect) error {
	for _, effect := range effects {
		if note, ok := effect.(domain.NotificationEffect); ok {
			a.log.sent = append(a.log.sent, sentNotification{effect: note, at: *a.now})
		}
	}
	return nil
}

func newMonitor(now *time.Time, log *notificationLog, agents fakeAgents, configs fakeConfigs, leads ...domain.Lead) *Monitor {
	return NewMonitor(&fakeLeads{leads: leads}, agents, configs, log, logApplier{log: log, now: now}, 4*time.Hour, 0, logger.Discard()).
		WithClock(func() time.Time { return *now })
}

func pipelineConfig(pipelineID uuid.UUID) fakeConfigs {
	cfg := standardConfig()
	cfg.PipelineID = &pipelineID
	return fakeConfigs{cfg}
}

func TestMonitorBreachIsNotRepeatedWithinCooldown(t *testing.T) {
	agentID := uuid.New()
	lead := leadInStageFor(48)
	lead.ID = uuid.New()
	lead.PipelineID = uuid.New()
	lead.AssignedAgentID = &agentID

	now := testNow
	log := &notificationLog{}
	monitor := newMonitor(&now, log, fakeAgents{}, pipelineConfig(lead.PipelineID), lead)

	if _, err := monitor.Run(context.Background(), Options{}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if len(log.sent) != 1 || log.sent[0].effect.AlertType != "sla_breach" {
		t.Fatalf("expected one breach notification, got %+v", log.sent)
	}

	now = testNow.Add(2 * time.Hour)
	report, err := monitor.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(log.sent) != 1 {
		t.Fatalf("breach notified 2h ago must not be repeated, got %d notifications", len(log.sent))
	}
	if report.Details["suppressed"] != 1 {
		t.Fatalf("expected suppressed counter, got %+v", report.Details)
	}
}

func TestMonitorCriticalEscalatesToCoordinators(t *testing.T) {
	agentID := uuid.New()
	teamID := uuid.New()
	coordinator := domain.Agent{ID: uuid.New(), TeamID: teamID, Role: domain.AgentRoleCoordinator, Active: true}
	lead := leadInStageFor(80)
	lead.ID = uuid.New()
	lead.PipelineID = uuid.New()
	lead.TeamID = &teamID
	lead.AssignedAgentID = &agentID

	now := testNow
	log := &notificationLog{}
	agents := fakeAgents{escalation: map[uuid.UUID][]domain.Agent{teamID: {coordinator}}}
	monitor := newMonitor(&now, log, agents, pipelineConfig(lead.PipelineID), lead)

	if _, err := monitor.Run(context.Background(), Options{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	recipients := map[uuid.UUID]bool{}
	for _, s := range log.sent {
		if s.effect.AlertType != "sla_critical" {
			t.Fatalf("unexpected alert type %s", s.effect.AlertType)
		}
		recipients[s.effect.RecipientAgentID] = true
	}
	if !recipients[agentID] || !recipients[coordinator.ID] || len(recipients) != 2 {
		t.Fatalf("expected agent and coordinator, got %v", recipients)
	}
}

func TestMonitorRaisesStaleLeadIndependently(t *testing.T) {
	agentID := uuid.New()
	lead := leadInStageFor(1)
	lead.ID = uuid.New()
	lead.AssignedAgentID = &agentID
	lead.CreatedAt = testNow.Add(-30 * time.Hour)

	now := testNow
	log := &notificationLog{}
	monitor := NewMonitor(&fakeLeads{leads: []domain.Lead{lead}}, fakeAgents{}, fakeConfigs{}, log, logApplier{log: log, now: &now}, 4*time.Hour, 24*time.Hour, logger.Discard()).
		WithClock(func() time.Time { return now })

	if _, err := monitor.Run(context.Background(), Options{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(log.sent) != 1 || log.sent[0].effect.AlertType != domain.AlertStaleLead {
		t.Fatalf("expected a stale lead alert without any sla config, got %+v", log.sent)
	}
}

func TestMonitorIgnoresTerminalLead(t *testing.T) {
	agentID := uuid.New()
	lead := leadInStageFor(100)
	lead.ID = uuid.New()
	lead.PipelineID = uuid.New()
	lead.AssignedAgentID = &agentID
	lost := testNow.Add(-time.Hour)
	lead.LostAt = &lost

	now := testNow
	log := &notificationLog{}
	monitor := newMonitor(&now, log, fakeAgents{}, pipelineConfig(lead.PipelineID), lead)

	report, err := monitor.Run(context.Background(), Options{LeadID: &lead.ID})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(log.sent) != 0 || report.Skipped != 1 {
		t.Fatalf("terminal lead must not be alerted: %+v", report)
	}
}

func TestMonitorReachesBreachedLeadBehindRecentlyMovedLeads(t *testing.T) {
	pipelineID := uuid.New()
	agentID := uuid.New()
	moved := func() domain.Lead {
		lead := leadInStageFor(1)
		lead.ID = uuid.New()
		lead.PipelineID = pipelineID
		lead.AssignedAgentID = &agentID
		lead.CreatedAt = testNow.Add(-100 * 24 * time.Hour)
		return lead
	}
	breached := leadInStageFor(50)
	breached.ID = uuid.New()
	breached.PipelineID = pipelineID
	breached.AssignedAgentID = &agentID

	now := testNow
	log := &notificationLog{}
	monitor := newMonitor(&now, log, fakeAgents{}, pipelineConfig(pipelineID), moved(), moved(), breached)

	if _, err := monitor.Run(context.Background(), Options{Limit: 2}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(log.sent) != 1 || log.sent[0].effect.LeadID != breached.ID || log.sent[0].effect.AlertType != "sla_breach" {
		t.Fatalf("expected a breach alert for the overdue lead, got %+v", log.sent)
	}
}

func TestOverdueWindowUsesSmallestThreshold(t *testing.T) {
	configs := []domain.SLAConfig{
		{WarningHours: 24, MaxHours: 48},
		{WarningHours: 0, MaxHours: 6, CriticalHours: 12},
	}
	window := OverdueWindow(configs, 24*time.Hour, testNow)
	if window == nil || window.StageEnteredBefore == nil || !window.StageEnteredBefore.Equal(testNow.Add(-6*time.Hour)) {
		t.Fatalf("expected the 6h threshold to bound stage entry, got %+v", window)
	}
	if window.ContactBefore == nil || !window.ContactBefore.Equal(testNow.Add(-24*time.Hour)) {
		t.Fatalf("expected the stale horizon to bound contact, got %+v", window)
	}
	if OverdueWindow(nil, 0, testNow) != nil {
		t.Fatalf("no thresholds and no stale check must read no leads")
	}
}
