package sla

import (
	"context"
	"fmt"
	"time"

	"pipeline_backend/internal/automation/domain"
	"pipeline_backend/internal/automation/ports"
	"pipeline_backend/platform/apperr"
	"pipeline_backend/platform/logger"

	"github.com/google/uuid"
)

const opRun = "sla.Monitor.Run"

// Alert is one alert type raised for a lead on this tick.
type Alert struct {
	LeadID    uuid.UUID
	AlertType string
	Tier      domain.Tier
	Hours     float64
	Threshold float64
}

// Escalates reports whether the escalation group must be notified too.
func (a Alert) Escalates() bool {
	return a.Tier == domain.TierCritical
}

// Plan lists the alerts a lead qualifies for, before dedupe.
func Plan(lead domain.Lead, cfg *domain.SLAConfig, staleAfter time.Duration, now time.Time) []Alert {
	if lead.IsTerminal() {
		return nil
	}
	var alerts []Alert
	if cfg != nil {
		hours := AdjustedHours(ElapsedHours(lead, now), cfg.BusinessHoursOnly)
		if tier := TierFor(hours, *cfg); tier != domain.TierNone {
			alerts = append(alerts, Alert{LeadID: lead.ID, AlertType: tier.AlertType(), Tier: tier, Hours: hours, Threshold: threshold(tier, *cfg)})
		}
	}
	if IsStale(lead, staleAfter, now) {
		since := lead.CreatedAt
		if lead.LastContactAt != nil {
			since = *lead.LastContactAt
		}
		alerts = append(alerts, Alert{LeadID: lead.ID, AlertType: domain.AlertStaleLead, Hours: now.Sub(since).Hours(), Threshold: staleAfter.Hours()})
	}
	return alerts
}

func threshold(tier domain.Tier, cfg domain.SLAConfig) float64 {
	switch tier {
	case domain.TierCritical:
		return cfg.CriticalHours
	case domain.TierBreach:
		return cfg.MaxHours
	case domain.TierWarning:
		return cfg.WarningHours
	}
	return 0
}

// Notifications turns an alert into notification effects: the assigned agent
// always, plus the escalation group for critical alerts.
func Notifications(alert Alert, lead domain.Lead, escalation []domain.Agent) []domain.Effect {
	title, content := describe(alert, lead)
	recipients := make([]uuid.UUID, 0, 1+len(escalation))
	if lead.AssignedAgentID != nil {
		recipients = append(recipients, *lead.AssignedAgentID)
	}
	if alert.Escalates() {
		for _, agent := range escalation {
			if !containsID(recipients, agent.ID) {
				recipients = append(recipients, agent.ID)
			}
		}
	}

	effects := make([]domain.Effect, 0, len(recipients))
	for _, recipient := range recipients {
		effects = append(effects, domain.NotificationEffect{
			LeadID:           lead.ID,
			RecipientAgentID: recipient,
			AlertType:        alert.AlertType,
			Title:            title,
			Content:          content,
			Category:         "sla",
		})
	}
	return effects
}

func describe(alert Alert, lead domain.Lead) (string, string) {
	name := lead.FullName()
	if name == "" {
		name = lead.ID.String()
	}
	if alert.AlertType == domain.AlertStaleLead {
		return fmt.Sprintf("Stale lead: %s", name),
			fmt.Sprintf("%s has not been contacted for %.0f hours.", name, alert.Hours)
	}
	return fmt.Sprintf("SLA %s: %s", alert.Tier, name),
		fmt.Sprintf("%s has been in %s for %.1f hours (limit %.0f).", name, lead.StageName, alert.Hours, alert.Threshold)
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}

// Options scopes one SLA check.
type Options struct {
	PipelineID *uuid.UUID
	LeadID     *uuid.UUID
	Limit      int
	// MaxPages bounds how many pages of Limit overdue leads one run reads.
	MaxPages int
	DryRun   bool
}

// Monitor runs the SLA check over a bounded batch of open leads.
type Monitor struct {
	leads      ports.LeadReader
	agents     ports.AgentReader
	configs    ports.SLAConfigStore
	alerts     ports.AlertLookup
	applier    ports.EffectApplier
	cooldown   time.Duration
	staleAfter time.Duration
	log        *logger.Logger
	now        func() time.Time
}

// NewMonitor wires the SLA monitor. cooldown suppresses repeat alerts of the same
// type per lead; staleAfter is the no-contact threshold for stale lead alerts.
func NewMonitor(leads ports.LeadReader, agents ports.AgentReader, configs ports.SLAConfigStore, alerts ports.AlertLookup, applier ports.EffectApplier, cooldown, staleAfter time.Duration, log *logger.Logger) *Monitor {
	return &Monitor{
		leads:      leads,
		agents:     agents,
		configs:    configs,
		alerts:     alerts,
		applier:    applier,
		cooldown:   cooldown,
		staleAfter: staleAfter,
		log:        log,
		now:        time.Now,
	}
}

// WithClock overrides the time source.
func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.now = now
	return m
}

// Run classifies every overdue lead and notifies new alerts. Only leads past
// the smallest SLA threshold or the stale horizon are read.
func (m *Monitor) Run(ctx context.Context, opts Options) (*domain.RunReport, error) {
	now := m.now()
	report := domain.NewRunReport("sla", opts.DryRun, now)

	configs, err := m.configs.ListSLAConfigs(ctx)
	if err != nil {
		return nil, apperr.Upstream("failed to load sla configs", err).WithOp(opRun)
	}

	if opts.LeadID != nil {
		lead, err := m.leads.GetLead(ctx, *opts.LeadID)
		if err != nil {
			return nil, err
		}
		if err := m.check(ctx, []domain.Lead{lead}, configs, opts.DryRun, report, now); err != nil {
			return nil, err
		}
		return report.Finish(m.now()), nil
	}

	window := OverdueWindow(configs, m.staleAfter, now)
	if window == nil {
		return report.Finish(m.now()), nil
	}
	more, err := ports.EachPage(ctx, m.leads, ports.LeadFilter{PipelineID: opts.PipelineID, Overdue: window, Limit: opts.Limit}, opts.MaxPages, func(leads []domain.Lead) error {
		return m.check(ctx, leads, configs, opts.DryRun, report, now)
	})
	if err != nil {
		return nil, err
	}
	if more {
		report.Detail("truncated", true)
	}
	return report.Finish(m.now()), nil
}

// OverdueWindow bounds the leads that can raise any alert: stage entry older
// than the smallest configured threshold, or no contact within staleAfter. It
// is nil when neither check is enabled. Business hours only shrink elapsed
// time, so wall clock hours are a safe bound.
func OverdueWindow(configs []domain.SLAConfig, staleAfter time.Duration, now time.Time) *ports.OverdueWindow {
	var window ports.OverdueWindow
	smallest := 0.0
	for _, cfg := range configs {
		for _, hours := range []float64{cfg.WarningHours, cfg.MaxHours, cfg.CriticalHours} {
			if hours > 0 && (smallest == 0 || hours < smallest) {
				smallest = hours
			}
		}
	}
	if smallest > 0 {
		before := now.Add(-time.Duration(smallest * float64(time.Hour)))
		window.StageEnteredBefore = &before
	}
	if staleAfter > 0 {
		before := now.Add(-staleAfter)
		window.ContactBefore = &before
	}
	if window.StageEnteredBefore == nil && window.ContactBefore == nil {
		return nil
	}
	return &window
}

// check plans, dedupes and raises the alerts of one page of leads.
func (m *Monitor) check(ctx context.Context, leads []domain.Lead, configs []domain.SLAConfig, dryRun bool, report *domain.RunReport, now time.Time) error {
	var err error
	planned := make(map[uuid.UUID][]Alert, len(leads))
	alertTypes := map[string]struct{}{}
	var ids []uuid.UUID
	var teams []uuid.UUID
	for _, lead := range leads {
		if lead.IsTerminal() {
			continue
		}
		var cfg *domain.SLAConfig
		if resolved, ok := domain.ResolveSLA(configs, lead); ok {
			cfg = &resolved
		}
		alerts := Plan(lead, cfg, m.staleAfter, now)
		if len(alerts) == 0 {
			continue
		}
		planned[lead.ID] = alerts
		ids = append(ids, lead.ID)
		for _, alert := range alerts {
			alertTypes[alert.AlertType] = struct{}{}
			if alert.Escalates() && lead.TeamID != nil && !containsID(teams, *lead.TeamID) {
				teams = append(teams, *lead.TeamID)
			}
		}
	}

	recent := map[uuid.UUID]map[string]bool{}
	if len(ids) > 0 {
		recent, err = m.alerts.RecentAlerts(ctx, ids, keys(alertTypes), now.Add(-m.cooldown))
		if err != nil {
			return apperr.Upstream("failed to read recent alerts", err).WithOp(opRun)
		}
	}
	escalation := map[uuid.UUID][]domain.Agent{}
	if len(teams) > 0 {
		escalation, err = m.agents.ListEscalationAgents(ctx, teams)
		if err != nil {
			return apperr.Upstream("failed to load escalation agents", err).WithOp(opRun)
		}
	}

	for _, lead := range leads {
		if err := ctx.Err(); err != nil {
			return err
		}
		alerts := planned[lead.ID]
		if len(alerts) == 0 {
			report.Skip()
			continue
		}

		var effects []domain.Effect
		for _, alert := range alerts {
			if recent[lead.ID][alert.AlertType] {
				report.Add("suppressed", 1)
				continue
			}
			var group []domain.Agent
			if lead.TeamID != nil {
				group = escalation[*lead.TeamID]
			}
			notes := Notifications(alert, lead, group)
			if len(notes) == 0 {
				report.Add("unrouted", 1)
				continue
			}
			report.Add(alert.AlertType, 1)
			effects = append(effects, notes...)
			if alert.Escalates() {
				effects = append(effects, domain.HistoryEffect{
					LeadID:    lead.ID,
					EventType: "sla_escalation",
					ToValue:   alert.Tier.String(),
					Summary:   fmt.Sprintf("Critical SLA after %.1f hours in %s", alert.Hours, lead.StageName),
					Actor:     domain.ActorSLA,
				})
			}
		}

		if len(effects) == 0 {
			report.Skip()
			continue
		}
		if dryRun {
			report.Succeed()
			continue
		}
		if err := m.applier.Apply(ctx, effects); err != nil {
			m.log.Warn("failed to raise sla alerts", "lead_id", lead.ID, "error", err)
			leadID := lead.ID
			report.Fail(&leadID, nil, err)
			continue
		}
		report.Succeed()
	}

	return nil
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	return out
}
