package scheduler

import (
	"context"
	"fmt"
	"time"

	"pipeline_backend/internal/automation/domain"
	"pipeline_backend/internal/automation/ports"
	"pipeline_backend/internal/events"
	"pipeline_backend/platform/apperr"
	"pipeline_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// dueAtTolerance absorbs the precision lost when the due time round-trips
// through Postgres.
const dueAtTolerance = time.Second

// FirstContactSubscriber schedules a first-contact check for every assignment.
type FirstContactSubscriber struct {
	scheduler FirstContactScheduler
	log       *logger.Logger
}

func NewFirstContactSubscriber(scheduler FirstContactScheduler, log *logger.Logger) *FirstContactSubscriber {
	return &FirstContactSubscriber{scheduler: scheduler, log: log}
}

// Register subscribes to lead assignments on bus.
func (s *FirstContactSubscriber) Register(bus events.Bus) {
	bus.Subscribe(events.LeadAssigned{}.EventName(), s)
}

func (s *FirstContactSubscriber) Handle(ctx context.Context, event events.Event) error {
	assigned, ok := event.(events.LeadAssigned)
	if !ok || s.scheduler == nil || assigned.FirstContactDueAt.IsZero() {
		return nil
	}

	payload := FirstContactCheckPayload{
		LeadID:  assigned.LeadID.String(),
		AgentID: assigned.AgentID.String(),
		DueAt:   assigned.FirstContactDueAt,
	}
	if err := s.scheduler.ScheduleFirstContactCheck(ctx, payload, assigned.FirstContactDueAt); err != nil {
		return fmt.Errorf("schedule first contact check: %w", err)
	}
	s.log.Debug("first contact check scheduled", "lead_id", payload.LeadID, "due_at", payload.DueAt)
	return nil
}

// FirstContactChecker notifies the assigned agent once when a lead passes its
// first-contact due time without being contacted.
type FirstContactChecker struct {
	leads   ports.LeadReader
	alerts  ports.AlertLookup
	applier ports.EffectApplier
	log     *logger.Logger
	now     func() time.Time
}

func NewFirstContactChecker(leads ports.LeadReader, alerts ports.AlertLookup, applier ports.EffectApplier, log *logger.Logger) *FirstContactChecker {
	return &FirstContactChecker{leads: leads, alerts: alerts, applier: applier, log: log, now: time.Now}
}

// Check returns nil whenever there is nothing to do. Malformed payloads are
// not retried.
func (c *FirstContactChecker) Check(ctx context.Context, payload FirstContactCheckPayload) error {
	leadID, err := uuid.Parse(payload.LeadID)
	if err != nil {
		return fmt.Errorf("first contact check lead id: %v: %w", err, asynq.SkipRetry)
	}
	agentID, err := uuid.Parse(payload.AgentID)
	if err != nil {
		return fmt.Errorf("first contact check agent id: %v: %w", err, asynq.SkipRetry)
	}

	lead, err := c.leads.GetLead(ctx, leadID)
	if err != nil {
		if apperr.GetKind(err) == apperr.KindNotFound {
			return nil
		}
		return err
	}
	if !c.stillOverdue(lead, agentID, payload.DueAt) {
		return nil
	}

	alerted, err := c.alerts.RecentAlerts(ctx, []uuid.UUID{lead.ID}, []string{domain.AlertFirstContactOverdue}, payload.DueAt)
	if err != nil {
		return err
	}
	if alerted[lead.ID][domain.AlertFirstContactOverdue] {
		return nil
	}

	overdue := c.now().Sub(payload.DueAt).Round(time.Minute)
	name := lead.FullName()
	if name == "" {
		name = "Lead " + lead.ID.String()[:8]
	}
	err = c.applier.Apply(ctx, []domain.Effect{
		domain.NotificationEffect{
			LeadID:           lead.ID,
			RecipientAgentID: agentID,
			AlertType:        domain.AlertFirstContactOverdue,
			Title:            "First contact overdue",
			Content:          fmt.Sprintf("%s has not been contacted yet (due %s ago).", name, overdue),
			Category:         "warning",
		},
		domain.HistoryEffect{
			LeadID:    lead.ID,
			EventType: domain.AlertFirstContactOverdue,
			Summary:   "First contact due time passed without contact",
			Actor:     domain.ActorDistribution,
			Metadata:  map[string]any{"agentId": agentID.String(), "dueAt": payload.DueAt.UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		return err
	}
	c.log.WithContext(ctx).Info("first contact overdue", "lead_id", lead.ID, "agent_id", agentID)
	return nil
}

func (c *FirstContactChecker) stillOverdue(lead domain.Lead, agentID uuid.UUID, dueAt time.Time) bool {
	if lead.IsTerminal() {
		return false
	}
	if lead.AssignedAgentID == nil || *lead.AssignedAgentID != agentID {
		return false
	}
	// A newer assignment carries its own check.
	if lead.FirstContactDueAt != nil {
		if diff := lead.FirstContactDueAt.Sub(dueAt); diff > dueAtTolerance || diff < -dueAtTolerance {
			return false
		}
	}
	if lead.LastContactAt != nil && (lead.AssignedAt == nil || !lead.LastContactAt.Before(*lead.AssignedAt)) {
		return false
	}
	return !c.now().Add(dueAtTolerance).Before(dueAt)
}
