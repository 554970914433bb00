package temperature

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
	"golang.org/x/sync/errgroup"
)

const (
	opRun = "temperature.Service.Run"

	applyConcurrency = 4
)

// Publisher is the slice of the event bus the classifier needs.
type Publisher interface {
	Publish(ctx context.Context, event events.Event)
}

// Options scopes one temperature run. Pages are Limit leads wide; a run covers
// at most MaxPages pages starting at StartPage.
type Options struct {
	PipelineID *uuid.UUID
	LeadID     *uuid.UUID
	Limit      int
	StartPage  int
	MaxPages   int
	DryRun     bool
}

// Change is a temperature transition reported by a run.
type Change struct {
	LeadID   uuid.UUID          `json:"lead_id"`
	From     domain.Temperature `json:"from"`
	To       domain.Temperature `json:"to"`
	Reason   string             `json:"reason"`
	Crossing string             `json:"crossing,omitempty"`
}

// Service reclassifies open leads page by page.
type Service struct {
	leads        ports.LeadReader
	interactions ports.InteractionReader
	applier      ports.EffectApplier
	publisher    Publisher
	classifier   *Classifier
	log          *logger.Logger
	now          func() time.Time
}

func NewService(leads ports.LeadReader, interactions ports.InteractionReader, applier ports.EffectApplier, publisher Publisher, highValueThreshold float64, log *logger.Logger) *Service {
	return &Service{
		leads:        leads,
		interactions: interactions,
		applier:      applier,
		publisher:    publisher,
		classifier:   NewClassifier(highValueThreshold),
		log:          log,
		now:          time.Now,
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Run classifies up to MaxPages pages and reports the page to resume from.
func (s *Service) Run(ctx context.Context, opts Options) (*domain.RunReport, error) {
	now := s.now()
	report := domain.NewRunReport("temperature", opts.DryRun, now)
	if opts.MaxPages < 1 {
		opts.MaxPages = 1
	}
	if opts.StartPage < 0 {
		opts.StartPage = 0
	}

	var changes []Change
	page := opts.StartPage
	exhausted := false
	for pages := 0; pages < opts.MaxPages; pages++ {
		leads, err := s.page(ctx, opts, page)
		if err != nil {
			return nil, err
		}
		pageChanges, err := s.classifyPage(ctx, report, leads, now, opts.DryRun)
		if err != nil {
			return nil, err
		}
		changes = append(changes, pageChanges...)
		page++
		if opts.LeadID != nil || opts.Limit <= 0 || len(leads) < opts.Limit {
			exhausted = true
			break
		}
	}

	if !exhausted {
		next := page
		report.NextPage = &next
	}
	if changes == nil {
		changes = []Change{}
	}
	report.Detail("changes", changes)
	return report.Finish(s.now()), nil
}

func (s *Service) page(ctx context.Context, opts Options, page int) ([]domain.Lead, error) {
	if opts.LeadID != nil {
		lead, err := s.leads.GetLead(ctx, *opts.LeadID)
		if err != nil {
			return nil, err
		}
		return []domain.Lead{lead}, nil
	}
	leads, err := s.leads.ListOpenLeads(ctx, ports.LeadFilter{
		PipelineID: opts.PipelineID,
		Limit:      opts.Limit,
		Offset:     page * opts.Limit,
	})
	if err != nil {
		return nil, apperr.Upstream("failed to load leads", err).WithOp(opRun)
	}
	return leads, nil
}

type pageOutcome struct {
	lead   domain.Lead
	change *Change
	err    error
}

func (s *Service) classifyPage(ctx context.Context, report *domain.RunReport, leads []domain.Lead, now time.Time, dryRun bool) ([]Change, error) {
	open := make([]domain.Lead, 0, len(leads))
	for _, lead := range leads {
		if lead.IsTerminal() {
			report.Skip()
			continue
		}
		open = append(open, lead)
	}
	if len(open) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(open))
	for _, lead := range open {
		ids = append(ids, lead.ID)
	}
	interactions, err := s.interactions.InteractionsSince(ctx, ids, now.Add(-sentimentWindow))
	if err != nil {
		return nil, apperr.Upstream("failed to load interactions", err).WithOp(opRun)
	}

	outcomes := make([]pageOutcome, len(open))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(applyConcurrency)
	for i, lead := range open {
		g.Go(func() error {
			result := s.classifier.Classify(lead, interactions[lead.ID], now)
			outcome := pageOutcome{lead: lead}
			previous := lead.Temperature
			if previous == "" {
				previous = domain.TemperatureCold
			}
			if result.Temperature != previous {
				change := Change{LeadID: lead.ID, From: previous, To: result.Temperature, Reason: result.Reason, Crossing: Crossing(previous, result.Temperature)}
				outcome.change = &change
				if !dryRun {
					outcome.err = s.applier.Apply(gctx, ChangeEffects(lead, change))
				}
			}
			outcomes[i] = outcome
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var changes []Change
	for _, outcome := range outcomes {
		leadID := outcome.lead.ID
		switch {
		case outcome.err != nil:
			s.log.Warn("failed to update lead temperature", "lead_id", leadID, "error", outcome.err)
			report.Fail(&leadID, nil, outcome.err)
		case outcome.change == nil:
			report.Skip()
		default:
			report.Succeed()
			changes = append(changes, *outcome.change)
			if outcome.change.Crossing != "" {
				report.Add(outcome.change.Crossing, 1)
			}
			if !dryRun && s.publisher != nil {
				s.publisher.Publish(ctx, events.LeadTemperatureChanged{
					BaseEvent: events.NewBaseEvent(),
					LeadID:    leadID,
					From:      string(outcome.change.From),
					To:        string(outcome.change.To),
				})
			}
		}
	}
	return changes, nil
}

// ChangeEffects lists the writes for one temperature change. The agent is only
// notified when the lead heats up to or cools down from hot.
func ChangeEffects(lead domain.Lead, change Change) []domain.Effect {
	effects := []domain.Effect{
		domain.TemperatureEffect{LeadID: lead.ID, From: change.From, To: change.To},
		domain.HistoryEffect{
			LeadID:    lead.ID,
			EventType: "temperature_change",
			FromValue: string(change.From),
			ToValue:   string(change.To),
			Summary:   fmt.Sprintf("Temperature %s -> %s: %s", change.From, change.To, change.Reason),
			Actor:     domain.ActorTemperature,
		},
	}
	if change.Crossing != "" && lead.AssignedAgentID != nil {
		name := lead.FullName()
		if name == "" {
			name = "A lead"
		}
		title := fmt.Sprintf("%s is heating up", name)
		if change.Crossing == "cooled" {
			title = fmt.Sprintf("%s has cooled down", name)
		}
		effects = append(effects, domain.NotificationEffect{
			LeadID:           lead.ID,
			RecipientAgentID: *lead.AssignedAgentID,
			AlertType:        "temperature_" + change.Crossing,
			Title:            title,
			Content:          fmt.Sprintf("Temperature changed from %s to %s (%s).", change.From, change.To, change.Reason),
			Category:         "temperature",
		})
	}
	return effects
}
