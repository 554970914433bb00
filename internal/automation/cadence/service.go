package cadence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"pipeline_backend/internal/automation/domain"
	"pipeline_backend/internal/automation/ports"
	"pipeline_backend/internal/automation/render"
	"pipeline_backend/platform/apperr"
	"pipeline_backend/platform/logger"
	"pipeline_backend/platform/phone"
	"pipeline_backend/platform/sanitize"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const opRun = "cadence.Service.Run"

// Options scopes one cadence tick.
type Options struct {
	CadenceID *uuid.UUID
	LeadID    *uuid.UUID
	Limit     int
	// MaxPages bounds how many pages of Limit leads each cadence reads.
	MaxPages int
	DryRun   bool
}

// Message is a rendered outbound message.
type Message struct {
	CadenceID uuid.UUID      `json:"cadence_id"`
	StepKey   string         `json:"step"`
	LeadID    uuid.UUID      `json:"lead_id"`
	Channel   domain.Channel `json:"channel"`
	Recipient string         `json:"recipient"`
	Body      string         `json:"body"`
}

// Service ticks every active cadence over a bounded batch of leads.
type Service struct {
	leads    ports.LeadReader
	cadences ports.CadenceStore
	ledger   ports.Ledger
	applier  ports.EffectApplier
	limiter  *rate.Limiter
	region   string
	log      *logger.Logger
	now      func() time.Time
}

// NewService wires the cadence scheduler. Successive dispatch enqueues are
// spaced by dispatchDelay; region is the default for phone numbers without a
// country code.
func NewService(leads ports.LeadReader, cadences ports.CadenceStore, ledger ports.Ledger, applier ports.EffectApplier, dispatchDelay time.Duration, region string, log *logger.Logger) *Service {
	limit := rate.Inf
	if dispatchDelay > 0 {
		limit = rate.Every(dispatchDelay)
	}
	return &Service{
		leads:    leads,
		cadences: cadences,
		ledger:   ledger,
		applier:  applier,
		limiter:  rate.NewLimiter(limit, 1),
		region:   region,
		log:      log,
		now:      time.Now,
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Run fires every due step and enqueues its message for dispatch.
func (s *Service) Run(ctx context.Context, opts Options) (*domain.RunReport, error) {
	now := s.now()
	report := domain.NewRunReport("cadences", opts.DryRun, now)

	cadences, err := s.selectCadences(ctx, opts)
	if err != nil {
		return nil, err
	}
	templates, err := s.cadences.GetTemplates(ctx, templateIDs(cadences))
	if err != nil {
		return nil, apperr.Upstream("failed to load message templates", err).WithOp(opRun)
	}

	var pinned []domain.Lead
	if opts.LeadID != nil {
		lead, err := s.leads.GetLead(ctx, *opts.LeadID)
		if err != nil {
			return nil, err
		}
		pinned = []domain.Lead{lead}
	}

	planned := make([]Message, 0)
	for _, cadence := range cadences {
		if missing := missingTemplate(cadence, templates); missing != nil {
			err := apperr.NotFound(fmt.Sprintf("message template %s not found", missing)).WithOp(opRun)
			if opts.CadenceID != nil {
				return nil, err
			}
			cadenceID := cadence.ID
			report.Fail(nil, &cadenceID, err)
			continue
		}

		tick := func(leads []domain.Lead) error {
			messages, err := s.tick(ctx, cadence, domain.OpenLeads(leads), templates, opts.DryRun, report, now)
			planned = append(planned, messages...)
			return err
		}

		if pinned != nil {
			if err := tick(pinned); err != nil {
				return nil, err
			}
			continue
		}
		more, err := ports.EachPage(ctx, s.leads, ports.LeadFilter{
			PipelineID:        cadence.PipelineID,
			StageID:           cadence.StageID,
			StageEnteredAfter: ptrTime(Horizon(cadence, now)),
			Limit:             opts.Limit,
		}, opts.MaxPages, tick)
		if err != nil {
			return nil, err
		}
		if more {
			report.Add("truncated_cadences", 1)
		}
	}

	if opts.DryRun {
		report.Detail("messages", planned)
	}
	report.Detail("cadences", len(cadences))
	return report.Finish(s.now()), nil
}

// tick fires the due steps of one cadence for one page of leads and returns
// the planned messages of a dry run.
func (s *Service) tick(ctx context.Context, cadence domain.Cadence, leads []domain.Lead, templates map[uuid.UUID]domain.MessageTemplate, dryRun bool, report *domain.RunReport, now time.Time) ([]Message, error) {
	if len(leads) == 0 {
		return nil, nil
	}
	fired, err := s.firedSteps(ctx, cadence, leads, now)
	if err != nil {
		return nil, err
	}

	var planned []Message
	for _, due := range Tick(cadence, leads, fired, now) {
		if err := ctx.Err(); err != nil {
			return planned, err
		}
		message, err := s.compose(cadence, due, templates, now)
		leadID, cadenceID := due.Lead.ID, cadence.ID
		if err != nil {
			report.Fail(&leadID, &cadenceID, err)
			continue
		}
		if dryRun {
			planned = append(planned, message)
			report.Succeed()
			continue
		}
		if err := s.dispatch(ctx, message, now); err != nil {
			s.log.Warn("failed to enqueue cadence message", "cadence_id", cadence.ID, "lead_id", leadID, "step", message.StepKey, "error", err)
			report.Fail(&leadID, &cadenceID, err)
			continue
		}
		report.Add("enqueued", 1)
		report.Succeed()
	}
	return planned, nil
}

func (s *Service) selectCadences(ctx context.Context, opts Options) ([]domain.Cadence, error) {
	if opts.CadenceID != nil {
		cadence, err := s.cadences.GetCadence(ctx, *opts.CadenceID)
		if err != nil {
			return nil, err
		}
		if !cadence.Active {
			return nil, apperr.Validation("cadence is inactive").WithOp(opRun)
		}
		return []domain.Cadence{cadence}, nil
	}
	cadences, err := s.cadences.ListActiveCadences(ctx, nil)
	if err != nil {
		return nil, apperr.Upstream("failed to load cadences", err).WithOp(opRun)
	}
	return cadences, nil
}

func (s *Service) firedSteps(ctx context.Context, cadence domain.Cadence, leads []domain.Lead, now time.Time) (map[string]domain.LedgerSnapshot, error) {
	ids := make([]uuid.UUID, 0, len(leads))
	for _, lead := range leads {
		ids = append(ids, lead.ID)
	}
	fired := make(map[string]domain.LedgerSnapshot, len(cadence.Steps))
	for _, step := range cadence.Steps {
		snapshot, err := s.ledger.LatestExecutions(ctx, ports.LedgerQuery{
			SourceKind: domain.SourceCadence,
			SourceID:   cadence.ID,
			StepKey:    step.Key(),
			LeadIDs:    ids,
			Since:      LookbackFor(step, now),
		})
		if err != nil {
			return nil, apperr.Upstream("failed to read execution ledger", err).WithOp(opRun)
		}
		fired[step.Key()] = snapshot
	}
	return fired, nil
}

func (s *Service) compose(cadence domain.Cadence, due Due, templates map[uuid.UUID]domain.MessageTemplate, now time.Time) (Message, error) {
	body := due.Step.Body
	if due.Step.TemplateID != nil {
		body = templates[*due.Step.TemplateID].Body
	}
	rendered := render.Render(body, render.ForLead(due.Lead, now))

	var recipient string
	if due.Step.Channel.UsesPhone() {
		normalized, err := phone.ToE164(due.Lead.Phone, s.region)
		if err != nil {
			return Message{}, apperr.Validation(fmt.Sprintf("lead has no valid phone number for %s", due.Step.Channel))
		}
		recipient = normalized
		rendered = sanitize.PlainText(rendered)
	} else {
		recipient = strings.TrimSpace(due.Lead.Email)
		if recipient == "" {
			return Message{}, apperr.Validation("lead has no email address")
		}
	}
	if strings.TrimSpace(rendered) == "" {
		return Message{}, apperr.Validation("rendered message is empty")
	}

	return Message{
		CadenceID: cadence.ID,
		StepKey:   due.Step.Key(),
		LeadID:    due.Lead.ID,
		Channel:   due.Step.Channel,
		Recipient: recipient,
		Body:      rendered,
	}, nil
}

// dispatch paces, enqueues and records one message. The completed ledger row
// commits with the outbox row. A failed enqueue is recorded as failed on its
// own so the step is retried on the next tick.
func (s *Service) dispatch(ctx context.Context, message Message, now time.Time) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	effects := []domain.Effect{
		domain.DispatchEffect{
			LeadID:     message.LeadID,
			Channel:    message.Channel,
			Recipient:  message.Recipient,
			Body:       message.Body,
			SourceKind: domain.SourceCadence,
			SourceID:   message.CadenceID,
			StepKey:    message.StepKey,
		},
		domain.HistoryEffect{
			LeadID:    message.LeadID,
			EventType: "cadence_message",
			ToValue:   string(message.Channel),
			Summary:   fmt.Sprintf("Cadence step %s queued via %s", message.StepKey, message.Channel),
			Actor:     domain.ActorAutomation,
			Metadata:  map[string]any{"cadence_id": message.CadenceID.String()},
		},
	}

	result, _ := json.Marshal(map[string]any{"channel": message.Channel, "recipient": message.Recipient})
	record := domain.ExecutionRecord{
		ID:         uuid.New(),
		SourceKind: domain.SourceCadence,
		SourceID:   message.CadenceID,
		StepKey:    message.StepKey,
		LeadID:     message.LeadID,
		ExecutedAt: now,
		Status:     domain.ExecutionCompleted,
		Result:     result,
	}
	applyErr := s.applier.Apply(ctx, append(effects, domain.LedgerEffect{Record: record}))
	if applyErr == nil {
		return nil
	}

	record.Status = domain.ExecutionFailed
	if err := s.applier.Apply(ctx, []domain.Effect{domain.LedgerEffect{Record: record}}); err != nil {
		s.log.DatabaseError(opRun, err)
	}
	return applyErr
}

func ptrTime(t time.Time) *time.Time { return &t }

func templateIDs(cadences []domain.Cadence) []uuid.UUID {
	var ids []uuid.UUID
	seen := map[uuid.UUID]bool{}
	for _, cadence := range cadences {
		for _, step := range cadence.Steps {
			if step.TemplateID != nil && !seen[*step.TemplateID] {
				seen[*step.TemplateID] = true
				ids = append(ids, *step.TemplateID)
			}
		}
	}
	return ids
}

func missingTemplate(cadence domain.Cadence, templates map[uuid.UUID]domain.MessageTemplate) *uuid.UUID {
	for _, step := range cadence.Steps {
		if step.TemplateID == nil {
			continue
		}
		if _, ok := templates[*step.TemplateID]; !ok {
			id := *step.TemplateID
			return &id
		}
	}
	return nil
}
