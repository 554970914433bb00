// Package qualify scores single leads through the scoring oracle and stores
// the verdict on the lead.
package qualify

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

const (
	opRun = "qualify.Service.Run"

	interactionWindow = 30 * 24 * time.Hour
)

type Options struct {
	LeadID uuid.UUID
	DryRun bool
}

type Service struct {
	leads        ports.LeadReader
	interactions ports.InteractionReader
	oracle       ports.ScoringOracle
	applier      ports.EffectApplier
	log          *logger.Logger
	now          func() time.Time
}

func NewService(leads ports.LeadReader, interactions ports.InteractionReader, oracle ports.ScoringOracle, applier ports.EffectApplier, log *logger.Logger) *Service {
	return &Service{
		leads:        leads,
		interactions: interactions,
		oracle:       oracle,
		applier:      applier,
		log:          log,
		now:          time.Now,
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Run qualifies one lead. Oracle failures are reported per item and never
// abort the request.
func (s *Service) Run(ctx context.Context, opts Options) (*domain.RunReport, error) {
	if opts.LeadID == uuid.Nil {
		return nil, apperr.Validation("lead_id is required").WithOp(opRun)
	}
	if s.oracle == nil {
		return nil, apperr.Validation("scoring oracle is not configured").WithOp(opRun)
	}

	now := s.now()
	report := domain.NewRunReport("qualify", opts.DryRun, now)

	lead, err := s.leads.GetLead(ctx, opts.LeadID)
	if err != nil {
		return nil, err
	}
	if lead.IsTerminal() {
		report.Skip()
		return report.Finish(s.now()), nil
	}

	byLead, err := s.interactions.InteractionsSince(ctx, []uuid.UUID{lead.ID}, now.Add(-interactionWindow))
	if err != nil {
		return nil, apperr.Upstream("failed to load interactions", err).WithOp(opRun)
	}

	verdict, err := s.oracle.Qualify(ctx, ports.QualificationInput{Lead: lead, Interactions: byLead[lead.ID]})
	if err != nil {
		s.log.Warn("lead qualification failed", "lead_id", lead.ID, "error", err)
		report.Fail(&lead.ID, nil, fmt.Errorf("scoring oracle: %w", err))
		return report.Finish(s.now()), nil
	}
	report.Detail("qualification", verdict)

	if !opts.DryRun {
		effects := []domain.Effect{
			domain.QualificationEffect{LeadID: lead.ID, Score: verdict.Score, Qualification: verdict.Qualification, ScoredAt: now},
			domain.HistoryEffect{
				LeadID:    lead.ID,
				EventType: "lead_qualified",
				ToValue:   verdict.Qualification,
				Summary:   verdict.Reason,
				Actor:     domain.ActorOracle,
				Metadata:  map[string]any{"score": verdict.Score},
			},
		}
		if err := s.applier.Apply(ctx, effects); err != nil {
			report.Fail(&lead.ID, nil, err)
			return report.Finish(s.now()), nil
		}
	}
	report.Succeed()
	return report.Finish(s.now()), nil
}
