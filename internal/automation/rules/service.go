package rules

import (
	"context"
	"errors"
	"time"

	"pipeline_backend/internal/automation/domain"
	"pipeline_backend/internal/automation/ports"
	"pipeline_backend/platform/apperr"
	"pipeline_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	opRun = "rules.Service.Run"

	// ModeRun evaluates and executes; ModeEvaluate only reports matches.
	ModeRun      = "run"
	ModeEvaluate = "evaluate"
)

// RunOptions scopes one rules run.
type RunOptions struct {
	Mode       string
	RuleID     *uuid.UUID
	PipelineID *uuid.UUID
	LeadID     *uuid.UUID
	Limit      int
	// MaxPages bounds how many pages of Limit candidates each rule reads.
	MaxPages int
	DryRun   bool
}

// Match is a qualifying (rule, lead) pair reported by evaluate and dry runs.
type Match struct {
	RuleID   uuid.UUID `json:"rule_id"`
	RuleName string    `json:"rule_name"`
	LeadID   uuid.UUID `json:"lead_id"`
	Planned  int       `json:"planned_effects,omitempty"`
}

// Service is the rule engine: one parametrized pass over every active rule.
type Service struct {
	leads         ports.LeadReader
	stages        ports.StageReader
	rules         ports.RuleStore
	ledger        ports.Ledger
	applier       ports.EffectApplier
	evaluator     *Evaluator
	executor      *Executor
	defaultWindow time.Duration
	log           *logger.Logger
	now           func() time.Time
}

// NewService wires the rule engine.
func NewService(leads ports.LeadReader, stages ports.StageReader, rules ports.RuleStore, ledger ports.Ledger, applier ports.EffectApplier, defaultWindow time.Duration, location *time.Location, log *logger.Logger) *Service {
	return &Service{
		leads:         leads,
		stages:        stages,
		rules:         rules,
		ledger:        ledger,
		applier:       applier,
		evaluator:     NewEvaluator(defaultWindow, location),
		executor:      NewExecutor(),
		defaultWindow: defaultWindow,
		log:           log,
		now:           time.Now,
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Run evaluates the selected rules and, unless evaluating or dry running,
// executes their actions on every qualifying lead.
func (s *Service) Run(ctx context.Context, opts RunOptions) (*domain.RunReport, error) {
	now := s.now()
	report := domain.NewRunReport("rules", opts.DryRun, now)
	execute := opts.Mode != ModeEvaluate

	rules, err := s.selectRules(ctx, opts)
	if err != nil {
		return nil, err
	}

	var pinned []domain.Lead
	if opts.LeadID != nil {
		lead, err := s.leads.GetLead(ctx, *opts.LeadID)
		if err != nil {
			return nil, err
		}
		if lead.IsTerminal() {
			report.Skip()
			report.Detail("reason", "lead is won or lost")
			return report.Finish(s.now()), nil
		}
		pinned = []domain.Lead{lead}
	}

	stages, err := s.stages.StageCatalog(ctx)
	if err != nil {
		return nil, apperr.Upstream("failed to load stages", err).WithOp(opRun)
	}

	matches := make([]Match, 0)
	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if opts.PipelineID != nil && rule.PipelineID != nil && *rule.PipelineID != *opts.PipelineID {
			continue
		}

		pass := &rulePass{rule: rule, stages: stages, execute: execute, dryRun: opts.DryRun, report: report, now: now}
		if pinned != nil {
			err = s.evaluate(ctx, pass, pinned)
		} else {
			var more bool
			more, err = ports.EachPage(ctx, s.leads, s.candidateFilter(rule, opts, now), opts.MaxPages, func(leads []domain.Lead) error {
				return s.evaluate(ctx, pass, leads)
			})
			if more {
				report.Add("truncated_rules", 1)
			}
		}
		if err != nil {
			return nil, err
		}
		matches = append(matches, pass.matches...)

		if pass.runs > 0 {
			if err := s.rules.RecordRuleRun(ctx, rule.ID, pass.runs, now); err != nil {
				s.log.Warn("failed to update rule run counters", "rule_id", rule.ID, "error", err)
			}
		}
	}

	if !execute || opts.DryRun {
		report.Detail("matches", matches)
	}
	report.Detail("rules", len(rules))
	return report.Finish(s.now()), nil
}

// rulePass carries one rule across the candidate pages of a run.
type rulePass struct {
	rule    domain.AutomationRule
	stages  domain.StageCatalog
	execute bool
	dryRun  bool
	report  *domain.RunReport
	now     time.Time
	matches []Match
	runs    int
}

// candidateFilter narrows the store query to leads the rule's trigger can
// match and drops leads the rule already ran on inside its window.
func (s *Service) candidateFilter(rule domain.AutomationRule, opts RunOptions, now time.Time) ports.LeadFilter {
	window := rule.Window(s.defaultWindow)
	filter := ports.LeadFilter{
		PipelineID: firstNonNil(rule.PipelineID, opts.PipelineID),
		StageID:    rule.StageID,
		NotExecuted: &ports.LedgerExclusion{
			SourceKind: domain.SourceRule,
			SourceID:   rule.ID,
			Since:      now.Add(-window),
		},
		Limit: opts.Limit,
	}

	trigger := rule.Trigger
	switch trigger.Type {
	case domain.TriggerStageEntry:
		since := now.Add(-stageEntryLookback(trigger.StageEntry, window))
		filter.StageEnteredAfter = &since
	case domain.TriggerTimeInStage:
		if trigger.TimeInStage != nil {
			before := now.Add(-timeInStageAge(*trigger.TimeInStage))
			filter.StageEnteredBefore = &before
		}
	case domain.TriggerNoContact:
		if trigger.NoContact != nil {
			before := now.Add(-noContactAge(*trigger.NoContact))
			filter.ContactBefore = &before
		}
	case domain.TriggerTemperatureChange:
		if trigger.TemperatureChange != nil {
			temperature := trigger.TemperatureChange.Temperature
			filter.Temperature = &temperature
		}
	}
	return filter
}

// evaluate matches one page of candidates and, unless evaluating or dry
// running, executes the rule on every qualifying lead.
func (s *Service) evaluate(ctx context.Context, pass *rulePass, candidates []domain.Lead) error {
	candidates = domain.OpenLeads(candidates)
	if len(candidates) == 0 {
		return nil
	}
	rule, report, now := pass.rule, pass.report, pass.now

	snapshot, err := s.ledger.LatestExecutions(ctx, ports.LedgerQuery{
		SourceKind: domain.SourceRule,
		SourceID:   rule.ID,
		LeadIDs:    leadIDs(candidates),
		Since:      now.Add(-rule.Window(s.defaultWindow)),
	})
	if err != nil {
		return apperr.Upstream("failed to read execution ledger", err).WithOp(opRun)
	}

	qualifying := s.evaluator.Evaluate(rule, candidates, snapshot, now)
	report.Add("evaluated", len(candidates))
	report.Add("matched", len(qualifying))

	if !pass.execute || pass.dryRun {
		for _, lead := range qualifying {
			match := Match{RuleID: rule.ID, RuleName: rule.Name, LeadID: lead.ID}
			if pass.execute {
				execution := s.executor.Execute(rule, lead, pass.stages, now)
				match.Planned = countEffects(execution)
				s.record(report, execution, execution.Err())
			} else {
				report.Succeed()
			}
			pass.matches = append(pass.matches, match)
		}
		return nil
	}

	for _, lead := range qualifying {
		if err := ctx.Err(); err != nil {
			return err
		}
		execution := s.executor.Execute(rule, lead, pass.stages, now)
		if err := s.apply(ctx, execution); err != nil {
			s.log.DatabaseError(opRun, err)
			ruleID, leadID := rule.ID, lead.ID
			report.Fail(&leadID, &ruleID, apperr.Upstream("failed to write ledger entry", err))
			continue
		}
		pass.runs++
		s.record(report, execution, execution.Err())
	}
	return nil
}

func (s *Service) selectRules(ctx context.Context, opts RunOptions) ([]domain.AutomationRule, error) {
	if opts.RuleID != nil {
		rule, err := s.rules.GetRule(ctx, *opts.RuleID)
		if err != nil {
			return nil, err
		}
		if !rule.Active {
			return nil, apperr.Validation("rule is inactive").WithOp(opRun)
		}
		return []domain.AutomationRule{rule}, nil
	}
	rules, err := s.rules.ListActiveRules(ctx, ports.RuleFilter{PipelineID: opts.PipelineID})
	if err != nil {
		return nil, apperr.Upstream("failed to load rules", err).WithOp(opRun)
	}
	return rules, nil
}

// apply commits each action's effects in its own transaction so one failing
// write only fails that action. The ledger row joins the transaction of the
// last action with effects; when that action fails, or no action has effects,
// the row is written alone with the final status.
func (s *Service) apply(ctx context.Context, execution *Execution) error {
	last := -1
	for i, outcome := range execution.Outcomes {
		if outcome.Err == nil && len(outcome.Effects) > 0 {
			last = i
		}
	}

	for i := range execution.Outcomes {
		outcome := &execution.Outcomes[i]
		if outcome.Err != nil || len(outcome.Effects) == 0 {
			continue
		}
		batch := outcome.Effects
		if i == last {
			batch = append(append([]domain.Effect{}, outcome.Effects...), domain.LedgerEffect{Record: execution.Record()})
		}
		if err := s.applier.Apply(ctx, batch); err != nil {
			outcome.Err = err
			continue
		}
		if i == last {
			return nil
		}
	}
	return s.applier.Apply(ctx, []domain.Effect{domain.LedgerEffect{Record: execution.Record()}})
}

func (s *Service) record(report *domain.RunReport, execution *Execution, err error) {
	if err == nil {
		report.Succeed()
		return
	}
	ruleID, leadID := execution.Rule.ID, execution.LeadID
	var partial *domain.PartialExecutionError
	if errors.As(err, &partial) {
		s.log.Warn("rule execution partially failed", "rule_id", ruleID, "lead_id", leadID, "error", err)
	} else {
		s.log.Warn("rule execution failed", "rule_id", ruleID, "lead_id", leadID, "error", err)
	}
	report.Fail(&leadID, &ruleID, err)
}

func countEffects(execution *Execution) int {
	total := 0
	for _, outcome := range execution.Outcomes {
		total += len(outcome.Effects)
	}
	return total
}

func leadIDs(leads []domain.Lead) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(leads))
	for _, lead := range leads {
		ids = append(ids, lead.ID)
	}
	return ids
}

func firstNonNil(values ...*uuid.UUID) *uuid.UUID {
	for _, value := range values {
		if value != nil {
			return value
		}
	}
	return nil
}
