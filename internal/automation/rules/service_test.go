package rules

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"pipeline_backend/internal/automation/domain"
	"pipeline_backend/internal/automation/ports"
	"pipeline_backend/platform/apperr"
	"pipeline_backend/platform/logger"

	"github.com/google/uuid"
)

// fakeLeads serves open leads in creation order and honours the parts of the
// filter the rule engine relies on, including the ledger exclusion.
type fakeLeads struct {
	leads  []domain.Lead
	ledger *fakeLedger
	calls  int
}

func (f *fakeLeads) ListOpenLeads(_ context.Context, filter ports.LeadFilter) ([]domain.Lead, error) {
	f.calls++
	ordered := append([]domain.Lead(nil), f.leads...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].CreatedAt.Before(ordered[j].CreatedAt) })

	var out []domain.Lead
	for _, lead := range ordered {
		if lead.IsTerminal() {
			continue
		}
		if filter.StageID != nil && lead.StageID != *filter.StageID {
			continue
		}
		if filter.StageEnteredAfter != nil && lead.StageEntry().Before(*filter.StageEnteredAfter) {
			continue
		}
		if filter.ContactBefore != nil && lead.LastContactAt != nil && lead.LastContactAt.After(*filter.ContactBefore) {
			continue
		}
		if filter.Temperature != nil && lead.Temperature != *filter.Temperature {
			continue
		}
		if ex := filter.NotExecuted; ex != nil && f.ledger != nil && f.ledger.blocks(*ex, lead.ID) {
			continue
		}
		if filter.After != nil && !lead.CreatedAt.After(filter.After.CreatedAt) {
			continue
		}
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
		out = append(out, lead)
	}
	return out, nil
}

func (f *fakeLeads) GetLead(_ context.Context, id uuid.UUID) (domain.Lead, error) {
	for _, lead := range f.leads {
		if lead.ID == id {
			return lead, nil
		}
	}
	return domain.Lead{}, apperr.NotFound("lead not found")
}

type fakeStages struct{ catalog domain.StageCatalog }

func (f fakeStages) StageCatalog(context.Context) (domain.StageCatalog, error) { return f.catalog, nil }

type fakeRules struct {
	rules []domain.AutomationRule
	runs  map[uuid.UUID]int
}

func (f *fakeRules) ListActiveRules(context.Context, ports.RuleFilter) ([]domain.AutomationRule, error) {
	return f.rules, nil
}

func (f *fakeRules) GetRule(_ context.Context, id uuid.UUID) (domain.AutomationRule, error) {
	for _, rule := range f.rules {
		if rule.ID == id {
			return rule, nil
		}
	}
	return domain.AutomationRule{}, apperr.NotFound("automation rule not found")
}

func (f *fakeRules) RecordRuleRun(_ context.Context, id uuid.UUID, runs int, _ time.Time) error {
	if f.runs == nil {
		f.runs = map[uuid.UUID]int{}
	}
	f.runs[id] += runs
	return nil
}

type fakeLedger struct {
	records []domain.ExecutionRecord
}

func (f *fakeLedger) LatestExecutions(_ context.Context, q ports.LedgerQuery) (domain.LedgerSnapshot, error) {
	snapshot := domain.LedgerSnapshot{}
	for _, record := range f.records {
		if record.SourceKind != q.SourceKind || record.SourceID != q.SourceID || record.StepKey != q.StepKey {
			continue
		}
		if !record.Status.Blocks() || record.ExecutedAt.Before(q.Since) {
			continue
		}
		if at, ok := snapshot[record.LeadID]; !ok || record.ExecutedAt.After(at) {
			snapshot[record.LeadID] = record.ExecutedAt
		}
	}
	return snapshot, nil
}

func (f *fakeLedger) blocks(ex ports.LedgerExclusion, leadID uuid.UUID) bool {
	for _, record := range f.records {
		if record.LeadID == leadID && record.SourceKind == ex.SourceKind && record.SourceID == ex.SourceID &&
			record.StepKey == ex.StepKey && record.Status.Blocks() && !record.ExecutedAt.Before(ex.Since) {
			return true
		}
	}
	return false
}

func (f *fakeLedger) PurgeBefore(context.Context, time.Time) (int64, error) { return 0, nil }

// fakeApplier commits a batch all or nothing. Ledger rows go to the ledger,
// every other effect to applied.
type fakeApplier struct {
	applied []domain.Effect
	batches [][]domain.EffectKind
	failOn  domain.EffectKind
	ledger  *fakeLedger
}

func (f *fakeApplier) Apply(_ context.Context, effects []domain.Effect) error {
	kinds := make([]domain.EffectKind, 0, len(effects))
	for _, effect := range effects {
		if effect.Kind() == f.failOn {
			return errors.New("write failed")
		}
		kinds = append(kinds, effect.Kind())
	}
	f.batches = append(f.batches, kinds)
	for _, effect := range effects {
		if entry, ok := effect.(domain.LedgerEffect); ok {
			f.ledger.records = append(f.ledger.records, entry.Record)
			continue
		}
		f.applied = append(f.applied, effect)
	}
	return nil
}

type harness struct {
	leads   *fakeLeads
	rules   *fakeRules
	ledger  *fakeLedger
	applier *fakeApplier
	service *Service
	now     time.Time
}

func newHarness(rule domain.AutomationRule, leads ...domain.Lead) *harness {
	h := &harness{
		leads:  &fakeLeads{leads: leads},
		rules:  &fakeRules{rules: []domain.AutomationRule{rule}},
		ledger: &fakeLedger{},
		now:    testNow,
	}
	h.applier = &fakeApplier{ledger: h.ledger}
	h.leads.ledger = h.ledger
	h.service = NewService(h.leads, fakeStages{catalog: testCatalog()}, h.rules, h.ledger, h.applier, 24*time.Hour, time.UTC, logger.Discard()).
		WithClock(func() time.Time { return h.now })
	return h
}

func TestRunExecutesAtMostOncePerDedupeWindow(t *testing.T) {
	lead := openLead(testStageID)
	h := newHarness(stageEntryRule(), lead)

	first, err := h.service.Run(context.Background(), RunOptions{Mode: ModeRun})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	h.now = testNow.Add(30 * time.Minute)
	second, err := h.service.Run(context.Background(), RunOptions{Mode: ModeRun})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if first.Succeeded != 1 || second.Processed != 0 {
		t.Fatalf("expected one execution across both runs, got %d then %d", first.Succeeded, second.Processed)
	}
	completed := 0
	for _, record := range h.ledger.records {
		if record.Status == domain.ExecutionCompleted {
			completed++
		}
	}
	if completed != 1 {
		t.Fatalf("expected exactly one completed ledger entry, got %d", completed)
	}
	if h.rules.runs[h.rules.rules[0].ID] != 1 {
		t.Fatalf("expected run counter to be bumped once")
	}
}

func TestRunNeverActsOnTerminalLead(t *testing.T) {
	lead := openLead(testStageID)
	lead.LostAt = ptrTime(testNow.Add(-time.Minute))
	h := newHarness(stageEntryRule(), lead)

	report, err := h.service.Run(context.Background(), RunOptions{Mode: ModeRun, LeadID: &lead.ID})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Skipped != 1 || len(h.ledger.records) != 0 || len(h.applier.applied) != 0 {
		t.Fatalf("terminal lead must be skipped untouched: %+v", report)
	}
}

func TestRunDryRunWritesNothing(t *testing.T) {
	h := newHarness(stageEntryRule(), openLead(testStageID))

	report, err := h.service.Run(context.Background(), RunOptions{Mode: ModeRun, DryRun: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.ledger.records) != 0 || len(h.applier.applied) != 0 {
		t.Fatalf("dry run must not write")
	}
	matches, _ := report.Details["matches"].([]Match)
	if len(matches) != 1 || matches[0].Planned != 1 {
		t.Fatalf("expected one planned match, got %+v", report.Details["matches"])
	}
}

func TestRunRecordsApplyFailureAsPartial(t *testing.T) {
	rule := stageEntryRule()
	rule.Actions = append(rule.Actions, domain.Action{Kind: domain.ActionLogActivity, LogActivity: &domain.LogActivityAction{Message: "tagged"}})
	h := newHarness(rule, openLead(testStageID))
	h.applier.failOn = domain.EffectTag

	report, err := h.service.Run(context.Background(), RunOptions{Mode: ModeRun})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Succeeded != 1 || len(report.Errors) != 1 {
		t.Fatalf("partial execution should succeed with one item error: %+v", report)
	}
	if len(h.ledger.records) != 1 || h.ledger.records[0].Status != domain.ExecutionPartial {
		t.Fatalf("expected one partial ledger entry, got %+v", h.ledger.records)
	}
	if len(h.applier.applied) != 1 || h.applier.applied[0].Kind() != domain.EffectHistory {
		t.Fatalf("sibling action effects should still be applied")
	}
}

func TestRunFailedExecutionDoesNotBlockRetry(t *testing.T) {
	rule := stageEntryRule()
	lead := openLead(testStageID)
	h := newHarness(rule, lead)
	h.applier.failOn = domain.EffectTag

	if _, err := h.service.Run(context.Background(), RunOptions{Mode: ModeRun}); err != nil {
		t.Fatalf("run: %v", err)
	}
	h.applier.failOn = ""
	report, err := h.service.Run(context.Background(), RunOptions{Mode: ModeRun})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if report.Succeeded != 1 {
		t.Fatalf("failed execution should be retried on the next tick, got %+v", report)
	}
}

func TestRunUnknownRuleIsNotFound(t *testing.T) {
	h := newHarness(stageEntryRule())
	missing := uuid.New()
	_, err := h.service.Run(context.Background(), RunOptions{Mode: ModeRun, RuleID: &missing})
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEvaluateReportsMatchesWithoutExecuting(t *testing.T) {
	h := newHarness(stageEntryRule(), openLead(testStageID), openLead(uuid.New()))

	report, err := h.service.Run(context.Background(), RunOptions{Mode: ModeEvaluate})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if report.Details["matched"] != 1 || len(h.ledger.records) != 0 {
		t.Fatalf("expected one match and no ledger writes: %+v", report.Details)
	}
}

func TestRunCommitsLedgerRowWithTheLastAction(t *testing.T) {
	rule := stageEntryRule()
	rule.Actions = append(rule.Actions, domain.Action{Kind: domain.ActionLogActivity, LogActivity: &domain.LogActivityAction{Message: "tagged"}})
	h := newHarness(rule, openLead(testStageID))

	if _, err := h.service.Run(context.Background(), RunOptions{Mode: ModeRun}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.applier.batches) != 2 {
		t.Fatalf("expected one transaction per action, got %v", h.applier.batches)
	}
	last := h.applier.batches[1]
	if last[len(last)-1] != domain.EffectLedger {
		t.Fatalf("ledger row should commit with the last action, got %v", h.applier.batches)
	}
	for _, kind := range h.applier.batches[0] {
		if kind == domain.EffectLedger {
			t.Fatalf("ledger row written before the last action: %v", h.applier.batches)
		}
	}
}

func TestRunWritesLedgerRowAloneWhenTheLastActionFails(t *testing.T) {
	rule := stageEntryRule()
	rule.Actions = []domain.Action{
		{Kind: domain.ActionLogActivity, LogActivity: &domain.LogActivityAction{Message: "seen"}},
		{Kind: domain.ActionAddTag, AddTag: &domain.AddTagAction{Tag: "new"}},
	}
	h := newHarness(rule, openLead(testStageID))
	h.applier.failOn = domain.EffectTag

	if _, err := h.service.Run(context.Background(), RunOptions{Mode: ModeRun}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.ledger.records) != 1 || h.ledger.records[0].Status != domain.ExecutionPartial {
		t.Fatalf("expected one partial ledger row, got %+v", h.ledger.records)
	}
	last := h.applier.batches[len(h.applier.batches)-1]
	if len(last) != 1 || last[0] != domain.EffectLedger {
		t.Fatalf("expected a ledger-only batch after the failed action, got %v", h.applier.batches)
	}
}

func TestRunReachesFreshLeadBehindLongParkedLeads(t *testing.T) {
	parked := func(days int) domain.Lead {
		lead := openLead(testStageID)
		lead.CreatedAt = testNow.Add(-time.Duration(days) * 24 * time.Hour)
		lead.StageEnteredAt = ptrTime(lead.CreatedAt)
		return lead
	}
	fresh := openLead(testStageID)
	fresh.CreatedAt = testNow.Add(-time.Hour)
	fresh.StageEnteredAt = ptrTime(fresh.CreatedAt)
	h := newHarness(stageEntryRule(), parked(40), parked(35), fresh)

	report, err := h.service.Run(context.Background(), RunOptions{Mode: ModeRun, Limit: 2})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Succeeded != 1 || len(h.ledger.records) != 1 || h.ledger.records[0].LeadID != fresh.ID {
		t.Fatalf("expected the fresh stage entry to execute, got %+v", h.ledger.records)
	}
}

func TestRunRotatesPastLeadsAlreadyExecutedInWindow(t *testing.T) {
	rule := stageEntryRule()
	rule.Trigger = domain.Trigger{Type: domain.TriggerNoContact, NoContact: &domain.NoContactConfig{Hours: 1}}
	leads := make([]domain.Lead, 0, 3)
	for i := 0; i < 3; i++ {
		lead := openLead(testStageID)
		lead.CreatedAt = testNow.Add(-time.Duration(10-i) * time.Hour)
		leads = append(leads, lead)
	}
	h := newHarness(rule, leads...)

	if _, err := h.service.Run(context.Background(), RunOptions{Mode: ModeRun, Limit: 2}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	h.now = testNow.Add(15 * time.Minute)
	second, err := h.service.Run(context.Background(), RunOptions{Mode: ModeRun, Limit: 2})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if second.Succeeded != 1 || len(h.ledger.records) != 3 || h.ledger.records[2].LeadID != leads[2].ID {
		t.Fatalf("second run should reach the lead left over from the first page, got %+v", h.ledger.records)
	}
}

func TestRunWalksCandidatePagesUpToMaxPages(t *testing.T) {
	rule := stageEntryRule()
	rule.Trigger = domain.Trigger{Type: domain.TriggerNoContact, NoContact: &domain.NoContactConfig{Hours: 1}}
	leads := make([]domain.Lead, 0, 5)
	for i := 0; i < 5; i++ {
		lead := openLead(testStageID)
		lead.CreatedAt = testNow.Add(-time.Duration(10-i) * time.Hour)
		leads = append(leads, lead)
	}
	h := newHarness(rule, leads...)

	report, err := h.service.Run(context.Background(), RunOptions{Mode: ModeRun, Limit: 2, MaxPages: 2})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Succeeded != 4 || h.leads.calls != 2 {
		t.Fatalf("expected two full pages, got %d executions over %d reads", report.Succeeded, h.leads.calls)
	}
	if report.Details["truncated_rules"] != 1 {
		t.Fatalf("a full last page should be reported as truncated, got %+v", report.Details)
	}
}
