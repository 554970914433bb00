package rules

import (
	"errors"
	"strings"
	"testing"
	"time"

	"pipeline_backend/internal/automation/domain"

	"github.com/google/uuid"
)

func testCatalog(extra ...domain.Stage) domain.StageCatalog {
	catalog := domain.StageCatalog{
		testStageID: {ID: testStageID, PipelineID: testPipelineID, Name: "New", Category: domain.StageCategoryIntake},
	}
	for _, stage := range extra {
		catalog[stage.ID] = stage
	}
	return catalog
}

func TestExecutorContinuesAfterFailedAction(t *testing.T) {
	rule := stageEntryRule()
	rule.Actions = []domain.Action{
		{Kind: domain.ActionSendNotification, SendNotification: &domain.SendNotificationAction{Title: "Call {{first_name}}"}},
		{Kind: domain.ActionAddTag, AddTag: &domain.AddTagAction{Tag: "follow-up"}},
	}
	lead := openLead(testStageID)

	execution := NewExecutor().Execute(rule, lead, testCatalog(), testNow)

	if len(execution.Outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(execution.Outcomes))
	}
	if !errors.Is(execution.Outcomes[0].Err, errNoAssignedAgent) {
		t.Fatalf("expected notification to fail without agent, got %v", execution.Outcomes[0].Err)
	}
	if execution.Outcomes[1].Err != nil || len(execution.Outcomes[1].Effects) != 1 {
		t.Fatalf("expected add_tag to run after the failure: %+v", execution.Outcomes[1])
	}
	if execution.Status() != domain.ExecutionPartial {
		t.Fatalf("expected partial status, got %s", execution.Status())
	}
	var partial *domain.PartialExecutionError
	if !errors.As(execution.Err(), &partial) || len(partial.Failures) != 1 {
		t.Fatalf("expected PartialExecutionError with one failure, got %v", execution.Err())
	}
}

func TestExecutorLaterActionsSeeEarlierChanges(t *testing.T) {
	qualified := domain.Stage{ID: uuid.New(), PipelineID: testPipelineID, Name: "Qualified", Category: domain.StageCategoryQualification}
	rule := stageEntryRule()
	rule.Actions = []domain.Action{
		{Kind: domain.ActionMoveStage, MoveStage: &domain.MoveStageAction{StageID: qualified.ID}},
		{Kind: domain.ActionLogActivity, LogActivity: &domain.LogActivityAction{Message: "Now in {{stage}}"}},
		{Kind: domain.ActionAddTag, AddTag: &domain.AddTagAction{Tag: "VIP"}},
		{Kind: domain.ActionAddTag, AddTag: &domain.AddTagAction{Tag: "vip"}},
	}
	lead := openLead(testStageID)
	lead.StageName = "New"

	execution := NewExecutor().Execute(rule, lead, testCatalog(qualified), testNow)

	if execution.Status() != domain.ExecutionCompleted {
		t.Fatalf("expected completed, got %s (%v)", execution.Status(), execution.Err())
	}
	move := execution.Outcomes[0].Effects
	change, ok := move[0].(domain.StageChangeEffect)
	if !ok || change.ToStageID != qualified.ID || !change.EnteredAt.Equal(testNow) {
		t.Fatalf("unexpected stage change effect %+v", move[0])
	}
	history := move[1].(domain.HistoryEffect)
	if history.FromValue != "New" || history.ToValue != "Qualified" {
		t.Fatalf("expected from->to history, got %+v", history)
	}
	logged := execution.Outcomes[1].Effects[0].(domain.HistoryEffect)
	if !strings.Contains(logged.Summary, "Qualified") {
		t.Fatalf("log_activity should render the new stage, got %q", logged.Summary)
	}
	if len(execution.Outcomes[3].Effects) != 0 {
		t.Fatalf("duplicate tag must not produce an effect")
	}
	if len(lead.Tags) != 0 {
		t.Fatalf("executor must not mutate the caller's lead")
	}
}

func TestExecutorRejectsStageFromAnotherPipeline(t *testing.T) {
	foreign := domain.Stage{ID: uuid.New(), PipelineID: uuid.New(), Name: "Elsewhere"}
	rule := stageEntryRule()
	rule.Actions = []domain.Action{{Kind: domain.ActionMoveStage, MoveStage: &domain.MoveStageAction{StageID: foreign.ID}}}

	execution := NewExecutor().Execute(rule, openLead(testStageID), testCatalog(foreign), testNow)
	if execution.Status() != domain.ExecutionFailed {
		t.Fatalf("expected failed status, got %s", execution.Status())
	}
	if !errors.Is(execution.Outcomes[0].Err, errForeignStage) {
		t.Fatalf("expected foreign stage error, got %v", execution.Outcomes[0].Err)
	}
	var partial *domain.PartialExecutionError
	if errors.As(execution.Err(), &partial) {
		t.Fatalf("a fully failed execution is not partial")
	}
}

func TestExecutorTaskDueDateAndRecipient(t *testing.T) {
	agentID := uuid.New()
	rule := stageEntryRule()
	rule.Actions = []domain.Action{{Kind: domain.ActionCreateTask, CreateTask: &domain.CreateTaskAction{Title: "Call back", DueInMinutes: 90}}}
	lead := openLead(testStageID)
	lead.AssignedAgentID = &agentID

	execution := NewExecutor().Execute(rule, lead, testCatalog(), testNow)
	task := execution.Outcomes[0].Effects[0].(domain.TaskEffect)
	if task.AgentID == nil || *task.AgentID != agentID {
		t.Fatalf("task should go to the assigned agent")
	}
	if want := testNow.Add(90 * time.Minute); !task.DueAt.Equal(want) {
		t.Fatalf("due at %s, want %s", task.DueAt, want)
	}
}

func TestExecutionRecordIsSingleLedgerEntry(t *testing.T) {
	rule := stageEntryRule()
	execution := NewExecutor().Execute(rule, openLead(testStageID), testCatalog(), testNow)
	record := execution.Record()
	if record.SourceKind != domain.SourceRule || record.SourceID != rule.ID || record.Status != domain.ExecutionCompleted {
		t.Fatalf("unexpected record %+v", record)
	}
	if !strings.Contains(string(record.Result), `"add_tag"`) {
		t.Fatalf("result payload should list actions, got %s", record.Result)
	}
}
