package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"pipeline_backend/internal/automation/domain"
	"pipeline_backend/internal/automation/render"

	"github.com/google/uuid"
)

var (
	errNoAssignedAgent = errors.New("lead has no assigned agent")
	errUnknownStage    = errors.New("target stage does not exist")
	errForeignStage    = errors.New("target stage belongs to another pipeline")
)

// ActionOutcome is the result of one action. Effects are empty when the action
// was a no-op or failed.
type ActionOutcome struct {
	Index   int
	Kind    domain.ActionKind
	Effects []domain.Effect
	Err     error
}

// Execution aggregates the outcomes of running a rule's action list on one lead.
type Execution struct {
	Rule       domain.AutomationRule
	LeadID     uuid.UUID
	ExecutedAt time.Time
	Outcomes   []ActionOutcome
}

// Failed counts failed actions.
func (x *Execution) Failed() int {
	failed := 0
	for _, outcome := range x.Outcomes {
		if outcome.Err != nil {
			failed++
		}
	}
	return failed
}

// Status derives the ledger status from the outcomes.
func (x *Execution) Status() domain.ExecutionStatus {
	failed := x.Failed()
	switch {
	case failed == 0:
		return domain.ExecutionCompleted
	case failed == len(x.Outcomes):
		return domain.ExecutionFailed
	default:
		return domain.ExecutionPartial
	}
}

// Err returns nil when every action succeeded, a *domain.PartialExecutionError
// when some failed, and a plain error when all failed.
func (x *Execution) Err() error {
	failures := x.failures()
	if len(failures) == 0 {
		return nil
	}
	if len(failures) < len(x.Outcomes) {
		return &domain.PartialExecutionError{RuleID: x.Rule.ID, LeadID: x.LeadID, Failures: failures}
	}
	messages := make([]string, 0, len(failures))
	for _, failure := range failures {
		messages = append(messages, fmt.Sprintf("%s: %s", failure.Kind, failure.Error))
	}
	return fmt.Errorf("rule %q: all actions failed: %s", x.Rule.Name, strings.Join(messages, "; "))
}

func (x *Execution) failures() []domain.ActionFailure {
	var failures []domain.ActionFailure
	for _, outcome := range x.Outcomes {
		if outcome.Err != nil {
			failures = append(failures, domain.ActionFailure{Index: outcome.Index, Kind: outcome.Kind, Error: outcome.Err.Error()})
		}
	}
	return failures
}

type actionResult struct {
	Index   int               `json:"index"`
	Kind    domain.ActionKind `json:"kind"`
	Status  string            `json:"status"`
	Effects int               `json:"effects"`
	Error   string            `json:"error,omitempty"`
}

// Record builds the single ledger entry for this execution.
func (x *Execution) Record() domain.ExecutionRecord {
	results := make([]actionResult, 0, len(x.Outcomes))
	for _, outcome := range x.Outcomes {
		result := actionResult{Index: outcome.Index, Kind: outcome.Kind, Status: "ok", Effects: len(outcome.Effects)}
		if outcome.Err != nil {
			result.Status = "failed"
			result.Error = outcome.Err.Error()
		}
		results = append(results, result)
	}
	payload, _ := json.Marshal(map[string]any{"rule": x.Rule.Name, "actions": results})
	return domain.ExecutionRecord{
		ID:         uuid.New(),
		SourceKind: domain.SourceRule,
		SourceID:   x.Rule.ID,
		LeadID:     x.LeadID,
		ExecutedAt: x.ExecutedAt,
		Status:     x.Status(),
		Result:     payload,
	}
}

// Executor turns a rule's action list into effects. It works on a copy of the
// lead so later actions observe the changes of earlier ones.
type Executor struct{}

func NewExecutor() *Executor {
	return &Executor{}
}

// Execute runs every action independently; a failing action never stops its siblings.
func (e *Executor) Execute(rule domain.AutomationRule, lead domain.Lead, stages domain.StageCatalog, now time.Time) *Execution {
	execution := &Execution{Rule: rule, LeadID: lead.ID, ExecutedAt: now}
	working := lead
	working.Tags = append([]string(nil), lead.Tags...)

	for i, action := range rule.Actions {
		outcome := ActionOutcome{Index: i, Kind: action.Kind}
		if err := action.Validate(); err != nil {
			outcome.Err = err
		} else {
			outcome.Effects, outcome.Err = e.apply(rule, action, &working, stages, now)
		}
		execution.Outcomes = append(execution.Outcomes, outcome)
	}
	return execution
}

func (e *Executor) apply(rule domain.AutomationRule, action domain.Action, lead *domain.Lead, stages domain.StageCatalog, now time.Time) ([]domain.Effect, error) {
	switch action.Kind {
	case domain.ActionMoveStage:
		return moveStage(rule, action.MoveStage, lead, stages, now)
	case domain.ActionCreateTask:
		vars := render.ForLead(*lead, now)
		return []domain.Effect{domain.TaskEffect{
			LeadID:      lead.ID,
			AgentID:     lead.AssignedAgentID,
			Title:       render.Render(action.CreateTask.Title, vars),
			Description: render.Render(action.CreateTask.Description, vars),
			DueAt:       now.Add(time.Duration(action.CreateTask.DueInMinutes) * time.Minute),
			Source:      "rule:" + rule.ID.String(),
		}}, nil
	case domain.ActionSendNotification:
		if lead.AssignedAgentID == nil {
			return nil, errNoAssignedAgent
		}
		vars := render.ForLead(*lead, now)
		category := action.SendNotification.Category
		if category == "" {
			category = "automation"
		}
		return []domain.Effect{domain.NotificationEffect{
			LeadID:           lead.ID,
			RecipientAgentID: *lead.AssignedAgentID,
			AlertType:        "rule:" + rule.ID.String(),
			Title:            render.Render(action.SendNotification.Title, vars),
			Content:          render.Render(action.SendNotification.Message, vars),
			Category:         category,
		}}, nil
	case domain.ActionAddTag:
		tag := strings.TrimSpace(action.AddTag.Tag)
		if lead.HasTag(tag) {
			return nil, nil
		}
		lead.Tags = append(lead.Tags, tag)
		return []domain.Effect{domain.TagEffect{LeadID: lead.ID, Tag: tag}}, nil
	case domain.ActionUpdateTemperature:
		target := action.UpdateTemperature.Temperature
		if lead.Temperature == target {
			return nil, nil
		}
		from := lead.Temperature
		lead.Temperature = target
		return []domain.Effect{
			domain.TemperatureEffect{LeadID: lead.ID, From: from, To: target},
			domain.HistoryEffect{
				LeadID:    lead.ID,
				EventType: "temperature_change",
				FromValue: string(from),
				ToValue:   string(target),
				Summary:   fmt.Sprintf("Temperature set to %s by rule %q", target, rule.Name),
				Actor:     domain.ActorAutomation,
			},
		}, nil
	case domain.ActionLogActivity:
		return []domain.Effect{domain.HistoryEffect{
			LeadID:    lead.ID,
			EventType: "activity",
			Summary:   render.Render(action.LogActivity.Message, render.ForLead(*lead, now)),
			Actor:     domain.ActorAutomation,
			Metadata:  map[string]any{"rule_id": rule.ID.String()},
		}}, nil
	}
	return nil, fmt.Errorf("unsupported action %q", action.Kind)
}

func moveStage(rule domain.AutomationRule, cfg *domain.MoveStageAction, lead *domain.Lead, stages domain.StageCatalog, now time.Time) ([]domain.Effect, error) {
	target, ok := stages[cfg.StageID]
	if !ok {
		return nil, errUnknownStage
	}
	if target.PipelineID != lead.PipelineID {
		return nil, errForeignStage
	}
	if target.ID == lead.StageID {
		return nil, nil
	}

	fromName := lead.StageName
	if fromName == "" {
		fromName = stages.Name(lead.StageID)
	}
	effects := []domain.Effect{
		domain.StageChangeEffect{LeadID: lead.ID, FromStageID: lead.StageID, ToStageID: target.ID, EnteredAt: now},
		domain.HistoryEffect{
			LeadID:    lead.ID,
			EventType: "stage_change",
			FromValue: fromName,
			ToValue:   target.Name,
			Summary:   fmt.Sprintf("Moved from %s to %s by rule %q", fromName, target.Name, rule.Name),
			Actor:     domain.ActorAutomation,
		},
	}

	entered := now
	lead.StageID = target.ID
	lead.StageName = target.Name
	lead.StageCategory = target.Category
	lead.StageEnteredAt = &entered
	return effects, nil
}
