package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ActionKind is the closed set of things a rule can do to a lead.
type ActionKind string

const (
	ActionMoveStage         ActionKind = "move_stage"
	ActionCreateTask        ActionKind = "create_task"
	ActionSendNotification  ActionKind = "send_notification"
	ActionAddTag            ActionKind = "add_tag"
	ActionUpdateTemperature ActionKind = "update_temperature"
	ActionLogActivity       ActionKind = "log_activity"
)

type MoveStageAction struct {
	StageID uuid.UUID `json:"stage_id" yaml:"stage_id"`
}

// CreateTaskAction creates a task for the assigned agent due DueInMinutes from now.
type CreateTaskAction struct {
	Title        string `json:"title" yaml:"title"`
	Description  string `json:"description,omitempty" yaml:"description,omitempty"`
	DueInMinutes int    `json:"due_in_minutes" yaml:"due_in_minutes"`
}

// SendNotificationAction notifies the assigned agent. Title and Message are templates.
type SendNotificationAction struct {
	Title    string `json:"title" yaml:"title"`
	Message  string `json:"message" yaml:"message"`
	Category string `json:"category,omitempty" yaml:"category,omitempty"`
}

type AddTagAction struct {
	Tag string `json:"tag" yaml:"tag"`
}

type UpdateTemperatureAction struct {
	Temperature Temperature `json:"temperature" yaml:"temperature"`
}

type LogActivityAction struct {
	Message string `json:"message" yaml:"message"`
}

// Action is a tagged union keyed by Kind. Exactly the payload matching Kind is set.
type Action struct {
	Kind              ActionKind
	MoveStage         *MoveStageAction
	CreateTask        *CreateTaskAction
	SendNotification  *SendNotificationAction
	AddTag            *AddTagAction
	UpdateTemperature *UpdateTemperatureAction
	LogActivity       *LogActivityAction
}

// actionEnvelope is the stored form: {"type": "...", "config": {...}}.
type actionEnvelope struct {
	Type   ActionKind      `json:"type"`
	Config json.RawMessage `json:"config"`
}

func (a Action) payload() any {
	switch a.Kind {
	case ActionMoveStage:
		return a.MoveStage
	case ActionCreateTask:
		return a.CreateTask
	case ActionSendNotification:
		return a.SendNotification
	case ActionAddTag:
		return a.AddTag
	case ActionUpdateTemperature:
		return a.UpdateTemperature
	case ActionLogActivity:
		return a.LogActivity
	}
	return nil
}

// MarshalJSON encodes the action envelope.
func (a Action) MarshalJSON() ([]byte, error) {
	config, err := json.Marshal(a.payload())
	if err != nil {
		return nil, err
	}
	return json.Marshal(actionEnvelope{Type: a.Kind, Config: config})
}

// UnmarshalJSON decodes the envelope into the variant named by "type".
func (a *Action) UnmarshalJSON(data []byte) error {
	var env actionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	decoded, err := DecodeAction(env.Type, env.Config)
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

// DecodeAction builds an action from its kind and raw config.
func DecodeAction(kind ActionKind, raw []byte) (Action, error) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = []byte("{}")
	}
	action := Action{Kind: kind}
	var target any
	switch kind {
	case ActionMoveStage:
		action.MoveStage = &MoveStageAction{}
		target = action.MoveStage
	case ActionCreateTask:
		action.CreateTask = &CreateTaskAction{}
		target = action.CreateTask
	case ActionSendNotification:
		action.SendNotification = &SendNotificationAction{}
		target = action.SendNotification
	case ActionAddTag:
		action.AddTag = &AddTagAction{}
		target = action.AddTag
	case ActionUpdateTemperature:
		action.UpdateTemperature = &UpdateTemperatureAction{}
		target = action.UpdateTemperature
	case ActionLogActivity:
		action.LogActivity = &LogActivityAction{}
		target = action.LogActivity
	default:
		return Action{}, fmt.Errorf("unknown action type %q", kind)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return Action{}, fmt.Errorf("decode %s action: %w", kind, err)
	}
	return action, nil
}

// Validate checks the payload of the active variant.
func (a Action) Validate() error {
	if a.payload() == nil {
		return fmt.Errorf("action %q has no config", a.Kind)
	}
	switch a.Kind {
	case ActionMoveStage:
		if a.MoveStage.StageID == uuid.Nil {
			return fmt.Errorf("move_stage requires stage_id")
		}
	case ActionCreateTask:
		if strings.TrimSpace(a.CreateTask.Title) == "" {
			return fmt.Errorf("create_task requires a title")
		}
		if a.CreateTask.DueInMinutes < 0 {
			return fmt.Errorf("create_task due_in_minutes must not be negative")
		}
	case ActionSendNotification:
		if strings.TrimSpace(a.SendNotification.Title) == "" && strings.TrimSpace(a.SendNotification.Message) == "" {
			return fmt.Errorf("send_notification requires a title or message")
		}
	case ActionAddTag:
		if strings.TrimSpace(a.AddTag.Tag) == "" {
			return fmt.Errorf("add_tag requires a tag")
		}
	case ActionUpdateTemperature:
		if _, err := ParseTemperature(string(a.UpdateTemperature.Temperature)); err != nil {
			return err
		}
	case ActionLogActivity:
		if strings.TrimSpace(a.LogActivity.Message) == "" {
			return fmt.Errorf("log_activity requires a message")
		}
	}
	return nil
}
