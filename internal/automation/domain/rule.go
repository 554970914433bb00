package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TriggerType selects how a rule picks its leads.
type TriggerType string

const (
	TriggerStageEntry        TriggerType = "stage_entry"
	TriggerTimeInStage       TriggerType = "time_in_stage"
	TriggerNoContact         TriggerType = "no_contact"
	TriggerTemperatureChange TriggerType = "temperature_change"
	TriggerScheduled         TriggerType = "scheduled"
)

// ScheduledWindow is the tolerance around a scheduled rule's time of day.
const ScheduledWindow = 30 * time.Minute

// StageEntryConfig qualifies leads that recently entered the rule's stage.
// WithinHours bounds how far back the entry may lie; zero means the dedupe window.
type StageEntryConfig struct {
	WithinHours float64 `json:"within_hours,omitempty" yaml:"within_hours,omitempty" validate:"gte=0"`
}

// TimeInStageConfig qualifies leads parked in a stage for MaxDays or longer.
type TimeInStageConfig struct {
	MaxDays float64 `json:"max_days" yaml:"max_days" validate:"gt=0"`
}

// NoContactConfig qualifies leads without contact for Hours or longer.
type NoContactConfig struct {
	Hours float64 `json:"hours" yaml:"hours" validate:"gt=0"`
}

// TemperatureChangeConfig qualifies leads currently at Temperature.
type TemperatureChangeConfig struct {
	Temperature Temperature `json:"temperature" yaml:"temperature" validate:"oneof=cold warm hot"`
}

// ScheduledConfig qualifies every lead in scope around TimeOfDay (HH:MM).
type ScheduledConfig struct {
	TimeOfDay string `json:"time_of_day" yaml:"time_of_day" validate:"required"`
}

// MinuteOfDay parses TimeOfDay.
func (c ScheduledConfig) MinuteOfDay() (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(c.TimeOfDay), ":")
	if !ok {
		return 0, fmt.Errorf("time_of_day %q must be HH:MM", c.TimeOfDay)
	}
	hours, err := strconv.Atoi(hh)
	if err != nil || hours < 0 || hours > 23 {
		return 0, fmt.Errorf("time_of_day %q has an invalid hour", c.TimeOfDay)
	}
	minutes, err := strconv.Atoi(mm)
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("time_of_day %q has an invalid minute", c.TimeOfDay)
	}
	return hours*60 + minutes, nil
}

// Trigger is a tagged union: Type names the variant and exactly one payload is set.
type Trigger struct {
	Type              TriggerType
	StageEntry        *StageEntryConfig
	TimeInStage       *TimeInStageConfig
	NoContact         *NoContactConfig
	TemperatureChange *TemperatureChangeConfig
	Scheduled         *ScheduledConfig
}

// ParseTrigger decodes a trigger payload for the given type.
func ParseTrigger(triggerType TriggerType, raw []byte) (Trigger, error) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = []byte("{}")
	}
	trigger := Trigger{Type: triggerType}
	var target any
	switch triggerType {
	case TriggerStageEntry:
		trigger.StageEntry = &StageEntryConfig{}
		target = trigger.StageEntry
	case TriggerTimeInStage:
		trigger.TimeInStage = &TimeInStageConfig{}
		target = trigger.TimeInStage
	case TriggerNoContact:
		trigger.NoContact = &NoContactConfig{}
		target = trigger.NoContact
	case TriggerTemperatureChange:
		trigger.TemperatureChange = &TemperatureChangeConfig{}
		target = trigger.TemperatureChange
	case TriggerScheduled:
		trigger.Scheduled = &ScheduledConfig{}
		target = trigger.Scheduled
	default:
		return Trigger{}, fmt.Errorf("unknown trigger type %q", triggerType)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return Trigger{}, fmt.Errorf("decode %s trigger config: %w", triggerType, err)
	}
	return trigger, trigger.Validate()
}

// Payload returns the active variant.
func (t Trigger) Payload() any {
	switch t.Type {
	case TriggerStageEntry:
		return t.StageEntry
	case TriggerTimeInStage:
		return t.TimeInStage
	case TriggerNoContact:
		return t.NoContact
	case TriggerTemperatureChange:
		return t.TemperatureChange
	case TriggerScheduled:
		return t.Scheduled
	}
	return nil
}

// ConfigJSON encodes the active variant for storage.
func (t Trigger) ConfigJSON() ([]byte, error) {
	payload := t.Payload()
	if payload == nil {
		return nil, fmt.Errorf("unknown trigger type %q", t.Type)
	}
	return json.Marshal(payload)
}

// Validate checks that the payload matches the type and carries sane values.
func (t Trigger) Validate() error {
	switch t.Type {
	case TriggerStageEntry:
		if t.StageEntry == nil {
			return fmt.Errorf("stage_entry trigger has no config")
		}
		if t.StageEntry.WithinHours < 0 {
			return fmt.Errorf("within_hours must not be negative")
		}
	case TriggerTimeInStage:
		if t.TimeInStage == nil || t.TimeInStage.MaxDays <= 0 {
			return fmt.Errorf("time_in_stage trigger requires max_days > 0")
		}
	case TriggerNoContact:
		if t.NoContact == nil || t.NoContact.Hours <= 0 {
			return fmt.Errorf("no_contact trigger requires hours > 0")
		}
	case TriggerTemperatureChange:
		if t.TemperatureChange == nil {
			return fmt.Errorf("temperature_change trigger has no config")
		}
		if _, err := ParseTemperature(string(t.TemperatureChange.Temperature)); err != nil {
			return err
		}
	case TriggerScheduled:
		if t.Scheduled == nil {
			return fmt.Errorf("scheduled trigger has no config")
		}
		if _, err := t.Scheduled.MinuteOfDay(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown trigger type %q", t.Type)
	}
	return nil
}

// AutomationRule is a configured trigger plus its ordered action list.
type AutomationRule struct {
	ID           uuid.UUID
	Name         string
	Trigger      Trigger
	Actions      []Action
	PipelineID   *uuid.UUID
	StageID      *uuid.UUID
	Active       bool
	DedupeWindow time.Duration
	RunCount     int64
	LastRunAt    *time.Time
}

// Window returns the rule's dedupe window, falling back to the given default.
func (r AutomationRule) Window(fallback time.Duration) time.Duration {
	if r.DedupeWindow > 0 {
		return r.DedupeWindow
	}
	return fallback
}

// InScope reports whether the lead falls within the rule's pipeline and stage scope.
func (r AutomationRule) InScope(lead Lead) bool {
	if r.PipelineID != nil && *r.PipelineID != lead.PipelineID {
		return false
	}
	if r.StageID != nil && *r.StageID != lead.StageID {
		return false
	}
	return true
}

// Validate checks the rule's trigger, scope and actions.
func (r AutomationRule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("rule name is required")
	}
	if err := r.Trigger.Validate(); err != nil {
		return err
	}
	if r.Trigger.Type == TriggerStageEntry && r.StageID == nil {
		return fmt.Errorf("stage_entry rule %q requires a stage scope", r.Name)
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("rule %q has no actions", r.Name)
	}
	for i, action := range r.Actions {
		if err := action.Validate(); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}
	return nil
}
