// Package definitions loads automation configuration (rules, cadences,
// message templates and SLA thresholds) from YAML and writes it to the
// database. Configuration files are the only way rules change.
package definitions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"pipeline_backend/internal/automation/domain"
	"pipeline_backend/platform/apperr"
	"pipeline_backend/platform/validator"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const opApply = "automation.definitions.apply"

// File is the top-level YAML document. Pipelines and stages are referenced by name.
type File struct {
	Templates []TemplateDef `yaml:"templates" validate:"dive"`
	Cadences  []CadenceDef  `yaml:"cadences" validate:"dive"`
	Rules     []RuleDef     `yaml:"rules" validate:"dive"`
	SLA       []SLADef      `yaml:"sla" validate:"dive"`
}

type TemplateDef struct {
	Name    string `yaml:"name" validate:"required"`
	Channel string `yaml:"channel" validate:"required,oneof=whatsapp sms email"`
	Body    string `yaml:"body" validate:"required"`
}

type CadenceDef struct {
	Name     string    `yaml:"name" validate:"required"`
	Pipeline string    `yaml:"pipeline"`
	Stage    string    `yaml:"stage"`
	Active   *bool     `yaml:"active"`
	Steps    []StepDef `yaml:"steps" validate:"required,min=1,dive"`
}

// StepDef sends Body, or the named Template, Day days after stage entry.
type StepDef struct {
	Day      int    `yaml:"day" validate:"gte=0"`
	Channel  string `yaml:"channel" validate:"required,oneof=whatsapp sms email"`
	Template string `yaml:"template"`
	Body     string `yaml:"body"`
}

type RuleDef struct {
	Name              string      `yaml:"name" validate:"required"`
	Pipeline          string      `yaml:"pipeline"`
	Stage             string      `yaml:"stage"`
	Active            *bool       `yaml:"active"`
	DedupeWindowHours int         `yaml:"dedupe_window_hours" validate:"gte=0"`
	Trigger           TriggerDef  `yaml:"trigger"`
	Actions           []ActionDef `yaml:"actions" validate:"required,min=1,dive"`
}

type TriggerDef struct {
	Type   string         `yaml:"type" validate:"required"`
	Config map[string]any `yaml:"config"`
}

// ActionDef carries an action config. move_stage takes a stage name under
// "stage", resolved within the rule's pipeline.
type ActionDef struct {
	Type   string         `yaml:"type" validate:"required"`
	Config map[string]any `yaml:"config"`
}

type SLADef struct {
	Pipeline          string  `yaml:"pipeline"`
	Stage             string  `yaml:"stage"`
	WarningHours      float64 `yaml:"warning_hours" validate:"gte=0"`
	MaxHours          float64 `yaml:"max_hours" validate:"gte=0"`
	CriticalHours     float64 `yaml:"critical_hours" validate:"gte=0"`
	BusinessHoursOnly bool    `yaml:"business_hours_only"`
}

// Load decodes and validates a definitions file. Unknown keys are rejected.
func Load(r io.Reader, val *validator.Validator) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file File
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return &file, nil
		}
		return nil, apperr.Validation("invalid definitions file: " + err.Error())
	}
	if err := val.Struct(file); err != nil {
		return nil, apperr.Validation(err.Error())
	}
	return &file, nil
}

// Store is the write side the definitions are applied to, usually one
// transaction.
type Store interface {
	ResolvePipeline(ctx context.Context, name string) (uuid.UUID, error)
	ResolveStage(ctx context.Context, pipelineID uuid.UUID, name string) (uuid.UUID, error)
	UpsertTemplate(ctx context.Context, tpl domain.MessageTemplate) (uuid.UUID, error)
	UpsertCadence(ctx context.Context, cadence domain.Cadence) (uuid.UUID, error)
	UpsertRule(ctx context.Context, rule domain.AutomationRule) (uuid.UUID, error)
	UpsertSLAConfig(ctx context.Context, cfg domain.SLAConfig) (uuid.UUID, error)
}

// Summary counts what Apply wrote.
type Summary struct {
	Templates int
	Cadences  int
	Rules     int
	SLA       int
}

type applier struct {
	store     Store
	pipelines map[string]uuid.UUID
	stages    map[string]uuid.UUID
	templates map[string]uuid.UUID
}

// Apply upserts every definition. Templates go first so cadence steps can
// reference them by name.
func Apply(ctx context.Context, store Store, file *File) (Summary, error) {
	a := &applier{
		store:     store,
		pipelines: make(map[string]uuid.UUID),
		stages:    make(map[string]uuid.UUID),
		templates: make(map[string]uuid.UUID),
	}
	var summary Summary

	for _, def := range file.Templates {
		id, err := store.UpsertTemplate(ctx, domain.MessageTemplate{
			Name:    def.Name,
			Channel: domain.Channel(def.Channel),
			Body:    def.Body,
		})
		if err != nil {
			return summary, fmt.Errorf("template %q: %w", def.Name, err)
		}
		a.templates[def.Name] = id
		summary.Templates++
	}

	for _, def := range file.Cadences {
		cadence, err := a.cadence(ctx, def)
		if err != nil {
			return summary, fmt.Errorf("cadence %q: %w", def.Name, err)
		}
		if _, err := store.UpsertCadence(ctx, cadence); err != nil {
			return summary, fmt.Errorf("cadence %q: %w", def.Name, err)
		}
		summary.Cadences++
	}

	for _, def := range file.Rules {
		rule, err := a.rule(ctx, def)
		if err != nil {
			return summary, fmt.Errorf("rule %q: %w", def.Name, err)
		}
		if _, err := store.UpsertRule(ctx, rule); err != nil {
			return summary, fmt.Errorf("rule %q: %w", def.Name, err)
		}
		summary.Rules++
	}

	for _, def := range file.SLA {
		pipelineID, stageID, err := a.scope(ctx, def.Pipeline, def.Stage)
		if err != nil {
			return summary, fmt.Errorf("sla %s/%s: %w", def.Pipeline, def.Stage, err)
		}
		cfg := domain.SLAConfig{
			PipelineID:        pipelineID,
			StageID:           stageID,
			WarningHours:      def.WarningHours,
			MaxHours:          def.MaxHours,
			CriticalHours:     def.CriticalHours,
			BusinessHoursOnly: def.BusinessHoursOnly,
		}
		if err := cfg.Validate(); err != nil {
			return summary, apperr.Validation(fmt.Sprintf("sla %s/%s: %v", def.Pipeline, def.Stage, err)).WithOp(opApply)
		}
		if _, err := store.UpsertSLAConfig(ctx, cfg); err != nil {
			return summary, fmt.Errorf("sla %s/%s: %w", def.Pipeline, def.Stage, err)
		}
		summary.SLA++
	}

	return summary, nil
}

func (a *applier) cadence(ctx context.Context, def CadenceDef) (domain.Cadence, error) {
	pipelineID, stageID, err := a.scope(ctx, def.Pipeline, def.Stage)
	if err != nil {
		return domain.Cadence{}, err
	}

	cadence := domain.Cadence{
		Name:       def.Name,
		PipelineID: pipelineID,
		StageID:    stageID,
		Active:     active(def.Active),
		Steps:      make([]domain.CadenceStep, 0, len(def.Steps)),
	}
	for i, s := range def.Steps {
		step := domain.CadenceStep{
			Position:  i,
			DayOffset: s.Day,
			Channel:   domain.Channel(s.Channel),
			Body:      s.Body,
		}
		if s.Template != "" {
			id, ok := a.templates[s.Template]
			if !ok {
				return domain.Cadence{}, apperr.Validation("unknown template " + s.Template).WithOp(opApply)
			}
			step.TemplateID = &id
		}
		cadence.Steps = append(cadence.Steps, step)
	}
	if err := cadence.Validate(); err != nil {
		return domain.Cadence{}, apperr.Validation(err.Error()).WithOp(opApply)
	}
	return cadence, nil
}

func (a *applier) rule(ctx context.Context, def RuleDef) (domain.AutomationRule, error) {
	pipelineID, stageID, err := a.scope(ctx, def.Pipeline, def.Stage)
	if err != nil {
		return domain.AutomationRule{}, err
	}

	raw, err := json.Marshal(def.Trigger.Config)
	if err != nil {
		return domain.AutomationRule{}, apperr.Validation(err.Error()).WithOp(opApply)
	}
	trigger, err := domain.ParseTrigger(domain.TriggerType(def.Trigger.Type), raw)
	if err != nil {
		return domain.AutomationRule{}, apperr.Validation(err.Error()).WithOp(opApply)
	}

	actions := make([]domain.Action, 0, len(def.Actions))
	for i, ad := range def.Actions {
		action, err := a.action(ctx, pipelineID, ad)
		if err != nil {
			return domain.AutomationRule{}, fmt.Errorf("action %d: %w", i, err)
		}
		actions = append(actions, action)
	}

	rule := domain.AutomationRule{
		Name:         def.Name,
		Trigger:      trigger,
		Actions:      actions,
		PipelineID:   pipelineID,
		StageID:      stageID,
		Active:       active(def.Active),
		DedupeWindow: time.Duration(def.DedupeWindowHours) * time.Hour,
	}
	if err := rule.Validate(); err != nil {
		return domain.AutomationRule{}, apperr.Validation(err.Error()).WithOp(opApply)
	}
	return rule, nil
}

func (a *applier) action(ctx context.Context, pipelineID *uuid.UUID, def ActionDef) (domain.Action, error) {
	config := make(map[string]any, len(def.Config))
	for k, v := range def.Config {
		config[k] = v
	}

	if domain.ActionKind(def.Type) == domain.ActionMoveStage {
		if name, ok := config["stage"].(string); ok {
			if pipelineID == nil {
				return domain.Action{}, apperr.Validation("move_stage by name needs a pipeline scope").WithOp(opApply)
			}
			stageID, err := a.stage(ctx, *pipelineID, name)
			if err != nil {
				return domain.Action{}, err
			}
			delete(config, "stage")
			config["stage_id"] = stageID.String()
		}
	}

	raw, err := json.Marshal(config)
	if err != nil {
		return domain.Action{}, apperr.Validation(err.Error()).WithOp(opApply)
	}
	action, err := domain.DecodeAction(domain.ActionKind(def.Type), raw)
	if err != nil {
		return domain.Action{}, apperr.Validation(err.Error()).WithOp(opApply)
	}
	return action, nil
}

// scope resolves an optional pipeline/stage pair. A stage needs its pipeline.
func (a *applier) scope(ctx context.Context, pipeline, stage string) (*uuid.UUID, *uuid.UUID, error) {
	pipeline = strings.TrimSpace(pipeline)
	stage = strings.TrimSpace(stage)
	if pipeline == "" {
		if stage != "" {
			return nil, nil, apperr.Validation("stage " + stage + " needs a pipeline").WithOp(opApply)
		}
		return nil, nil, nil
	}

	pipelineID, ok := a.pipelines[pipeline]
	if !ok {
		id, err := a.store.ResolvePipeline(ctx, pipeline)
		if err != nil {
			return nil, nil, err
		}
		a.pipelines[pipeline] = id
		pipelineID = id
	}
	if stage == "" {
		return &pipelineID, nil, nil
	}

	stageID, err := a.stage(ctx, pipelineID, stage)
	if err != nil {
		return nil, nil, err
	}
	return &pipelineID, &stageID, nil
}

func (a *applier) stage(ctx context.Context, pipelineID uuid.UUID, name string) (uuid.UUID, error) {
	key := pipelineID.String() + "/" + name
	if id, ok := a.stages[key]; ok {
		return id, nil
	}
	id, err := a.store.ResolveStage(ctx, pipelineID, name)
	if err != nil {
		return uuid.Nil, err
	}
	a.stages[key] = id
	return id, nil
}

func active(v *bool) bool {
	return v == nil || *v
}
