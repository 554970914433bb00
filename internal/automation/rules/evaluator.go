// Package rules evaluates automation rule triggers against candidate leads and
// turns qualifying leads into executions of the rule's action list.
package rules

import (
	"time"

	"pipeline_backend/internal/automation/domain"
)

const minutesPerDay = 24 * 60

// Evaluator decides which leads currently qualify for a rule. It never mutates
// anything: dedupe is decided from the ledger snapshot handed in.
type Evaluator struct {
	defaultWindow time.Duration
	location      *time.Location
}

// NewEvaluator creates an evaluator. defaultWindow applies to rules without their
// own dedupe window; location is used for scheduled triggers.
func NewEvaluator(defaultWindow time.Duration, location *time.Location) *Evaluator {
	if location == nil {
		location = time.UTC
	}
	return &Evaluator{defaultWindow: defaultWindow, location: location}
}

// Evaluate returns the qualifying leads in input order.
func (e *Evaluator) Evaluate(rule domain.AutomationRule, leads []domain.Lead, ledger domain.LedgerSnapshot, now time.Time) []domain.Lead {
	qualifying := make([]domain.Lead, 0, len(leads))
	for _, lead := range leads {
		if e.Matches(rule, lead, ledger, now) {
			qualifying = append(qualifying, lead)
		}
	}
	return qualifying
}

// Matches evaluates a single lead.
func (e *Evaluator) Matches(rule domain.AutomationRule, lead domain.Lead, ledger domain.LedgerSnapshot, now time.Time) bool {
	if !rule.Active || lead.IsTerminal() || !rule.InScope(lead) {
		return false
	}
	window := rule.Window(e.defaultWindow)
	if ledger.ExecutedSince(lead.ID, now.Add(-window)) {
		return false
	}

	trigger := rule.Trigger
	switch trigger.Type {
	case domain.TriggerStageEntry:
		return e.stageEntry(rule, trigger.StageEntry, lead, window, now)
	case domain.TriggerTimeInStage:
		if trigger.TimeInStage == nil {
			return false
		}
		return now.Sub(lead.StageEntry()) >= timeInStageAge(*trigger.TimeInStage)
	case domain.TriggerNoContact:
		if trigger.NoContact == nil {
			return false
		}
		if lead.LastContactAt == nil {
			return true
		}
		return now.Sub(*lead.LastContactAt) >= noContactAge(*trigger.NoContact)
	case domain.TriggerTemperatureChange:
		return trigger.TemperatureChange != nil && lead.Temperature == trigger.TemperatureChange.Temperature
	case domain.TriggerScheduled:
		return trigger.Scheduled != nil && e.withinSchedule(*trigger.Scheduled, now)
	}
	return false
}

func (e *Evaluator) stageEntry(rule domain.AutomationRule, cfg *domain.StageEntryConfig, lead domain.Lead, window time.Duration, now time.Time) bool {
	if rule.StageID == nil || lead.StageID != *rule.StageID {
		return false
	}
	return !lead.StageEntry().Before(now.Add(-stageEntryLookback(cfg, window)))
}

// stageEntryLookback is how recent a stage entry must be to fire: the
// configured hours, else the dedupe window.
func stageEntryLookback(cfg *domain.StageEntryConfig, window time.Duration) time.Duration {
	if cfg != nil && cfg.WithinHours > 0 {
		return time.Duration(cfg.WithinHours * float64(time.Hour))
	}
	return window
}

func timeInStageAge(cfg domain.TimeInStageConfig) time.Duration {
	return time.Duration(cfg.MaxDays * 24 * float64(time.Hour))
}

func noContactAge(cfg domain.NoContactConfig) time.Duration {
	return time.Duration(cfg.Hours * float64(time.Hour))
}

func (e *Evaluator) withinSchedule(cfg domain.ScheduledConfig, now time.Time) bool {
	target, err := cfg.MinuteOfDay()
	if err != nil {
		return false
	}
	local := now.In(e.location)
	current := local.Hour()*60 + local.Minute()
	diff := current - target
	if diff < 0 {
		diff = -diff
	}
	if wrapped := minutesPerDay - diff; wrapped < diff {
		diff = wrapped
	}
	return time.Duration(diff)*time.Minute <= domain.ScheduledWindow
}
