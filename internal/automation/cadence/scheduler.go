// Package cadence fires day-offset outreach steps relative to a lead's stage
// entry. All state is derived from stage_entered_at and the execution ledger,
// so every tick is safe to re-run.
package cadence

import (
	"math"
	"sort"
	"time"

	"pipeline_backend/internal/automation/domain"
)

// Due is a step that must fire for a lead on this tick.
type Due struct {
	Lead domain.Lead
	Step domain.CadenceStep
}

// DaysSinceStageEntry floors the whole days the lead has spent in its stage.
func DaysSinceStageEntry(lead domain.Lead, now time.Time) int {
	return int(math.Floor(now.Sub(lead.StageEntry()).Hours() / 24))
}

// Tick returns the steps due now. A step fires only on the exact day its offset
// names and only when the ledger holds no entry for it since the lead entered
// its current stage. fired is keyed by step key.
func Tick(cadence domain.Cadence, leads []domain.Lead, fired map[string]domain.LedgerSnapshot, now time.Time) []Due {
	if !cadence.Active {
		return nil
	}
	steps := append([]domain.CadenceStep(nil), cadence.Steps...)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Position < steps[j].Position })

	var due []Due
	for _, lead := range leads {
		if lead.IsTerminal() || !cadence.InScope(lead) {
			continue
		}
		days := DaysSinceStageEntry(lead, now)
		for _, step := range steps {
			if step.DayOffset != days {
				continue
			}
			if fired[step.Key()].ExecutedSince(lead.ID, lead.StageEntry()) {
				continue
			}
			due = append(due, Due{Lead: lead, Step: step})
		}
	}
	return due
}

// LookbackFor is how far back the ledger must be read for a step: the earliest
// stage entry of a lead that is exactly on the step's day.
func LookbackFor(step domain.CadenceStep, now time.Time) time.Time {
	return now.Add(-time.Duration(step.DayOffset+1) * 24 * time.Hour)
}

// Horizon is the earliest stage entry of a lead that can still have a step due:
// one day past the cadence's largest offset. Older leads are never read.
func Horizon(cadence domain.Cadence, now time.Time) time.Time {
	last := 0
	for _, step := range cadence.Steps {
		if step.DayOffset > last {
			last = step.DayOffset
		}
	}
	return now.Add(-time.Duration(last+1) * 24 * time.Hour)
}
