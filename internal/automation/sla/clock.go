// Package sla classifies stage residency into SLA tiers and raises deduplicated
// alerts for warning, breach, critical and stale leads.
package sla

import (
	"math"
	"time"

	"pipeline_backend/internal/automation/domain"
)

// BusinessHoursPerDay is the flat working-day length used by the business-hours
// approximation. Weekends and holidays are not modelled.
const BusinessHoursPerDay = 8

// ElapsedHours is the time the lead has spent in its current stage.
func ElapsedHours(lead domain.Lead, now time.Time) float64 {
	hours := now.Sub(lead.StageEntry()).Hours()
	if hours < 0 {
		return 0
	}
	return hours
}

// AdjustedHours applies the business-hours approximation when requested:
// every full day counts 8 hours and the remainder is capped at 8.
func AdjustedHours(hours float64, businessHoursOnly bool) float64 {
	if !businessHoursOnly {
		return hours
	}
	fullDays := math.Floor(hours / 24)
	remainder := hours - fullDays*24
	return fullDays*BusinessHoursPerDay + math.Min(remainder, BusinessHoursPerDay)
}

// TierFor maps adjusted hours to a tier, highest tier first. A zero threshold
// disables its tier.
func TierFor(hours float64, cfg domain.SLAConfig) domain.Tier {
	switch {
	case cfg.CriticalHours > 0 && hours >= cfg.CriticalHours:
		return domain.TierCritical
	case cfg.MaxHours > 0 && hours >= cfg.MaxHours:
		return domain.TierBreach
	case cfg.WarningHours > 0 && hours >= cfg.WarningHours:
		return domain.TierWarning
	default:
		return domain.TierNone
	}
}

// Classify returns the SLA tier of a lead. Terminal leads are always TierNone.
func Classify(lead domain.Lead, cfg domain.SLAConfig, now time.Time) domain.Tier {
	if lead.IsTerminal() {
		return domain.TierNone
	}
	return TierFor(AdjustedHours(ElapsedHours(lead, now), cfg.BusinessHoursOnly), cfg)
}

// IsStale reports whether the lead has gone without contact for at least after.
// Leads never contacted are measured from creation.
func IsStale(lead domain.Lead, after time.Duration, now time.Time) bool {
	if lead.IsTerminal() || after <= 0 {
		return false
	}
	since := lead.CreatedAt
	if lead.LastContactAt != nil {
		since = *lead.LastContactAt
	}
	return now.Sub(since) >= after
}
