package sla

import (
	"testing"
	"time"

	"pipeline_backend/internal/automation/domain"
)

var testNow = time.Date(2026, 5, 4, 15, 0, 0, 0, time.UTC)

func leadInStageFor(hours float64) domain.Lead {
	entered := testNow.Add(-time.Duration(hours * float64(time.Hour)))
	return domain.Lead{CreatedAt: entered.Add(-time.Hour), StageEnteredAt: &entered}
}

func standardConfig() domain.SLAConfig {
	return domain.SLAConfig{WarningHours: 24, MaxHours: 48, CriticalHours: 72}
}

func TestClassifyFiftyHoursIsBreach(t *testing.T) {
	if tier := Classify(leadInStageFor(50), standardConfig(), testNow); tier != domain.TierBreach {
		t.Fatalf("expected breach, got %s", tier)
	}
}

func TestClassifyBoundaries(t *testing.T) {
	cases := []struct {
		hours float64
		want  domain.Tier
	}{
		{0, domain.TierNone},
		{23.9, domain.TierNone},
		{24, domain.TierWarning},
		{48, domain.TierBreach},
		{71.9, domain.TierBreach},
		{72, domain.TierCritical},
		{500, domain.TierCritical},
	}
	for _, tc := range cases {
		if got := Classify(leadInStageFor(tc.hours), standardConfig(), testNow); got != tc.want {
			t.Fatalf("%.1fh: got %s, want %s", tc.hours, got, tc.want)
		}
	}
}

func TestClassifyIsMonotonicInElapsedHours(t *testing.T) {
	for _, businessHours := range []bool{false, true} {
		cfg := standardConfig()
		cfg.BusinessHoursOnly = businessHours
		previous := domain.TierNone
		for minutes := 0; minutes <= 14*24*60; minutes += 17 {
			tier := Classify(leadInStageFor(float64(minutes)/60), cfg, testNow)
			if tier < previous {
				t.Fatalf("tier decreased from %s to %s at %d minutes (business hours %v)", previous, tier, minutes, businessHours)
			}
			previous = tier
		}
	}
}

func TestAdjustedHoursFlatApproximation(t *testing.T) {
	cases := map[float64]float64{
		5:  5,
		10: 8,
		24: 8,
		30: 14,
		50: 18,
		72: 24,
	}
	for raw, want := range cases {
		if got := AdjustedHours(raw, true); got != want {
			t.Fatalf("AdjustedHours(%v) = %v, want %v", raw, got, want)
		}
	}
	if AdjustedHours(50, false) != 50 {
		t.Fatalf("calendar hours must pass through unchanged")
	}
}

func TestClassifyZeroThresholdDisablesTier(t *testing.T) {
	cfg := domain.SLAConfig{WarningHours: 0, MaxHours: 0, CriticalHours: 10}
	if tier := Classify(leadInStageFor(5), cfg, testNow); tier != domain.TierNone {
		t.Fatalf("expected none, got %s", tier)
	}
}

func TestClassifyFallsBackToCreatedAt(t *testing.T) {
	lead := domain.Lead{CreatedAt: testNow.Add(-30 * time.Hour)}
	if tier := Classify(lead, standardConfig(), testNow); tier != domain.TierWarning {
		t.Fatalf("expected warning from created_at, got %s", tier)
	}
}

func TestClassifyTerminalLeadIsNone(t *testing.T) {
	lead := leadInStageFor(100)
	won := testNow
	lead.WonAt = &won
	if tier := Classify(lead, standardConfig(), testNow); tier != domain.TierNone {
		t.Fatalf("terminal lead must classify as none, got %s", tier)
	}
}
