package config

import (
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/pipeline")
	t.Setenv("CORS_ALLOW_CREDENTIALS", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.GetDedupeWindow() != 24*time.Hour {
		t.Fatalf("expected 24h dedupe window, got %s", cfg.GetDedupeWindow())
	}
	if cfg.GetSLAAlertCooldown() != 4*time.Hour {
		t.Fatalf("expected 4h SLA alert cooldown, got %s", cfg.GetSLAAlertCooldown())
	}
	if cfg.GetDefaultBatchSize() != 200 || cfg.GetMaxBatchSize() != 2000 {
		t.Fatalf("unexpected batch sizes %d/%d", cfg.GetDefaultBatchSize(), cfg.GetMaxBatchSize())
	}
	if cfg.GetMaxPages() != 10 {
		t.Fatalf("expected 10 max pages, got %d", cfg.GetMaxPages())
	}
	if cfg.IsOracleEnabled() {
		t.Fatalf("oracle must be disabled without GEMINI_API_KEY")
	}
	if cfg.GetBusinessLocation() != time.UTC {
		t.Fatalf("expected UTC business location, got %s", cfg.GetBusinessLocation())
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error when DATABASE_URL is empty")
	}
}

func TestValidateSchedulesRejectsMalformedSpec(t *testing.T) {
	err := ValidateSchedules(map[string]string{
		JobRules: "*/15 * * * *",
		JobSLA:   "every hour",
	})
	if err == nil {
		t.Fatalf("expected malformed cron spec to be rejected")
	}
}

func TestValidateSchedulesAllowsDisabledJob(t *testing.T) {
	if err := ValidateSchedules(map[string]string{JobCadences: ""}); err != nil {
		t.Fatalf("empty schedule should disable the job, got %v", err)
	}
}
