package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestParseTriggerRejectsMismatchedPayload(t *testing.T) {
	if _, err := ParseTrigger(TriggerTimeInStage, []byte(`{"hours": 4}`)); err == nil {
		t.Fatalf("expected time_in_stage without max_days to be rejected")
	}
	if _, err := ParseTrigger("weekly", nil); err == nil {
		t.Fatalf("expected unknown trigger type to be rejected")
	}
}

func TestScheduledConfigMinuteOfDay(t *testing.T) {
	minute, err := ScheduledConfig{TimeOfDay: "09:30"}.MinuteOfDay()
	if err != nil || minute != 570 {
		t.Fatalf("expected 570, got %d (%v)", minute, err)
	}
	if _, err := (ScheduledConfig{TimeOfDay: "25:00"}).MinuteOfDay(); err == nil {
		t.Fatalf("expected invalid hour to be rejected")
	}
}

func TestActionEnvelopeDecodesTypedPayload(t *testing.T) {
	stageID := uuid.New()
	raw := []byte(`[{"type":"move_stage","config":{"stage_id":"` + stageID.String() + `"}},{"type":"add_tag","config":{"tag":"vip"}}]`)

	var actions []Action
	if err := json.Unmarshal(raw, &actions); err != nil {
		t.Fatalf("decode actions: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(actions))
	}
	if actions[0].MoveStage == nil || actions[0].MoveStage.StageID != stageID {
		t.Fatalf("move_stage payload not decoded: %+v", actions[0])
	}
	if actions[1].AddTag == nil || actions[1].AddTag.Tag != "vip" || actions[1].MoveStage != nil {
		t.Fatalf("add_tag payload not decoded exclusively: %+v", actions[1])
	}
}

func TestActionRejectsUnknownKind(t *testing.T) {
	var action Action
	if err := json.Unmarshal([]byte(`{"type":"send_email","config":{}}`), &action); err == nil {
		t.Fatalf("expected unknown action kind to be rejected")
	}
}

func TestResolveSLAPrefersStageScope(t *testing.T) {
	pipelineID := uuid.New()
	stageID := uuid.New()
	configs := []SLAConfig{
		{PipelineID: &pipelineID, WarningHours: 10},
		{StageID: &stageID, WarningHours: 2},
	}

	cfg, ok := ResolveSLA(configs, Lead{PipelineID: pipelineID, StageID: stageID})
	if !ok || cfg.WarningHours != 2 {
		t.Fatalf("expected stage scoped config, got %+v (ok=%v)", cfg, ok)
	}
	cfg, ok = ResolveSLA(configs, Lead{PipelineID: pipelineID, StageID: uuid.New()})
	if !ok || cfg.WarningHours != 10 {
		t.Fatalf("expected pipeline scoped config, got %+v (ok=%v)", cfg, ok)
	}
	if _, ok := ResolveSLA(configs, Lead{PipelineID: uuid.New(), StageID: uuid.New()}); ok {
		t.Fatalf("expected no config for foreign pipeline")
	}
}

func TestTemperatureDemoteIsOneStep(t *testing.T) {
	cases := map[Temperature]Temperature{
		TemperatureHot:  TemperatureWarm,
		TemperatureWarm: TemperatureCold,
		TemperatureCold: TemperatureCold,
	}
	for from, want := range cases {
		if got := from.Demote(); got != want {
			t.Fatalf("%s.Demote() = %s, want %s", from, got, want)
		}
	}
}

func TestLeadLastActivityFallsBack(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	contact := created.Add(48 * time.Hour)
	lead := Lead{CreatedAt: created}
	if !lead.LastActivity().Equal(created) {
		t.Fatalf("expected created_at fallback")
	}
	lead.LastContactAt = &contact
	if !lead.LastActivity().Equal(contact) {
		t.Fatalf("expected last_contact_at fallback")
	}
}

func TestRunReportCountsPartialAsSuccess(t *testing.T) {
	report := NewRunReport("rules", false, time.Now())
	leadID := uuid.New()
	report.Fail(&leadID, nil, &PartialExecutionError{LeadID: leadID, Failures: []ActionFailure{{Index: 1, Kind: ActionCreateTask, Error: "no agent"}}})
	if report.Succeeded != 1 || report.Failed != 0 || len(report.Errors) != 1 {
		t.Fatalf("unexpected counters %+v", report)
	}
}
