package cadence

import (
	"testing"
	"time"

	"pipeline_backend/internal/automation/domain"

	"github.com/google/uuid"
)

var (
	testEntered  = time.Date(2026, 8, 3, 9, 30, 0, 0, time.UTC)
	testPipeline = uuid.New()
)

func dayThreeCadence() domain.Cadence {
	return domain.Cadence{
		ID:         uuid.New(),
		Name:       "follow-up",
		Active:     true,
		PipelineID: &testPipeline,
		Steps: []domain.CadenceStep{
			{ID: uuid.New(), Position: 1, DayOffset: 0, Channel: domain.ChannelEmail, Body: "Welcome {{first_name}}"},
			{ID: uuid.New(), Position: 2, DayOffset: 3, Channel: domain.ChannelWhatsApp, Body: "Hi {{first_name}}, any questions?"},
		},
	}
}

func enteredLead() domain.Lead {
	entered := testEntered
	return domain.Lead{
		ID:             uuid.New(),
		PipelineID:     testPipeline,
		FirstName:      "noor",
		Phone:          "06 12345678",
		Email:          "noor@example.com",
		CreatedAt:      entered,
		StageEnteredAt: &entered,
	}
}

func dueOffsets(due []Due) []int {
	offsets := make([]int, 0, len(due))
	for _, d := range due {
		offsets = append(offsets, d.Step.DayOffset)
	}
	return offsets
}

func TestTickFiresOnlyOnExactDay(t *testing.T) {
	cadence := dayThreeCadence()
	lead := enteredLead()

	cases := []struct {
		at   time.Time
		want []int
	}{
		{testEntered.Add(1 * time.Hour), []int{0}},
		{testEntered.Add(2*24*time.Hour + 23*time.Hour), nil},
		{testEntered.Add(3 * 24 * time.Hour), []int{3}},
		{testEntered.Add(3*24*time.Hour + 23*time.Hour), []int{3}},
		{testEntered.Add(4 * 24 * time.Hour), nil},
	}
	for _, tc := range cases {
		got := dueOffsets(Tick(cadence, []domain.Lead{lead}, nil, tc.at))
		if len(got) != len(tc.want) || (len(got) == 1 && got[0] != tc.want[0]) {
			t.Fatalf("at %s: got offsets %v, want %v", tc.at, got, tc.want)
		}
	}
}

func TestTickSkipsStepAlreadyInLedger(t *testing.T) {
	cadence := dayThreeCadence()
	lead := enteredLead()
	at := testEntered.Add(3*24*time.Hour + time.Hour)
	step := cadence.Steps[1]

	fired := map[string]domain.LedgerSnapshot{step.Key(): {lead.ID: testEntered.Add(3 * 24 * time.Hour)}}
	if due := Tick(cadence, []domain.Lead{lead}, fired, at); len(due) != 0 {
		t.Fatalf("step already fired must not fire again, got %v", dueOffsets(due))
	}
}

func TestTickIgnoresLedgerEntryFromEarlierStageVisit(t *testing.T) {
	cadence := dayThreeCadence()
	lead := enteredLead()
	at := testEntered.Add(3*24*time.Hour + time.Hour)
	step := cadence.Steps[1]

	fired := map[string]domain.LedgerSnapshot{step.Key(): {lead.ID: testEntered.Add(-time.Hour)}}
	if due := Tick(cadence, []domain.Lead{lead}, fired, at); len(due) != 1 {
		t.Fatalf("entry from before the current stage entry must not block, got %v", dueOffsets(due))
	}
}

func TestTickSkipsTerminalAndOutOfScopeLeads(t *testing.T) {
	cadence := dayThreeCadence()
	won := enteredLead()
	at := testEntered.Add(3 * 24 * time.Hour)
	won.WonAt = &at
	foreign := enteredLead()
	foreign.PipelineID = uuid.New()

	if due := Tick(cadence, []domain.Lead{won, foreign}, nil, at); len(due) != 0 {
		t.Fatalf("expected nothing due, got %v", dueOffsets(due))
	}
}

func TestHorizonCoversOneDayPastTheLastStep(t *testing.T) {
	now := testEntered.Add(10 * 24 * time.Hour)
	if got, want := Horizon(dayThreeCadence(), now), now.Add(-4*24*time.Hour); !got.Equal(want) {
		t.Fatalf("Horizon = %s, want %s", got, want)
	}
	if got, want := Horizon(domain.Cadence{}, now), now.Add(-24*time.Hour); !got.Equal(want) {
		t.Fatalf("Horizon without steps = %s, want %s", got, want)
	}
}
