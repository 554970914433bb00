package render

import (
	"testing"
	"time"

	"pipeline_backend/internal/automation/domain"
)

func TestRenderSubstitutesLeadVariables(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	entered := now.Add(-74 * time.Hour)
	lead := domain.Lead{
		FirstName:      "aNNA",
		LastName:       "de vries",
		StageName:      "Proposal",
		EstimatedValue: 52000,
		StageEnteredAt: &entered,
	}

	got := Render("Hi {{first_name}}, {{ stage }} for {{value}} ({{days_in_stage}}d) {{unknown}}", ForLead(lead, now))
	want := "Hi Anna, Proposal for 52,000 (3d) {{unknown}}"
	if got != want {
		t.Fatalf("Render() = %q, want %q", got, want)
	}
}

func TestRenderLeadNameWithoutLastName(t *testing.T) {
	lead := domain.Lead{FirstName: "sam", CreatedAt: time.Now()}
	if got := Render("{{lead_name}}", ForLead(lead, time.Now())); got != "Sam" {
		t.Fatalf("expected Sam, got %q", got)
	}
}
