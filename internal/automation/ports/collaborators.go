package ports

import (
	"context"

	"pipeline_backend/internal/automation/domain"
)

// QualificationInput is the lead context handed to the scoring oracle.
type QualificationInput struct {
	Lead         domain.Lead
	Interactions []domain.Interaction
}

// Qualification is the oracle's opaque verdict.
type Qualification struct {
	Score         int    `json:"score"`
	Qualification string `json:"qualification"`
	Reason        string `json:"reason"`
}

// ScoringOracle scores a lead. Its internals are not part of the engine.
type ScoringOracle interface {
	Qualify(ctx context.Context, input QualificationInput) (Qualification, error)
}

// RunStatusStore keeps the latest report per job.
type RunStatusStore interface {
	Save(ctx context.Context, report domain.RunReport) error
	Latest(ctx context.Context, jobs []string) (map[string]domain.RunReport, error)
}
