package qualify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"pipeline_backend/internal/automation/ports"
)

// Generator produces a JSON completion. platform/ai/gemini.Client satisfies it.
type Generator interface {
	GenerateJSON(ctx context.Context, system, prompt string) (string, error)
}

const systemInstruction = `You qualify sales leads for a pipeline CRM.
Answer with a single JSON object: {"score": <integer 0-100>, "qualification": "<hot|warm|cold|unqualified>", "reason": "<one sentence>"}.
Base the verdict only on the facts provided.`

// Oracle scores leads with a language model.
type Oracle struct {
	generator Generator
}

func NewOracle(generator Generator) *Oracle {
	return &Oracle{generator: generator}
}

func (o *Oracle) Qualify(ctx context.Context, input ports.QualificationInput) (ports.Qualification, error) {
	raw, err := o.generator.GenerateJSON(ctx, systemInstruction, buildPrompt(input))
	if err != nil {
		return ports.Qualification{}, err
	}

	var verdict ports.Qualification
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return ports.Qualification{}, fmt.Errorf("decode qualification: %w", err)
	}
	if verdict.Score < 0 || verdict.Score > 100 {
		return ports.Qualification{}, fmt.Errorf("qualification score %d out of range", verdict.Score)
	}
	verdict.Qualification = strings.ToLower(strings.TrimSpace(verdict.Qualification))
	if verdict.Qualification == "" {
		return ports.Qualification{}, fmt.Errorf("qualification label missing")
	}
	return verdict, nil
}

func buildPrompt(input ports.QualificationInput) string {
	lead := input.Lead
	var b strings.Builder
	fmt.Fprintf(&b, "Stage: %s (%s)\n", lead.StageName, lead.StageCategory)
	fmt.Fprintf(&b, "Temperature: %s\n", lead.Temperature)
	fmt.Fprintf(&b, "Estimated value: %.0f\n", lead.EstimatedValue)
	if len(lead.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(lead.Tags, ", "))
	}
	fmt.Fprintf(&b, "Created: %s\n", lead.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Last activity: %s\n", lead.LastActivity().UTC().Format(time.RFC3339))
	if lead.AssignedAgentID == nil {
		b.WriteString("Owner: unassigned\n")
	}

	fmt.Fprintf(&b, "Interactions (%d):\n", len(input.Interactions))
	for _, item := range input.Interactions {
		sentiment := "unknown"
		if item.Sentiment != nil {
			sentiment = string(*item.Sentiment)
		}
		fmt.Fprintf(&b, "- %s %s %s sentiment=%s\n", item.OccurredAt.UTC().Format(time.RFC3339), item.Direction, item.Kind, sentiment)
	}
	return b.String()
}
