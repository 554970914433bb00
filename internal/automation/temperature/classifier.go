// Package temperature scores recency, sentiment and value signals into a
// cold/warm/hot classification and applies changes to leads.
package temperature

import (
	"time"

	"pipeline_backend/internal/automation/domain"
)

const (
	day = 24 * time.Hour

	activityWindow  = 7 * day
	sentimentWindow = 14 * day

	// MinSentimentSamples is the smallest sample that lets negative sentiment demote.
	MinSentimentSamples = 2
	positiveRatioForHot = 0.7
)

// Signals are the inputs the heuristic reads, exposed for reporting.
type Signals struct {
	RecentInteractions int     `json:"recent_interactions"`
	DaysSinceActivity  float64 `json:"days_since_activity"`
	Positive           int     `json:"positive"`
	Negative           int     `json:"negative"`
	SentimentSamples   int     `json:"sentiment_samples"`
}

// PositiveRatio over the sentiment window; zero without samples.
func (s Signals) PositiveRatio() float64 {
	if s.SentimentSamples == 0 {
		return 0
	}
	return float64(s.Positive) / float64(s.SentimentSamples)
}

// NegativeMajority reports whether negative sentiment outweighs positive over
// a large enough sample.
func (s Signals) NegativeMajority() bool {
	return s.SentimentSamples >= MinSentimentSamples && s.Negative > s.Positive
}

// Result is a classification and the rule that produced it.
type Result struct {
	Temperature domain.Temperature `json:"temperature"`
	Reason      string             `json:"reason"`
	Demoted     bool               `json:"demoted"`
	Signals     Signals            `json:"signals"`
}

// Collect derives signals from the lead and its interactions.
func Collect(lead domain.Lead, interactions []domain.Interaction, now time.Time) Signals {
	var signals Signals
	lastActivity := lead.LastActivity()
	for _, interaction := range interactions {
		if interaction.OccurredAt.After(now) {
			continue
		}
		if interaction.OccurredAt.After(lastActivity) {
			lastActivity = interaction.OccurredAt
		}
		age := now.Sub(interaction.OccurredAt)
		if age <= activityWindow {
			signals.RecentInteractions++
		}
		if age <= sentimentWindow && interaction.Sentiment != nil {
			signals.SentimentSamples++
			switch *interaction.Sentiment {
			case domain.SentimentPositive:
				signals.Positive++
			case domain.SentimentNegative:
				signals.Negative++
			}
		}
	}
	signals.DaysSinceActivity = now.Sub(lastActivity).Hours() / 24
	if signals.DaysSinceActivity < 0 {
		signals.DaysSinceActivity = 0
	}
	return signals
}

// Classifier applies the ordered heat heuristic.
type Classifier struct {
	highValueThreshold float64
}

func NewClassifier(highValueThreshold float64) *Classifier {
	return &Classifier{highValueThreshold: highValueThreshold}
}

// Classify evaluates hot, warm and cold rules top to bottom, first match wins,
// then demotes one step on a negative sentiment majority. Without a match the
// previous temperature is kept.
func (c *Classifier) Classify(lead domain.Lead, interactions []domain.Interaction, now time.Time) Result {
	signals := Collect(lead, interactions, now)
	previous := lead.Temperature
	if previous == "" {
		previous = domain.TemperatureCold
	}

	result := Result{Temperature: previous, Reason: "unchanged", Signals: signals}
	days := signals.DaysSinceActivity
	switch {
	case signals.RecentInteractions >= 3 && days <= 2:
		result.Temperature, result.Reason = domain.TemperatureHot, "frequent recent interactions"
	case signals.PositiveRatio() >= positiveRatioForHot:
		result.Temperature, result.Reason = domain.TemperatureHot, "positive sentiment"
	case lead.StageCategory.IsDealStage():
		result.Temperature, result.Reason = domain.TemperatureHot, "proposal or negotiation stage"
	case c.highValueThreshold > 0 && lead.EstimatedValue >= c.highValueThreshold && days <= 3:
		result.Temperature, result.Reason = domain.TemperatureHot, "high value with recent activity"
	case signals.RecentInteractions >= 1 && days <= 5:
		result.Temperature, result.Reason = domain.TemperatureWarm, "recent interaction"
	case previous == domain.TemperatureHot && days <= 7:
		result.Temperature, result.Reason = domain.TemperatureWarm, "cooling from hot"
	case days > 7:
		result.Temperature, result.Reason = domain.TemperatureCold, "no activity for over 7 days"
	}

	if signals.NegativeMajority() {
		if demoted := result.Temperature.Demote(); demoted != result.Temperature {
			result.Temperature, result.Demoted = demoted, true
			result.Reason += ", demoted for negative sentiment"
		}
	}
	return result
}

// Crossing names a transition into or out of hot, or "" for any other change.
func Crossing(from, to domain.Temperature) string {
	switch {
	case from == to:
		return ""
	case to == domain.TemperatureHot:
		return "heated"
	case from == domain.TemperatureHot:
		return "cooled"
	}
	return ""
}
