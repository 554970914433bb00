package temperature

import (
	"testing"
	"time"

	"pipeline_backend/internal/automation/domain"

	"github.com/google/uuid"
)

var testNow = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

func sentiment(s domain.Sentiment) *domain.Sentiment { return &s }

func interactionAgo(d time.Duration, s *domain.Sentiment) domain.Interaction {
	return domain.Interaction{Kind: "call", OccurredAt: testNow.Add(-d), Sentiment: s}
}

func staleLead(temp domain.Temperature, daysAgo int) domain.Lead {
	activity := testNow.Add(-time.Duration(daysAgo) * 24 * time.Hour)
	return domain.Lead{
		ID:             uuid.New(),
		Temperature:    temp,
		StageCategory:  domain.StageCategoryOpen,
		CreatedAt:      activity.Add(-24 * time.Hour),
		LastActivityAt: &activity,
	}
}

func TestThreeInteractionsInTwoDaysIsHot(t *testing.T) {
	lead := staleLead(domain.TemperatureCold, 20)
	interactions := []domain.Interaction{
		interactionAgo(2*time.Hour, nil),
		interactionAgo(20*time.Hour, sentiment(domain.SentimentNeutral)),
		interactionAgo(40*time.Hour, sentiment(domain.SentimentPositive)),
	}

	result := NewClassifier(50000).Classify(lead, interactions, testNow)
	if result.Temperature != domain.TemperatureHot {
		t.Fatalf("expected hot, got %s (%s)", result.Temperature, result.Reason)
	}
}

func TestClassifierRules(t *testing.T) {
	classifier := NewClassifier(50000)
	cases := []struct {
		name         string
		lead         domain.Lead
		interactions []domain.Interaction
		want         domain.Temperature
	}{
		{
			name: "positive sentiment ratio",
			lead: staleLead(domain.TemperatureCold, 6),
			interactions: []domain.Interaction{
				interactionAgo(10*24*time.Hour, sentiment(domain.SentimentPositive)),
				interactionAgo(12*24*time.Hour, sentiment(domain.SentimentPositive)),
				interactionAgo(13*24*time.Hour, sentiment(domain.SentimentPositive)),
			},
			want: domain.TemperatureHot,
		},
		{
			name:         "single positive sample",
			lead:         staleLead(domain.TemperatureCold, 10),
			interactions: []domain.Interaction{interactionAgo(10*24*time.Hour, sentiment(domain.SentimentPositive))},
			want:         domain.TemperatureHot,
		},
		{
			name:         "one positive interaction yesterday",
			lead:         staleLead(domain.TemperatureCold, 1),
			interactions: []domain.Interaction{interactionAgo(24*time.Hour, sentiment(domain.SentimentPositive))},
			want:         domain.TemperatureHot,
		},
		{
			name: "neutral sample carries no ratio",
			lead: staleLead(domain.TemperatureCold, 10),
			interactions: []domain.Interaction{
				interactionAgo(10*24*time.Hour, sentiment(domain.SentimentNeutral)),
			},
			want: domain.TemperatureCold,
		},
		{
			name: "negotiation stage",
			lead: func() domain.Lead {
				l := staleLead(domain.TemperatureCold, 30)
				l.StageCategory = domain.StageCategoryNegotiation
				return l
			}(),
			want: domain.TemperatureHot,
		},
		{
			name: "high value with recent activity",
			lead: func() domain.Lead {
				l := staleLead(domain.TemperatureCold, 3)
				l.EstimatedValue = 75000
				return l
			}(),
			want: domain.TemperatureHot,
		},
		{
			name:         "one interaction this week",
			lead:         staleLead(domain.TemperatureCold, 30),
			interactions: []domain.Interaction{interactionAgo(4*24*time.Hour, nil)},
			want:         domain.TemperatureWarm,
		},
		{
			name: "hot cools to warm within a week",
			lead: staleLead(domain.TemperatureHot, 6),
			want: domain.TemperatureWarm,
		},
		{
			name: "inactive for over a week",
			lead: staleLead(domain.TemperatureWarm, 8),
			want: domain.TemperatureCold,
		},
		{
			name: "no rule keeps previous temperature",
			lead: staleLead(domain.TemperatureWarm, 6),
			want: domain.TemperatureWarm,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifier.Classify(tc.lead, tc.interactions, testNow); got.Temperature != tc.want {
				t.Fatalf("got %s (%s), want %s", got.Temperature, got.Reason, tc.want)
			}
		})
	}
}

func TestNegativeMajorityDemotesOneStep(t *testing.T) {
	lead := staleLead(domain.TemperatureCold, 1)
	lead.StageCategory = domain.StageCategoryProposal
	interactions := []domain.Interaction{
		interactionAgo(24*time.Hour, sentiment(domain.SentimentNegative)),
		interactionAgo(48*time.Hour, sentiment(domain.SentimentNegative)),
		interactionAgo(72*time.Hour, sentiment(domain.SentimentPositive)),
	}

	result := NewClassifier(50000).Classify(lead, interactions, testNow)
	if result.Temperature != domain.TemperatureWarm || !result.Demoted {
		t.Fatalf("expected hot demoted to warm, got %s (demoted=%v)", result.Temperature, result.Demoted)
	}
}

func TestNegativeOverrideNeedsTwoSamples(t *testing.T) {
	lead := staleLead(domain.TemperatureCold, 1)
	lead.StageCategory = domain.StageCategoryProposal
	interactions := []domain.Interaction{interactionAgo(24*time.Hour, sentiment(domain.SentimentNegative))}

	if result := NewClassifier(50000).Classify(lead, interactions, testNow); result.Temperature != domain.TemperatureHot {
		t.Fatalf("a single negative sample must not demote, got %s", result.Temperature)
	}
}

func TestCrossing(t *testing.T) {
	cases := []struct {
		from, to domain.Temperature
		want     string
	}{
		{domain.TemperatureWarm, domain.TemperatureHot, "heated"},
		{domain.TemperatureCold, domain.TemperatureHot, "heated"},
		{domain.TemperatureHot, domain.TemperatureWarm, "cooled"},
		{domain.TemperatureCold, domain.TemperatureWarm, ""},
		{domain.TemperatureWarm, domain.TemperatureCold, ""},
		{domain.TemperatureHot, domain.TemperatureHot, ""},
	}
	for _, tc := range cases {
		if got := Crossing(tc.from, tc.to); got != tc.want {
			t.Fatalf("Crossing(%s, %s) = %q, want %q", tc.from, tc.to, got, tc.want)
		}
	}
}
