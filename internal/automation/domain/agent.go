package domain

import (
	"time"

	"github.com/google/uuid"
)

// AgentRole distinguishes lead owners from the escalation group.
type AgentRole string

const (
	AgentRoleAgent       AgentRole = "agent"
	AgentRoleCoordinator AgentRole = "coordinator"
	AgentRoleManager     AgentRole = "manager"
)

// Agent is a sales agent eligible for notifications and lead assignment.
type Agent struct {
	ID           uuid.UUID
	TeamID       uuid.UUID
	Name         string
	Role         AgentRole
	Active       bool
	AcceptsLeads bool
}

// Escalates reports whether the agent receives critical SLA escalations.
func (a Agent) Escalates() bool {
	return a.Role == AgentRoleCoordinator || a.Role == AgentRoleManager
}

// Sentiment is the tone of a lead interaction.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Interaction is a contact event with a lead.
type Interaction struct {
	LeadID     uuid.UUID
	Kind       string
	Direction  string
	Sentiment  *Sentiment
	OccurredAt time.Time
}
