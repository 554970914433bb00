// Package events declares the engine's domain events and aliases the
// platform bus so callers need a single import.
package events

import (
	"time"

	"pipeline_backend/platform/events"
	"pipeline_backend/platform/logger"

	"github.com/google/uuid"
)

type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	InMemoryBus = events.InMemoryBus
)

var NewBaseEvent = events.NewBaseEvent

func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return events.NewInMemoryBus(log)
}

// =============================================================================
// Distribution Events
// =============================================================================

// LeadAssigned is published after the balancer assigns a lead to an agent.
type LeadAssigned struct {
	BaseEvent
	LeadID            uuid.UUID `json:"leadId"`
	AgentID           uuid.UUID `json:"agentId"`
	TeamID            uuid.UUID `json:"teamId"`
	FirstContactDueAt time.Time `json:"firstContactDueAt"`
}

func (e LeadAssigned) EventName() string { return "automation.lead.assigned" }

// =============================================================================
// Temperature Events
// =============================================================================

// LeadTemperatureChanged is published when the classifier changes a lead's temperature.
type LeadTemperatureChanged struct {
	BaseEvent
	LeadID uuid.UUID `json:"leadId"`
	From   string    `json:"from"`
	To     string    `json:"to"`
}

func (e LeadTemperatureChanged) EventName() string { return "automation.lead.temperature_changed" }

// =============================================================================
// Run Events
// =============================================================================

// JobCompleted is published after any engine job finishes a batch.
type JobCompleted struct {
	BaseEvent
	Job       string `json:"job"`
	Processed int    `json:"processed"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	DryRun    bool   `json:"dryRun"`
}

func (e JobCompleted) EventName() string { return "automation.job.completed" }
