package domain

import (
	"time"

	"github.com/google/uuid"
)

// EffectKind names a side effect to be applied to the lead store.
type EffectKind string

const (
	EffectStageChange   EffectKind = "stage_change"
	EffectTask          EffectKind = "task"
	EffectNotification  EffectKind = "notification"
	EffectTag           EffectKind = "tag"
	EffectTemperature   EffectKind = "temperature"
	EffectHistory       EffectKind = "history"
	EffectAssignment    EffectKind = "assignment"
	EffectDispatch      EffectKind = "dispatch"
	EffectQualification EffectKind = "qualification"
	EffectLedger        EffectKind = "ledger"
)

// Effect is a pending write produced by a pure component and applied by the
// effects applier. The set of implementations is closed.
type Effect interface {
	Kind() EffectKind
	Lead() uuid.UUID
}

type StageChangeEffect struct {
	LeadID      uuid.UUID
	FromStageID uuid.UUID
	ToStageID   uuid.UUID
	EnteredAt   time.Time
}

type TaskEffect struct {
	LeadID      uuid.UUID
	AgentID     *uuid.UUID
	Title       string
	Description string
	DueAt       time.Time
	Source      string
}

type NotificationEffect struct {
	LeadID           uuid.UUID
	RecipientAgentID uuid.UUID
	AlertType        string
	Title            string
	Content          string
	Category         string
}

type TagEffect struct {
	LeadID uuid.UUID
	Tag    string
}

type TemperatureEffect struct {
	LeadID uuid.UUID
	From   Temperature
	To     Temperature
}

type HistoryEffect struct {
	LeadID    uuid.UUID
	EventType string
	FromValue string
	ToValue   string
	Summary   string
	Actor     string
	Metadata  map[string]any
}

type AssignmentEffect struct {
	LeadID            uuid.UUID
	AgentID           uuid.UUID
	AssignedAt        time.Time
	FirstContactDueAt time.Time
}

type DispatchEffect struct {
	LeadID     uuid.UUID
	Channel    Channel
	Recipient  string
	Body       string
	SourceKind SourceKind
	SourceID   uuid.UUID
	StepKey    string
}

type QualificationEffect struct {
	LeadID        uuid.UUID
	Score         int
	Qualification string
	ScoredAt      time.Time
}

// LedgerEffect appends an execution record in the same transaction as the
// effects it accounts for.
type LedgerEffect struct {
	Record ExecutionRecord
}

func (StageChangeEffect) Kind() EffectKind   { return EffectStageChange }
func (TaskEffect) Kind() EffectKind          { return EffectTask }
func (NotificationEffect) Kind() EffectKind  { return EffectNotification }
func (TagEffect) Kind() EffectKind           { return EffectTag }
func (TemperatureEffect) Kind() EffectKind   { return EffectTemperature }
func (HistoryEffect) Kind() EffectKind       { return EffectHistory }
func (AssignmentEffect) Kind() EffectKind    { return EffectAssignment }
func (DispatchEffect) Kind() EffectKind      { return EffectDispatch }
func (QualificationEffect) Kind() EffectKind { return EffectQualification }
func (LedgerEffect) Kind() EffectKind        { return EffectLedger }

func (e StageChangeEffect) Lead() uuid.UUID   { return e.LeadID }
func (e TaskEffect) Lead() uuid.UUID          { return e.LeadID }
func (e NotificationEffect) Lead() uuid.UUID  { return e.LeadID }
func (e TagEffect) Lead() uuid.UUID           { return e.LeadID }
func (e TemperatureEffect) Lead() uuid.UUID   { return e.LeadID }
func (e HistoryEffect) Lead() uuid.UUID       { return e.LeadID }
func (e AssignmentEffect) Lead() uuid.UUID    { return e.LeadID }
func (e DispatchEffect) Lead() uuid.UUID      { return e.LeadID }
func (e QualificationEffect) Lead() uuid.UUID { return e.LeadID }
func (e LedgerEffect) Lead() uuid.UUID        { return e.Record.LeadID }

// History actors.
const (
	ActorAutomation   = "automation"
	ActorDistribution = "distribution"
	ActorTemperature  = "temperature"
	ActorSLA          = "sla"
	ActorOracle       = "oracle"
)
