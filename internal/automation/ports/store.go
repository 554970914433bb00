// Package ports defines the interfaces the automation engine requires from the
// lead store and its other collaborators. Engine packages depend on these
// interfaces only; the composition root wires the Postgres, Redis and oracle
// adapters behind them.
package ports

import (
	"context"
	"time"

	"pipeline_backend/internal/automation/domain"

	"github.com/google/uuid"
)

// DefaultLeadLimit is the page size used when a filter leaves Limit unset.
const DefaultLeadLimit = 200

// LeadFilter scopes a bounded batch of open (non-terminal) leads. Nil
// predicates leave the batch unrestricted.
type LeadFilter struct {
	LeadID     *uuid.UUID
	PipelineID *uuid.UUID
	StageID    *uuid.UUID
	TeamID     *uuid.UUID
	// TeamIDs restricts the batch to leads whose pipeline belongs to one of the
	// teams. An empty non-nil slice matches nothing.
	TeamIDs []uuid.UUID
	// Unassigned restricts the batch to leads without an assigned agent.
	Unassigned bool
	// StageEnteredAfter and StageEnteredBefore bound the stage entry time,
	// inclusive. Stage entry falls back to creation.
	StageEnteredAfter  *time.Time
	StageEnteredBefore *time.Time
	// ContactBefore keeps leads never contacted or last contacted at or before it.
	ContactBefore *time.Time
	Temperature   *domain.Temperature
	// Overdue keeps leads past either SLA horizon.
	Overdue *OverdueWindow
	// NotExecuted drops leads holding a blocking ledger entry for the source.
	NotExecuted *LedgerExclusion
	// After continues a creation-order walk past the given lead.
	After  *LeadCursor
	Limit  int
	Offset int
}

// OverdueWindow matches leads that entered their stage at or before
// StageEnteredBefore, or whose last contact (creation when never contacted) is
// at or before ContactBefore. A nil bound never matches.
type OverdueWindow struct {
	StageEnteredBefore *time.Time
	ContactBefore      *time.Time
}

// LedgerExclusion names the ledger entries that take a lead out of a batch.
type LedgerExclusion struct {
	SourceKind domain.SourceKind
	SourceID   uuid.UUID
	StepKey    string
	Since      time.Time
}

// LeadCursor is the creation-order position of the last lead read.
type LeadCursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// CursorAfter returns the position just past lead.
func CursorAfter(lead domain.Lead) *LeadCursor {
	return &LeadCursor{CreatedAt: lead.CreatedAt, ID: lead.ID}
}

// LeadReader reads leads as the engine sees them. Terminal leads are never returned
// by ListOpenLeads.
type LeadReader interface {
	ListOpenLeads(ctx context.Context, filter LeadFilter) ([]domain.Lead, error)
	// GetLead returns any lead, terminal or not, or a not-found error.
	GetLead(ctx context.Context, id uuid.UUID) (domain.Lead, error)
}

// StageReader resolves pipeline stages.
type StageReader interface {
	StageCatalog(ctx context.Context) (domain.StageCatalog, error)
}

// AgentReader provides distribution and escalation data.
type AgentReader interface {
	// ListEligibleAgents returns active agents accepting leads, optionally for one team.
	ListEligibleAgents(ctx context.Context, teamID *uuid.UUID) ([]domain.Agent, error)
	// ActiveLoads counts open leads currently assigned to each agent.
	ActiveLoads(ctx context.Context, agentIDs []uuid.UUID) (map[uuid.UUID]int, error)
	// ListEscalationAgents returns active coordinators and managers per team.
	ListEscalationAgents(ctx context.Context, teamIDs []uuid.UUID) (map[uuid.UUID][]domain.Agent, error)
}

// InteractionReader loads recent interactions for the temperature classifier.
type InteractionReader interface {
	InteractionsSince(ctx context.Context, leadIDs []uuid.UUID, since time.Time) (map[uuid.UUID][]domain.Interaction, error)
}

// RuleFilter narrows the rules a run considers.
type RuleFilter struct {
	RuleID     *uuid.UUID
	PipelineID *uuid.UUID
}

// RuleStore reads rule configuration. The engine only ever writes run counters.
type RuleStore interface {
	ListActiveRules(ctx context.Context, filter RuleFilter) ([]domain.AutomationRule, error)
	GetRule(ctx context.Context, id uuid.UUID) (domain.AutomationRule, error)
	RecordRuleRun(ctx context.Context, id uuid.UUID, runs int, at time.Time) error
}

// CadenceStore reads cadences and their message templates.
type CadenceStore interface {
	ListActiveCadences(ctx context.Context, cadenceID *uuid.UUID) ([]domain.Cadence, error)
	GetCadence(ctx context.Context, id uuid.UUID) (domain.Cadence, error)
	GetTemplates(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.MessageTemplate, error)
}

// SLAConfigStore lists SLA thresholds.
type SLAConfigStore interface {
	ListSLAConfigs(ctx context.Context) ([]domain.SLAConfig, error)
}

// LedgerQuery selects the latest blocking executions of one source for a set of leads.
type LedgerQuery struct {
	SourceKind domain.SourceKind
	SourceID   uuid.UUID
	StepKey    string
	LeadIDs    []uuid.UUID
	Since      time.Time
}

// Ledger is the append-only execution record used for dedupe. Rows are written
// through domain.LedgerEffect so they commit with the work they record.
type Ledger interface {
	LatestExecutions(ctx context.Context, query LedgerQuery) (domain.LedgerSnapshot, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AlertLookup answers whether an alert type was already notified for a lead.
type AlertLookup interface {
	// RecentAlerts returns, per lead, the alert types notified at or after since.
	RecentAlerts(ctx context.Context, leadIDs []uuid.UUID, alertTypes []string, since time.Time) (map[uuid.UUID]map[string]bool, error)
}

// EffectApplier commits the effects of one unit of work atomically.
type EffectApplier interface {
	Apply(ctx context.Context, effects []domain.Effect) error
}
