package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SourceKind names what produced a ledger entry.
type SourceKind string

const (
	SourceRule    SourceKind = "rule"
	SourceCadence SourceKind = "cadence"
)

// ExecutionStatus is the aggregate outcome of one execution.
type ExecutionStatus string

const (
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionPartial   ExecutionStatus = "partial"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Blocks reports whether an entry with this status suppresses re-execution
// inside the dedupe window. Fully failed executions are retried next tick.
func (s ExecutionStatus) Blocks() bool {
	return s == ExecutionCompleted || s == ExecutionPartial
}

// ExecutionRecord is one append-only ledger row.
type ExecutionRecord struct {
	ID         uuid.UUID
	SourceKind SourceKind
	SourceID   uuid.UUID
	StepKey    string
	LeadID     uuid.UUID
	ExecutedAt time.Time
	Status     ExecutionStatus
	Result     json.RawMessage
}

// LedgerSnapshot maps lead ids to their latest blocking execution for one
// (source, step) pair. It is read before a batch and never mutated by evaluation.
type LedgerSnapshot map[uuid.UUID]time.Time

// ExecutedSince reports whether the lead has a blocking entry at or after since.
func (s LedgerSnapshot) ExecutedSince(leadID uuid.UUID, since time.Time) bool {
	at, ok := s[leadID]
	return ok && !at.Before(since)
}
