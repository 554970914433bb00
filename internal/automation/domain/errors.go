package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ActionFailure describes one failed action within an execution.
type ActionFailure struct {
	Index int        `json:"index"`
	Kind  ActionKind `json:"kind"`
	Error string     `json:"error"`
}

// PartialExecutionError reports that some actions of an execution failed
// while their siblings succeeded. It is logged and recorded, never fatal.
type PartialExecutionError struct {
	RuleID   uuid.UUID
	LeadID   uuid.UUID
	Failures []ActionFailure
}

func (e *PartialExecutionError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, failure := range e.Failures {
		parts = append(parts, fmt.Sprintf("#%d %s: %s", failure.Index, failure.Kind, failure.Error))
	}
	return fmt.Sprintf("rule %s on lead %s partially failed: %s", e.RuleID, e.LeadID, strings.Join(parts, "; "))
}

// ErrAlreadyAssigned is returned when a lead picked for distribution was assigned
// by someone else before the assignment was written.
var ErrAlreadyAssigned = errors.New("lead is already assigned")
