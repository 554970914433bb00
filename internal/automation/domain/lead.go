// Package domain holds the automation engine's types: leads as the engine sees
// them, rules, actions, cadences, SLA configs, ledger records and the effects
// produced by a run. Nothing in this package touches the store.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Temperature is the heat classification of a lead.
type Temperature string

const (
	TemperatureCold Temperature = "cold"
	TemperatureWarm Temperature = "warm"
	TemperatureHot  Temperature = "hot"
)

// ParseTemperature validates a temperature value.
func ParseTemperature(value string) (Temperature, error) {
	switch t := Temperature(strings.ToLower(strings.TrimSpace(value))); t {
	case TemperatureCold, TemperatureWarm, TemperatureHot:
		return t, nil
	default:
		return "", fmt.Errorf("unknown temperature %q", value)
	}
}

// Demote lowers the temperature by exactly one step. Cold stays cold.
func (t Temperature) Demote() Temperature {
	switch t {
	case TemperatureHot:
		return TemperatureWarm
	default:
		return TemperatureCold
	}
}

// StageCategory groups stages across pipelines.
type StageCategory string

const (
	StageCategoryIntake        StageCategory = "intake"
	StageCategoryOpen          StageCategory = "open"
	StageCategoryQualification StageCategory = "qualification"
	StageCategoryProposal      StageCategory = "proposal"
	StageCategoryNegotiation   StageCategory = "negotiation"
	StageCategoryClosing       StageCategory = "closing"
)

// IsDealStage reports whether a stage of this category signals an active deal.
func (c StageCategory) IsDealStage() bool {
	return c == StageCategoryProposal || c == StageCategoryNegotiation
}

// Stage is a pipeline step.
type Stage struct {
	ID         uuid.UUID
	PipelineID uuid.UUID
	Name       string
	Category   StageCategory
}

// StageCatalog resolves stages by id.
type StageCatalog map[uuid.UUID]Stage

// Name returns the stage name or the id when the stage is unknown.
func (c StageCatalog) Name(id uuid.UUID) string {
	if stage, ok := c[id]; ok {
		return stage.Name
	}
	return id.String()
}

// Lead is the engine's view of a lead row.
type Lead struct {
	ID                uuid.UUID
	PipelineID        uuid.UUID
	TeamID            *uuid.UUID
	StageID           uuid.UUID
	StageName         string
	StageCategory     StageCategory
	AssignedAgentID   *uuid.UUID
	AssignedAgentName string
	Temperature       Temperature
	Tags              []string
	EstimatedValue    float64
	FirstName         string
	LastName          string
	Phone             string
	Email             string
	StageEnteredAt    *time.Time
	LastActivityAt    *time.Time
	LastContactAt     *time.Time
	AssignedAt        *time.Time
	FirstContactDueAt *time.Time
	CreatedAt         time.Time
	WonAt             *time.Time
	LostAt            *time.Time
}

// IsTerminal reports whether the lead is won or lost. Terminal leads are
// immutable to every automation component.
func (l Lead) IsTerminal() bool {
	return l.WonAt != nil || l.LostAt != nil
}

// StageEntry returns when the lead entered its current stage, falling back to creation.
func (l Lead) StageEntry() time.Time {
	if l.StageEnteredAt != nil {
		return *l.StageEnteredAt
	}
	return l.CreatedAt
}

// LastActivity returns the most recent activity timestamp, falling back to
// last contact and then creation.
func (l Lead) LastActivity() time.Time {
	latest := l.CreatedAt
	if l.LastContactAt != nil && l.LastContactAt.After(latest) {
		latest = *l.LastContactAt
	}
	if l.LastActivityAt != nil && l.LastActivityAt.After(latest) {
		latest = *l.LastActivityAt
	}
	return latest
}

// FullName joins first and last name.
func (l Lead) FullName() string {
	return strings.TrimSpace(l.FirstName + " " + l.LastName)
}

// HasTag reports whether the tag is present, case-insensitively.
func (l Lead) HasTag(tag string) bool {
	for _, existing := range l.Tags {
		if strings.EqualFold(existing, tag) {
			return true
		}
	}
	return false
}

// OpenLeads drops terminal leads.
func OpenLeads(leads []Lead) []Lead {
	out := make([]Lead, 0, len(leads))
	for _, lead := range leads {
		if !lead.IsTerminal() {
			out = append(out, lead)
		}
	}
	return out
}

// HoursBetween returns fractional hours from start to end.
func HoursBetween(start, end time.Time) float64 {
	return end.Sub(start).Hours()
}
