package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// Tier is the SLA severity of a lead's stage residency. Tiers are ordered.
type Tier int

const (
	TierNone Tier = iota
	TierWarning
	TierBreach
	TierCritical
)

func (t Tier) String() string {
	switch t {
	case TierWarning:
		return "warning"
	case TierBreach:
		return "breach"
	case TierCritical:
		return "critical"
	default:
		return "none"
	}
}

// AlertType is the notification alert_type used for dedupe lookups.
func (t Tier) AlertType() string {
	if t == TierNone {
		return ""
	}
	return "sla_" + t.String()
}

// AlertStaleLead is raised for leads without contact, independent of SLA tiers.
const AlertStaleLead = "stale_lead"

// AlertFirstContactOverdue is raised when an assigned lead passes its
// first-contact due time without contact.
const AlertFirstContactOverdue = "first_contact_overdue"

// SLAConfig holds the tier thresholds for a pipeline or a single stage.
// A zero threshold disables its tier.
type SLAConfig struct {
	ID                uuid.UUID
	PipelineID        *uuid.UUID
	StageID           *uuid.UUID
	WarningHours      float64
	MaxHours          float64
	CriticalHours     float64
	BusinessHoursOnly bool
}

// Validate checks thresholds are non-negative and ordered where set.
func (c SLAConfig) Validate() error {
	if c.PipelineID == nil && c.StageID == nil {
		return fmt.Errorf("sla config needs a pipeline or stage scope")
	}
	if c.WarningHours < 0 || c.MaxHours < 0 || c.CriticalHours < 0 {
		return fmt.Errorf("sla thresholds must not be negative")
	}
	if c.WarningHours > 0 && c.MaxHours > 0 && c.WarningHours > c.MaxHours {
		return fmt.Errorf("warning_hours must not exceed max_hours")
	}
	if c.MaxHours > 0 && c.CriticalHours > 0 && c.MaxHours > c.CriticalHours {
		return fmt.Errorf("max_hours must not exceed critical_hours")
	}
	return nil
}

// ResolveSLA picks the config for a lead: a stage-scoped config wins over a
// pipeline-scoped one.
func ResolveSLA(configs []SLAConfig, lead Lead) (SLAConfig, bool) {
	var pipelineMatch *SLAConfig
	for i := range configs {
		cfg := configs[i]
		if cfg.StageID != nil {
			if *cfg.StageID == lead.StageID {
				return cfg, true
			}
			continue
		}
		if cfg.PipelineID != nil && *cfg.PipelineID == lead.PipelineID && pipelineMatch == nil {
			pipelineMatch = &configs[i]
		}
	}
	if pipelineMatch != nil {
		return *pipelineMatch, true
	}
	return SLAConfig{}, false
}
