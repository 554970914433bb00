package transport

import (
	"time"

	"pipeline_backend/internal/automation/domain"

	"github.com/google/uuid"
)

// Identifiers arrive as strings so a malformed id is a validation error
// rather than a JSON decode failure.

type RunRulesRequest struct {
	Action     string `json:"action,omitempty" validate:"omitempty,oneof=run evaluate"`
	RuleID     string `json:"rule_id,omitempty" validate:"omitempty,uuid"`
	PipelineID string `json:"pipeline_id,omitempty" validate:"omitempty,uuid"`
	LeadID     string `json:"lead_id,omitempty" validate:"omitempty,uuid"`
	Limit      int    `json:"limit,omitempty" validate:"omitempty,min=1"`
	MaxPages   int    `json:"maxPages,omitempty" validate:"omitempty,min=1,max=50"`
	DryRun     bool   `json:"dryRun,omitempty"`
}

type SLACheckRequest struct {
	PipelineID string `json:"pipeline_id,omitempty" validate:"omitempty,uuid"`
	LeadID     string `json:"lead_id,omitempty" validate:"omitempty,uuid"`
	Limit      int    `json:"limit,omitempty" validate:"omitempty,min=1"`
	MaxPages   int    `json:"maxPages,omitempty" validate:"omitempty,min=1,max=50"`
	DryRun     bool   `json:"dryRun,omitempty"`
}

type DistributionRequest struct {
	TeamID     string `json:"team_id,omitempty" validate:"omitempty,uuid"`
	PipelineID string `json:"pipeline_id,omitempty" validate:"omitempty,uuid"`
	Limit      int    `json:"limit,omitempty" validate:"omitempty,min=1"`
	MaxPages   int    `json:"maxPages,omitempty" validate:"omitempty,min=1,max=50"`
	DryRun     bool   `json:"dryRun,omitempty"`
}

type TemperatureRequest struct {
	PipelineID string `json:"pipeline_id,omitempty" validate:"omitempty,uuid"`
	LeadID     string `json:"lead_id,omitempty" validate:"omitempty,uuid"`
	Limit      int    `json:"limit,omitempty" validate:"omitempty,min=1"`
	StartPage  int    `json:"startPage,omitempty" validate:"omitempty,min=0"`
	MaxPages   int    `json:"maxPages,omitempty" validate:"omitempty,min=1,max=50"`
	DryRun     bool   `json:"dryRun,omitempty"`
}

type CadenceRequest struct {
	CadenceID string `json:"cadence_id,omitempty" validate:"omitempty,uuid"`
	LeadID    string `json:"lead_id,omitempty" validate:"omitempty,uuid"`
	Limit     int    `json:"limit,omitempty" validate:"omitempty,min=1"`
	MaxPages  int    `json:"maxPages,omitempty" validate:"omitempty,min=1,max=50"`
	DryRun    bool   `json:"dryRun,omitempty"`
}

type QualifyRequest struct {
	LeadID string `json:"lead_id" validate:"required,uuid"`
	DryRun bool   `json:"dryRun,omitempty"`
}

type ListNotificationsRequest struct {
	AgentID    string `form:"agent_id" validate:"required,uuid"`
	UnreadOnly bool   `form:"unread"`
	Limit      int    `form:"limit" validate:"omitempty,min=1,max=100"`
}

// OptionalID converts a validated id string into a pointer. Empty means unset.
func OptionalID(value string) *uuid.UUID {
	if value == "" {
		return nil
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return nil
	}
	return &id
}

// RunResponse flattens a run report into the success envelope. Component
// details sit next to the shared counters.
func RunResponse(report *domain.RunReport, now time.Time) map[string]any {
	body := make(map[string]any, len(report.Details)+9)
	for key, value := range report.Details {
		body[key] = value
	}
	body["success"] = true
	body["processed"] = report.Processed
	body["succeeded"] = report.Succeeded
	body["failed"] = report.Failed
	body["skipped"] = report.Skipped
	body["errors"] = report.Errors
	body["dryRun"] = report.DryRun
	if report.NextPage != nil {
		body["nextPage"] = *report.NextPage
	}
	body["timestamp"] = now.UTC().Format(time.RFC3339)
	return body
}
