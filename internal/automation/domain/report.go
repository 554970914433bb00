package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ItemError is a per-lead failure recorded in a run report.
type ItemError struct {
	LeadID   *uuid.UUID `json:"lead_id,omitempty"`
	SourceID *uuid.UUID `json:"source_id,omitempty"`
	Message  string     `json:"message"`
}

// RunReport summarises one bounded batch of an engine job.
type RunReport struct {
	Job        string         `json:"job"`
	DryRun     bool           `json:"dry_run"`
	Processed  int            `json:"processed"`
	Succeeded  int            `json:"succeeded"`
	Failed     int            `json:"failed"`
	Skipped    int            `json:"skipped"`
	Errors     []ItemError    `json:"errors"`
	Details    map[string]any `json:"details,omitempty"`
	NextPage   *int           `json:"nextPage,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// NewRunReport starts an empty report.
func NewRunReport(job string, dryRun bool, now time.Time) *RunReport {
	return &RunReport{
		Job:       job,
		DryRun:    dryRun,
		Errors:    []ItemError{},
		Details:   map[string]any{},
		StartedAt: now,
	}
}

func (r *RunReport) Succeed() {
	r.Processed++
	r.Succeeded++
}

func (r *RunReport) Skip() {
	r.Processed++
	r.Skipped++
}

// Fail records a failed item. A partial execution counts as processed and
// succeeded but still lists its failing actions.
func (r *RunReport) Fail(leadID *uuid.UUID, sourceID *uuid.UUID, err error) {
	r.Processed++
	var partial *PartialExecutionError
	if errors.As(err, &partial) {
		r.Succeeded++
	} else {
		r.Failed++
	}
	r.Errors = append(r.Errors, ItemError{LeadID: leadID, SourceID: sourceID, Message: err.Error()})
}

// Detail stores a component specific value.
func (r *RunReport) Detail(key string, value any) {
	r.Details[key] = value
}

// Add increments an integer detail.
func (r *RunReport) Add(key string, delta int) {
	current, _ := r.Details[key].(int)
	r.Details[key] = current + delta
}

// Finish stamps the end time.
func (r *RunReport) Finish(now time.Time) *RunReport {
	r.FinishedAt = now
	return r
}

// Duration of the run.
func (r *RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// JobStatus is the last run and next schedule of one job.
type JobStatus struct {
	Schedule string     `json:"schedule,omitempty"`
	NextRun  *time.Time `json:"nextRun,omitempty"`
	LastRun  *RunReport `json:"lastRun,omitempty"`
}
