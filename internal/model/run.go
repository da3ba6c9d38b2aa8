package model

import (
	"encoding/json"
	"time"
)

// RunStatus represents the current status of an ingestion run
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusSuccess  RunStatus = "success"
	RunStatusFailed   RunStatus = "failed"
	RunStatusTimeout  RunStatus = "timeout"
	RunStatusSkipped  RunStatus = "skipped"
	RunStatusCanceled RunStatus = "canceled"
)

// IsTerminal reports whether the status is a final state.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSuccess, RunStatusFailed, RunStatusTimeout, RunStatusSkipped, RunStatusCanceled:
		return true
	}
	return false
}

// IsActive reports whether a run in this status is still considered live.
func (s RunStatus) IsActive() bool {
	return s == RunStatusQueued || s == RunStatusRunning
}

// TriggerSource identifies what caused a run to be created
type TriggerSource string

const (
	TriggerSchedule TriggerSource = "schedule"
	TriggerManual   TriggerSource = "manual"
	TriggerAPI      TriggerSource = "api"
)

// Run represents one execution attempt of an ingestion job
type Run struct {
	ID              string        `json:"id"`
	ScheduleID      string        `json:"schedule_id,omitempty"`
	ProjectID       string        `json:"project_id"`
	MarketplaceCode string        `json:"marketplace_code"`
	JobCode         string        `json:"job_code"`
	TriggeredBy     TriggerSource `json:"triggered_by"`
	Status          RunStatus     `json:"status"`

	// Timing fields
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	DurationMS  *int64     `json:"duration_ms,omitempty"`
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	// Execution details
	ErrorMessage string          `json:"error_message,omitempty"`
	ErrorTrace   string          `json:"error_trace,omitempty"`
	Stats        json.RawMessage `json:"stats,omitempty"`
}

// RunStatusUpdate is the wire message a worker publishes when a run
// changes state or reports fresh progress.
type RunStatusUpdate struct {
	RunID        string          `json:"run_id"`
	WorkerID     string          `json:"worker_id,omitempty"`
	Status       RunStatus       `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	ErrorTrace   string          `json:"error_trace,omitempty"`
	Stats        json.RawMessage `json:"stats,omitempty"`
	ReportedAt   time.Time       `json:"reported_at"`
}
