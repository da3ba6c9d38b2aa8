package model

import (
	"time"
)

// Schedule represents a recurring trigger definition for one ingestion job.
// Several schedules may exist for the same (project, marketplace, job)
// combination; ID is the only unique key.
type Schedule struct {
	ID              string     `json:"id"`
	ProjectID       string     `json:"project_id"`
	MarketplaceCode string     `json:"marketplace_code"`
	JobCode         string     `json:"job_code"`
	CronExpr        string     `json:"cron_expr"`
	Timezone        string     `json:"timezone"`
	IsEnabled       bool       `json:"is_enabled"`
	NextRunAt       *time.Time `json:"next_run_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// JobDefinition describes one ingestion job type an operator can schedule
// or trigger manually.
type JobDefinition struct {
	JobCode          string `json:"job_code"`
	Title            string `json:"title"`
	SourceCode       string `json:"source_code"`
	SupportsSchedule bool   `json:"supports_schedule"`
	SupportsManual   bool   `json:"supports_manual"`
}
