package model

import "time"

// WorkerStatus represents the health of an ingestion worker
type WorkerStatus string

const (
	WorkerStatusHealthy   WorkerStatus = "healthy"
	WorkerStatusUnhealthy WorkerStatus = "unhealthy"
	WorkerStatusOffline   WorkerStatus = "offline"
)

// WorkerHeartbeat is the liveness signal a worker publishes for a run
// it is currently executing. CPU/Memory describe the worker host, not
// the run itself.
type WorkerHeartbeat struct {
	WorkerID    string       `json:"worker_id"`
	RunID       string       `json:"run_id"`
	Status      WorkerStatus `json:"status"`
	CPUUsage    float64      `json:"cpu_usage"`
	MemoryUsage float64      `json:"memory_usage"`
	ActiveRuns  int          `json:"active_runs"`
	SentAt      time.Time    `json:"sent_at"`
}
