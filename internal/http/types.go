package http

import (
	"github.com/fyrsmithlabs/gated/internal/archive"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// ReadyResponse is the response body for GET /ready.
type ReadyResponse struct {
	Ready  bool              `json:"ready"`
	Checks map[string]string `json:"checks"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status  string         `json:"status"`
	Version string         `json:"version,omitempty"`
	Queue   QueueStatus    `json:"queue"`
	Runs    map[string]int `json:"runs"`
	Policy  PolicyStatus   `json:"policy"`
}

// QueueStatus reports worker pool occupancy.
type QueueStatus struct {
	Queued   int `json:"queued"`
	Inflight int `json:"inflight"`
}

// PolicyStatus summarizes the active policy document.
type PolicyStatus struct {
	Version     int      `json:"version"`
	Environment string   `json:"environment"`
	Stages      int      `json:"stages"`
	Phases      []string `json:"phases"`
}

// RunsResponse is the response body for GET /api/v1/runs.
type RunsResponse struct {
	Runs  []*archive.Run `json:"runs"`
	Count int            `json:"count"`
}
