package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// StatusClient polls the gated daemon's status API.
type StatusClient struct {
	baseURL string
	client  *http.Client
}

// StatusSnapshot is the decoded /api/v1/status response. It mirrors the
// daemon's wire format rather than importing internal/http so the CLI can
// talk to daemons of other versions.
type StatusSnapshot struct {
	Status  string         `json:"status"`
	Version string         `json:"version"`
	Queue   QueueCounts    `json:"queue"`
	Runs    map[string]int `json:"runs"`
	Policy  PolicySummary  `json:"policy"`
}

// QueueCounts reports worker pool occupancy.
type QueueCounts struct {
	Queued   int `json:"queued"`
	Inflight int `json:"inflight"`
}

// PolicySummary summarizes the daemon's active policy.
type PolicySummary struct {
	Version     int      `json:"version"`
	Environment string   `json:"environment"`
	Stages      int      `json:"stages"`
	Phases      []string `json:"phases"`
}

// Total sums the outcome counts.
func (s StatusSnapshot) Total() int {
	total := 0
	for _, n := range s.Runs {
		total += n
	}
	return total
}

// NewStatusClient creates a new status client.
func NewStatusClient(baseURL string) *StatusClient {
	return &StatusClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

// Fetch retrieves the current daemon status.
func (c *StatusClient) Fetch(ctx context.Context) (StatusSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/status", nil)
	if err != nil {
		return StatusSnapshot{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return StatusSnapshot{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return StatusSnapshot{}, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	var snapshot StatusSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return StatusSnapshot{}, fmt.Errorf("failed to decode response: %w", err)
	}

	return snapshot, nil
}
