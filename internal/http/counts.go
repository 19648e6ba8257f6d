package http

import (
	"context"

	"github.com/fyrsmithlabs/gated/internal/policy"
)

// buildStatus assembles the status response from the archive and the
// worker pool. Outcome counts always include the four terminal outcomes so
// dashboards get stable keys even before any run archived.
func (s *Server) buildStatus(ctx context.Context) (*StatusResponse, error) {
	counts, err := s.deps.Archive.CountByOutcome(ctx)
	if err != nil {
		return nil, err
	}

	runs := map[string]int{
		"ready":        0,
		"needs-rework": 0,
		"blocked":      0,
		"cancelled":    0,
	}
	for outcome, n := range counts {
		runs[string(outcome)] = n
	}

	resp := &StatusResponse{
		Status:  "ok",
		Version: s.deps.Version,
		Runs:    runs,
	}

	if s.deps.Pool != nil {
		queued, inflight := s.deps.Pool.Stats()
		resp.Queue = QueueStatus{Queued: queued, Inflight: inflight}
	}

	if p := s.deps.Policy(); p != nil {
		phases := p.Phases
		if len(phases) == 0 {
			// An empty phases list means the canonical order.
			phases = policy.DefaultPhaseOrder()
		}
		resp.Policy = PolicyStatus{
			Version:     p.Version,
			Environment: p.Global.Environment,
			Stages:      len(p.Stages),
			Phases:      phases,
		}
	}

	return resp, nil
}
