// Package receipt builds the user-facing record of one finished pipeline
// run: the final gate table, the decision trail, and the terminal outcome,
// renderable as JSON, a terminal table, or GitHub-flavored markdown.
package receipt

import (
	"time"

	"github.com/fyrsmithlabs/gated/internal/gate"
	"github.com/fyrsmithlabs/gated/internal/ledger"
	"github.com/fyrsmithlabs/gated/internal/policy"
	"github.com/fyrsmithlabs/gated/internal/review"
)

// SchemaVersion identifies the receipt JSON layout for archived runs.
const SchemaVersion = 1

// Receipt is the terminal artifact of one run.
type Receipt struct {
	SchemaVersion int               `json:"schema_version"`
	RunID         string            `json:"run_id,omitempty"`
	Engine        string            `json:"engine,omitempty"`
	Unit          review.Unit       `json:"unit"`
	Tier          string            `json:"tier"`
	Environment   string            `json:"environment,omitempty"`
	PolicyVersion int               `json:"policy_version,omitempty"`
	Outcome       review.Outcome    `json:"outcome"`
	Reason        string            `json:"reason,omitempty"`
	Gates         []gate.Gate       `json:"gates"`
	Hops          []ledger.HopEntry `json:"hops"`
	Iterations    int               `json:"iterations"`
	Source        *Source           `json:"source,omitempty"`
	StartedAt     time.Time         `json:"started_at"`
	FinishedAt    time.Time         `json:"finished_at"`
}

// Params carries everything Build needs from the orchestrator.
type Params struct {
	Ledger     *ledger.Ledger
	Policy     *policy.Effective
	Outcome    review.Outcome
	Reason     string
	StartedAt  time.Time
	FinishedAt time.Time
	Iterations int
	RunID      string
	Engine     string
	Source     *Source
}

// Build assembles the receipt from a finished run's ledger.
func Build(p Params) *Receipt {
	r := &Receipt{
		SchemaVersion: SchemaVersion,
		RunID:         p.RunID,
		Engine:        p.Engine,
		Unit:          p.Ledger.Unit(),
		Outcome:       p.Outcome,
		Reason:        p.Reason,
		Gates:         p.Ledger.Gates(),
		Hops:          p.Ledger.Hops(),
		Iterations:    p.Iterations,
		Source:        p.Source,
		StartedAt:     p.StartedAt.UTC(),
		FinishedAt:    p.FinishedAt.UTC(),
	}
	if p.Policy != nil {
		r.Tier = p.Policy.Tier()
		r.Environment = p.Policy.Environment()
		r.PolicyVersion = p.Policy.Version()
	}
	return r
}

// Duration returns the run's wall time.
func (r *Receipt) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Counts tallies gates by status.
func (r *Receipt) Counts() (pass, fail, skipped, pending int) {
	for _, g := range r.Gates {
		switch g.Status {
		case gate.StatusPass:
			pass++
		case gate.StatusFail:
			fail++
		case gate.StatusSkipped:
			skipped++
		default:
			pending++
		}
	}
	return pass, fail, skipped, pending
}

// FailingGates returns the gates still failing at terminal, in ledger order.
func (r *Receipt) FailingGates() []gate.Gate {
	var out []gate.Gate
	for _, g := range r.Gates {
		if g.Status == gate.StatusFail {
			out = append(out, g)
		}
	}
	return out
}

// Gate returns the named gate's final record.
func (r *Receipt) Gate(name string) (gate.Gate, bool) {
	for _, g := range r.Gates {
		if g.Name == name {
			return g, true
		}
	}
	return gate.Gate{}, false
}
