package receipt

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/gated/internal/gate"
	"github.com/fyrsmithlabs/gated/internal/review"
)

// durationRegressionPct is the duration growth, in percent, above which a
// still-passing gate is flagged as slower. Small jitter stays out of diffs.
const durationRegressionPct = 10.0

// GateDelta records one gate's change between two receipts.
type GateDelta struct {
	Name             string      `json:"name"`
	From             gate.Status `json:"from,omitempty"`
	To               gate.Status `json:"to,omitempty"`
	DurationDeltaPct float64     `json:"duration_delta_pct,omitempty"`
}

// Diff is the comparison of a run against a baseline receipt.
type Diff struct {
	BaselineOutcome review.Outcome `json:"baseline_outcome"`
	CurrentOutcome  review.Outcome `json:"current_outcome"`
	Regressed       []GateDelta    `json:"regressed,omitempty"`
	Fixed           []GateDelta    `json:"fixed,omitempty"`
	Slower          []GateDelta    `json:"slower,omitempty"`
	Added           []string       `json:"added,omitempty"`
	Removed         []string       `json:"removed,omitempty"`
}

// Compare diffs the current receipt against a baseline, usually the last
// run on the base branch.
func Compare(baseline, current *Receipt) *Diff {
	d := &Diff{
		BaselineOutcome: baseline.Outcome,
		CurrentOutcome:  current.Outcome,
	}

	seen := make(map[string]bool, len(baseline.Gates))
	for _, prev := range baseline.Gates {
		seen[prev.Name] = true
		cur, ok := current.Gate(prev.Name)
		if !ok {
			d.Removed = append(d.Removed, prev.Name)
			continue
		}

		switch {
		case prev.Status != gate.StatusFail && cur.Status == gate.StatusFail:
			d.Regressed = append(d.Regressed, GateDelta{Name: prev.Name, From: prev.Status, To: cur.Status})
		case prev.Status == gate.StatusFail && cur.Status == gate.StatusPass:
			d.Fixed = append(d.Fixed, GateDelta{Name: prev.Name, From: prev.Status, To: cur.Status})
		}

		if prev.Status == gate.StatusPass && cur.Status == gate.StatusPass && prev.DurationMS > 0 {
			deltaPct := float64(cur.DurationMS-prev.DurationMS) / float64(prev.DurationMS) * 100
			if deltaPct > durationRegressionPct {
				d.Slower = append(d.Slower, GateDelta{Name: prev.Name, DurationDeltaPct: deltaPct})
			}
		}
	}

	for _, cur := range current.Gates {
		if !seen[cur.Name] {
			d.Added = append(d.Added, cur.Name)
		}
	}

	return d
}

// Empty reports whether the diff carries no changes worth surfacing.
func (d *Diff) Empty() bool {
	return d.BaselineOutcome == d.CurrentOutcome &&
		len(d.Regressed) == 0 && len(d.Fixed) == 0 && len(d.Slower) == 0 &&
		len(d.Added) == 0 && len(d.Removed) == 0
}

// Summary renders the diff for terminal output.
func (d *Diff) Summary() string {
	if d.Empty() {
		return "no changes against baseline"
	}
	var lines []string
	if d.BaselineOutcome != d.CurrentOutcome {
		lines = append(lines, fmt.Sprintf("outcome: %s -> %s", d.BaselineOutcome, d.CurrentOutcome))
	}
	for _, g := range d.Regressed {
		lines = append(lines, fmt.Sprintf("regressed: %s (%s -> %s)", g.Name, g.From, g.To))
	}
	for _, g := range d.Fixed {
		lines = append(lines, fmt.Sprintf("fixed: %s", g.Name))
	}
	for _, g := range d.Slower {
		lines = append(lines, fmt.Sprintf("slower: %s (+%.0f%%)", g.Name, g.DurationDeltaPct))
	}
	if len(d.Added) > 0 {
		lines = append(lines, "added: "+strings.Join(d.Added, ", "))
	}
	if len(d.Removed) > 0 {
		lines = append(lines, "removed: "+strings.Join(d.Removed, ", "))
	}
	return strings.Join(lines, "\n")
}
