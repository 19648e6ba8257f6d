// Package routing implements the decision function at the heart of a
// pipeline run. Route maps an immutable ledger snapshot plus the effective
// policy to exactly one decision: run a stage, retry a stage, or stop with a
// terminal outcome. The function is total and deterministic, so every
// decision is reproducible from the snapshot and policy that produced it.
package routing

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/gated/internal/gate"
	"github.com/fyrsmithlabs/gated/internal/ledger"
	"github.com/fyrsmithlabs/gated/internal/policy"
	"github.com/fyrsmithlabs/gated/internal/retry"
	"github.com/fyrsmithlabs/gated/internal/review"
)

// Kind classifies a routing decision.
type Kind string

const (
	// KindRun schedules a pending stage for its first evaluation.
	KindRun Kind = "run"

	// KindRetry re-runs a failed stage inside its self-fix microloop.
	KindRetry Kind = "retry"

	// KindTerminal ends the pipeline run with an outcome.
	KindTerminal Kind = "terminal"
)

// ReasonUnroutable is the reason attached when no precedence rule matched.
// Reaching it means an invariant was violated upstream.
const ReasonUnroutable = "unroutable state"

// Decision is the output of one Route evaluation. It is created fresh each
// iteration and persisted only as the hop-log entry it generates.
type Decision struct {
	Kind     Kind           `json:"kind"`
	Stage    string         `json:"stage,omitempty"`
	Outcome  review.Outcome `json:"outcome,omitempty"`
	Rule     int            `json:"rule"`
	Reason   string         `json:"reason"`
	Evidence []string       `json:"evidence,omitempty"`
}

// Terminal reports whether the decision ends the run.
func (d Decision) Terminal() bool {
	return d.Kind == KindTerminal
}

// Label renders the decision for the hop log, e.g. "retry:tests" or
// "terminal:ready".
func (d Decision) Label() string {
	if d.Kind == KindTerminal {
		return fmt.Sprintf("%s:%s", d.Kind, d.Outcome)
	}
	return fmt.Sprintf("%s:%s", d.Kind, d.Stage)
}

// Route decides the next action for a run. Precedence, first match wins:
//
//  1. A failed gate with retry budget left re-enters its microloop,
//     critical gates ahead of the rest.
//  2. A required gate failed with its budget exhausted: escalate to a
//     terminal outcome. Non-required failures never escalate.
//  3. Schedule the first pending stage in phase order.
//  4. Every required gate passed: terminal ready.
//  5. Nothing matched: terminal blocked with an unroutable-state reason.
func Route(snap ledger.Snapshot, eff *policy.Effective) Decision {
	if d, ok := retryDecision(snap, eff, true); ok {
		return d
	}
	if d, ok := retryDecision(snap, eff, false); ok {
		return d
	}
	if d, ok := escalateDecision(snap, eff); ok {
		return d
	}
	if d, ok := advanceDecision(snap, eff); ok {
		return d
	}
	if d, ok := readyDecision(snap, eff); ok {
		return d
	}
	return unroutable(snap, eff)
}

// retryDecision finds the first failed gate, in phase order, whose budget
// permits another evaluation. The critical flag selects which half of the
// precedence split to scan.
func retryDecision(snap ledger.Snapshot, eff *policy.Effective, critical bool) (Decision, bool) {
	for _, stage := range eff.Stages() {
		if eff.Critical(stage.Name) != critical {
			continue
		}
		if snap.Status(stage.Name) != gate.StatusFail {
			continue
		}
		attempts := snap.Attempts(stage.Name)
		runs := retry.RunsAllowed(eff.MaxAttempts(stage.Name))
		if attempts >= runs {
			continue
		}
		return Decision{
			Kind:     KindRetry,
			Stage:    stage.Name,
			Rule:     1,
			Reason:   fmt.Sprintf("%s failed on attempt %d of %d; retrying", stage.Name, attempts, runs),
			Evidence: []string{stage.Name},
		}, true
	}
	return Decision{}, false
}

// escalateDecision collects required gates that failed with no budget left
// and converts them into a terminal outcome. The outcome is blocked when the
// failure is non-automatable (tool-error evidence or a judgment stage that
// never retries); otherwise needs-rework citing the failing gates.
func escalateDecision(snap ledger.Snapshot, eff *policy.Effective) (Decision, bool) {
	var failing []string
	blockedReason := ""
	for _, stage := range eff.Stages() {
		if !eff.Required(stage.Name) {
			continue
		}
		g, ok := snap.Gate(stage.Name)
		if !ok || g.Status != gate.StatusFail {
			continue
		}
		if g.Attempts < retry.RunsAllowed(eff.MaxAttempts(stage.Name)) {
			continue
		}
		failing = append(failing, stage.Name)
		if blockedReason == "" {
			switch {
			case gate.IsToolError(g.Evidence):
				blockedReason = fmt.Sprintf("%s cannot be fixed automatically (tool error)", stage.Name)
			case eff.MaxAttempts(stage.Name) == 0:
				blockedReason = fmt.Sprintf("%s requires human judgment", stage.Name)
			}
		}
	}
	if len(failing) == 0 {
		return Decision{}, false
	}
	outcome := review.OutcomeNeedsRework
	reason := fmt.Sprintf("required gates failed with retries exhausted: %s", strings.Join(failing, ", "))
	if blockedReason != "" {
		outcome = review.OutcomeBlocked
		reason = blockedReason
	}
	return Decision{
		Kind:     KindTerminal,
		Outcome:  outcome,
		Rule:     2,
		Reason:   reason,
		Evidence: failing,
	}, true
}

// advanceDecision schedules the first pending stage in phase order. With
// fail-fast enabled, a settled failure anywhere stops the scheduling of
// non-required stages; required stages still run so the receipt is complete.
func advanceDecision(snap ledger.Snapshot, eff *policy.Effective) (Decision, bool) {
	skipOptional := eff.FailFast() && hasFailure(snap, eff)
	for _, phase := range eff.Phases() {
		for _, stage := range eff.StagesInPhase(phase) {
			if snap.Status(stage.Name) != gate.StatusPending {
				continue
			}
			if skipOptional && !eff.Required(stage.Name) {
				continue
			}
			return Decision{
				Kind:   KindRun,
				Stage:  stage.Name,
				Rule:   3,
				Reason: fmt.Sprintf("next pending stage in %s phase", phase),
			}, true
		}
	}
	return Decision{}, false
}

// readyDecision fires when every required gate passed. Skipped is acceptable
// only on non-required gates; a skipped required gate falls through to the
// unroutable rule.
func readyDecision(snap ledger.Snapshot, eff *policy.Effective) (Decision, bool) {
	var passed []string
	for _, stage := range eff.Stages() {
		if !eff.Required(stage.Name) {
			continue
		}
		if snap.Status(stage.Name) != gate.StatusPass {
			return Decision{}, false
		}
		passed = append(passed, stage.Name)
	}
	return Decision{
		Kind:     KindTerminal,
		Outcome:  review.OutcomeReady,
		Rule:     4,
		Reason:   "all required gates passed",
		Evidence: passed,
	}, true
}

// unroutable is the totality backstop. It cites every required gate that is
// not in a passing state so the hop log explains what wedged the run.
func unroutable(snap ledger.Snapshot, eff *policy.Effective) Decision {
	var offending []string
	for _, stage := range eff.Stages() {
		if eff.Required(stage.Name) && snap.Status(stage.Name) != gate.StatusPass {
			offending = append(offending, stage.Name)
		}
	}
	return Decision{
		Kind:     KindTerminal,
		Outcome:  review.OutcomeBlocked,
		Rule:     5,
		Reason:   ReasonUnroutable,
		Evidence: offending,
	}
}

func hasFailure(snap ledger.Snapshot, eff *policy.Effective) bool {
	for _, g := range snap.Gates() {
		if g.Status != gate.StatusFail {
			continue
		}
		if _, ok := eff.Stage(g.Name); ok {
			return true
		}
	}
	return false
}
