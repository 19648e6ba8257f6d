// Package gate defines the validation checkpoint model: named gates with
// pass/fail/skipped outcomes, the raw check results they are derived from,
// and the pure evaluation between the two.
package gate

import (
	"time"
)

// Status represents the current state of a gate.
type Status string

const (
	// StatusPending means the gate's stage has not been evaluated yet.
	StatusPending Status = "pending"

	// StatusPass means the underlying check succeeded.
	StatusPass Status = "pass"

	// StatusFail means the underlying check failed, errored, or timed out.
	StatusFail Status = "fail"

	// StatusSkipped means the stage was policy-exempted for this review unit.
	// A skipped gate always carries a reason in its evidence.
	StatusSkipped Status = "skipped"
)

// Gate is one named checkpoint for a review unit. Each gate has at most one
// current status per ledger snapshot; re-evaluation replaces the record in
// place rather than appending a duplicate.
type Gate struct {
	// Name identifies the stage this gate belongs to (e.g. "tests", "clippy").
	Name string `json:"name"`

	// Phase is the pipeline phase the stage is configured under.
	Phase string `json:"phase,omitempty"`

	// Status is the current outcome.
	Status Status `json:"status"`

	// Evidence is a short structured string: method used, measured value,
	// or the reason for a skip or failure.
	Evidence string `json:"evidence,omitempty"`

	// Attempts counts how many times the stage has been evaluated in the
	// current pipeline run.
	Attempts int `json:"attempts"`

	// DurationMS is the wall time of the last check invocation.
	DurationMS int64 `json:"duration_ms,omitempty"`

	// UpdatedAt is when the gate last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// CheckStatus enumerates the raw outcomes a stage check invocation can report.
type CheckStatus string

const (
	// CheckSuccess means the tool ran and reported success.
	CheckSuccess CheckStatus = "success"

	// CheckFailure means the tool ran and reported failure.
	CheckFailure CheckStatus = "failure"

	// CheckError means the tool could not run at all (crash, infra failure).
	CheckError CheckStatus = "error"

	// CheckTimeout means the invocation exceeded its time box.
	CheckTimeout CheckStatus = "timeout"
)

// CheckResult is the normalized output of one stage check invocation, as
// produced by the stage runner. The engine never interprets tool output
// beyond this shape.
type CheckResult struct {
	// Status is the raw outcome class.
	Status CheckStatus `json:"status"`

	// Evidence carries the measured value or failure summary for results
	// that ran to completion.
	Evidence string `json:"evidence,omitempty"`

	// Message carries the error detail when Status is CheckError.
	Message string `json:"message,omitempty"`

	// TimedOutAfter is the configured time box when Status is CheckTimeout.
	TimedOutAfter time.Duration `json:"timed_out_after,omitempty"`

	// Duration is the wall time of the invocation.
	Duration time.Duration `json:"duration,omitempty"`
}
