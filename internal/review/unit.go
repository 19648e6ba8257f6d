// Package review defines the review unit: one reviewable change set moving
// through the pipeline, and the terminal outcomes a pipeline run can reach.
package review

import (
	"fmt"
	"time"
)

// Unit identifies one reviewable change set (a pull request). It is created
// on intake, owned by exactly one orchestrator run at a time, and immutable
// once a terminal outcome is reached.
type Unit struct {
	// ID uniquely identifies the unit across runs (stable per PR).
	ID string `json:"id"`

	// Repo is the hosting repository in owner/name form.
	Repo string `json:"repo"`

	// Number is the pull request number.
	Number int `json:"number"`

	// BaseRef is the target branch the change merges into.
	BaseRef string `json:"base_ref"`

	// HeadRef is the source branch name.
	HeadRef string `json:"head_ref,omitempty"`

	// HeadSHA is the current head commit.
	HeadSHA string `json:"head_sha"`

	// Draft marks work-in-progress units.
	Draft bool `json:"draft,omitempty"`

	// Labels are the hosting platform labels at intake time.
	Labels []string `json:"labels,omitempty"`

	// ChangedPaths lists the files the change touches, for exemption
	// predicates and scoped checks.
	ChangedPaths []string `json:"changed_paths,omitempty"`

	// WorkDir is the local checkout checks run against. Empty when the
	// engine is only consuming externally reported results.
	WorkDir string `json:"work_dir,omitempty"`

	// CreatedAt is when the unit entered the pipeline.
	CreatedAt time.Time `json:"created_at"`
}

// Key returns the stable identity used for flow-locks and event subjects.
func (u Unit) Key() string {
	if u.ID != "" {
		return u.ID
	}
	return fmt.Sprintf("%s#%d", u.Repo, u.Number)
}

// Outcome is a terminal pipeline state. Reaching one ends the run.
type Outcome string

const (
	// OutcomeReady means all required gates pass; the unit is merge-eligible.
	OutcomeReady Outcome = "ready"

	// OutcomeNeedsRework means required gates failed with exhausted retries
	// and the author can remediate.
	OutcomeNeedsRework Outcome = "needs-rework"

	// OutcomeBlocked means a critical, non-automatable failure: infra errors,
	// judgment-stage refusals, or an unroutable state.
	OutcomeBlocked Outcome = "blocked"

	// OutcomeCancelled means the unit was withdrawn externally (PR closed,
	// superseded push) before a verdict.
	OutcomeCancelled Outcome = "cancelled"
)

// Valid reports whether o is a known terminal outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeReady, OutcomeNeedsRework, OutcomeBlocked, OutcomeCancelled:
		return true
	}
	return false
}
