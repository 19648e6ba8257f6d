// Package policy defines the gate policy document: which stages exist, the
// phase order they run in, per-stage retry and timeout budgets, tier
// membership, quarantine, and exemption predicates. The policy is the static
// configuration table that makes routing reproducible.
package policy

import (
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
)

// Canonical pipeline phases in topological order.
const (
	PhaseFreshness    = "freshness"
	PhaseHygiene      = "hygiene"
	PhaseArchitecture = "architecture"
	PhaseTests        = "tests"
	PhaseHardening    = "hardening"
	PhasePerformance  = "performance"
	PhaseDocs         = "docs"
)

// Run tiers select which stages execute together.
const (
	TierPRFast    = "pr-fast"
	TierMergeGate = "merge-gate"
	TierNightly   = "nightly"
)

// Builtin check kinds a stage can reference.
const (
	CheckCommand   = "command"
	CheckFreshness = "freshness"
	CheckSecrets   = "secrets"
)

// DefaultPhaseOrder returns the canonical phase ordering. Policies that omit
// the phases list get this order.
func DefaultPhaseOrder() []string {
	return []string{
		PhaseFreshness,
		PhaseHygiene,
		PhaseArchitecture,
		PhaseTests,
		PhaseHardening,
		PhasePerformance,
		PhaseDocs,
	}
}

// AllTiers returns the known tier names.
func AllTiers() []string {
	return []string{TierPRFast, TierMergeGate, TierNightly}
}

// Policy is one loaded gate-policy document.
type Policy struct {
	// Version is the policy schema version. Currently always 1.
	Version int `koanf:"version" json:"version"`

	// MinEngineVersion optionally constrains which engine builds may load
	// this policy, as a semver constraint (e.g. ">= 0.3.0").
	MinEngineVersion string `koanf:"min_engine_version" json:"min_engine_version,omitempty"`

	// Global holds pipeline-wide defaults.
	Global GlobalConfig `koanf:"global" json:"global"`

	// Phases is the topological phase order. Empty means the canonical order.
	Phases []string `koanf:"phases" json:"phases"`

	// Stages declares every gate the pipeline knows about.
	Stages []StageConfig `koanf:"stages" json:"stages"`
}

// GlobalConfig holds pipeline-wide defaults and switches.
type GlobalConfig struct {
	// DefaultTimeoutSeconds time-boxes checks that do not set their own.
	DefaultTimeoutSeconds int `koanf:"default_timeout_seconds" json:"default_timeout_seconds"`

	// DefaultMaxAttempts bounds retries for stages that do not set their own.
	DefaultMaxAttempts int `koanf:"default_max_attempts" json:"default_max_attempts"`

	// Environment labels receipts (e.g. "ci", "local").
	Environment string `koanf:"environment" json:"environment"`

	// FailFast stops scheduling non-required stages after the first
	// escalating failure.
	FailFast bool `koanf:"fail_fast" json:"fail_fast"`
}

// StageConfig declares one gate.
type StageConfig struct {
	// Name is the gate's identity in the ledger and all outbound markers.
	Name string `koanf:"name" json:"name"`

	// Phase places the stage in the pipeline's phase order.
	Phase string `koanf:"phase" json:"phase"`

	// Description is a short human-readable summary for receipts.
	Description string `koanf:"description" json:"description,omitempty"`

	// Required gates must pass for the review unit to reach ready.
	Required bool `koanf:"required" json:"required"`

	// Critical gates (typically build and tests) take retry precedence and
	// escalate to blocked when exhausted with infra-class evidence.
	Critical bool `koanf:"critical" json:"critical"`

	// MaxAttempts bounds self-fix retries. Nil means the global default;
	// zero is meaningful and marks a judgment stage (never retried).
	MaxAttempts *int `koanf:"max_attempts" json:"max_attempts,omitempty"`

	// TimeoutSeconds time-boxes the check. Zero means the global default.
	TimeoutSeconds int `koanf:"timeout_seconds" json:"timeout_seconds,omitempty"`

	// Tiers lists the run tiers that include this stage. Empty means all.
	Tiers []string `koanf:"tiers" json:"tiers,omitempty"`

	// Check names the builtin check implementation: "command", "freshness"
	// or "secrets". Empty defaults to "command".
	Check string `koanf:"check" json:"check,omitempty"`

	// Command is the argv to execute for command checks.
	Command []string `koanf:"command" json:"command,omitempty"`

	// SkipWhen is a CEL predicate over the review unit; when it evaluates
	// true the stage is recorded skipped. Only valid on non-required stages.
	SkipWhen string `koanf:"skip_when" json:"skip_when,omitempty"`

	// SkipReason is recorded as the skipped gate's evidence when SkipWhen
	// fires. Empty falls back to a generic reason.
	SkipReason string `koanf:"skip_reason" json:"skip_reason,omitempty"`

	// Quarantine contains a flaky stage: while active the stage is skipped
	// and treated as non-required.
	Quarantine *Quarantine `koanf:"quarantine" json:"quarantine,omitempty"`

	// Tags are free-form labels carried into receipts.
	Tags []string `koanf:"tags" json:"tags,omitempty"`
}

// Quarantine contains a flaky gate. While active the gate is skipped with the
// given reason and its requiredness is suspended.
type Quarantine struct {
	// Reason explains why the stage is quarantined. Mandatory.
	Reason string `koanf:"reason" json:"reason"`

	// Until optionally expires the quarantine (RFC 3339). Empty means
	// indefinite.
	Until string `koanf:"until" json:"until,omitempty"`
}

// Active reports whether the quarantine applies at the given time.
func (q *Quarantine) Active(now time.Time) bool {
	if q == nil {
		return false
	}
	if q.Until == "" {
		return true
	}
	until, err := time.Parse(time.RFC3339, q.Until)
	if err != nil {
		// Malformed expiry is caught by Validate; treat as indefinite here.
		return true
	}
	return now.Before(until)
}

// EffectiveMaxAttempts resolves the stage's retry budget against the global
// default. A nil MaxAttempts inherits; explicit zero means never retry.
func (s *StageConfig) EffectiveMaxAttempts(global GlobalConfig) int {
	if s.MaxAttempts != nil {
		return *s.MaxAttempts
	}
	return global.DefaultMaxAttempts
}

// EffectiveTimeout resolves the stage's time box against the global default.
func (s *StageConfig) EffectiveTimeout(global GlobalConfig) time.Duration {
	secs := s.TimeoutSeconds
	if secs <= 0 {
		secs = global.DefaultTimeoutSeconds
	}
	return time.Duration(secs) * time.Second
}

// InTier reports whether the stage runs in the given tier. Stages without an
// explicit tier list run in every tier.
func (s *StageConfig) InTier(tier string) bool {
	if len(s.Tiers) == 0 {
		return true
	}
	for _, t := range s.Tiers {
		if t == tier {
			return true
		}
	}
	return false
}

// CheckKind resolves the stage's check implementation name.
func (s *StageConfig) CheckKind() string {
	if s.Check == "" {
		return CheckCommand
	}
	return s.Check
}

// Stage looks up a stage by name.
func (p *Policy) Stage(name string) (StageConfig, bool) {
	for _, s := range p.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageConfig{}, false
}

// PhaseOrder returns the policy's phase ordering, falling back to the
// canonical order when the document omits it.
func (p *Policy) PhaseOrder() []string {
	if len(p.Phases) > 0 {
		return p.Phases
	}
	return DefaultPhaseOrder()
}

// CriticalSet returns the names of all critical stages.
func (p *Policy) CriticalSet() []string {
	var names []string
	for _, s := range p.Stages {
		if s.Critical {
			names = append(names, s.Name)
		}
	}
	return names
}

// CheckEngineVersion verifies the running engine build satisfies the policy's
// MinEngineVersion constraint. A policy without a constraint accepts any
// build, as do dev builds without a parseable version.
func (p *Policy) CheckEngineVersion(current string) error {
	if p.MinEngineVersion == "" {
		return nil
	}
	c, err := semver.NewConstraint(p.MinEngineVersion)
	if err != nil {
		return fmt.Errorf("invalid min_engine_version %q: %w", p.MinEngineVersion, err)
	}
	v, err := semver.NewVersion(current)
	if err != nil {
		// Dev builds ("dev", commit hashes) are not constrained.
		return nil
	}
	if !c.Check(v) {
		return fmt.Errorf("engine version %s does not satisfy policy constraint %q", current, p.MinEngineVersion)
	}
	return nil
}

// DefaultPolicy returns the built-in policy used when no document is given:
// the default stage vocabulary with conservative budgets. Mechanical-fix
// stages get two attempts, judgment stages get none.
func DefaultPolicy() *Policy {
	zero := 0
	one := 1
	return &Policy{
		Version: 1,
		Global: GlobalConfig{
			DefaultTimeoutSeconds: 300,
			DefaultMaxAttempts:    2,
			Environment:           "local",
		},
		Stages: []StageConfig{
			{
				Name:        "freshness",
				Phase:       PhaseFreshness,
				Description: "head is current with the base branch",
				Required:    true,
				MaxAttempts: &one,
				Check:       CheckFreshness,
			},
			{
				Name:        "format",
				Phase:       PhaseHygiene,
				Description: "source formatting",
				Required:    true,
				Command:     []string{"cargo", "fmt", "--", "--check"},
			},
			{
				Name:        "clippy",
				Phase:       PhaseHygiene,
				Description: "lint warnings denied",
				Required:    true,
				Command:     []string{"cargo", "clippy", "--workspace", "--", "-D", "warnings"},
			},
			{
				Name:        "contracts",
				Phase:       PhaseArchitecture,
				Description: "public API and architecture review",
				Required:    true,
				MaxAttempts: &zero,
				Command:     []string{"cargo", "public-api", "diff"},
			},
			{
				Name:        "build",
				Phase:       PhaseTests,
				Description: "workspace builds",
				Required:    true,
				Critical:    true,
				Command:     []string{"cargo", "build", "--workspace"},
			},
			{
				Name:        "tests",
				Phase:       PhaseTests,
				Description: "full test suite",
				Required:    true,
				Critical:    true,
				Command:     []string{"cargo", "test", "--workspace"},
			},
			{
				Name:        "security",
				Phase:       PhaseHardening,
				Description: "secret scan over changed content",
				Required:    true,
				Check:       CheckSecrets,
			},
			{
				Name:        "benchmarks",
				Phase:       PhasePerformance,
				Description: "benchmark smoke run",
				MaxAttempts: &one,
				Tiers:       []string{TierMergeGate, TierNightly},
				Command:     []string{"cargo", "bench", "--workspace", "--", "--test"},
			},
			{
				Name:        "docs",
				Phase:       PhaseDocs,
				Description: "documentation builds without warnings",
				Command:     []string{"cargo", "doc", "--workspace", "--no-deps"},
			},
		},
	}
}
