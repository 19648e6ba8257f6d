package policy

import (
	"fmt"
	"time"
)

// Effective is the tier-resolved, read-only view of a policy that one
// pipeline run executes against: stages filtered by tier membership, phase
// order resolved, quarantine applied. Routing, retries, and the runner all
// consume this view so a run is reproducible from (policy, tier) alone.
type Effective struct {
	policy *Policy
	tier   string
	now    time.Time

	// stages in phase order, then declaration order within a phase.
	stages []StageConfig
	byName map[string]*StageConfig
	phases []string
}

// ForTier resolves the policy for one run tier. The tier must be known and
// must select at least one stage.
func (p *Policy) ForTier(tier string) (*Effective, error) {
	return p.forTierAt(tier, time.Now().UTC())
}

func (p *Policy) forTierAt(tier string, now time.Time) (*Effective, error) {
	known := false
	for _, t := range AllTiers() {
		if t == tier {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("unknown tier %q", tier)
	}

	e := &Effective{
		policy: p,
		tier:   tier,
		now:    now,
		byName: make(map[string]*StageConfig),
	}

	for _, phase := range p.PhaseOrder() {
		phaseHasStages := false
		for i := range p.Stages {
			s := p.Stages[i]
			if s.Phase != phase || !s.InTier(tier) {
				continue
			}
			e.stages = append(e.stages, s)
			e.byName[s.Name] = &e.stages[len(e.stages)-1]
			phaseHasStages = true
		}
		if phaseHasStages {
			e.phases = append(e.phases, phase)
		}
	}

	if len(e.stages) == 0 {
		return nil, fmt.Errorf("tier %q selects no stages", tier)
	}

	return e, nil
}

// Tier returns the run tier this view was resolved for.
func (e *Effective) Tier() string { return e.tier }

// Environment returns the policy's environment label.
func (e *Effective) Environment() string { return e.policy.Global.Environment }

// Version returns the schema version of the policy this view resolves.
func (e *Effective) Version() int { return e.policy.Version }

// FailFast reports whether the run stops scheduling non-required stages
// after the first escalation.
func (e *Effective) FailFast() bool { return e.policy.Global.FailFast }

// Stages returns all stages in execution order (phase order, then
// declaration order within a phase).
func (e *Effective) Stages() []StageConfig {
	out := make([]StageConfig, len(e.stages))
	copy(out, e.stages)
	return out
}

// StageNames returns the execution-ordered stage names.
func (e *Effective) StageNames() []string {
	names := make([]string, len(e.stages))
	for i, s := range e.stages {
		names[i] = s.Name
	}
	return names
}

// Phases returns the phases that have at least one stage in this tier, in
// topological order.
func (e *Effective) Phases() []string {
	out := make([]string, len(e.phases))
	copy(out, e.phases)
	return out
}

// StagesInPhase returns the stages of one phase in declaration order.
func (e *Effective) StagesInPhase(phase string) []StageConfig {
	var out []StageConfig
	for _, s := range e.stages {
		if s.Phase == phase {
			out = append(out, s)
		}
	}
	return out
}

// Stage looks up one stage in this view.
func (e *Effective) Stage(name string) (StageConfig, bool) {
	s, ok := e.byName[name]
	if !ok {
		return StageConfig{}, false
	}
	return *s, true
}

// Required reports whether the gate must pass for promotion. An active
// quarantine suspends requiredness: a contained flaky gate cannot block the
// pipeline.
func (e *Effective) Required(name string) bool {
	s, ok := e.byName[name]
	if !ok {
		return false
	}
	if s.Quarantine.Active(e.now) {
		return false
	}
	return s.Required
}

// Critical reports whether the gate is in the critical set.
func (e *Effective) Critical(name string) bool {
	s, ok := e.byName[name]
	if !ok {
		return false
	}
	return s.Critical
}

// MaxAttempts returns the gate's retry budget.
func (e *Effective) MaxAttempts(name string) int {
	s, ok := e.byName[name]
	if !ok {
		return 0
	}
	return s.EffectiveMaxAttempts(e.policy.Global)
}

// Timeout returns the gate's check time box.
func (e *Effective) Timeout(name string) time.Duration {
	s, ok := e.byName[name]
	if !ok {
		return time.Duration(e.policy.Global.DefaultTimeoutSeconds) * time.Second
	}
	return s.EffectiveTimeout(e.policy.Global)
}

// Quarantined reports whether the gate is under an active quarantine, with
// the recorded reason.
func (e *Effective) Quarantined(name string) (string, bool) {
	s, ok := e.byName[name]
	if !ok || !s.Quarantine.Active(e.now) {
		return "", false
	}
	return s.Quarantine.Reason, true
}

// MaxConfiguredAttempts returns the largest retry budget in this view. The
// orchestrator derives its hard iteration cap from it.
func (e *Effective) MaxConfiguredAttempts() int {
	max := 1
	for _, s := range e.stages {
		if n := s.EffectiveMaxAttempts(e.policy.Global); n > max {
			max = n
		}
	}
	return max
}
