package policy

import (
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
)

var (
	// ErrInvalidPolicy indicates the policy document failed validation.
	ErrInvalidPolicy = errors.New("invalid policy")
)

// Validate checks the policy document for structural errors. It is called by
// the loader after unmarshal and by gatectl validate. Validation failures are
// wrapped with ErrInvalidPolicy for programmatic matching.
func (p *Policy) Validate() error {
	if p.Version != 1 {
		return fmt.Errorf("%w: unsupported version %d (expected 1)", ErrInvalidPolicy, p.Version)
	}
	if p.Global.DefaultTimeoutSeconds <= 0 {
		return fmt.Errorf("%w: global.default_timeout_seconds must be positive", ErrInvalidPolicy)
	}
	if p.Global.DefaultMaxAttempts < 0 {
		return fmt.Errorf("%w: global.default_max_attempts must not be negative", ErrInvalidPolicy)
	}
	if len(p.Stages) == 0 {
		return fmt.Errorf("%w: no stages declared", ErrInvalidPolicy)
	}

	phases := p.PhaseOrder()
	phaseSet := make(map[string]bool, len(phases))
	for _, ph := range phases {
		if ph == "" {
			return fmt.Errorf("%w: empty phase name", ErrInvalidPolicy)
		}
		if phaseSet[ph] {
			return fmt.Errorf("%w: duplicate phase %q", ErrInvalidPolicy, ph)
		}
		phaseSet[ph] = true
	}

	tierSet := make(map[string]bool)
	for _, t := range AllTiers() {
		tierSet[t] = true
	}

	// Predicates are compiled once here so malformed expressions surface at
	// load time, not mid-run.
	exemptions, err := NewExemptions()
	if err != nil {
		return fmt.Errorf("initializing predicate environment: %w", err)
	}

	seen := make(map[string]bool, len(p.Stages))
	for i := range p.Stages {
		s := &p.Stages[i]
		if err := p.validateStage(s, phaseSet, tierSet, exemptions); err != nil {
			return err
		}
		if seen[s.Name] {
			return fmt.Errorf("%w: duplicate stage %q", ErrInvalidPolicy, s.Name)
		}
		seen[s.Name] = true
	}

	if p.MinEngineVersion != "" {
		// Only the constraint syntax is checked here; the running build is
		// checked separately via CheckEngineVersion.
		if _, err := semver.NewConstraint(p.MinEngineVersion); err != nil {
			return fmt.Errorf("%w: invalid min_engine_version %q: %v", ErrInvalidPolicy, p.MinEngineVersion, err)
		}
	}

	return nil
}

func (p *Policy) validateStage(s *StageConfig, phaseSet, tierSet map[string]bool, exemptions *Exemptions) error {
	if s.Name == "" {
		return fmt.Errorf("%w: stage with empty name", ErrInvalidPolicy)
	}
	if s.Phase == "" {
		return fmt.Errorf("%w: stage %q has no phase", ErrInvalidPolicy, s.Name)
	}
	if !phaseSet[s.Phase] {
		return fmt.Errorf("%w: stage %q references unknown phase %q", ErrInvalidPolicy, s.Name, s.Phase)
	}
	if s.MaxAttempts != nil && *s.MaxAttempts < 0 {
		return fmt.Errorf("%w: stage %q max_attempts must not be negative", ErrInvalidPolicy, s.Name)
	}
	if s.TimeoutSeconds < 0 {
		return fmt.Errorf("%w: stage %q timeout_seconds must not be negative", ErrInvalidPolicy, s.Name)
	}
	if s.Critical && !s.Required {
		// Critical failures escalate; a non-required gate never does.
		return fmt.Errorf("%w: stage %q is critical and must also be required", ErrInvalidPolicy, s.Name)
	}

	for _, t := range s.Tiers {
		if !tierSet[t] {
			return fmt.Errorf("%w: stage %q references unknown tier %q", ErrInvalidPolicy, s.Name, t)
		}
	}

	switch s.CheckKind() {
	case CheckCommand:
		if len(s.Command) == 0 {
			return fmt.Errorf("%w: stage %q is a command check with no command", ErrInvalidPolicy, s.Name)
		}
	case CheckFreshness, CheckSecrets:
		if len(s.Command) != 0 {
			return fmt.Errorf("%w: stage %q is a builtin %q check and must not declare a command", ErrInvalidPolicy, s.Name, s.CheckKind())
		}
	default:
		return fmt.Errorf("%w: stage %q references unknown check %q", ErrInvalidPolicy, s.Name, s.Check)
	}

	if s.SkipWhen != "" {
		// A required gate must either pass or escalate; letting policy
		// exempt it would leave the unit unroutable.
		if s.Required {
			return fmt.Errorf("%w: stage %q is required and cannot declare skip_when", ErrInvalidPolicy, s.Name)
		}
		if err := exemptions.Compile(s.SkipWhen); err != nil {
			return fmt.Errorf("%w: stage %q skip_when: %v", ErrInvalidPolicy, s.Name, err)
		}
	}

	if s.Quarantine != nil {
		if s.Quarantine.Reason == "" {
			return fmt.Errorf("%w: stage %q quarantine without reason", ErrInvalidPolicy, s.Name)
		}
		if s.Quarantine.Until != "" {
			if _, err := time.Parse(time.RFC3339, s.Quarantine.Until); err != nil {
				return fmt.Errorf("%w: stage %q quarantine until: %v", ErrInvalidPolicy, s.Name, err)
			}
		}
	}

	return nil
}

