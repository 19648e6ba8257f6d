package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/fyrsmithlabs/gated/internal/review"
)

// celCostLimit caps predicate evaluation complexity so a pathological
// expression cannot stall the pipeline.
const celCostLimit = 10000

// Exemptions compiles and evaluates skip_when predicates. Programs are cached
// per expression; a policy reload reuses the same evaluator, so the cache is
// guarded for concurrent runs.
type Exemptions struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewExemptions creates an evaluator exposing the review unit to predicates
// as the `unit` variable:
//
//	unit.repo, unit.number, unit.draft, unit.labels, unit.base_ref,
//	unit.head_sha, unit.changed_paths
func NewExemptions() (*Exemptions, error) {
	env, err := cel.NewEnv(
		cel.Variable("unit", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("creating predicate environment: %w", err)
	}
	return &Exemptions{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

// Compile parses and caches a predicate without evaluating it. Used by
// validation to reject malformed expressions at load time.
func (e *Exemptions) Compile(expr string) error {
	_, err := e.program(expr)
	return err
}

// Evaluate runs the predicate against a review unit. The result must be a
// boolean. Errors fail closed: callers treat them as "not exempt" so the
// stage still runs.
func (e *Exemptions) Evaluate(expr string, unit review.Unit) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]any{
		"unit": unitInput(unit),
	})
	if err != nil {
		return false, fmt.Errorf("evaluating predicate: %w", err)
	}

	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("predicate %q did not evaluate to a boolean", expr)
	}
	return b, nil
}

func (e *Exemptions) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.cache[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.cache[expr]; hit {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compiling predicate: %w", issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(celCostLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("building predicate program: %w", err)
	}
	e.cache[expr] = prg
	return prg, nil
}

// unitInput flattens a review unit into the map shape predicates see.
func unitInput(u review.Unit) map[string]any {
	labels := make([]string, len(u.Labels))
	copy(labels, u.Labels)
	paths := make([]string, len(u.ChangedPaths))
	copy(paths, u.ChangedPaths)

	return map[string]any{
		"repo":          u.Repo,
		"number":        u.Number,
		"draft":         u.Draft,
		"labels":        labels,
		"base_ref":      u.BaseRef,
		"head_ref":      u.HeadRef,
		"head_sha":      u.HeadSHA,
		"changed_paths": paths,
	}
}
