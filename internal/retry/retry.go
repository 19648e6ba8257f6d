// Package retry tracks evaluation attempts per stage and decides whether a
// failed stage has budget left for another run.
package retry

import "sort"

// BudgetSource supplies the attempt budget for each stage of a run. A
// policy.Effective satisfies it.
type BudgetSource interface {
	// MaxAttempts returns the total evaluation budget for the stage. Zero
	// marks a single-shot stage: it runs once and a failure escalates
	// without retry.
	MaxAttempts(stage string) int
}

// State reports one stage's attempt accounting.
type State struct {
	Stage     string `json:"stage"`
	Attempts  int    `json:"attempts"`
	Budget    int    `json:"budget"`
	Remaining int    `json:"remaining"`
}

// Controller tracks attempts against budgets. Like the ledger it is owned by
// the flow-lock holder and is not safe for concurrent use.
type Controller struct {
	budgets  BudgetSource
	attempts map[string]int
}

// NewController creates a controller drawing budgets from src.
func NewController(src BudgetSource) *Controller {
	return &Controller{
		budgets:  src,
		attempts: make(map[string]int),
	}
}

// RecordAttempt counts one evaluation of the stage and returns the new
// total. Every run counts, including the first: the budget bounds total
// evaluations, not just re-runs.
func (c *Controller) RecordAttempt(stage string) int {
	c.attempts[stage]++
	return c.attempts[stage]
}

// Attempts returns how many times the stage has been evaluated.
func (c *Controller) Attempts(stage string) int {
	return c.attempts[stage]
}

// Budget returns the stage's configured attempt budget.
func (c *Controller) Budget(stage string) int {
	return c.budgets.MaxAttempts(stage)
}

// RunsAllowed converts a budget to the number of evaluations permitted. A
// zero budget still permits the single mandatory run.
func RunsAllowed(budget int) int {
	if budget < 1 {
		return 1
	}
	return budget
}

// ShouldRetry reports whether a failed stage may be evaluated again.
func (c *Controller) ShouldRetry(stage string) bool {
	return c.attempts[stage] < RunsAllowed(c.Budget(stage))
}

// Exhausted reports whether the stage has used its full budget.
func (c *Controller) Exhausted(stage string) bool {
	return !c.ShouldRetry(stage)
}

// SingleShot reports whether the stage has a zero budget, meaning failure
// escalates immediately instead of retrying.
func (c *Controller) SingleShot(stage string) bool {
	return c.Budget(stage) == 0
}

// State returns the stage's current accounting.
func (c *Controller) State(stage string) State {
	attempts := c.attempts[stage]
	budget := c.Budget(stage)
	remaining := RunsAllowed(budget) - attempts
	if remaining < 0 {
		remaining = 0
	}
	return State{
		Stage:     stage,
		Attempts:  attempts,
		Budget:    budget,
		Remaining: remaining,
	}
}

// States returns accounting for every stage that has run, sorted by stage
// name for stable output.
func (c *Controller) States() []State {
	out := make([]State, 0, len(c.attempts))
	for stage := range c.attempts {
		out = append(out, c.State(stage))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stage < out[j].Stage })
	return out
}
