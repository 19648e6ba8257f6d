package retry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticBudgets map[string]int

func (b staticBudgets) MaxAttempts(stage string) int { return b[stage] }

func TestController_RecordAttempt_CountsEveryRun(t *testing.T) {
	c := NewController(staticBudgets{"tests": 2})

	assert.Equal(t, 1, c.RecordAttempt("tests"))
	assert.Equal(t, 2, c.RecordAttempt("tests"))
	assert.Equal(t, 2, c.Attempts("tests"))
}

func TestController_ShouldRetry_WithinBudget(t *testing.T) {
	c := NewController(staticBudgets{"tests": 2})

	c.RecordAttempt("tests")
	assert.True(t, c.ShouldRetry("tests"), "one of two attempts used")
	assert.False(t, c.Exhausted("tests"))

	c.RecordAttempt("tests")
	assert.False(t, c.ShouldRetry("tests"), "budget bounds total evaluations")
	assert.True(t, c.Exhausted("tests"))
}

func TestController_ZeroBudget_RunsOnceWithoutRetry(t *testing.T) {
	c := NewController(staticBudgets{"contracts": 0})

	assert.True(t, c.SingleShot("contracts"))
	assert.True(t, c.ShouldRetry("contracts"), "the single mandatory run is always permitted")

	c.RecordAttempt("contracts")
	assert.False(t, c.ShouldRetry("contracts"))
	assert.True(t, c.Exhausted("contracts"))
}

func TestController_BudgetOne_NoRetryAfterFirstRun(t *testing.T) {
	c := NewController(staticBudgets{"freshness": 1})

	c.RecordAttempt("freshness")
	assert.True(t, c.Exhausted("freshness"))
	assert.False(t, c.SingleShot("freshness"))
}

func TestController_State_ReportsRemaining(t *testing.T) {
	c := NewController(staticBudgets{"tests": 3})

	c.RecordAttempt("tests")
	s := c.State("tests")
	assert.Equal(t, State{Stage: "tests", Attempts: 1, Budget: 3, Remaining: 2}, s)
}

func TestController_State_RemainingNeverNegative(t *testing.T) {
	c := NewController(staticBudgets{"contracts": 0})

	c.RecordAttempt("contracts")
	s := c.State("contracts")
	assert.Equal(t, 0, s.Remaining)
	assert.Equal(t, 0, s.Budget)
	assert.Equal(t, 1, s.Attempts)
}

func TestController_States_SortedByStage(t *testing.T) {
	c := NewController(staticBudgets{"tests": 2, "build": 2, "format": 2})

	c.RecordAttempt("tests")
	c.RecordAttempt("build")
	c.RecordAttempt("format")
	c.RecordAttempt("tests")

	states := c.States()
	require.Len(t, states, 3)
	assert.Equal(t, "build", states[0].Stage)
	assert.Equal(t, "format", states[1].Stage)
	assert.Equal(t, "tests", states[2].Stage)
	assert.Equal(t, 2, states[2].Attempts)
}

func TestController_UnknownStage_ZeroAttempts(t *testing.T) {
	c := NewController(staticBudgets{})

	assert.Equal(t, 0, c.Attempts("never-ran"))
	assert.True(t, c.ShouldRetry("never-ran"), "a stage that never ran still gets its first run")
}
