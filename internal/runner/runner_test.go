package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/gated/internal/gate"
	"github.com/fyrsmithlabs/gated/internal/policy"
	"github.com/fyrsmithlabs/gated/internal/review"
)

type panicCheck struct{}

func (panicCheck) Kind() string { return policy.CheckCommand }
func (panicCheck) Run(context.Context, review.Unit, policy.StageConfig) gate.CheckResult {
	panic("boom")
}

func TestRunner_UnknownCheckKind_ErrorResult(t *testing.T) {
	r := New(zap.NewNop())

	result := r.RunStage(context.Background(), review.Unit{}, policy.StageConfig{Name: "tests"}, time.Second)

	assert.Equal(t, gate.CheckError, result.Status)
	assert.Contains(t, result.Message, "no check registered")
}

func TestRunner_PanicConvertedToErrorResult(t *testing.T) {
	r := New(zap.NewNop(), panicCheck{})

	result := r.RunStage(context.Background(), review.Unit{}, policy.StageConfig{Name: "tests"}, time.Second)

	assert.Equal(t, gate.CheckError, result.Status)
	assert.Contains(t, result.Message, "panic")
	assert.Contains(t, result.Message, "boom")
}

func TestRunner_CommandSuccess(t *testing.T) {
	r := NewDefault(zap.NewNop())
	stage := policy.StageConfig{Name: "tests", Command: []string{"sh", "-c", "echo ok"}}

	result := r.RunStage(context.Background(), review.Unit{}, stage, 5*time.Second)

	assert.Equal(t, gate.CheckSuccess, result.Status)
	assert.Equal(t, "exit 0", result.Evidence)
	assert.Greater(t, result.Duration, time.Duration(0))
}

func TestRunner_TimeoutFillsTimeBox(t *testing.T) {
	r := NewDefault(zap.NewNop())
	stage := policy.StageConfig{Name: "build", Command: []string{"sh", "-c", "sleep 3"}}

	result := r.RunStage(context.Background(), review.Unit{}, stage, time.Second)

	require.Equal(t, gate.CheckTimeout, result.Status)
	assert.Equal(t, time.Second, result.TimedOutAfter)

	g := gate.Evaluate("build", result)
	assert.Equal(t, gate.StatusFail, g.Status)
	assert.Equal(t, "timeout after 1s", g.Evidence)
}

func TestRunner_Kinds_ListsBuiltins(t *testing.T) {
	r := NewDefault(zap.NewNop())

	kinds := r.Kinds()

	assert.ElementsMatch(t, []string{"command", "freshness", "secrets"}, kinds)
}
