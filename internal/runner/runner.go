// Package runner invokes the external check behind one stage and normalizes
// whatever happens (exit codes, timeouts, crashes, panics) into a
// gate.CheckResult. Invoking a check is the only blocking operation in a
// pipeline run; everything around it is synchronous.
package runner

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/gated/internal/gate"
	"github.com/fyrsmithlabs/gated/internal/policy"
	"github.com/fyrsmithlabs/gated/internal/review"
)

var tracer = otel.Tracer("gated/runner")

// Check is one builtin check implementation. The context passed to Run
// carries the stage's time box; implementations must watch for expiry and
// report CheckTimeout.
type Check interface {
	// Kind returns the check name stages reference in policy.
	Kind() string

	// Run executes the check for one review unit and stage.
	Run(ctx context.Context, unit review.Unit, stage policy.StageConfig) gate.CheckResult
}

// Runner dispatches stages to registered checks.
type Runner struct {
	checks map[string]Check
	logger *zap.Logger
}

// New creates a runner with the given checks registered by kind.
func New(logger *zap.Logger, checks ...Check) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		checks: make(map[string]Check, len(checks)),
		logger: logger,
	}
	for _, c := range checks {
		r.checks[c.Kind()] = c
	}
	return r
}

// NewDefault creates a runner with the builtin command, freshness and
// secrets checks.
func NewDefault(logger *zap.Logger) *Runner {
	return New(logger,
		NewCommandCheck(),
		NewFreshnessCheck(),
		NewSecretsCheck(""),
	)
}

// RunStage executes the stage's check inside its time box. It never returns
// an error and never panics: unknown check kinds and panicking checks come
// back as error-class results so the pipeline's decision loop stays total.
func (r *Runner) RunStage(ctx context.Context, unit review.Unit, stage policy.StageConfig, timeout time.Duration) (result gate.CheckResult) {
	check, ok := r.checks[stage.CheckKind()]
	if !ok {
		return gate.CheckResult{
			Status:  gate.CheckError,
			Message: fmt.Sprintf("no check registered for kind %q", stage.CheckKind()),
		}
	}

	ctx, span := tracer.Start(ctx, "runner.run_stage")
	span.SetAttributes(
		attribute.String("stage.name", stage.Name),
		attribute.String("check.kind", stage.CheckKind()),
		attribute.String("unit.key", unit.Key()),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("check panicked",
				zap.String("stage", stage.Name),
				zap.String("check", stage.CheckKind()),
				zap.Any("panic", rec))
			result = gate.CheckResult{
				Status:   gate.CheckError,
				Message:  fmt.Sprintf("panic in %s check: %v", stage.CheckKind(), rec),
				Duration: time.Since(start),
			}
		}
		span.SetAttributes(attribute.String("check.status", string(result.Status)))
	}()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result = check.Run(runCtx, unit, stage)
	result.Duration = time.Since(start)
	if result.Status == gate.CheckTimeout && result.TimedOutAfter == 0 {
		result.TimedOutAfter = timeout
	}

	r.logger.Debug("stage check finished",
		zap.String("stage", stage.Name),
		zap.String("status", string(result.Status)),
		zap.Duration("duration", result.Duration))
	return result
}

// Kinds returns the registered check kinds, for startup logging.
func (r *Runner) Kinds() []string {
	kinds := make([]string, 0, len(r.checks))
	for k := range r.checks {
		kinds = append(kinds, k)
	}
	return kinds
}
