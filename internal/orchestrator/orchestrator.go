package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/gated/internal/flowlock"
	"github.com/fyrsmithlabs/gated/internal/gate"
	"github.com/fyrsmithlabs/gated/internal/ledger"
	"github.com/fyrsmithlabs/gated/internal/policy"
	"github.com/fyrsmithlabs/gated/internal/receipt"
	"github.com/fyrsmithlabs/gated/internal/retry"
	"github.com/fyrsmithlabs/gated/internal/review"
	"github.com/fyrsmithlabs/gated/internal/routing"
)

var tracer = otel.Tracer(instrumentationName)

// minIterationCap is the floor of the loop safety cap.
const minIterationCap = 8

// StageRunner executes one stage's check. runner.Runner satisfies it.
type StageRunner interface {
	RunStage(ctx context.Context, unit review.Unit, stage policy.StageConfig, timeout time.Duration) gate.CheckResult
}

// Notifier receives emissions at the run's defined side-effect points.
// Implementations must tolerate being called with short deadlines and must
// not block routing; errors are theirs to log.
type Notifier interface {
	GateUpdated(ctx context.Context, unit review.Unit, g gate.Gate)
	RunFinished(ctx context.Context, rcpt *receipt.Receipt)
}

// NopNotifier discards all emissions.
type NopNotifier struct{}

func (NopNotifier) GateUpdated(context.Context, review.Unit, gate.Gate) {}
func (NopNotifier) RunFinished(context.Context, *receipt.Receipt)      {}

// Config wires an orchestrator.
type Config struct {
	Runner     StageRunner
	Locks      *flowlock.Registry
	Exemptions *policy.Exemptions
	Notifier   Notifier
	Logger     *zap.Logger
	Engine     string
}

// Orchestrator runs review units through the pipeline. It is safe for
// concurrent use; per-unit serialization comes from the flow-lock registry.
type Orchestrator struct {
	runner     StageRunner
	locks      *flowlock.Registry
	exemptions *policy.Exemptions
	notifier   Notifier
	logger     *zap.Logger
	engine     string
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Runner == nil {
		return nil, errors.New("orchestrator requires a stage runner")
	}
	if cfg.Locks == nil {
		return nil, errors.New("orchestrator requires a flow-lock registry")
	}
	if cfg.Exemptions == nil {
		ex, err := policy.NewExemptions()
		if err != nil {
			return nil, fmt.Errorf("creating exemption evaluator: %w", err)
		}
		cfg.Exemptions = ex
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NopNotifier{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Orchestrator{
		runner:     cfg.Runner,
		locks:      cfg.Locks,
		exemptions: cfg.Exemptions,
		notifier:   cfg.Notifier,
		logger:     cfg.Logger,
		engine:     cfg.Engine,
	}, nil
}

// Run drives one review unit to a terminal outcome under the effective
// policy. The only error it returns is a flow-lock rejection; every other
// condition, including cancellation, becomes a terminal receipt.
func (o *Orchestrator) Run(ctx context.Context, unit review.Unit, eff *policy.Effective) (*receipt.Receipt, error) {
	key := unit.Key()
	release, err := o.locks.TryAcquire(key)
	if err != nil {
		lockRejectCounter.Add(ctx, 1)
		return nil, fmt.Errorf("review unit %s: %w", key, err)
	}
	defer release()

	runID := uuid.New().String()
	ctx, span := tracer.Start(ctx, "orchestrator.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", runID),
		attribute.String("unit.key", key),
		attribute.String("tier", eff.Tier()),
	)

	started := time.Now()
	led := ledger.New(unit)
	ctrl := retry.NewController(eff)
	limit := iterationCap(eff)

	o.logger.Info("pipeline run starting",
		zap.String("run_id", runID),
		zap.String("unit", key),
		zap.String("tier", eff.Tier()),
		zap.Int("stages", len(eff.StageNames())),
		zap.Int("iteration_cap", limit))

	term, iterations := o.loop(ctx, led, ctrl, eff, limit)

	if eff.FailFast() && term.Outcome != review.OutcomeCancelled {
		o.settleUnscheduled(ctx, led, eff)
	}

	rcpt := receipt.Build(receipt.Params{
		Ledger:     led,
		Policy:     eff,
		Outcome:    term.Outcome,
		Reason:     term.Reason,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Iterations: iterations,
		RunID:      runID,
		Engine:     o.engine,
		Source:     receipt.CollectSource(unit.WorkDir),
	})

	// Terminal emission must survive the cancellation that may have ended
	// the run.
	o.notifier.RunFinished(context.WithoutCancel(ctx), rcpt)

	span.SetAttributes(
		attribute.String("outcome", string(term.Outcome)),
		attribute.Int("iterations", iterations),
	)
	runCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", string(term.Outcome)),
		attribute.String("tier", eff.Tier()),
	))
	runDuration.Record(ctx, time.Since(started).Seconds())

	o.logger.Info("pipeline run finished",
		zap.String("run_id", runID),
		zap.String("unit", key),
		zap.String("outcome", string(term.Outcome)),
		zap.String("reason", term.Reason),
		zap.Int("iterations", iterations),
		zap.Duration("duration", time.Since(started)))

	return rcpt, nil
}

// loop is the decision cycle. It returns the terminal decision and how many
// stage evaluations (including skips) were consumed.
func (o *Orchestrator) loop(ctx context.Context, led *ledger.Ledger, ctrl *retry.Controller, eff *policy.Effective, limit int) (routing.Decision, int) {
	iterations := 0
	for {
		if ctx.Err() != nil {
			term := cancelledDecision(ctx.Err())
			led.AppendHop(term.Label(), term.Reason, nil)
			return term, iterations
		}
		if iterations >= limit {
			term := routing.Decision{
				Kind:    routing.KindTerminal,
				Outcome: review.OutcomeBlocked,
				Reason:  fmt.Sprintf("iteration cap %d reached without terminal decision", limit),
			}
			o.logger.Error("iteration cap reached", zap.String("unit", led.Unit().Key()), zap.Int("cap", limit))
			led.AppendHop(term.Label(), term.Reason, nil)
			return term, iterations
		}

		d := routing.Route(led.Snapshot(), eff)
		if d.Terminal() {
			led.AppendHop(d.Label(), d.Reason, d.Evidence)
			return d, iterations
		}
		iterations++

		stg, ok := eff.Stage(d.Stage)
		if !ok {
			term := routing.Decision{
				Kind:    routing.KindTerminal,
				Outcome: review.OutcomeBlocked,
				Reason:  routing.ReasonUnroutable,
			}
			led.AppendHop(term.Label(), fmt.Sprintf("decision named unknown stage %q", d.Stage), nil)
			return term, iterations
		}

		if d.Kind == routing.KindRun {
			if reason, skip := o.exemption(led.Unit(), stg, eff); skip {
				g := gate.Skipped(stg.Name, reason)
				g.Phase = stg.Phase
				led.UpsertGate(g)
				led.AppendHop("skip:"+stg.Name, reason, []string{stg.Name})
				o.notifier.GateUpdated(ctx, led.Unit(), g)
				gateEvalCounter.Add(ctx, 1, metric.WithAttributes(
					attribute.String("stage", stg.Name),
					attribute.String("status", string(gate.StatusSkipped)),
				))
				continue
			}
		}

		led.AppendHop(d.Label(), d.Reason, d.Evidence)

		result := o.runner.RunStage(ctx, led.Unit(), stg, eff.Timeout(stg.Name))
		if ctx.Err() != nil {
			// The in-flight result is discarded: a cancelled run records
			// no further gate evaluations.
			term := cancelledDecision(ctx.Err())
			led.AppendHop(term.Label(), term.Reason, nil)
			return term, iterations
		}

		attempts := ctrl.RecordAttempt(stg.Name)
		g := gate.Evaluate(stg.Name, result)
		g.Phase = stg.Phase
		g.Attempts = attempts
		led.UpsertGate(g)
		o.notifier.GateUpdated(ctx, led.Unit(), g)
		gateEvalCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("stage", stg.Name),
			attribute.String("status", string(g.Status)),
		))

		o.logger.Debug("gate updated",
			zap.String("unit", led.Unit().Key()),
			zap.String("stage", stg.Name),
			zap.String("status", string(g.Status)),
			zap.Int("attempts", attempts),
			zap.String("evidence", g.Evidence))
	}
}

// exemption decides whether a stage about to run its first attempt is
// policy-exempt for this unit. Predicate evaluation errors fail closed: the
// stage runs.
func (o *Orchestrator) exemption(unit review.Unit, stg policy.StageConfig, eff *policy.Effective) (string, bool) {
	if reason, ok := eff.Quarantined(stg.Name); ok {
		return "quarantined: " + reason, true
	}
	if stg.SkipWhen == "" {
		return "", false
	}
	match, err := o.exemptions.Evaluate(stg.SkipWhen, unit)
	if err != nil {
		o.logger.Warn("skip predicate failed, running stage anyway",
			zap.String("stage", stg.Name),
			zap.Error(err))
		return "", false
	}
	if !match {
		return "", false
	}
	if stg.SkipReason != "" {
		return stg.SkipReason, true
	}
	return "skip condition matched", true
}

// settleUnscheduled marks non-required stages that fail-fast kept from
// running as skipped, so receipts never show phantom pending rows.
func (o *Orchestrator) settleUnscheduled(ctx context.Context, led *ledger.Ledger, eff *policy.Effective) {
	for _, stg := range eff.Stages() {
		if eff.Required(stg.Name) || led.Status(stg.Name) != gate.StatusPending {
			continue
		}
		g := gate.Skipped(stg.Name, "not scheduled: fail-fast after earlier failure")
		g.Phase = stg.Phase
		led.UpsertGate(g)
		o.notifier.GateUpdated(ctx, led.Unit(), g)
	}
}

func cancelledDecision(cause error) routing.Decision {
	reason := "run cancelled"
	if errors.Is(cause, context.DeadlineExceeded) {
		reason = "run deadline exceeded"
	}
	return routing.Decision{
		Kind:    routing.KindTerminal,
		Outcome: review.OutcomeCancelled,
		Reason:  reason,
	}
}

// iterationCap bounds total loop iterations independently of the retry
// controller: twice the stage count times the largest attempt budget, with
// a floor for tiny policies.
func iterationCap(eff *policy.Effective) int {
	limit := 2 * len(eff.StageNames()) * eff.MaxConfiguredAttempts()
	if limit < minIterationCap {
		limit = minIterationCap
	}
	return limit
}
