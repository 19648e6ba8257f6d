package orchestrator

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/gated/internal/orchestrator"

var (
	runCounter        metric.Int64Counter
	runDuration       metric.Float64Histogram
	gateEvalCounter   metric.Int64Counter
	lockRejectCounter metric.Int64Counter
)

func initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error

	runCounter, err = meter.Int64Counter(
		"gated.pipeline.runs_total",
		metric.WithDescription("Pipeline runs by terminal outcome"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create run counter: %v", err))
	}

	runDuration, err = meter.Float64Histogram(
		"gated.pipeline.run_duration_seconds",
		metric.WithDescription("Wall time of pipeline runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create run duration histogram: %v", err))
	}

	gateEvalCounter, err = meter.Int64Counter(
		"gated.pipeline.gate_evaluations_total",
		metric.WithDescription("Gate evaluations by stage and resulting status"),
		metric.WithUnit("{evaluation}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create gate evaluation counter: %v", err))
	}

	lockRejectCounter, err = meter.Int64Counter(
		"gated.pipeline.lock_rejections_total",
		metric.WithDescription("Run requests rejected because the unit's flow-lock was held"),
		metric.WithUnit("{rejection}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create lock rejection counter: %v", err))
	}
}

func init() {
	initMetrics()
}
