// Package telemetry provides OpenTelemetry instrumentation for gated.
//
// # Overview
//
// This package implements distributed tracing and metrics collection using
// the OpenTelemetry Go SDK. Telemetry data is exported over OTLP (gRPC by
// default, http/protobuf for HTTPS collectors) to whatever backend the
// deployment points it at.
//
// # Usage
//
// Create telemetry instance:
//
//	cfg := telemetry.NewDefaultConfig()
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(ctx)
//
// Use tracer and meter:
//
//	tracer := tel.Tracer("gated.orchestrator")
//	ctx, span := tracer.Start(ctx, "pipeline.run")
//	defer span.End()
//
//	meter := tel.Meter("gated.worker")
//	counter, _ := meter.Int64Counter("queue.enqueued")
//	counter.Add(ctx, 1)
//
// # Configuration
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  service_name: "gated"
//	  sampling:
//	    rate: 1.0  # 100% in dev, lower in prod
//	    always_on_errors: true
//	  metrics:
//	    enabled: true
//	    export_interval: "15s"
//
// # Error Handling
//
// Telemetry failures do not crash the daemon. If providers cannot be
// initialized, the instance degrades gracefully and hands out no-op
// tracers and meters.
//
// # Testing
//
// Use TestTelemetry for tests:
//
//	tt := telemetry.NewTestTelemetry()
//	tracer := tt.Tracer("test")
//	_, span := tracer.Start(ctx, "test-span")
//	span.End()
//	tt.AssertSpanExists(t, "test-span")
package telemetry
