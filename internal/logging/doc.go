// Package logging provides structured logging for the gated daemon.
//
// # Overview
//
// The package wraps Zap with:
//   - Custom Trace level (-2, below Debug) for per-iteration routing detail
//   - Dual output (stdout + OpenTelemetry log bridge)
//   - Automatic context field injection (trace_id, unit, run_id, request_id)
//   - Encoder-level secret redaction (the daemon handles GitHub tokens and
//     webhook secrets)
//   - Level-aware sampling (errors never sampled)
//
// # Usage
//
// Create a logger from config:
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, otelProvider)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
// Log with context:
//
//	ctx = logging.WithUnit(ctx, unit.Key())
//	ctx = logging.WithRunID(ctx, runID)
//	logger.Info(ctx, "gate evaluated", zap.String("stage", "tests"))
//
// Output includes automatic correlation:
//
//	{
//	  "ts": "2026-08-25T10:15:30Z",
//	  "level": "info",
//	  "msg": "gate evaluated",
//	  "trace_id": "abc123",
//	  "unit": "fyrsmithlabs/widgets#42",
//	  "run_id": "6f1c...",
//	  "stage": "tests"
//	}
//
// # Secret Redaction
//
// Redaction is layered: the config.Secret type refuses to serialize its
// value, the encoder drops values for sensitive field names, and pattern
// matching catches token shapes (bearer headers, GitHub ghp_/ghs_ tokens)
// that slip through under other keys. Use helpers for manual cases:
//
//	logger.Info(ctx, "auth received",
//	    logging.RedactedString("authorization", header))
//
// # Sampling
//
// Repeated messages below Error are sampled per tick; Error and above
// always pass. Disable for debugging with cfg.Sampling.Enabled = false.
//
// # Testing
//
// Use TestLogger for assertions:
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "queued", zap.String("unit", key))
//	tl.AssertLogged(t, zapcore.InfoLevel, "queued")
//	tl.AssertNoSecrets(t)
package logging
