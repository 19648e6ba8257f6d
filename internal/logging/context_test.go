package logging

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

func assertFieldExists(t *testing.T, fields []zap.Field, key, expected string) {
	t.Helper()
	for _, f := range fields {
		if f.Key == key {
			assert.Equal(t, expected, f.String)
			return
		}
	}
	t.Errorf("field %q not found in %+v", key, fields)
}

func assertBoolFieldExists(t *testing.T, fields []zap.Field, key string, expected bool) {
	t.Helper()
	for _, f := range fields {
		if f.Key == key {
			assert.Equal(t, expected, f.Integer == 1)
			return
		}
	}
	t.Errorf("field %q not found in %+v", key, fields)
}

func TestContextFields_Empty(t *testing.T) {
	fields := ContextFields(context.Background())
	assert.Empty(t, fields)
}

func TestContextFields_OTELTracing(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
	)
	tracer := provider.Tracer("test")

	ctx, span := tracer.Start(context.Background(), "test-operation")
	defer span.End()

	fields := ContextFields(ctx)

	var hasTraceID, hasSpanID bool
	for _, f := range fields {
		if f.Key == "trace_id" {
			hasTraceID = true
			assert.NotEmpty(t, f.String, "trace_id should not be empty")
		}
		if f.Key == "span_id" {
			hasSpanID = true
			assert.NotEmpty(t, f.String, "span_id should not be empty")
		}
	}
	assert.True(t, hasTraceID, "trace_id field missing from context fields")
	assert.True(t, hasSpanID, "span_id field missing from context fields")
}

func TestContextFields_OTELSampling(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := trace.NewTracerProvider(
		trace.WithSampler(trace.AlwaysSample()),
		trace.WithBatcher(exporter),
	)
	tracer := provider.Tracer("test")

	ctx, span := tracer.Start(context.Background(), "sampled-operation")
	defer span.End()

	fields := ContextFields(ctx)
	assertBoolFieldExists(t, fields, "trace_sampled", true)
}

func TestContextFields_PipelineIdentifiers(t *testing.T) {
	ctx := WithUnit(context.Background(), "fyrsmithlabs/widgets#42")
	ctx = WithRunID(ctx, "a1b2c3d4-e5f6-7890-abcd-ef1234567890")
	ctx = WithRequestID(ctx, "req_0042")

	fields := ContextFields(ctx)

	require.Len(t, fields, 3)
	assertFieldExists(t, fields, "unit", "fyrsmithlabs/widgets#42")
	assertFieldExists(t, fields, "run_id", "a1b2c3d4-e5f6-7890-abcd-ef1234567890")
	assertFieldExists(t, fields, "request_id", "req_0042")
}

func TestWithUnit_RoundTrip(t *testing.T) {
	ctx := WithUnit(context.Background(), "acme/api#7")
	assert.Equal(t, "acme/api#7", UnitFromContext(ctx))
}

func TestUnitFromContext_Missing(t *testing.T) {
	assert.Equal(t, "", UnitFromContext(context.Background()))
}

func TestWithUnit_PanicsOnInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"invalid utf8", string([]byte{0xff, 0xfe})},
		{"too long", strings.Repeat("a", maxUnitKeyLen+1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Panics(t, func() {
				WithUnit(context.Background(), tt.key)
			})
		})
	}
}

func TestWithRunID_RoundTrip(t *testing.T) {
	ctx := WithRunID(context.Background(), "run-123")
	assert.Equal(t, "run-123", RunIDFromContext(ctx))
}

func TestWithRunID_PanicsOnInvalid(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{"empty", ""},
		{"spaces", "run 123"},
		{"slash", "run/123"},
		{"too long", strings.Repeat("x", maxIDLen+1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Panics(t, func() {
				WithRunID(context.Background(), tt.id)
			})
		})
	}
}

func TestWithRequestID_RoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req_abc")
	assert.Equal(t, "req_abc", RequestIDFromContext(ctx))
}

func TestWithLogger_RoundTrip(t *testing.T) {
	logger := &Logger{zap: zap.NewNop(), config: NewDefaultConfig()}
	ctx := WithLogger(context.Background(), logger)

	assert.Same(t, logger, FromContext(ctx))
}

func TestFromContext_MissingReturnsNop(t *testing.T) {
	logger := FromContext(context.Background())

	require.NotNil(t, logger)
	assert.NotPanics(t, func() {
		logger.Info(context.Background(), "should go nowhere")
	})
}
