package logging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/gated/internal/config"
)

func TestNewSampledCore_Disabled(t *testing.T) {
	core, _ := observer.New(zapcore.InfoLevel)
	cfg := SamplingConfig{Enabled: false}

	sampled := newSampledCore(core, cfg)

	// Should return original core unchanged
	assert.Equal(t, core, sampled)
}

func TestNewSampledCore_ErrorsNeverSampled(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	cfg := SamplingConfig{
		Enabled:    true,
		Tick:       config.Duration(time.Second),
		Initial:    5,
		Thereafter: 0,
	}

	sampled := newSampledCore(core, cfg)
	logger := &Logger{
		zap:    zap.New(sampled),
		config: NewDefaultConfig(),
	}

	ctx := context.Background()

	for i := 0; i < 100; i++ {
		logger.Error(ctx, "error message")
	}

	logs := observed.FilterMessage("error message").All()
	assert.Equal(t, 100, len(logs), "all errors should be logged")
}

func TestNewSampledCore_InfoSampled(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	cfg := SamplingConfig{
		Enabled:    true,
		Tick:       config.Duration(time.Second),
		Initial:    5,
		Thereafter: 0,
	}

	sampled := newSampledCore(core, cfg)
	logger := &Logger{
		zap:    zap.New(sampled),
		config: NewDefaultConfig(),
	}

	ctx := context.Background()

	// Log 50 identical info messages rapidly, within one tick
	for i := 0; i < 50; i++ {
		logger.Info(ctx, "info message")
	}

	logs := observed.FilterMessage("info message").All()
	assert.LessOrEqual(t, len(logs), 7, "should sample info logs") // Allow some variance
	assert.GreaterOrEqual(t, len(logs), 3)
}

func TestSampling_ActualVolumeReduction(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	cfg := SamplingConfig{
		Enabled:    true,
		Tick:       config.Duration(time.Second),
		Initial:    5,
		Thereafter: 2,
	}

	sampled := newSampledCore(core, cfg)
	logger := &Logger{
		zap:    zap.New(sampled),
		config: NewDefaultConfig(),
	}

	ctx := context.Background()

	for i := 0; i < 100; i++ {
		logger.Info(ctx, "repeated message")
	}

	logged := observed.FilterMessage("repeated message").All()
	assert.Less(t, len(logged), 100, "sampling should reduce log volume")
	assert.Greater(t, len(logged), 5, "every Thereafter-th message still passes")
}

func TestLevelFilterCore_With(t *testing.T) {
	core, observed := observer.New(TraceLevel)

	filtered := &levelFilterCore{
		Core:     core,
		minLevel: zapcore.ErrorLevel,
	}

	logger := &Logger{
		zap:    zap.New(filtered),
		config: NewDefaultConfig(),
	}

	ctx := context.Background()

	// With() must preserve level filtering on the child
	child := logger.With(zap.String("component", "test"))

	child.Info(ctx, "info message")
	child.Warn(ctx, "warn message")
	child.Error(ctx, "error message")

	logs := observed.All()
	assert.Equal(t, 1, len(logs), "only error should pass through")
	assert.Equal(t, "error message", logs[0].Message)
	assert.Equal(t, zapcore.ErrorLevel, logs[0].Level)
	assert.Equal(t, "test", logs[0].ContextMap()["component"])
}

func TestLevelFilterCore_MaxLevel(t *testing.T) {
	core, observed := observer.New(TraceLevel)

	filtered := &levelFilterCore{
		Core:     core,
		maxLevel: zapcore.WarnLevel,
	}

	logger := &Logger{
		zap:    zap.New(filtered),
		config: NewDefaultConfig(),
	}

	ctx := context.Background()

	logger.Warn(ctx, "warn message")
	logger.Error(ctx, "error message")

	logs := observed.All()
	assert.Equal(t, 1, len(logs), "error should be filtered by maxLevel")
	assert.Equal(t, "warn message", logs[0].Message)
}
