package logger

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name       string
		jsonOutput bool
	}{
		{name: "JSON output mode", jsonOutput: true},
		{name: "Console output mode", jsonOutput: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Logger = nil
			JSONOutput = false

			require.NoError(t, Initialize(tt.jsonOutput))
			require.NotNil(t, Logger)
			assert.Equal(t, tt.jsonOutput, JSONOutput)

			Logger = zap.NewNop().Sugar()
		})
	}
}

func TestInitializeFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		wantJSON bool
	}{
		{"production via FACTWIRE_ENV", map[string]string{"FACTWIRE_ENV": "production"}, true},
		{"production via short name", map[string]string{"FACTWIRE_ENV": "prod"}, true},
		{"production via LOG_LEVEL", map[string]string{"LOG_LEVEL": "WARN"}, true},
		{"development by default", map[string]string{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Unsetenv("FACTWIRE_ENV")
			os.Unsetenv("LOG_LEVEL")
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			require.NoError(t, InitializeFromEnv())
			assert.Equal(t, tt.wantJSON, JSONOutput)

			Logger = zap.NewNop().Sugar()
		})
	}
}

func TestHelpersWriteToGlobalLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	Logger = zap.New(core).Sugar()
	t.Cleanup(func() { Logger = zap.NewNop().Sugar() })

	Infow("fact admitted", FieldFactID, "5f0c1d2e3a4b")
	Warnw("scorer fallback", FieldError, "timeout")
	Errorw("journal write failed")
	Debugw("dispatch")

	require.Equal(t, 4, logs.Len())
	assert.Equal(t, "fact admitted", logs.All()[0].Message)
	assert.Equal(t, "5f0c1d2e3a4b", logs.All()[0].ContextMap()[FieldFactID])
	assert.Equal(t, zapcore.WarnLevel, logs.All()[1].Level)
}

func TestFromContext(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core).Sugar()

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithProducer(ctx, "price-hunter")

	FromContext(ctx, base).Infow("submit")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields[FieldRequestID])
	assert.Equal(t, "price-hunter", fields[FieldProducer])
}

func TestFromContextWithoutFields(t *testing.T) {
	base := zap.NewNop().Sugar()
	assert.Same(t, base, FromContext(context.Background(), base))
}

func TestVerbosityToLevel(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, VerbosityToLevel(0))
	assert.Equal(t, zapcore.InfoLevel, VerbosityToLevel(1))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(2))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(7))
	assert.True(t, ShouldLogTrace(3))
	assert.False(t, ShouldLogTrace(2))
}

func TestFactFields(t *testing.T) {
	fields := FactFields("abc", "coverage", "ozempic:aetna_comm", "formulary_tier")
	assert.Equal(t, []interface{}{
		FieldFactID, "abc",
		FieldEntityType, "coverage",
		FieldEntityID, "ozempic:aetna_comm",
		FieldField, "formulary_tier",
	}, fields)
}

func TestInitializeStderr(t *testing.T) {
	t.Cleanup(func() { Logger = zap.NewNop().Sugar() })
	require.NoError(t, InitializeStderr(zapcore.WarnLevel))
	assert.False(t, JSONOutput)
	assert.False(t, Logger.Desugar().Core().Enabled(zapcore.InfoLevel))
	assert.True(t, Logger.Desugar().Core().Enabled(zapcore.WarnLevel))
}
