package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger_ValidConfig(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig())
	require.NoError(t, err)
	assert.NotNil(t, logger.Underlying())
}

func TestNewLogger_InvalidFormat(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err := NewLogger(cfg)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"console format", func(c *Config) { c.Format = "console" }, false},
		{"bad format", func(c *Config) { c.Format = "yaml" }, true},
		{"negative skip", func(c *Config) { c.Caller.Skip = -1 }, true},
		{"empty field key", func(c *Config) { c.Fields = map[string]string{"": "x"} }, true},
		{"empty field value", func(c *Config) { c.Fields = map[string]string{"k": ""} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ContextFields(ctx))

	ctx = WithRunID(ctx, "run-1")
	ctx = WithTaskID(ctx, "task-1")
	ctx = WithPrincipal(ctx, "agent-1")

	fields := ContextFields(ctx)
	assert.ElementsMatch(t, []zap.Field{
		zap.String("run.id", "run-1"),
		zap.String("task.id", "task-1"),
		zap.String("principal", "agent-1"),
	}, fields)
}

func TestLogger_ContextFieldsEmitted(t *testing.T) {
	logger, logs := NewTestLogger()

	ctx := WithTaskID(context.Background(), "task-9")
	logger.Info(ctx, "dispatching")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "dispatching", entries[0].Message)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)

	fieldMap := entries[0].ContextMap()
	assert.Equal(t, "task-9", fieldMap["task.id"])
}

func TestFromContext_NopFallback(t *testing.T) {
	logger := FromContext(context.Background())
	require.NotNil(t, logger)
	// Must not panic.
	logger.Info(context.Background(), "noop")

	stored := NewNopLogger()
	ctx := WithLogger(context.Background(), stored)
	assert.Same(t, stored, FromContext(ctx))
}
