package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestForExecutionAddsFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := ForExecution(NewFromZap(zap.New(core)), "wf-1", "exec-1")

	log.Info("Execution started", "nodes", 3)

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "wf-1", fields["workflowId"])
	assert.Equal(t, "exec-1", fields["executionId"])
	assert.Equal(t, int64(3), fields["nodes"])
}

func TestLevels(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := NewFromZap(zap.New(core))

	log.Debug("hidden")
	log.Info("info")
	log.Warn("warn")
	log.Error("error")

	assert.Equal(t, 0, logs.FilterMessage("hidden").Len())
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len())
	assert.Equal(t, 3, logs.Len())
}

func TestNewFallsBackToInfo(t *testing.T) {
	log := New(Config{Level: "nonsense", Format: "console", Output: "stderr"})
	require.NotNil(t, log)
	NewNop().Info("discarded")
}
