package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// observedLogger builds a Logger over an in-memory core so tests can
// inspect exactly what was written.
func observedLogger(level zapcore.LevelEnabler) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return &Logger{SugaredLogger: zap.New(core).Sugar()}, logs
}

func TestNewLoggerLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		log, err := NewLogger(level, false)
		require.NoError(t, err, level)
		require.NotNil(t, log)
	}
}

func TestNewLoggerDevelopmentMode(t *testing.T) {
	log, err := NewLogger("debug", true)
	require.NoError(t, err)
	require.NotNil(t, log)
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger("loud", false)
	require.Error(t, err)
	require.Contains(t, err.Error(), "loud")
}

func TestWithComponentTagsEveryEntry(t *testing.T) {
	log, logs := observedLogger(zapcore.DebugLevel)
	tracker := log.WithComponent("chain-tracker")

	tracker.Infow("head advanced", "number", uint64(42))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "chain-tracker", fields["component"])
	require.Equal(t, uint64(42), fields["number"])
}

func TestWithComponentDoesNotMutateParent(t *testing.T) {
	log, logs := observedLogger(zapcore.DebugLevel)
	_ = log.WithComponent("segment-builder")

	log.Info("untagged")

	entries := logs.All()
	require.Len(t, entries, 1)
	_, tagged := entries[0].ContextMap()["component"]
	require.False(t, tagged)
}

func TestChildComponentsAreIndependent(t *testing.T) {
	log, logs := observedLogger(zapcore.DebugLevel)
	log.WithComponent("segment-builder").Info("flush")
	log.WithComponent("segment-group-builder").Info("manifest")

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, "segment-builder", entries[0].ContextMap()["component"])
	require.Equal(t, "segment-group-builder", entries[1].ContextMap()["component"])
}

func TestLevelGating(t *testing.T) {
	log, logs := observedLogger(zapcore.WarnLevel)
	log.Debug("dropped")
	log.Info("dropped")
	log.Warn("kept")
	log.Error("kept")

	require.Len(t, logs.All(), 2)
}

func TestNopLoggerDiscards(t *testing.T) {
	log := NewNopLogger()
	log.Info("nothing happens")
	log.WithComponent("meta-store").Errorw("still nothing", "key", "value")
	require.NoError(t, log.Close())
}
