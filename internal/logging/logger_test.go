package logging

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// TestNewPresetLevels ensures each preset starts at its default level.
func TestNewPresetLevels(t *testing.T) {
	t.Parallel()

	dev, err := New(Config{Development: true})
	require.NoError(t, err)
	defer Sync(dev)
	if !dev.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug enabled in development, got disabled")
	}

	prod, err := New(Config{})
	require.NoError(t, err)
	defer Sync(prod)
	require.False(t, prod.Core().Enabled(zapcore.DebugLevel))
	require.True(t, prod.Core().Enabled(zapcore.InfoLevel))
}

// TestNewLevelOverride ensures an explicit level beats the preset.
func TestNewLevelOverride(t *testing.T) {
	t.Parallel()

	logger, err := New(Config{Development: true, Level: "warn"})
	require.NoError(t, err)
	defer Sync(logger)
	require.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	require.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	_, err = New(Config{Level: "chatty"})
	require.ErrorContains(t, err, "logging level")
}

// TestTerminalSyncErrors ensures fsync failures on a terminal are not reported.
func TestTerminalSyncErrors(t *testing.T) {
	t.Parallel()

	require.True(t, isTerminalSyncErr(syscall.EINVAL))
	require.True(t, isTerminalSyncErr(syscall.ENOTTY))
	require.False(t, isTerminalSyncErr(syscall.ENOSPC))
	Sync(nil)
}
