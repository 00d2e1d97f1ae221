package app

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogLevelFromConfig(t *testing.T) {
	require.Equal(t, slog.LevelInfo, logLevel(nil))
	require.Equal(t, slog.LevelDebug, logLevel(&Config{LogLevel: "debug"}))
	require.Equal(t, slog.LevelWarn, logLevel(&Config{LogLevel: "WARN"}))
	require.Equal(t, slog.LevelError, logLevel(&Config{LogLevel: "error"}))
	require.Equal(t, slog.LevelInfo, logLevel(&Config{LogLevel: "verbose"}))
}

func TestNewLoggerHonorsLevel(t *testing.T) {
	logger := NewLogger(&Config{LogFormat: "json", LogLevel: "warn"})
	require.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	require.True(t, logger.Enabled(context.Background(), slog.LevelWarn))
}
