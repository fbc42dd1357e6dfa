package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger_JSONAndConsole(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger, err := NewLogger(LogConfig{Level: "debug", Format: format})
		require.NoError(t, err)
		require.NotNil(t, logger)
		logger.Info("test message")
	}
}

func TestNewLogger_InvalidLevelFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger(LogConfig{Level: "not-a-level", Format: "json"})
	require.NoError(t, err)
	require.NotNil(t, logger)
	require.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	require.False(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestMetricsServer_ServeAndShutdown(t *testing.T) {
	logger, _ := NewLogger(LogConfig{Level: "info", Format: "json"})
	srv := NewMetricsServer("127.0.0.1:0", logger)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("metrics server did not shut down in time")
	}
}
