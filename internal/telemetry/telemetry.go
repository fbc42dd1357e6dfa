// Package telemetry centralizes zap logger construction and the
// Prometheus HTTP exposition endpoint for the mailbox daemon. There is
// no distributed-tracing concern here: agentmaild is a single-process
// local daemon, so the teacher's OTel tracer/meter provider wiring has
// no span boundary to carry (see DESIGN.md).
package telemetry

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig controls logger construction. Format is "console" or "json";
// Level is one of zap's level names ("debug", "info", "warn", "error").
type LogConfig struct {
	Level  string
	Format string
}

// NewLogger builds a zap.Logger from cfg, matching the teacher's
// production-vs-dev encoder split: "json" uses zap's production encoder
// config, anything else falls back to a human-readable console encoder.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(os.Stdout)), level)
	return zap.New(core, zap.AddCaller()), nil
}

// MetricsServer exposes /metrics over HTTP for Prometheus scraping.
type MetricsServer struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewMetricsServer builds (but does not start) a /metrics HTTP server on addr.
func NewMetricsServer(addr string, logger *zap.Logger) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &MetricsServer{
		srv:    &http.Server{Addr: addr, Handler: mux},
		logger: logger.With(zap.String("component", "telemetry")),
	}
}

// Serve blocks until the server stops or ctx is cancelled.
func (m *MetricsServer) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- m.srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return m.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
