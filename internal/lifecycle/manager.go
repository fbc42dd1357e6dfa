// Package lifecycle implements the running phase and graceful shutdown
// (spec §4.5): given an already opened store and a registered agent name,
// it starts the heartbeat and begins accepting tool calls; on shutdown it
// stops the ticker, marks the agent offline, and closes the store.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentmaild/agentmaild/internal/identity"
	"github.com/agentmaild/agentmaild/internal/store"
)

// ServeFunc runs the transport's accept loop until ctx is cancelled. It is
// supplied by the caller (cmd/agentmaild) so lifecycle stays transport-
// agnostic.
type ServeFunc func(ctx context.Context) error

// Manager owns the process-wide state named in spec §5: store handle,
// agent name, machine id, and shutdown flag. Its heartbeat ticker and the
// transport's serve loop share one errgroup.Group and context, so a store
// failure surfaces instead of being silently swallowed.
type Manager struct {
	store    store.Store
	resolver *identity.Resolver
	self     string
	serve    ServeFunc
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// New constructs a Manager. self must already be the collision-resolved
// agent name from identity.Resolver.Register.
func New(s store.Store, resolver *identity.Resolver, self string, serve ServeFunc, logger *zap.Logger) *Manager {
	return &Manager{
		store:    s,
		resolver: resolver,
		self:     self,
		serve:    serve,
		logger:   logger.With(zap.String("component", "lifecycle")),
	}
}

// Start launches the heartbeat ticker and the serve loop under a shared
// errgroup, returning immediately; call WaitForShutdown to block.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return fmt.Errorf("lifecycle manager already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	m.logger.Info("agentmaild starting", zap.String("self", m.self))

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return m.heartbeatLoop(gctx) })
	g.Go(func() error { return m.serve(gctx) })

	go func() {
		err := g.Wait()
		if err != nil && gctx.Err() == nil {
			m.logger.Error("background task failed", zap.Error(err))
		}
		close(m.done)
	}()

	return nil
}

func (m *Manager) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(identity.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.resolver.Heartbeat(ctx, m.self); err != nil {
				m.logger.Warn("heartbeat failed", zap.Error(err))
			}
		}
	}
}

// Shutdown performs the graceful sequence: stop the ticker (via context
// cancellation), write a final last_seen, then close the store.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cancel := m.cancel
	m.mu.Unlock()

	m.logger.Info("agentmaild shutting down")
	if cancel != nil {
		cancel()
	}

	if err := m.resolver.MarkOffline(ctx, m.self); err != nil {
		m.logger.Warn("mark offline failed", zap.Error(err))
	}

	if err := m.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	m.logger.Info("agentmaild stopped")
	return nil
}

// WaitForShutdown blocks until SIGINT/SIGTERM or a background task exits,
// then runs the graceful shutdown sequence.
func (m *Manager) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		m.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-m.done:
		m.logger.Warn("background task exited before shutdown was requested")
	}

	if err := m.Shutdown(context.Background()); err != nil {
		m.logger.Error("shutdown error", zap.Error(err))
	}
}
