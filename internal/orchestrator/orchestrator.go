// Package orchestrator is the auxiliary summarizer spec.md calls out as
// an external collaborator: a second, independent consumer of the
// Store's read-only surface that proves the kernel/store boundary holds
// under more than one caller. It performs no mutations.
package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/agentmaild/agentmaild/internal/metrics"
	"github.com/agentmaild/agentmaild/internal/store"
)

// DefaultInterval is how often the summarizer logs a digest.
const DefaultInterval = 5 * time.Minute

// Summarizer periodically logs per-agent inbox stats for the agents active
// in the last hour. With a collector attached it also exports each such
// agent's inbox size and the registered-agent total as gauges; the agent
// total is not logged.
type Summarizer struct {
	store    store.Store
	interval time.Duration
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// New builds a Summarizer bound to s, ticking every interval (DefaultInterval
// if zero). m may be nil, in which case the digest is logged but not
// exported as gauges.
func New(s store.Store, interval time.Duration, m *metrics.Collector, logger *zap.Logger) *Summarizer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Summarizer{
		store:    s,
		interval: interval,
		metrics:  m,
		logger:   logger.With(zap.String("component", "orchestrator")),
	}
}

// Run blocks, logging a digest every interval, until ctx is cancelled.
func (s *Summarizer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.logDigest(ctx)
		}
	}
}

func (s *Summarizer) logDigest(ctx context.Context) {
	agents, err := s.store.ListAgents(ctx, time.Hour)
	if err != nil {
		s.logger.Warn("list active agents failed", zap.Error(err))
		return
	}

	for _, a := range agents {
		stats, err := s.store.GetStats(ctx, a.Name)
		if err != nil {
			s.logger.Warn("get stats failed", zap.String("agent", a.Name), zap.Error(err))
			continue
		}
		s.logger.Info("mailbox digest",
			zap.String("agent", a.Name),
			zap.Int("total_inbox", stats.TotalInbox),
			zap.Int("unread", stats.UnreadInbox),
		)
		if s.metrics != nil {
			s.metrics.SetInboxSize(a.Name, stats.TotalInbox)
			s.metrics.SetAgentsTotal(stats.AgentsTotal)
		}
	}
}
