// Package metrics provides internal Prometheus metrics collection for the
// mailbox daemon. Internal package; not meant for external import.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds the mailbox daemon's Prometheus metric families.
type Collector struct {
	toolCallsTotal   *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec

	messagesSentTotal *prometheus.CounterVec
	messagesReadTotal *prometheus.CounterVec

	storeQueryDuration *prometheus.HistogramVec

	inboxSize   *prometheus.GaugeVec
	agentsTotal prometheus.Gauge

	logger *zap.Logger
}

// NewCollector registers the mailbox daemon's metric families under
// namespace (e.g. "agentmaild").
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.toolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of mailbox tool calls by method and outcome kind",
		},
		[]string{"method", "kind"},
	)

	c.toolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Mailbox tool call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	c.messagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Total number of messages sent, by priority",
		},
		[]string{"priority"},
	)

	c.messagesReadTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_read_total",
			Help:      "Total number of messages marked read",
		},
		[]string{},
	)

	c.storeQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_query_duration_seconds",
			Help:      "Store operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	c.inboxSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inbox_size",
			Help:      "Non-archived message count for an agent, last observed",
		},
		[]string{"agent"},
	)

	c.agentsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents_total",
			Help:      "Total number of registered agents, last observed",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordToolCall records the outcome of one dispatcher.Call.
func (c *Collector) RecordToolCall(method, kind string, duration time.Duration) {
	c.toolCallsTotal.WithLabelValues(method, kind).Inc()
	c.toolCallDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordMessageSent records a successful send_mail by priority.
func (c *Collector) RecordMessageSent(priority string) {
	c.messagesSentTotal.WithLabelValues(priority).Inc()
}

// RecordMessageRead records a read_message/mark_read transition.
func (c *Collector) RecordMessageRead(count int) {
	c.messagesReadTotal.WithLabelValues().Add(float64(count))
}

// RecordStoreQuery records one Store operation's duration.
func (c *Collector) RecordStoreQuery(operation string, duration time.Duration) {
	c.storeQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetInboxSize sets the last-observed non-archived message count for agent,
// mirroring get_mailbox_stats' TotalInbox so operators can see it on
// /metrics without a second query path.
func (c *Collector) SetInboxSize(agent string, size int) {
	c.inboxSize.WithLabelValues(agent).Set(float64(size))
}

// SetAgentsTotal sets the last-observed registered-agent count.
func (c *Collector) SetAgentsTotal(n int) {
	c.agentsTotal.Set(float64(n))
}
