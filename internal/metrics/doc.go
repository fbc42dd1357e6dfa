// Package metrics provides the mailbox daemon's Prometheus metric
// families: tool-call counts/latency, message throughput, store query
// latency, and inbox/agent gauges. Internal package; not meant for
// external import.
package metrics
