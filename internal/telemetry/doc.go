// Package telemetry builds the zap logger and the Prometheus /metrics
// HTTP endpoint shared by the mailbox daemon's components.
package telemetry
