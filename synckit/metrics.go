package synckit

import "time"

// MetricsCollector provides hooks for collecting sync cycle metrics
type MetricsCollector interface {
	// RecordSyncDuration records how long a successful cycle took
	RecordSyncDuration(track string, duration time.Duration)

	// RecordSyncEvents records the number of events dispatched by a cycle
	RecordSyncEvents(track string, events int)

	// RecordSyncErrors records failed cycles by error kind
	RecordSyncErrors(track string, kind string)

	// RecordRetry records a scheduled retry and its delay
	RecordRetry(track string, attempt int, delay time.Duration)
}

// NoOpMetricsCollector is a default implementation that does nothing
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RecordSyncDuration(track string, duration time.Duration)    {}
func (n *NoOpMetricsCollector) RecordSyncEvents(track string, events int)                  {}
func (n *NoOpMetricsCollector) RecordSyncErrors(track string, kind string)                 {}
func (n *NoOpMetricsCollector) RecordRetry(track string, attempt int, delay time.Duration) {}
