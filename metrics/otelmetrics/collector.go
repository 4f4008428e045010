// Package otelmetrics reports sync engine metrics through OpenTelemetry.
package otelmetrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/c0deZ3R0/go-matrix-sync/synckit"
)

// DefaultMeterName is the instrumentation scope used when no meter is given.
const DefaultMeterName = "github.com/c0deZ3R0/go-matrix-sync"

// Collector implements synckit.MetricsCollector with OpenTelemetry
// instruments.
type Collector struct {
	cycleDuration metric.Float64Histogram
	cycleEvents   metric.Int64Counter
	cycles        metric.Int64Counter
	cycleErrors   metric.Int64Counter
	retries       metric.Int64Counter
	retryDelay    metric.Float64Histogram
}

var _ synckit.MetricsCollector = (*Collector)(nil)

// New creates a Collector on the global meter provider.
func New() (*Collector, error) {
	return NewWithMeter(otel.Meter(DefaultMeterName))
}

// NewWithMeter creates a Collector on meter.
func NewWithMeter(meter metric.Meter) (*Collector, error) {
	cycleDuration, err := meter.Float64Histogram("matrix_sync_cycle_duration_seconds",
		metric.WithDescription("Duration of successful sync cycles"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create cycle_duration histogram: %w", err)
	}

	cycleEvents, err := meter.Int64Counter("matrix_sync_events_total",
		metric.WithDescription("Total number of events dispatched"))
	if err != nil {
		return nil, fmt.Errorf("failed to create events counter: %w", err)
	}

	cycles, err := meter.Int64Counter("matrix_sync_cycles_total",
		metric.WithDescription("Total number of successful sync cycles"))
	if err != nil {
		return nil, fmt.Errorf("failed to create cycles counter: %w", err)
	}

	cycleErrors, err := meter.Int64Counter("matrix_sync_errors_total",
		metric.WithDescription("Total number of failed sync cycles by error kind"))
	if err != nil {
		return nil, fmt.Errorf("failed to create errors counter: %w", err)
	}

	retries, err := meter.Int64Counter("matrix_sync_retries_total",
		metric.WithDescription("Total number of scheduled retries"))
	if err != nil {
		return nil, fmt.Errorf("failed to create retries counter: %w", err)
	}

	retryDelay, err := meter.Float64Histogram("matrix_sync_retry_delay_seconds",
		metric.WithDescription("Delay before each retry"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create retry_delay histogram: %w", err)
	}

	return &Collector{
		cycleDuration: cycleDuration,
		cycleEvents:   cycleEvents,
		cycles:        cycles,
		cycleErrors:   cycleErrors,
		retries:       retries,
		retryDelay:    retryDelay,
	}, nil
}

func trackAttr(track string) attribute.KeyValue {
	return attribute.String("track", track)
}

// RecordSyncDuration records a successful cycle.
func (c *Collector) RecordSyncDuration(track string, duration time.Duration) {
	ctx := context.Background()
	opt := metric.WithAttributes(trackAttr(track))
	c.cycleDuration.Record(ctx, duration.Seconds(), opt)
	c.cycles.Add(ctx, 1, opt)
}

func (c *Collector) RecordSyncEvents(track string, events int) {
	c.cycleEvents.Add(context.Background(), int64(events), metric.WithAttributes(trackAttr(track)))
}

func (c *Collector) RecordSyncErrors(track string, kind string) {
	c.cycleErrors.Add(context.Background(), 1, metric.WithAttributes(
		trackAttr(track),
		attribute.String("kind", kind)))
}

// RecordRetry counts a retry and its delay. attempt is not recorded.
func (c *Collector) RecordRetry(track string, attempt int, delay time.Duration) {
	ctx := context.Background()
	opt := metric.WithAttributes(trackAttr(track))
	c.retries.Add(ctx, 1, opt)
	c.retryDelay.Record(ctx, delay.Seconds(), opt)
}
