package cli

import (
	"context"
	"fmt"
	"io"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/c0deZ3R0/go-matrix-sync/config"
	"github.com/c0deZ3R0/go-matrix-sync/synckit"
)

// metricsReport collects the engine's metrics in process and prints the
// totals when the command exits.
type metricsReport struct {
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider
}

func newMetricsReport() *metricsReport {
	reader := sdkmetric.NewManualReader()
	return &metricsReport{
		reader:   reader,
		provider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	}
}

// engineOptions returns the options that route cfg's collector through
// the report, or nil when metrics are disabled.
func (m *metricsReport) engineOptions(cfg *config.Config) ([]synckit.Option, error) {
	collector, err := cfg.MetricsCollectorFor(m.provider)
	if err != nil || collector == nil {
		return nil, err
	}
	return []synckit.Option{synckit.WithMetricsCollector(collector)}, nil
}

// write prints one line per instrument and shuts the provider down.
func (m *metricsReport) write(ctx context.Context, w io.Writer) error {
	defer m.provider.Shutdown(ctx)

	var rm metricdata.ResourceMetrics
	if err := m.reader.Collect(ctx, &rm); err != nil {
		return fmt.Errorf("collect metrics: %w", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			switch data := metric.Data.(type) {
			case metricdata.Sum[int64]:
				var total int64
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
				fmt.Fprintf(w, "metric %s total=%d\n", metric.Name, total)
			case metricdata.Histogram[float64]:
				var count uint64
				var sum float64
				for _, dp := range data.DataPoints {
					count += dp.Count
					sum += dp.Sum
				}
				fmt.Fprintf(w, "metric %s count=%d sum=%g\n", metric.Name, count, sum)
			}
		}
	}
	return nil
}
