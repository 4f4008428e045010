package config

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/c0deZ3R0/go-matrix-sync/cursor"
	"github.com/c0deZ3R0/go-matrix-sync/metrics/otelmetrics"
	"github.com/c0deZ3R0/go-matrix-sync/storage/postgres"
	"github.com/c0deZ3R0/go-matrix-sync/storage/sqlite"
	"github.com/c0deZ3R0/go-matrix-sync/synckit"
	"github.com/c0deZ3R0/go-matrix-sync/synckit/types"
	"github.com/c0deZ3R0/go-matrix-sync/transport/httptransport"
)

// NewTransport builds the homeserver transport.
func (c *Config) NewTransport(logger *slog.Logger) (*httptransport.Transport, error) {
	h := c.Homeserver
	opts := []httptransport.Option{
		httptransport.WithLogger(logger),
		httptransport.WithCompression(h.Compression),
	}
	if h.AccessToken != "" {
		opts = append(opts, httptransport.WithAccessToken(h.AccessToken))
	}
	if h.UserAgent != "" {
		opts = append(opts, httptransport.WithUserAgent(h.UserAgent))
	}
	if h.MaxResponseSize > 0 {
		opts = append(opts, httptransport.WithMaxResponseSize(h.MaxResponseSize))
	}
	if h.MaxDecompressedResponseSize > 0 {
		opts = append(opts, httptransport.WithMaxDecompressedResponseSize(h.MaxDecompressedResponseSize))
	}
	return httptransport.NewTransport(h.URL, opts...)
}

// OpenStore opens the configured cursor store. The caller owns it; an
// engine built with it closes it on Engine.Close.
func (c *Config) OpenStore(logger *slog.Logger) (cursor.KeyedStore, error) {
	switch c.Store.Driver {
	case DriverMemory, "":
		return cursor.NewMemoryStore(), nil
	case DriverSQLite:
		cfg := sqlite.DefaultConfig(c.Store.DSN)
		if c.Store.Table != "" {
			cfg.TableName = c.Store.Table
		}
		cfg.Logger = logger
		store, err := sqlite.New(cfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverPostgres:
		cfg := postgres.DefaultConfig(c.Store.DSN)
		if c.Store.Table != "" {
			cfg.TableName = c.Store.Table
		}
		cfg.Logger = logger
		store, err := postgres.New(cfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
}

// Backoff returns the configured retry policy.
func (c *Config) Backoff() synckit.Backoff {
	b := c.Sync.Backoff
	eb := synckit.NewExponentialBackoff(b.Initial.D(), b.Max.D(), b.Multiplier)
	eb.Jitter = b.Jitter
	return eb
}

// MetricsCollector returns a collector on the global meter provider when
// metrics are enabled, or nil. The global provider discards everything
// until the application installs one with otel.SetMeterProvider; use
// MetricsCollectorFor to report through a specific provider instead.
func (c *Config) MetricsCollector() (synckit.MetricsCollector, error) {
	return c.MetricsCollectorFor(otel.GetMeterProvider())
}

// MetricsCollectorFor returns a collector on provider when metrics are
// enabled, or nil.
func (c *Config) MetricsCollectorFor(provider metric.MeterProvider) (synckit.MetricsCollector, error) {
	if !c.Metrics.Enabled || provider == nil {
		return nil, nil
	}
	name := c.Metrics.MeterName
	if name == "" {
		name = otelmetrics.DefaultMeterName
	}
	collector, err := otelmetrics.NewWithMeter(provider.Meter(name))
	if err != nil {
		return nil, err
	}
	return collector, nil
}

// EngineOptions translates the sync settings into engine options. The
// transport and store are supplied separately.
func (c *Config) EngineOptions(logger *slog.Logger) ([]synckit.Option, error) {
	s := c.Sync
	opts := []synckit.Option{
		synckit.WithLogger(logger),
		synckit.WithTimeout(s.Timeout.D()),
		synckit.WithRequestGrace(s.RequestGrace.D()),
		synckit.WithPresence(types.Presence(s.Presence)),
		synckit.WithFilter(s.Filter),
		synckit.WithOnceFilter(s.OnceFilter),
		synckit.WithFullStateOnInitialSync(s.FullStateOnInitialSync),
		synckit.WithTrackNamespace(s.Namespace),
		synckit.WithBackoff(c.Backoff()),
		synckit.WithDispatcher(synckit.NewDispatcher(
			synckit.WithDispatcherLogger(logger),
			synckit.WithHandlerTimeout(s.HandlerTimeout.D()),
		)),
	}

	collector, err := c.MetricsCollector()
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics collector: %w", err)
	}
	if collector != nil {
		opts = append(opts, synckit.WithMetricsCollector(collector))
	}
	return opts, nil
}

// NewEngine builds the transport, store and engine described by c. extra
// options are applied last.
func (c *Config) NewEngine(logger *slog.Logger, extra ...synckit.Option) (*synckit.Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	transport, err := c.NewTransport(logger)
	if err != nil {
		return nil, err
	}

	opts, err := c.EngineOptions(logger)
	if err != nil {
		return nil, err
	}

	store, err := c.OpenStore(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open cursor store: %w", err)
	}

	opts = append(opts, synckit.WithTransport(transport), synckit.WithCursorStore(store))
	opts = append(opts, extra...)

	engine, err := synckit.New(opts...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return engine, nil
}

// TrackName returns the cursor key of a track under the configured
// namespace.
func (c *Config) TrackName(track string) string {
	if c.Sync.Namespace == "" {
		return track
	}
	return c.Sync.Namespace + "/" + track
}
