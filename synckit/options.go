package synckit

import (
	"errors"
	"log/slog"
	"time"

	"github.com/c0deZ3R0/go-matrix-sync/cursor"
	syncErrors "github.com/c0deZ3R0/go-matrix-sync/errors"
	"github.com/c0deZ3R0/go-matrix-sync/synckit/types"
)

// Track names used as cursor store keys.
const (
	TrackLoop = "loop"
	TrackOnce = "once"
)

// Defaults for request timing.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultRequestGrace = 10 * time.Second
)

// Option is a functional option for configuring an Engine via New.
type Option func(*settings) error

type settings struct {
	transport    Transport
	codec        Codec
	store        cursor.KeyedStore
	dispatcher   *Dispatcher
	backoff      Backoff
	logger       *slog.Logger
	metrics      MetricsCollector
	loopFilter   string
	onceFilter   string
	namespace    string
	presence     types.Presence
	timeout      time.Duration
	requestGrace time.Duration
	fullState    bool
}

func defaultSettings() *settings {
	return &settings{
		timeout:      DefaultTimeout,
		requestGrace: DefaultRequestGrace,
		metrics:      &NoOpMetricsCollector{},
	}
}

func (s *settings) trackName(name string) string {
	if s.namespace == "" {
		return name
	}
	return s.namespace + "/" + name
}

// WithTransport sets the transport. Required.
func WithTransport(t Transport) Option {
	return func(s *settings) error {
		if t == nil {
			return errors.New("transport must not be nil")
		}
		s.transport = t
		return nil
	}
}

// WithCodec replaces the default JSON codec.
func WithCodec(c Codec) Option {
	return func(s *settings) error {
		if c == nil {
			return errors.New("codec must not be nil")
		}
		s.codec = c
		return nil
	}
}

// WithCursorStore sets the durable store for batch tokens. Without it
// tokens are kept in memory only.
func WithCursorStore(store cursor.KeyedStore) Option {
	return func(s *settings) error {
		if store == nil {
			return errors.New("cursor store must not be nil")
		}
		s.store = store
		return nil
	}
}

// WithTrackNamespace prefixes the cursor keys, so several engines can share
// one store.
func WithTrackNamespace(ns string) Option {
	return func(s *settings) error {
		s.namespace = ns
		return nil
	}
}

// WithDispatcher shares an existing dispatcher.
func WithDispatcher(d *Dispatcher) Option {
	return func(s *settings) error {
		if d == nil {
			return errors.New("dispatcher must not be nil")
		}
		s.dispatcher = d
		return nil
	}
}

// WithFilter sets the filter ID sent by the continuous loop.
func WithFilter(filterID string) Option {
	return func(s *settings) error {
		s.loopFilter = filterID
		return nil
	}
}

// WithOnceFilter sets the filter ID sent by SyncOnce.
func WithOnceFilter(filterID string) Option {
	return func(s *settings) error {
		s.onceFilter = filterID
		return nil
	}
}

// WithPresence sets the default set_presence value.
func WithPresence(p types.Presence) Option {
	return func(s *settings) error {
		if !p.Valid() {
			return syncErrors.NewValidationError(syncErrors.OpStart, errors.New("invalid presence "+string(p)))
		}
		s.presence = p
		return nil
	}
}

// WithTimeout sets the default long-poll timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) error {
		if d < 0 {
			return errors.New("timeout must not be negative")
		}
		s.timeout = d
		return nil
	}
}

// WithRequestGrace sets how long past the long-poll timeout a request may
// take before it is abandoned.
func WithRequestGrace(d time.Duration) Option {
	return func(s *settings) error {
		if d <= 0 {
			return errors.New("request grace must be positive")
		}
		s.requestGrace = d
		return nil
	}
}

// WithBackoff sets the retry policy of the continuous loop.
func WithBackoff(b Backoff) Option {
	return func(s *settings) error {
		if b == nil {
			return errors.New("backoff must not be nil")
		}
		s.backoff = b
		return nil
	}
}

// WithFullStateOnInitialSync requests full_state when the loop track has
// no batch token yet.
func WithFullStateOnInitialSync(enabled bool) Option {
	return func(s *settings) error {
		s.fullState = enabled
		return nil
	}
}

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) error {
		s.logger = l
		return nil
	}
}

// WithMetricsCollector sets the metrics collector.
func WithMetricsCollector(m MetricsCollector) Option {
	return func(s *settings) error {
		if m == nil {
			m = &NoOpMetricsCollector{}
		}
		s.metrics = m
		return nil
	}
}

// StartOptions configures the continuous loop.
type StartOptions struct {
	// Presence overrides the engine's default set_presence value.
	Presence types.Presence

	// Timeout overrides the engine's long-poll timeout when positive.
	Timeout time.Duration
}

// OnceOptions configures a single SyncOnce cycle.
type OnceOptions struct {
	Presence  types.Presence
	Timeout   time.Duration
	FullState bool

	// Publish also fans the events out to the engine's subscribers before
	// the handler runs.
	Publish bool
}
