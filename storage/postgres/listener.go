package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	stdSync "sync"
	"sync/atomic"
	"time"

	"github.com/lib/pq"

	"github.com/c0deZ3R0/go-matrix-sync/logging"
)

// UpdateHandler is called for every token update received.
type UpdateHandler func(update TokenUpdate) error

// TokenListener follows token updates announced by Store.Set over
// PostgreSQL LISTEN/NOTIFY.
type TokenListener struct {
	connectionString string
	channel          string
	logger           *slog.Logger

	listener *pq.Listener
	closed   int32 // atomic

	mu       stdSync.RWMutex
	handlers []handlerEntry
	nextID   int

	reconnectInterval time.Duration
	pingInterval      time.Duration

	done chan struct{}
}

type handlerEntry struct {
	id    int
	track string
	fn    UpdateHandler
}

// ListenerOption configures a TokenListener.
type ListenerOption func(*TokenListener)

// WithListenerLogger sets the listener's logger.
func WithListenerLogger(l *slog.Logger) ListenerOption {
	return func(nl *TokenListener) {
		if l != nil {
			nl.logger = l
		}
	}
}

// WithReconnectInterval sets the minimum delay between reconnection attempts.
func WithReconnectInterval(d time.Duration) ListenerOption {
	return func(nl *TokenListener) {
		if d > 0 {
			nl.reconnectInterval = d
		}
	}
}

// WithPingInterval sets how long the listener waits for a notification
// before pinging the server to check the connection.
func WithPingInterval(d time.Duration) ListenerOption {
	return func(nl *TokenListener) {
		if d > 0 {
			nl.pingInterval = d
		}
	}
}

// NewTokenListener creates a listener on channel. Call Start to begin
// receiving notifications.
func NewTokenListener(connectionString, channel string, opts ...ListenerOption) (*TokenListener, error) {
	if connectionString == "" {
		return nil, fmt.Errorf("connection string cannot be empty")
	}
	if !identifierPattern.MatchString(channel) {
		return nil, fmt.Errorf("invalid notify channel %q", channel)
	}

	nl := &TokenListener{
		connectionString:  connectionString,
		channel:           channel,
		logger:            logging.WithComponent(logging.Component(component)).Logger,
		reconnectInterval: 5 * time.Second,
		pingInterval:      90 * time.Second,
		done:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(nl)
	}
	nl.logger = nl.logger.With(slog.String("channel", channel))

	nl.listener = pq.NewListener(
		connectionString,
		nl.reconnectInterval,
		4*nl.reconnectInterval,
		nl.eventCallback,
	)
	return nl, nil
}

// eventCallback handles pq.Listener events
func (nl *TokenListener) eventCallback(event pq.ListenerEventType, err error) {
	switch event {
	case pq.ListenerEventConnected:
		nl.logger.Info("Connected to PostgreSQL for LISTEN/NOTIFY")
	case pq.ListenerEventDisconnected:
		nl.logger.Warn("Disconnected from PostgreSQL", slog.Any("error", err))
	case pq.ListenerEventReconnected:
		// pq re-issues LISTEN for every channel after reconnecting;
		// updates sent while disconnected are lost.
		nl.logger.Info("Reconnected to PostgreSQL")
	case pq.ListenerEventConnectionAttemptFailed:
		nl.logger.Warn("Connection attempt failed", slog.Any("error", err))
	}
}

// Subscribe registers fn for updates of the named track. An empty track
// receives every update. The returned function removes the handler.
func (nl *TokenListener) Subscribe(track string, fn UpdateHandler) func() {
	nl.mu.Lock()
	defer nl.mu.Unlock()
	nl.nextID++
	id := nl.nextID
	nl.handlers = append(nl.handlers, handlerEntry{id: id, track: track, fn: fn})
	return func() {
		nl.mu.Lock()
		defer nl.mu.Unlock()
		for i, h := range nl.handlers {
			if h.id == id {
				nl.handlers = append(nl.handlers[:i:i], nl.handlers[i+1:]...)
				return
			}
		}
	}
}

// Start issues LISTEN and processes notifications until ctx is done or
// Close is called.
func (nl *TokenListener) Start(ctx context.Context) error {
	if atomic.LoadInt32(&nl.closed) == 1 {
		return fmt.Errorf("listener is closed")
	}
	if err := nl.listener.Listen(nl.channel); err != nil {
		return fmt.Errorf("failed to listen to channel %s: %w", nl.channel, err)
	}
	go nl.listenLoop(ctx)
	return nil
}

// listenLoop is the main loop that processes notifications
func (nl *TokenListener) listenLoop(ctx context.Context) {
	defer nl.logger.Info("Token listener stopped")

	ticker := time.NewTicker(nl.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-nl.done:
			return
		case n, ok := <-nl.listener.Notify:
			if !ok {
				return
			}
			// pq sends nil after a reconnect.
			if n != nil {
				nl.handleNotification(n.Extra)
			}
		case <-ticker.C:
			go func() {
				if err := nl.listener.Ping(); err != nil {
					nl.logger.Warn("Ping failed", slog.Any("error", err))
				}
			}()
		}
	}
}

func (nl *TokenListener) handleNotification(payload string) {
	update, err := decodeUpdate(payload)
	if err != nil {
		nl.logger.Warn("Ignoring malformed notification", slog.Any("error", err))
		return
	}

	nl.mu.RLock()
	handlers := make([]handlerEntry, len(nl.handlers))
	copy(handlers, nl.handlers)
	nl.mu.RUnlock()

	for _, h := range handlers {
		if h.track != "" && h.track != update.Track {
			continue
		}
		if err := h.fn(update); err != nil {
			nl.logger.Warn("Token update handler failed",
				slog.String("track", update.Track),
				slog.Any("error", err))
		}
	}
}

func decodeUpdate(payload string) (TokenUpdate, error) {
	var update TokenUpdate
	if err := json.Unmarshal([]byte(payload), &update); err != nil {
		return TokenUpdate{}, fmt.Errorf("failed to parse notification payload: %w", err)
	}
	if update.Track == "" || update.Token.IsZero() {
		return TokenUpdate{}, fmt.Errorf("notification payload missing track or token")
	}
	return update, nil
}

// Close stops the listener and closes its connection.
func (nl *TokenListener) Close() error {
	if !atomic.CompareAndSwapInt32(&nl.closed, 0, 1) {
		return nil
	}
	close(nl.done)
	return nl.listener.Close()
}
