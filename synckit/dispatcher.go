package synckit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	syncErrors "github.com/c0deZ3R0/go-matrix-sync/errors"
	"github.com/c0deZ3R0/go-matrix-sync/logging"
	"github.com/c0deZ3R0/go-matrix-sync/synckit/types"
)

// Subscription priorities. Lower values are served first for every event.
const (
	PriorityFirst   = -100
	PriorityDefault = 0
	PriorityLast    = 100
)

const (
	defaultBufferSize     = 256
	defaultHandlerTimeout = 30 * time.Second
)

// Handler processes one event inline during Publish.
type Handler func(ctx context.Context, ev types.Event) error

// Dispatcher fans a normalized event sequence out to subscriptions.
// It is safe for concurrent use; Subscribe and Unsubscribe may be called
// while a Publish is running.
type Dispatcher struct {
	mu     sync.RWMutex
	subs   []*Subscription
	seq    uint64
	closed bool

	// serializes Publish so cycles never interleave
	publishMu sync.Mutex

	logger         *slog.Logger
	handlerTimeout time.Duration
	bufferSize     int
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger used for handler failures.
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithHandlerTimeout bounds each inline handler call. Zero disables the bound.
func WithHandlerTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.handlerTimeout = t }
}

// WithDefaultBufferSize sets the lag threshold for new channel
// subscriptions; see WithBufferSize.
func WithDefaultBufferSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.bufferSize = n
		}
	}
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		logger:         logging.Discard(),
		handlerTimeout: defaultHandlerTimeout,
		bufferSize:     defaultBufferSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "dispatcher")
	return d
}

// Subscription is one registered consumer. It either runs a Handler inline
// or queues events for a reader of the channel returned by Events.
type Subscription struct {
	id       string
	priority int
	seq      uint64
	matcher  types.Matcher
	handler  Handler

	d    *Dispatcher
	once sync.Once
	done chan struct{}

	// channel subscriptions only
	ch     chan types.Event
	wake   chan struct{}
	exited chan struct{}
	lagAt  int

	mu         sync.Mutex
	queue      []types.Event
	held       bool // the pump holds an event it has not handed over yet
	lagging    bool
	idle       chan struct{}
	idleClosed bool
}

// SubscribeOption configures a single subscription.
type SubscribeOption func(*subscribeConfig)

type subscribeConfig struct {
	bufferSize int
}

// WithBufferSize sets the backlog at which a channel subscription is
// reported as lagging. The backlog itself is not capped.
func WithBufferSize(n int) SubscribeOption {
	return func(c *subscribeConfig) {
		if n > 0 {
			c.bufferSize = n
		}
	}
}

// Subscribe registers a channel subscription. Publish queues matching
// events on the subscription and a dedicated goroutine hands them to the
// reader of Subscription.Events in order. A reader that falls behind never
// holds up Publish or other subscriptions; events are never dropped. A nil
// filter matches everything.
func (d *Dispatcher) Subscribe(priority int, filter types.Matcher, opts ...SubscribeOption) *Subscription {
	cfg := subscribeConfig{bufferSize: d.bufferSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := d.newSubscription(priority, filter)
	s.ch = make(chan types.Event)
	s.wake = make(chan struct{}, 1)
	s.exited = make(chan struct{})
	s.lagAt = cfg.bufferSize
	s.idle = make(chan struct{})
	close(s.idle)
	s.idleClosed = true
	go s.pump()
	d.add(s)
	return s
}

// SubscribeFunc registers fn to run inline, in priority order, for every
// matching event. Errors and panics from fn are logged and do not affect
// other subscribers.
func (d *Dispatcher) SubscribeFunc(priority int, filter types.Matcher, fn Handler) *Subscription {
	s := d.newSubscription(priority, filter)
	s.handler = fn
	d.add(s)
	return s
}

// SubscribeContent registers fn for events whose content decodes into T.
// Events whose content does not decode are logged and skipped.
func SubscribeContent[T any](d *Dispatcher, priority int, filter types.Matcher, fn func(ctx context.Context, ev types.Event, content T) error) *Subscription {
	return d.SubscribeFunc(priority, filter, func(ctx context.Context, ev types.Event) error {
		var content T
		if err := json.Unmarshal(ev.Content, &content); err != nil {
			return fmt.Errorf("decode %s content: %w", ev.Type, err)
		}
		return fn(ctx, ev, content)
	})
}

func (d *Dispatcher) newSubscription(priority int, filter types.Matcher) *Subscription {
	if filter == nil {
		filter = types.Any
	}
	return &Subscription{
		id:       uuid.NewString(),
		priority: priority,
		matcher:  filter,
		d:        d,
		done:     make(chan struct{}),
	}
}

func (d *Dispatcher) add(s *Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		s.once.Do(s.shutdown)
		return
	}
	d.seq++
	s.seq = d.seq
	// Copy on write so in-flight publishes keep their snapshot.
	subs := make([]*Subscription, len(d.subs), len(d.subs)+1)
	copy(subs, d.subs)
	subs = append(subs, s)
	sort.SliceStable(subs, func(i, j int) bool {
		if subs[i].priority != subs[j].priority {
			return subs[i].priority < subs[j].priority
		}
		return subs[i].seq < subs[j].seq
	})
	d.subs = subs
	d.logger.Debug("Subscription added", "subscription_id", s.id, "priority", s.priority, "total_subscriptions", len(subs))
}

func (d *Dispatcher) remove(s *Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	subs := make([]*Subscription, 0, len(d.subs))
	for _, existing := range d.subs {
		if existing != s {
			subs = append(subs, existing)
		}
	}
	d.subs = subs
}

func (d *Dispatcher) snapshot() []*Subscription {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.subs
}

// Len returns the number of active subscriptions.
func (d *Dispatcher) Len() int {
	return len(d.snapshot())
}

// Publish delivers events to every matching subscription, visiting
// subscriptions in ascending priority order for each event. Inline handlers
// run before Publish moves on; channel subscriptions only have the event
// queued. Subscriptions added during the call are not served until the next
// Publish. It returns a KindCancelled error if ctx is done before all
// events were delivered.
func (d *Dispatcher) Publish(ctx context.Context, events []types.Event) error {
	d.publishMu.Lock()
	defer d.publishMu.Unlock()

	subs := d.snapshot()
	if len(subs) == 0 || len(events) == 0 {
		return nil
	}

	for i, ev := range events {
		if err := ctx.Err(); err != nil {
			return d.cancelled(err, i, len(events))
		}
		for _, s := range subs {
			if s.isDone() || !s.matcher.Matches(ev) {
				continue
			}
			if s.handler != nil {
				d.invoke(ctx, s, ev)
				continue
			}
			s.enqueue(ev)
		}
	}
	if err := ctx.Err(); err != nil {
		return d.cancelled(err, len(events), len(events))
	}
	return nil
}

func (d *Dispatcher) cancelled(err error, delivered, total int) error {
	d.logger.Debug("Publish interrupted", "delivered", delivered, "total", total)
	return syncErrors.E(syncErrors.OpDispatch, syncErrors.Component("dispatcher"), syncErrors.KindCancelled, err)
}

// invoke runs the inline handler of s and waits for it until it returns or
// its context ends. A handler still running at that point is left to
// finish on its own.
func (d *Dispatcher) invoke(ctx context.Context, s *Subscription, ev types.Event) {
	hctx := ctx
	if d.handlerTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, d.handlerTimeout)
		defer cancel()
	}

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("Subscriber panic recovered",
					"panic", r,
					"subscription_id", s.id,
					"event_type", ev.Type,
					"event_kind", ev.Kind.String())
			}
		}()
		if err := s.handler(hctx, ev); err != nil {
			d.logger.Warn("Subscriber failed to handle event",
				"subscription_id", s.id,
				"event_type", ev.Type,
				"event_kind", ev.Kind.String(),
				"room_id", ev.RoomID,
				"error", err)
		}
	}()

	select {
	case <-finished:
	case <-hctx.Done():
		d.logger.Warn("Subscriber did not return in time, continuing without it",
			"subscription_id", s.id,
			"event_type", ev.Type,
			"event_kind", ev.Kind.String(),
			"error", hctx.Err())
	}
}

// Flush waits until every channel subscription has handed all queued
// events to its reader.
func (d *Dispatcher) Flush(ctx context.Context) error {
	for _, s := range d.snapshot() {
		idle := s.idleSignal()
		if idle == nil {
			continue
		}
		select {
		case <-idle:
		case <-ctx.Done():
			return syncErrors.E(syncErrors.OpDispatch, syncErrors.Component("dispatcher"), syncErrors.KindCancelled, ctx.Err())
		}
	}
	return nil
}

// Close removes every subscription and closes their channels. Later
// subscriptions are closed immediately.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	subs := d.subs
	d.subs = nil
	d.closed = true
	d.mu.Unlock()

	for _, s := range subs {
		s.once.Do(s.shutdown)
	}
}

// ID returns the subscription's unique identifier.
func (s *Subscription) ID() string { return s.id }

// Priority returns the subscription's priority.
func (s *Subscription) Priority() int { return s.priority }

// Events returns the channel of a channel subscription, or nil for an inline
// handler. The channel is closed by Unsubscribe or Dispatcher.Close; events
// still queued at that point are discarded.
func (s *Subscription) Events() <-chan types.Event { return s.ch }

// Done is closed when the subscription is removed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Pending returns the number of queued events not yet read.
func (s *Subscription) Pending() int {
	if s.ch == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.queue)
	if s.held {
		n++
	}
	return n
}

// Unsubscribe removes the subscription. It is idempotent and safe to call
// from a handler, from the channel's reader or while Publish is running;
// no further events are delivered after it returns.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.shutdown()
		s.d.remove(s)
		s.d.logger.Debug("Subscription removed", "subscription_id", s.id)
	})
}

func (s *Subscription) shutdown() {
	close(s.done)
	if s.ch == nil {
		return
	}
	<-s.exited

	s.mu.Lock()
	s.queue = nil
	s.held = false
	s.settleLocked()
	s.mu.Unlock()
}

func (s *Subscription) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// enqueue appends ev to the backlog and wakes the pump.
func (s *Subscription) enqueue(ev types.Event) {
	s.mu.Lock()
	if s.isDone() {
		s.mu.Unlock()
		return
	}
	if s.idleClosed {
		s.idle = make(chan struct{})
		s.idleClosed = false
	}
	s.queue = append(s.queue, ev)
	backlog := len(s.queue)
	startedLagging := !s.lagging && backlog >= s.lagAt
	if startedLagging {
		s.lagging = true
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	if startedLagging {
		s.d.logger.Warn("Subscriber is lagging behind", "subscription_id", s.id, "backlog", backlog)
	}
}

// pump hands queued events to the reader one at a time until the
// subscription is removed. It owns and finally closes s.ch.
func (s *Subscription) pump() {
	defer close(s.exited)
	defer close(s.ch)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.queue[0]
		s.queue[0] = types.Event{}
		s.queue = s.queue[1:]
		s.held = true
		s.mu.Unlock()

		select {
		case s.ch <- ev:
		case <-s.done:
			return
		}

		s.mu.Lock()
		s.held = false
		if s.lagging && len(s.queue) < s.lagAt {
			s.lagging = false
		}
		s.settleLocked()
		s.mu.Unlock()
	}
}

// settleLocked signals idle once nothing is queued or held.
func (s *Subscription) settleLocked() {
	if len(s.queue) == 0 && !s.held && !s.idleClosed {
		close(s.idle)
		s.idleClosed = true
	}
}

// idleSignal returns a channel closed once the backlog is empty, or nil for
// an inline subscription.
func (s *Subscription) idleSignal() <-chan struct{} {
	if s.ch == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idle
}
