package synckit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/c0deZ3R0/go-matrix-sync/cursor"
	syncErrors "github.com/c0deZ3R0/go-matrix-sync/errors"
	"github.com/c0deZ3R0/go-matrix-sync/internal/observable"
	"github.com/c0deZ3R0/go-matrix-sync/logging"
	"github.com/c0deZ3R0/go-matrix-sync/synckit/codec"
	"github.com/c0deZ3R0/go-matrix-sync/synckit/types"
)

// Engine drives the continuous sync loop and one-shot syncs against a
// single homeserver. The loop and SyncOnce use independent tracks, each
// with its own filter and batch token.
type Engine struct {
	transport    Transport
	codec        Codec
	store        cursor.KeyedStore
	dispatcher   *Dispatcher
	backoff      Backoff
	logger       *slog.Logger
	metrics      MetricsCollector
	presence     types.Presence
	timeout      time.Duration
	requestGrace time.Duration
	fullState    bool

	loop *track
	once *track

	state   *observable.Value[State]
	onceSem *semaphore.Weighted

	mu        sync.Mutex
	run       *run
	closed    bool
	closing   chan struct{}
	observers []*cycleObserver
}

// track is one independent sync position.
type track struct {
	name   string
	filter string
	cursor *cursor.BatchTokenAdapter
}

// run is the lifetime of one loop goroutine.
type run struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   StartOptions

	stopCh   chan struct{}
	stopOnce sync.Once

	started   chan struct{}
	startOnce sync.Once

	done chan struct{}
}

func newRun(parent context.Context, opts StartOptions) *run {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	return &run{
		ctx:     ctx,
		cancel:  cancel,
		opts:    opts,
		stopCh:  make(chan struct{}),
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (r *run) requestStop() { r.stopOnce.Do(func() { close(r.stopCh) }) }
func (r *run) markStarted() { r.startOnce.Do(func() { close(r.started) }) }
func (r *run) stopping() bool {
	select {
	case <-r.stopCh:
		return true
	default:
		return r.ctx.Err() != nil
	}
}

// New creates an Engine. WithTransport is required.
func New(opts ...Option) (*Engine, error) {
	const op = "synckit.New"

	s := defaultSettings()
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, syncErrors.E(syncErrors.Op(op), syncErrors.Component("synckit"), syncErrors.KindInvalid, err)
		}
	}

	if s.transport == nil {
		return nil, syncErrors.E(
			syncErrors.Op(op),
			syncErrors.Component("synckit"),
			syncErrors.KindInvalid,
			errors.New("transport is required (use WithTransport(...))"),
		)
	}
	if s.codec == nil {
		s.codec = codec.New()
	}
	if s.store == nil {
		s.store = cursor.NewMemoryStore()
	}
	if s.backoff == nil {
		s.backoff = DefaultBackoff()
	}
	if s.logger == nil {
		s.logger = logging.Default().Logger
	}
	logger := s.logger.With("component", "engine")
	if s.dispatcher == nil {
		s.dispatcher = NewDispatcher(WithDispatcherLogger(s.logger))
	}

	e := &Engine{
		transport:    s.transport,
		codec:        s.codec,
		store:        s.store,
		dispatcher:   s.dispatcher,
		backoff:      s.backoff,
		logger:       logger,
		metrics:      s.metrics,
		presence:     s.presence,
		timeout:      s.timeout,
		requestGrace: s.requestGrace,
		fullState:    s.fullState,
		state:        observable.New(State{Phase: PhaseStopped}),
		onceSem:      semaphore.NewWeighted(1),
		closing:      make(chan struct{}),
	}
	e.loop = e.newTrack(s.trackName(TrackLoop), s.loopFilter)
	e.once = e.newTrack(s.trackName(TrackOnce), s.onceFilter)
	return e, nil
}

func (e *Engine) newTrack(name, filter string) *track {
	return &track{
		name:   name,
		filter: filter,
		cursor: cursor.NewBatchTokenAdapter(e.store.Track(name), e.logger.With("track", name)),
	}
}

// Start launches the continuous loop unless it is already running. It
// returns once the first request has been issued or the loop has entered
// Retrying. ctx bounds only that wait; the loop keeps running until Stop,
// Cancel or Close.
func (e *Engine) Start(ctx context.Context, opts StartOptions) error {
	if !opts.Presence.Valid() {
		return syncErrors.NewValidationError(syncErrors.OpStart, fmt.Errorf("invalid presence %q", opts.Presence))
	}
	if opts.Timeout < 0 {
		return syncErrors.NewValidationError(syncErrors.OpStart, errors.New("timeout must not be negative"))
	}

	for {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return closedError(syncErrors.OpStart)
		}
		prev := e.run
		if prev == nil {
			break
		}
		if !prev.stopping() {
			e.mu.Unlock()
			e.logger.Debug("Sync loop already running")
			return nil
		}
		e.mu.Unlock()

		// The previous loop is winding down; start fresh once it is gone.
		select {
		case <-prev.done:
		case <-ctx.Done():
			return syncErrors.NewCancelledError(syncErrors.OpStart, ctx.Err())
		}
	}

	r := newRun(ctx, opts)
	e.run = r
	e.state.Store(State{Phase: PhaseRunning, Initial: e.loop.cursor.Current().IsZero()})
	e.mu.Unlock()

	e.logger.Info("Starting sync loop",
		"presence", string(e.presenceFor(opts.Presence)),
		"timeout", e.timeoutFor(opts.Timeout))
	go e.runLoop(r)

	select {
	case <-r.started:
		return nil
	case <-r.done:
		return nil
	case <-ctx.Done():
		return syncErrors.NewCancelledError(syncErrors.OpStart, ctx.Err())
	}
}

// Stop lets the in-flight request and its dispatch complete, then halts the
// loop. It is a no-op when the loop is stopped. It returns a KindCancelled
// error if ctx ends before the loop has terminated.
func (e *Engine) Stop(ctx context.Context) error {
	r := e.beginStop()
	if r == nil {
		return nil
	}
	e.logger.Info("Stopping sync loop")
	return e.awaitStop(ctx, r, syncErrors.OpStop)
}

// Cancel aborts the in-flight request and any dispatch in progress, then
// halts the loop. The batch token of an interrupted cycle is not persisted.
func (e *Engine) Cancel(ctx context.Context) error {
	r := e.beginStop()
	if r == nil {
		return nil
	}
	e.logger.Info("Cancelling sync loop")
	r.cancel()
	return e.awaitStop(ctx, r, syncErrors.OpCancel)
}

func (e *Engine) beginStop() *run {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.run
	if r == nil {
		return nil
	}
	r.requestStop()
	st := e.state.Get()
	if st.Phase != PhaseStopped {
		st.Phase = PhaseStopping
		e.state.Store(st)
	}
	return r
}

func (e *Engine) awaitStop(ctx context.Context, r *run, op syncErrors.Operation) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return syncErrors.NewCancelledError(op, ctx.Err())
	}
}

// Close cancels the loop, closes the dispatcher's subscriptions and the
// cursor store. The engine cannot be restarted.
func (e *Engine) Close() error {
	e.logger.Info("Closing sync engine")
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.logger.Debug("Sync engine already closed")
		return nil
	}
	e.closed = true
	close(e.closing)
	r := e.run
	e.mu.Unlock()

	if r != nil {
		r.requestStop()
		r.cancel()
		<-r.done
	}
	e.dispatcher.Close()

	if err := e.store.Close(); err != nil {
		e.logger.Error("Error closing cursor store", "error", err)
		return syncErrors.NewWithComponent(syncErrors.OpClose, "store", err)
	}
	e.logger.Info("Sync engine closed successfully")
	return nil
}

// State returns the loop's current state.
func (e *Engine) State() State {
	return e.state.Get()
}

// WatchState streams the current state and every later change until ctx
// is done. Intermediate states may be skipped by slow readers.
func (e *Engine) WatchState(ctx context.Context) <-chan State {
	return e.state.Watch(ctx)
}

// WaitForState blocks until pred holds for the loop state.
func (e *Engine) WaitForState(ctx context.Context, pred func(State) bool) (State, error) {
	return e.state.WaitFor(ctx, pred)
}

// CurrentBatchToken returns the loop track's last persisted batch token.
func (e *Engine) CurrentBatchToken() cursor.Token {
	return e.loop.cursor.Current()
}

// WatchBatchToken streams the loop track's batch token as it advances.
func (e *Engine) WatchBatchToken(ctx context.Context) <-chan cursor.Token {
	return e.loop.cursor.Watch(ctx)
}

// LoadBatchToken reads the loop track's token from the store if it has not
// been read yet.
func (e *Engine) LoadBatchToken(ctx context.Context) (cursor.Token, error) {
	return e.loop.cursor.Load(ctx)
}

// Dispatcher returns the engine's event dispatcher.
func (e *Engine) Dispatcher() *Dispatcher {
	return e.dispatcher
}

// Subscribe registers a channel subscription on the engine's dispatcher.
func (e *Engine) Subscribe(priority int, filter types.Matcher, opts ...SubscribeOption) *Subscription {
	return e.dispatcher.Subscribe(priority, filter, opts...)
}

// SubscribeFunc registers an inline handler on the engine's dispatcher.
func (e *Engine) SubscribeFunc(priority int, filter types.Matcher, fn Handler) *Subscription {
	return e.dispatcher.SubscribeFunc(priority, filter, fn)
}

// OnCycle registers fn to be called after every successful cycle of either
// track. Each observer has its own goroutine and sees results in the order
// the cycles completed.
func (e *Engine) OnCycle(fn func(CycleResult)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		err := closedError(syncErrors.OpSync)
		e.logger.Error("Cannot subscribe: engine is closed", "error", err)
		return err
	}
	o := newCycleObserver(fn, e.logger, e.closing)
	go o.run()
	e.observers = append(e.observers, o)
	e.logger.Debug("New cycle observer added", "total_observers", len(e.observers))
	return nil
}

func (e *Engine) notifyObservers(result CycleResult) {
	e.mu.Lock()
	observers := e.observers
	e.mu.Unlock()

	for _, o := range observers {
		o.push(result)
	}
}

// SyncOnce runs exactly one cycle on the one-shot track and passes it to
// handler. The one-shot batch token advances only when handler succeeds.
// Concurrent calls are serialized. All failures are returned to the caller.
func (e *Engine) SyncOnce(ctx context.Context, opts OnceOptions, handler func(ctx context.Context, c *Cycle) error) error {
	_, err := SyncOnceValue(ctx, e, opts, func(ctx context.Context, c *Cycle) (struct{}, error) {
		if handler == nil {
			return struct{}{}, nil
		}
		return struct{}{}, handler(ctx, c)
	})
	return err
}

// SyncOnceValue is SyncOnce for handlers that produce a value.
func SyncOnceValue[T any](ctx context.Context, e *Engine, opts OnceOptions, handler func(ctx context.Context, c *Cycle) (T, error)) (T, error) {
	var zero T
	if e.isClosed() {
		return zero, closedError(syncErrors.OpSyncOnce)
	}
	if !opts.Presence.Valid() {
		return zero, syncErrors.NewValidationError(syncErrors.OpSyncOnce, fmt.Errorf("invalid presence %q", opts.Presence))
	}

	if err := e.onceSem.Acquire(ctx, 1); err != nil {
		return zero, syncErrors.NewCancelledError(syncErrors.OpSyncOnce, err)
	}
	defer e.onceSem.Release(1)

	start := time.Now()
	logger := e.logger.With("track", e.once.name)

	since, err := e.once.cursor.Load(ctx)
	if err != nil {
		return zero, e.onceFailed(logger, err)
	}
	req := e.request(e.once, since, opts.Presence, opts.Timeout, opts.FullState)

	logger.Debug("Starting one-shot sync", "since", string(since))
	resp, events, err := e.execute(ctx, req, nil)
	if err != nil {
		return zero, e.onceFailed(logger, err)
	}

	if opts.Publish {
		if err := e.dispatcher.Publish(ctx, events); err != nil {
			return zero, e.onceFailed(logger, err)
		}
	}

	var val T
	if handler != nil {
		cycle := &Cycle{Request: req, Response: resp, Events: events}
		if val, err = handler(ctx, cycle); err != nil {
			return zero, e.onceFailed(logger, err)
		}
	}

	if err := e.once.cursor.Persist(ctx, resp.NextBatch); err != nil {
		return zero, e.onceFailed(logger, err)
	}

	result := CycleResult{
		Track:     e.once.name,
		Since:     since,
		NextBatch: resp.NextBatch,
		Events:    len(events),
		Attempts:  1,
		StartTime: start,
		Duration:  time.Since(start),
	}
	e.recordSuccess(result)
	logger.Debug("One-shot sync completed",
		"next_batch", string(resp.NextBatch),
		"events", len(events),
		"duration", result.Duration)
	e.notifyObservers(result)
	return val, nil
}

func (e *Engine) onceFailed(logger *slog.Logger, err error) error {
	err = syncErrors.E(syncErrors.OpSyncOnce, syncErrors.Component("engine"), err)
	e.metrics.RecordSyncErrors(e.once.name, kindLabel(err))
	logger.Debug("One-shot sync failed", "error", err)
	return err
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Engine) presenceFor(p types.Presence) types.Presence {
	if p != types.PresenceNone {
		return p
	}
	return e.presence
}

func (e *Engine) timeoutFor(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return e.timeout
}

// request builds the SyncRequest for one cycle of t.
func (e *Engine) request(t *track, since cursor.Token, presence types.Presence, timeout time.Duration, fullState bool) types.SyncRequest {
	return types.SyncRequest{
		Since:       since,
		Filter:      t.filter,
		FullState:   fullState,
		SetPresence: e.presenceFor(presence),
		Timeout:     e.timeoutFor(timeout),
	}
}

// execute sends req and decodes the response. onIssue runs just before the
// request goes out.
func (e *Engine) execute(ctx context.Context, req types.SyncRequest, onIssue func()) (*types.SyncResponse, []types.Event, error) {
	reqCtx, cancel := context.WithTimeout(ctx, req.Timeout+e.requestGrace)
	defer cancel()

	if onIssue != nil {
		onIssue()
	}
	body, err := e.transport.Sync(reqCtx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, syncErrors.E(syncErrors.OpSync, syncErrors.Component("engine"), syncErrors.KindCancelled, ctx.Err())
		}
		kind := syncErrors.KindOf(err)
		if kind == syncErrors.KindOther || kind == syncErrors.KindCancelled {
			kind = syncErrors.KindTransport
		}
		return nil, nil, syncErrors.E(syncErrors.OpTransport, syncErrors.Component("transport"), kind, err)
	}

	resp, err := e.codec.Decode(body)
	if err != nil {
		return nil, nil, syncErrors.E(syncErrors.OpDecode, syncErrors.Component("codec"), syncErrors.KindDecode, err)
	}
	return resp, Normalize(resp), nil
}

func (e *Engine) recordSuccess(result CycleResult) {
	e.metrics.RecordSyncDuration(result.Track, result.Duration)
	e.metrics.RecordSyncEvents(result.Track, result.Events)
}

func kindLabel(err error) string {
	if kind := syncErrors.KindOf(err); kind != syncErrors.KindOther {
		return string(kind)
	}
	return "other"
}

func closedError(op syncErrors.Operation) error {
	return syncErrors.E(op, syncErrors.Component("engine"), syncErrors.KindClosed, errors.New("sync engine is closed"))
}
