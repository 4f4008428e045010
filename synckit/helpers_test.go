package synckit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-matrix-sync/cursor"
	"github.com/c0deZ3R0/go-matrix-sync/logging"
	"github.com/c0deZ3R0/go-matrix-sync/synckit/types"
)

type step func(ctx context.Context, req types.SyncRequest) ([]byte, error)

// fakeTransport answers requests from a script. Requests beyond the script
// block until their context is done.
type fakeTransport struct {
	mu       sync.Mutex
	script   []step
	requests []types.SyncRequest
	times    []time.Time
}

func newFakeTransport(script ...step) *fakeTransport {
	return &fakeTransport{script: script}
}

func (f *fakeTransport) Sync(ctx context.Context, req types.SyncRequest) ([]byte, error) {
	f.mu.Lock()
	idx := len(f.requests)
	f.requests = append(f.requests, req)
	f.times = append(f.times, time.Now())
	var s step
	if idx < len(f.script) {
		s = f.script[idx]
	}
	f.mu.Unlock()

	if s == nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s(ctx, req)
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeTransport) request(i int) types.SyncRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i]
}

func (f *fakeTransport) issuedAt(i int) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.times[i]
}

func respond(body string) step {
	return func(context.Context, types.SyncRequest) ([]byte, error) {
		return []byte(body), nil
	}
}

func fail(err error) step {
	return func(context.Context, types.SyncRequest) ([]byte, error) {
		return nil, err
	}
}

// syncBody is a response with one timeline event whose ID is "$"+next.
func syncBody(next string) string {
	return `{"next_batch":"` + next + `","rooms":{"join":{"!r:x":{"timeline":{"events":[` +
		`{"type":"m.room.message","event_id":"$` + next + `","sender":"@u:x","content":{"body":"` + next + `"}}]}}}}}`
}

func newTestEngine(t *testing.T, tr Transport, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithTransport(tr),
		WithLogger(logging.Discard()),
		WithBackoff(ConstantBackoff(time.Millisecond)),
		WithTimeout(time.Second),
	}
	e, err := New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func waitRequests(t *testing.T, tr *fakeTransport, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return tr.count() >= n }, 2*time.Second, time.Millisecond,
		"expected at least %d requests", n)
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// flakyStore fails the first failSets writes.
type flakyStore struct {
	cursor.KeyedStore
	mu       sync.Mutex
	failSets int
}

func (f *flakyStore) Track(name string) cursor.Store {
	return &flakyTrack{Store: f.KeyedStore.Track(name), parent: f}
}

type flakyTrack struct {
	cursor.Store
	parent *flakyStore
}

func (t *flakyTrack) Set(ctx context.Context, tok cursor.Token) error {
	t.parent.mu.Lock()
	if t.parent.failSets > 0 {
		t.parent.failSets--
		t.parent.mu.Unlock()
		return errStoreUnavailable
	}
	t.parent.mu.Unlock()
	return t.Store.Set(ctx, tok)
}

type testError string

func (e testError) Error() string { return string(e) }

const errStoreUnavailable = testError("store unavailable")

// metricsRecorder captures retry metrics.
type metricsRecorder struct {
	NoOpMetricsCollector
	mu      sync.Mutex
	delays  []time.Duration
	errors  []string
	success int
}

func (m *metricsRecorder) RecordRetry(track string, attempt int, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays = append(m.delays, delay)
}

func (m *metricsRecorder) RecordSyncErrors(track string, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, track+":"+kind)
}

func (m *metricsRecorder) RecordSyncDuration(track string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.success++
}

func (m *metricsRecorder) snapshot() ([]time.Duration, []string, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.delays...), append([]string(nil), m.errors...), m.success
}
