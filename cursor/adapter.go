package cursor

import (
	"context"
	"log/slog"
	"sync"

	syncErrors "github.com/c0deZ3R0/go-matrix-sync/errors"
	"github.com/c0deZ3R0/go-matrix-sync/internal/observable"
	"github.com/c0deZ3R0/go-matrix-sync/logging"
)

const (
	opAdapterLoad    = "cursor.Load"
	opAdapterPersist = "cursor.Persist"
)

// BatchTokenAdapter turns a Store into the persistence object used by the
// sync loop. It caches the last known token and exposes it as an observable
// cell. Only the owning loop calls Persist; any goroutine may read.
type BatchTokenAdapter struct {
	store  Store
	cell   *observable.Value[Token]
	logger *slog.Logger

	mu     sync.Mutex
	loaded bool
}

// NewBatchTokenAdapter wraps store. A nil logger discards log output.
func NewBatchTokenAdapter(store Store, logger *slog.Logger) *BatchTokenAdapter {
	if logger == nil {
		logger = logging.Discard()
	}
	return &BatchTokenAdapter{
		store:  store,
		cell:   observable.New[Token](""),
		logger: logger,
	}
}

// Load reads the durable token on first use and returns the cached one after.
// A failed first read is retried on the next call.
func (a *BatchTokenAdapter) Load(ctx context.Context) (Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.loaded {
		tok, ok, err := a.store.Get(ctx)
		if err != nil {
			return "", syncErrors.WrapOpComponentKind(err, opAdapterLoad, "cursor", syncErrors.KindStore)
		}
		a.loaded = true
		if ok {
			a.cell.Store(tok)
			a.logger.Debug("Loaded batch token", "token", string(tok))
		}
	}
	return a.cell.Get(), nil
}

// Persist writes tok durably, then publishes it to readers. The cached
// value is left untouched when the write fails.
func (a *BatchTokenAdapter) Persist(ctx context.Context, tok Token) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.store.Set(ctx, tok); err != nil {
		return syncErrors.WrapOpComponentKind(err, opAdapterPersist, "cursor", syncErrors.KindStore)
	}
	a.loaded = true
	a.cell.Store(tok)
	return nil
}

// Current returns the last known token without touching the store.
func (a *BatchTokenAdapter) Current() Token {
	return a.cell.Get()
}

// Changed returns a channel closed when the token next changes.
func (a *BatchTokenAdapter) Changed() <-chan struct{} {
	return a.cell.Changed()
}

// Watch streams the current token and every later one until ctx is done.
func (a *BatchTokenAdapter) Watch(ctx context.Context) <-chan Token {
	return a.cell.Watch(ctx)
}

// WaitFor blocks until the token differs from prev or ctx is done.
func (a *BatchTokenAdapter) WaitFor(ctx context.Context, prev Token) (Token, error) {
	return a.cell.WaitFor(ctx, func(t Token) bool { return t != prev })
}
