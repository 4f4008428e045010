// Package cursor holds the batch token that marks how far a sync track has
// been processed, and the stores that persist it.
package cursor

import (
	"context"
	"fmt"
	"sync"
)

// Token is an opaque server-issued position marker ("next_batch").
// Tokens are only compared for equality; the empty Token means "none".
type Token string

// IsZero reports whether t is the empty token.
func (t Token) IsZero() bool { return t == "" }

func (t Token) String() string { return string(t) }

// Store is a durable single-value store for the last processed token.
type Store interface {
	// Get returns the stored token. ok is false when nothing was stored yet.
	Get(ctx context.Context) (tok Token, ok bool, err error)

	// Set replaces the stored token.
	Set(ctx context.Context, tok Token) error
}

// KeyedStore persists one token per named track.
type KeyedStore interface {
	// Track returns the Store for the named track.
	Track(name string) Store

	// Close releases the backing resources.
	Close() error
}

// Inspector is implemented by keyed stores that can enumerate and reset
// their tracks.
type Inspector interface {
	// List returns every stored token keyed by track name.
	List(ctx context.Context) (map[string]Token, error)

	// Reset forgets the token of the named track. The next sync on that
	// track starts from scratch.
	Reset(ctx context.Context, name string) error
}

// MemoryStore is a KeyedStore kept in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]Token
}

// Compile-time checks
var (
	_ KeyedStore = (*MemoryStore)(nil)
	_ Inspector  = (*MemoryStore)(nil)
	_ Store      = memoryTrack{}
)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]Token)}
}

// Track returns the Store for the named track.
func (m *MemoryStore) Track(name string) Store {
	return memoryTrack{store: m, name: name}
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// Snapshot returns a copy of all stored tokens.
func (m *MemoryStore) Snapshot() map[string]Token {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Token, len(m.tokens))
	for k, v := range m.tokens {
		out[k] = v
	}
	return out
}

// List returns every stored token.
func (m *MemoryStore) List(ctx context.Context) (map[string]Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.Snapshot(), nil
}

// Reset removes the token of the named track.
func (m *MemoryStore) Reset(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, name)
	return nil
}

type memoryTrack struct {
	store *MemoryStore
	name  string
}

func (t memoryTrack) Get(ctx context.Context) (Token, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	tok, ok := t.store.tokens[t.name]
	return tok, ok, nil
}

func (t memoryTrack) Set(ctx context.Context, tok Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if tok.IsZero() {
		return fmt.Errorf("refusing to store empty token for track %q", t.name)
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.tokens[t.name] = tok
	return nil
}
