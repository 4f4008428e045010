package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-matrix-sync/cursor"
	syncErrors "github.com/c0deZ3R0/go-matrix-sync/errors"
	"github.com/c0deZ3R0/go-matrix-sync/logging"
)

func setupTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cursors.db")
	cfg := DefaultConfig("file:" + path)
	cfg.Logger = logging.Discard()
	store, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := setupTestStore(t)

	loop := store.Track("loop")
	_, ok, err := loop.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, loop.Set(ctx, "s1"))
	require.NoError(t, loop.Set(ctx, "s2"))

	tok, ok, err := loop.Get(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, cursor.Token("s2"), tok)
}

func TestStoreTracksAreIndependent(t *testing.T) {
	ctx := context.Background()
	store, _ := setupTestStore(t)

	require.NoError(t, store.Track("ns/loop").Set(ctx, "l1"))
	require.NoError(t, store.Track("ns/once").Set(ctx, "o1"))

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]cursor.Token{"ns/loop": "l1", "ns/once": "o1"}, all)

	require.NoError(t, store.Reset(ctx, "ns/loop"))
	_, ok, err := store.Track("ns/loop").Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	tok, ok, err := store.Track("ns/once").Get(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, cursor.Token("o1"), tok)
}

func TestStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	store, path := setupTestStore(t)
	require.NoError(t, store.Track("loop").Set(ctx, "s42"))
	require.NoError(t, store.Close())

	cfg := DefaultConfig("file:" + path)
	cfg.Logger = logging.Discard()
	reopened, err := New(cfg)
	require.NoError(t, err)
	defer reopened.Close()

	tok, ok, err := reopened.Track("loop").Get(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, cursor.Token("s42"), tok)
}

func TestStoreRejectsEmptyToken(t *testing.T) {
	store, _ := setupTestStore(t)
	err := store.Track("loop").Set(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, syncErrors.KindStore, syncErrors.KindOf(err))
}

func TestStoreClosed(t *testing.T) {
	ctx := context.Background()
	store, _ := setupTestStore(t)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, _, err := store.Track("loop").Get(ctx)
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.Equal(t, syncErrors.KindStore, syncErrors.KindOf(err))

	assert.ErrorIs(t, store.Track("loop").Set(ctx, "s1"), ErrStoreClosed)

	_, err = store.List(ctx)
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestStoreContextCancellation(t *testing.T) {
	store, _ := setupTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Track("loop").Set(ctx, "s1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStoreConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	store, _ := setupTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := []string{"loop", "once"}[i%2]
			assert.NoError(t, store.Track(name).Set(ctx, cursor.Token("t"+name)))
		}(i)
	}
	wg.Wait()

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	_, err = New(&Config{Logger: logging.Discard()})
	require.Error(t, err)

	_, err = New(&Config{DataSourceName: ":memory:", TableName: "bad; DROP", Logger: logging.Discard()})
	require.Error(t, err)
}

func TestDefaultConfigAppendsWAL(t *testing.T) {
	assert.Equal(t, "file:a.db?_journal_mode=WAL", DefaultConfig("file:a.db").DataSourceName)
	assert.Equal(t, "file:a.db?cache=shared&_journal_mode=WAL", DefaultConfig("file:a.db?cache=shared").DataSourceName)
	assert.Equal(t, "file:a.db?_journal_mode=DELETE", DefaultConfig("file:a.db?_journal_mode=DELETE").DataSourceName)
}
