package observable

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_StoreWakesWaiters(t *testing.T) {
	v := New("")
	changed := v.Changed()

	select {
	case <-changed:
		t.Fatal("changed channel closed before Store")
	default:
	}

	v.Store("s1")

	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("Store did not close changed channel")
	}

	val, version := v.Load()
	assert.Equal(t, "s1", val)
	assert.Equal(t, uint64(1), version)
}

func TestValue_WaitFor(t *testing.T) {
	v := New(0)

	go func() {
		for i := 1; i <= 3; i++ {
			time.Sleep(5 * time.Millisecond)
			v.Store(i)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, err := v.WaitFor(ctx, func(n int) bool { return n >= 3 })
	require.NoError(t, err)
	assert.Equal(t, 3, got)
}

func TestValue_WaitForCancelled(t *testing.T) {
	v := New(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := v.WaitFor(ctx, func(n int) bool { return n > 0 })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestValue_WatchDeliversLatest(t *testing.T) {
	v := New("a")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := v.Watch(ctx)
	assert.Equal(t, "a", <-ch)

	v.Store("b")
	v.Store("c")

	deadline := time.After(time.Second)
	for {
		select {
		case got := <-ch:
			if got == "c" {
				return
			}
		case <-deadline:
			t.Fatal("latest value never delivered")
		}
	}
}
