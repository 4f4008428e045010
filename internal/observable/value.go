// Package observable holds a last-known value that many readers can watch.
//
// A Value has a single logical writer. Readers call Load for the current
// value or Changed for a channel that is closed on the next Store, which
// lets them select on updates alongside their own context.
package observable

import (
	"context"
	"sync"
)

// Value is a last-value cell with broadcast change notification.
type Value[T any] struct {
	mu      sync.RWMutex
	value   T
	version uint64
	changed chan struct{}
}

// New creates a Value holding initial.
func New[T any](initial T) *Value[T] {
	return &Value[T]{
		value:   initial,
		changed: make(chan struct{}),
	}
}

// Load returns the current value and its version. The version increases by
// one on every Store.
func (v *Value[T]) Load() (T, uint64) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value, v.version
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	val, _ := v.Load()
	return val
}

// Store replaces the value and wakes every waiter.
func (v *Value[T]) Store(val T) {
	v.mu.Lock()
	v.value = val
	v.version++
	ch := v.changed
	v.changed = make(chan struct{})
	v.mu.Unlock()
	close(ch)
}

// Changed returns a channel closed by the next Store.
func (v *Value[T]) Changed() <-chan struct{} {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.changed
}

// WaitFor blocks until pred holds for the current value or ctx is done.
func (v *Value[T]) WaitFor(ctx context.Context, pred func(T) bool) (T, error) {
	for {
		v.mu.RLock()
		val, ch := v.value, v.changed
		v.mu.RUnlock()
		if pred(val) {
			return val, nil
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-ch:
		}
	}
}

// Watch streams values to the returned channel until ctx is done. The
// current value is sent first. Intermediate values may be skipped when the
// reader is slower than the writer; the latest value is always delivered.
func (v *Value[T]) Watch(ctx context.Context) <-chan T {
	out := make(chan T, 1)
	go func() {
		defer close(out)
		var seen uint64
		first := true
		for {
			v.mu.RLock()
			val, version, ch := v.value, v.version, v.changed
			v.mu.RUnlock()
			if first || version != seen {
				first = false
				seen = version
				select {
				case out <- val:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-ch:
			}
		}
	}()
	return out
}
