package synckit

import (
	"log/slog"
	"sync"
)

// cycleObserver feeds cycle results to one OnCycle callback on its own
// goroutine, in the order the cycles completed. A slow callback only
// delays itself.
type cycleObserver struct {
	fn     func(CycleResult)
	logger *slog.Logger
	done   <-chan struct{}

	mu    sync.Mutex
	queue []CycleResult
	wake  chan struct{}
}

func newCycleObserver(fn func(CycleResult), logger *slog.Logger, done <-chan struct{}) *cycleObserver {
	return &cycleObserver{
		fn:     fn,
		logger: logger,
		done:   done,
		wake:   make(chan struct{}, 1),
	}
}

func (o *cycleObserver) push(r CycleResult) {
	o.mu.Lock()
	o.queue = append(o.queue, r)
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// run delivers queued results until done is closed. Results already queued
// when done closes are still delivered.
func (o *cycleObserver) run() {
	for {
		o.mu.Lock()
		batch := o.queue
		o.queue = nil
		o.mu.Unlock()

		if len(batch) == 0 {
			select {
			case <-o.wake:
				continue
			case <-o.done:
				o.mu.Lock()
				batch = o.queue
				o.queue = nil
				o.mu.Unlock()
				for _, r := range batch {
					o.call(r)
				}
				return
			}
		}
		for _, r := range batch {
			o.call(r)
		}
	}
}

func (o *cycleObserver) call(r CycleResult) {
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("Cycle observer panic recovered",
				"panic", p,
				"track", r.Track,
				"next_batch", string(r.NextBatch))
		}
	}()
	o.fn(r)
}
