package synckit

import (
	"time"

	"github.com/c0deZ3R0/go-matrix-sync/cursor"
	syncErrors "github.com/c0deZ3R0/go-matrix-sync/errors"
)

// runLoop is the body of the loop goroutine. Cycles run strictly one after
// another: request, normalize, dispatch, persist. Every failure other than
// cancellation is retried with the same since token.
func (e *Engine) runLoop(r *run) {
	defer e.finishRun(r)

	ctx := r.ctx
	logger := e.logger.With("track", e.loop.name)
	logger.Info("Sync loop goroutine started")

	attempt := 0
	for {
		if r.stopping() {
			logger.Info("Sync loop stopping due to explicit stop")
			return
		}

		start := time.Now()
		since, err := e.loop.cursor.Load(ctx)
		if err == nil {
			initial := since.IsZero()
			e.updateState(r, func(s *State) { s.Initial = initial })

			var result CycleResult
			result, err = e.loopCycle(r, since)
			if err == nil {
				result.Attempts = attempt + 1
				result.StartTime = start
				result.Duration = time.Since(start)
				if attempt > 0 {
					logger.Info("Sync recovered after retry", "attempts", result.Attempts)
				}
				attempt = 0
				e.updateState(r, func(s *State) { *s = State{Phase: PhaseRunning} })
				e.recordSuccess(result)
				logger.Debug("Sync cycle completed",
					"since", string(since),
					"next_batch", string(result.NextBatch),
					"events", result.Events,
					"duration", result.Duration)
				e.notifyObservers(result)
				continue
			}
		}

		if ctx.Err() != nil {
			logger.Info("Sync loop stopping due to cancellation")
			return
		}

		attempt++
		delay := retryDelay(e.backoff, attempt, syncErrors.RetryAfter(err))
		e.updateState(r, func(s *State) {
			s.Phase = PhaseRetrying
			s.Attempt = attempt
			s.LastError = err
		})
		r.markStarted()
		e.metrics.RecordSyncErrors(e.loop.name, kindLabel(err))
		e.metrics.RecordRetry(e.loop.name, attempt, delay)

		logger.Warn("Sync cycle failed, will retry",
			"attempt", attempt,
			"delay", delay,
			"since", string(since),
			"kind", kindLabel(err),
			"status", syncErrors.StatusCode(err),
			"error", err)

		if !e.sleep(r, delay) {
			logger.Info("Sync loop stopped during backoff")
			return
		}
	}
}

// loopCycle runs one cycle of the loop track starting at since.
func (e *Engine) loopCycle(r *run, since cursor.Token) (CycleResult, error) {
	ctx := r.ctx
	fullState := e.fullState && since.IsZero()
	req := e.request(e.loop, since, r.opts.Presence, r.opts.Timeout, fullState)

	resp, events, err := e.execute(ctx, req, r.markStarted)
	if err != nil {
		return CycleResult{}, err
	}

	if err := e.dispatcher.Publish(ctx, events); err != nil {
		return CycleResult{}, err
	}

	if err := e.loop.cursor.Persist(ctx, resp.NextBatch); err != nil {
		return CycleResult{}, err
	}

	return CycleResult{
		Track:     e.loop.name,
		Since:     since,
		NextBatch: resp.NextBatch,
		Events:    len(events),
	}, nil
}

// sleep waits for d. It returns false if the loop was stopped or cancelled
// first.
func (e *Engine) sleep(r *run, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-r.stopCh:
		return false
	case <-r.ctx.Done():
		return false
	}
}

// updateState applies fn to the current state. Once a stop was requested
// the phase stays Stopping until the loop has exited.
func (e *Engine) updateState(r *run, fn func(*State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run != r {
		return
	}
	st := e.state.Get()
	fn(&st)
	if r.stopping() {
		st.Phase = PhaseStopping
	}
	e.state.Store(st)
}

func (e *Engine) finishRun(r *run) {
	e.mu.Lock()
	if e.run == r {
		e.run = nil
		st := e.state.Get()
		e.state.Store(State{Phase: PhaseStopped, Initial: st.Initial})
	}
	e.mu.Unlock()

	r.cancel()
	r.markStarted()
	close(r.done)
	e.logger.Info("Sync loop goroutine stopped", "track", e.loop.name)
}
