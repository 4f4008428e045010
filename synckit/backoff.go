package synckit

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff computes the wait before retry number attempt (starting at 1).
// Returned delays must be positive.
type Backoff interface {
	NextDelay(attempt int) time.Duration
}

// BackoffFunc adapts a function to Backoff.
type BackoffFunc func(attempt int) time.Duration

// NextDelay implements Backoff.
func (f BackoffFunc) NextDelay(attempt int) time.Duration { return f(attempt) }

// Default retry timings.
const (
	DefaultInitialDelay = time.Second
	DefaultMaxDelay     = 30 * time.Second
	DefaultMultiplier   = 2.0
	DefaultJitter       = 0.2
)

// ExponentialBackoff grows the delay by Multiplier per attempt up to
// MaxDelay, with random jitter. It never gives up. Not safe for concurrent
// use; the loop owns its instance.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64

	b *backoff.ExponentialBackOff
}

// NewExponentialBackoff returns an ExponentialBackoff with the default
// jitter. Zero values fall back to the defaults.
func NewExponentialBackoff(initial, max time.Duration, multiplier float64) *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialDelay: initial,
		MaxDelay:     max,
		Multiplier:   multiplier,
		Jitter:       DefaultJitter,
	}
}

// DefaultBackoff returns the loop's default retry policy.
func DefaultBackoff() *ExponentialBackoff {
	return NewExponentialBackoff(DefaultInitialDelay, DefaultMaxDelay, DefaultMultiplier)
}

// NextDelay implements Backoff. Attempt 1 restarts the sequence.
func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if eb.b == nil || attempt <= 1 {
		eb.reset()
	}
	d := eb.b.NextBackOff()
	if d == backoff.Stop {
		d = eb.b.MaxInterval
	}
	if d <= 0 {
		d = eb.b.InitialInterval
	}
	return d
}

func (eb *ExponentialBackoff) reset() {
	b := backoff.NewExponentialBackOff()
	if eb.InitialDelay > 0 {
		b.InitialInterval = eb.InitialDelay
	} else {
		b.InitialInterval = DefaultInitialDelay
	}
	if eb.MaxDelay > 0 {
		b.MaxInterval = eb.MaxDelay
	} else {
		b.MaxInterval = DefaultMaxDelay
	}
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	if eb.Multiplier >= 1 {
		b.Multiplier = eb.Multiplier
	} else {
		b.Multiplier = DefaultMultiplier
	}
	if eb.Jitter >= 0 && eb.Jitter < 1 {
		b.RandomizationFactor = eb.Jitter
	}
	// retry forever
	b.MaxElapsedTime = 0
	b.Reset()
	eb.b = b
}

// ConstantBackoff waits the same duration before every retry.
type ConstantBackoff time.Duration

// NextDelay implements Backoff.
func (c ConstantBackoff) NextDelay(int) time.Duration {
	if c <= 0 {
		return time.Millisecond
	}
	return time.Duration(c)
}

// retryDelay applies the server's retry_after_ms as a floor.
func retryDelay(b Backoff, attempt int, retryAfter time.Duration) time.Duration {
	d := b.NextDelay(attempt)
	if d <= 0 {
		d = time.Millisecond
	}
	if retryAfter > d {
		d = retryAfter
	}
	return d
}
