// Package retrier retries an operation with capped exponential backoff.
package retrier

import (
	"context"
	"math/rand"
	"time"
)

const (
	defaultInitialInterval = 1 * time.Second
	defaultMaxInterval     = 30 * time.Second
	defaultMultiplier      = 2.0
	defaultMaxRetries      = 5
	defaultJitter          = 0.1
)

// Retrier retries failed calls; the n-th retry waits
// initialInterval*multiplier^(n-1), capped at maxInterval, +/- jitter.
type Retrier struct {
	initialInterval time.Duration
	maxInterval     time.Duration
	multiplier      float64
	maxRetries      int
	jitter          float64
	retryIf         func(error) bool
	onRetry         func(attempt int, err error, wait time.Duration)
}

type Option func(*Retrier)

func WithInitialInterval(d time.Duration) Option {
	return func(r *Retrier) { r.initialInterval = d }
}

func WithMaxInterval(d time.Duration) Option {
	return func(r *Retrier) { r.maxInterval = d }
}

func WithMultiplier(m float64) Option {
	return func(r *Retrier) { r.multiplier = m }
}

// WithMaxRetries sets retries after the first attempt; zero disables retrying.
func WithMaxRetries(n int) Option {
	return func(r *Retrier) { r.maxRetries = n }
}

// WithJitter sets the jitter factor (0.0 to 1.0).
func WithJitter(j float64) Option {
	return func(r *Retrier) { r.jitter = j }
}

// WithRetryIf limits retries to errors accepted by fn; other errors return immediately.
func WithRetryIf(fn func(error) bool) Option {
	return func(r *Retrier) { r.retryIf = fn }
}

// WithOnRetry calls fn before every wait with the failed attempt number
// (starting at 1), its error and the wait ahead.
func WithOnRetry(fn func(attempt int, err error, wait time.Duration)) Option {
	return func(r *Retrier) { r.onRetry = fn }
}

func New(opts ...Option) *Retrier {
	r := &Retrier{
		initialInterval: defaultInitialInterval,
		maxInterval:     defaultMaxInterval,
		multiplier:      defaultMultiplier,
		maxRetries:      defaultMaxRetries,
		jitter:          defaultJitter,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Do calls fn until it succeeds, returns an error rejected by the retry
// filter, runs out of retries or ctx is done. The last error is returned.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		switch {
		case err == nil:
			return nil
		case attempt > r.maxRetries:
			return err
		case r.retryIf != nil && !r.retryIf(err):
			return err
		}

		wait := r.backoff(attempt)
		if r.onRetry != nil {
			r.onRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// backoff wait after the given failed attempt.
func (r *Retrier) backoff(attempt int) time.Duration {
	interval := float64(r.initialInterval)
	for i := 1; i < attempt && interval < float64(r.maxInterval); i++ {
		interval *= r.multiplier
	}
	if interval > float64(r.maxInterval) {
		interval = float64(r.maxInterval)
	}

	wait := time.Duration(interval + (rand.Float64()*2-1)*r.jitter*interval)
	if wait < 0 {
		return 0
	}
	return wait
}
