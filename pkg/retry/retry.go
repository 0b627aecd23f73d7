// Package retry runs an operation again with exponential backoff and jitter.
// The engine uses it for store calls: advisory paths get one extra attempt,
// compare-and-swap loops re-read on conflict, and the worker retries its
// initial database connection.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Policy describes how many times to try and how long to wait in between.
type Policy struct {
	// Attempts includes the first call. Values below 1 mean 1.
	Attempts int

	BaseDelay time.Duration
	MaxDelay  time.Duration
	Factor    float64

	// Jitter spreads each delay by ±Jitter of itself, in [0, 1].
	Jitter float64

	// ShouldRetry decides whether err is worth another attempt. Nil retries
	// nothing.
	ShouldRetry func(err error) bool

	// OnRetry is called before sleeping.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Retrier executes operations under a Policy.
type Retrier struct {
	policy Policy
}

// New creates a Retrier.
func New(p Policy) *Retrier {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Factor < 1 {
		p.Factor = 1
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		p.Jitter = 0
	}
	return &Retrier{policy: p}
}

// Do calls op until it succeeds, returns an error ShouldRetry rejects, the
// attempts run out or ctx ends. The last operation error is returned as-is.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var last error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return last
			}
			return err
		}

		last = op(ctx)
		if last == nil {
			return nil
		}
		if attempt >= r.policy.Attempts || r.policy.ShouldRetry == nil || !r.policy.ShouldRetry(last) {
			return last
		}

		delay := r.backoff(attempt)
		if r.policy.OnRetry != nil {
			r.policy.OnRetry(attempt, last, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last
		case <-timer.C:
		}
	}
}

// backoff returns BaseDelay·Factor^(attempt-1), capped at MaxDelay, then
// jittered.
func (r *Retrier) backoff(attempt int) time.Duration {
	d := float64(r.policy.BaseDelay) * math.Pow(r.policy.Factor, float64(attempt-1))
	if r.policy.MaxDelay > 0 && d > float64(r.policy.MaxDelay) {
		d = float64(r.policy.MaxDelay)
	}
	if r.policy.Jitter > 0 {
		d += d * r.policy.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(math.Max(d, 0))
}

// DoValue is Do for operations that return a value.
func DoValue[T any](ctx context.Context, r *Retrier, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}

// ─────────────────────────────────────────────────────────────────────────────
// Presets
// ─────────────────────────────────────────────────────────────────────────────

// AdvisoryRetrier is used for reward evaluation after a learning action.
// A transient failure is retried once.
func AdvisoryRetrier(retryIf func(error) bool, onRetry func(attempt int, err error, delay time.Duration)) *Retrier {
	return New(Policy{
		Attempts:    2,
		BaseDelay:   25 * time.Millisecond,
		MaxDelay:    250 * time.Millisecond,
		Factor:      2,
		Jitter:      0.1,
		ShouldRetry: retryIf,
		OnRetry:     onRetry,
	})
}

// CASRetrier re-runs a compare-and-swap loop that lost a race.
func CASRetrier(attempts int, retryIf func(error) bool) *Retrier {
	return New(Policy{
		Attempts:    attempts,
		BaseDelay:   5 * time.Millisecond,
		MaxDelay:    50 * time.Millisecond,
		Factor:      1.5,
		Jitter:      0.5,
		ShouldRetry: retryIf,
	})
}

// DatabaseRetrier retries every error; it is meant for the startup
// connection only.
func DatabaseRetrier() *Retrier {
	return New(Policy{
		Attempts:    5,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Factor:      2,
		Jitter:      0.05,
		ShouldRetry: func(error) bool { return true },
	})
}
