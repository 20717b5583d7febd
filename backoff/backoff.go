// Package backoff provides retry delay strategies and the bounded retry
// policy applied to workflow steps that hit transient store failures.
// Strategies are stateless and safe for concurrent use.
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/xraph/signoff"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (full jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter applies full jitter to an exponential base.
// Delay = random value in [0, min(Initial * 2^(attempt-1), Max)].
// This prevents thundering herd when many retries happen simultaneously.
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Initial * 2^(attempt-1), Max)].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	return time.Duration(rand.Float64() * base) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// ──────────────────────────────────────────────────
// Policy
// ──────────────────────────────────────────────────

// Policy pairs a Strategy with a bounded attempt budget and drives a
// go-retry loop over it.
type Policy struct {
	Strategy    Strategy
	MaxAttempts int

	// Retryable classifies errors. Nil means signoff.IsRetryable.
	Retryable func(error) bool

	// OnRetry, if set, is called before sleeping for a retry.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// NewPolicy builds a Policy from configuration.
func NewPolicy(cfg signoff.RetryConfig) Policy {
	var s Strategy = NewExponential(cfg.InitialDelay, cfg.MaxDelay)
	if cfg.Jitter {
		s = NewExponentialWithJitter(cfg.InitialDelay, cfg.MaxDelay)
	}
	return Policy{Strategy: s, MaxAttempts: cfg.MaxAttempts}
}

// Backoff returns a fresh go-retry Backoff that yields Strategy delays
// until MaxAttempts tries have been made.
func (p Policy) Backoff() retry.Backoff {
	strategy := p.Strategy
	if strategy == nil {
		strategy = DefaultStrategy()
	}
	attempt := 0
	return retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return 0, true
		}
		return strategy.Delay(attempt), false
	})
}

// Do runs fn, retrying retryable failures until it succeeds, returns a
// permanent error, exhausts the budget, or ctx is done.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = signoff.IsRetryable
	}

	var (
		attempt int
		last    error
	)
	next := p.Backoff()
	b := retry.BackoffFunc(func() (time.Duration, bool) {
		d, stop := next.Next()
		if !stop && p.OnRetry != nil {
			p.OnRetry(attempt, d, last)
		}
		return d, stop
	})

	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err != nil && retryable(err) {
			last = err
			return retry.RetryableError(err)
		}
		return err
	})
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// DefaultStrategy returns the default step retry backoff:
// ExponentialWithJitter with 100ms initial and 5s max.
func DefaultStrategy() Strategy {
	return NewExponentialWithJitter(100*time.Millisecond, 5*time.Second)
}
