// Package retry provides bounded retry with exponential backoff and jitter
// around an operation value.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/orbitlabs/orbit/internal/metrics"
)

// Classifier decides whether an error is worth another attempt.
type Classifier func(error) bool

// Observer fires after every failed attempt, before the backoff delay is
// awaited. Intended for logging and telemetry; must not block for long.
type Observer func(err error, attempt int, delay time.Duration)

// Policy describes how an operation is retried.
type Policy struct {
	// Operation labels metrics emitted for this policy.
	Operation string
	// MaxAttempts bounds total invocations, first try included.
	MaxAttempts int
	// BaseDelay seeds the exponential backoff.
	BaseDelay time.Duration
	// MaxDelay caps the backoff before jitter is applied.
	MaxDelay time.Duration
	// Retryable selects which errors are retried; nil retries everything.
	Retryable Classifier
	// OnRetry, if set, observes every failed attempt.
	OnRetry Observer
}

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 250 * time.Millisecond
	defaultMaxDelay    = 5 * time.Second
)

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	return p
}

// Backoff returns the jittered delay before the attempt after the given
// zero-indexed failed attempt: min(base * 2^attempt, max) scaled by a uniform
// factor in [0.75, 1.25].
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.withDefaults()
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	jitter := 0.75 + rand.Float64()*0.5
	return time.Duration(delay * jitter)
}

// Do runs op under the policy. A retryable failure with attempts remaining
// suspends the caller for the jittered backoff, honoring ctx; the final
// attempt's error surfaces unchanged. A non-retryable error surfaces
// immediately without consuming further attempts.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	var zero T
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		metrics.ObserveRetryAttempt(p.Operation)

		if p.Retryable != nil && !p.Retryable(err) {
			return zero, err
		}
		if attempt == p.MaxAttempts-1 {
			break
		}

		delay := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(err, attempt, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("retry wait: %w", err)
		}
	}
	return zero, lastErr
}

// sleep suspends until the delay elapses or ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
