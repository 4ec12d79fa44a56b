// Package ratelimit implements a per-resource token bucket throttle for
// outbound calls. Each resource key (typically a remote host or an upstream
// API name) gets an independent bucket, created lazily on first use.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/orbitlabs/orbit/internal/metrics"
)

// Config holds limiter defaults applied to buckets created on demand.
type Config struct {
	// DefaultRPS is the steady refill rate for new buckets; <= 0 means
	// unlimited.
	DefaultRPS float64
	// DefaultBurst is the bucket capacity for new buckets; <= 0 means 1.
	DefaultBurst int
}

// Limiter manages per-resource token buckets. The bucket map lock is held
// only for lookup and insertion; waiting happens on the bucket itself so
// unrelated resources never serialize on each other.
type Limiter struct {
	mu           sync.Mutex
	buckets      map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		buckets:      make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Acquire blocks until cost tokens are available for key, then consumes them.
// It only fails when ctx ends; saturation is expressed as delay, which is the
// intended backpressure mechanism. Waits over a millisecond are observed in
// metrics.
func (l *Limiter) Acquire(ctx context.Context, key string, cost int) error {
	if cost <= 0 {
		cost = 1
	}
	bucket := l.bucket(key)

	start := time.Now()
	if err := bucket.WaitN(ctx, cost); err != nil {
		return fmt.Errorf("rate limit wait for %q: %w", key, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(key, waited)
	}
	return nil
}

// TryAcquire consumes cost tokens for key if they are available right now,
// returning false otherwise. It never blocks.
func (l *Limiter) TryAcquire(key string, cost int) bool {
	if cost <= 0 {
		cost = 1
	}
	return l.bucket(key).AllowN(time.Now(), cost)
}

// SetRate replaces the rate and capacity of key's bucket immediately. Tokens
// already accumulated are not rescaled; callers overriding a rate mid-flight
// keep whatever burst headroom the old bucket had earned.
func (l *Limiter) SetRate(key string, rps float64, burst int) {
	bucket := l.bucket(key)
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	bucket.SetLimit(limit)
	bucket.SetBurst(burst)
}

// Tokens reports the tokens currently available for key, for inspection and
// tests. Always within [0, capacity] because refill is clamped to burst.
func (l *Limiter) Tokens(key string) float64 {
	return l.bucket(key).Tokens()
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.buckets[key] = bucket
	}
	return bucket
}
