package ratelimit

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type RateLimiter interface {
	Wait(ctx context.Context) error
	SetDelay(min, max time.Duration)
}

// SimpleRateLimiter spaces actions at least minDelay apart and adds a random
// extra pause below maxDelay-minDelay. Spacing comes from a burst-1 token
// bucket, so concurrent callers queue behind each other.
type SimpleRateLimiter struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	minDelay time.Duration
	maxDelay time.Duration
	jitter   bool
}

func NewSimpleRateLimiter(minDelay, maxDelay time.Duration) *SimpleRateLimiter {
	return &SimpleRateLimiter{
		limiter:  rate.NewLimiter(rate.Every(minDelay), 1),
		minDelay: minDelay,
		maxDelay: maxDelay,
		jitter:   true,
	}
}

func (r *SimpleRateLimiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	extra := r.extraDelay()
	r.mu.Unlock()

	// Reserve instead of limiter.Wait: Wait fails early with its own error
	// when the delay would outlast the deadline, callers expect ctx.Err().
	res := r.limiter.Reserve()
	if err := sleep(ctx, res.Delay()+extra); err != nil {
		res.Cancel()
		return err
	}
	return nil
}

func (r *SimpleRateLimiter) SetDelay(min, max time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setDelayLocked(min, max)
}

// Delays reports the current bounds.
func (r *SimpleRateLimiter) Delays() (min, max time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.minDelay, r.maxDelay
}

// Limit reports the spacing currently enforced by the token bucket.
func (r *SimpleRateLimiter) Limit() rate.Limit {
	return r.limiter.Limit()
}

// setDelayLocked must be called with mu held.
func (r *SimpleRateLimiter) setDelayLocked(min, max time.Duration) {
	r.minDelay = min
	r.maxDelay = max
	r.limiter.SetLimit(rate.Every(min))
}

// extraDelay must be called with mu held.
func (r *SimpleRateLimiter) extraDelay() time.Duration {
	if !r.jitter || r.maxDelay <= r.minDelay {
		return 0
	}
	return rand.N(r.maxDelay - r.minDelay)
}

// AdaptiveRateLimiter slows down after repeated blocks and speeds up again
// after a run of successes.
type AdaptiveRateLimiter struct {
	*SimpleRateLimiter
	errorCount    int
	successCount  int
	maxErrorCount int
	backoffFactor float64
}

func NewAdaptiveRateLimiter(minDelay, maxDelay time.Duration) *AdaptiveRateLimiter {
	return &AdaptiveRateLimiter{
		SimpleRateLimiter: NewSimpleRateLimiter(minDelay, maxDelay),
		maxErrorCount:     3,
		backoffFactor:     1.5,
	}
}

func (a *AdaptiveRateLimiter) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successCount++
	a.errorCount = 0

	if a.successCount > 5 {
		newMin := time.Duration(float64(a.minDelay) * 0.9)
		if newMin < 1*time.Second {
			newMin = min(1*time.Second, a.minDelay)
		}
		a.setDelayLocked(newMin, a.maxDelay)
		a.successCount = 0
	}
}

func (a *AdaptiveRateLimiter) RecordError() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.errorCount++
	a.successCount = 0

	if a.errorCount >= a.maxErrorCount {
		a.setDelayLocked(
			min(time.Duration(float64(a.minDelay)*a.backoffFactor), 60*time.Second),
			min(time.Duration(float64(a.maxDelay)*a.backoffFactor), 120*time.Second),
		)
		a.errorCount = 0
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
