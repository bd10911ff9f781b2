package webull

import (
	"context"
	"math"
	"sync"
	"time"
)

const rateLimitWindow = time.Minute

// RateLimiter admits at most N requests per key in any trailing 60 second
// window. Waiters on one key are admitted in arrival order; keys are independent.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	grants  map[string][]time.Time
	backoff BackoffStrategy
	metrics *Metrics
	now     func() time.Time

	lastSweep time.Time
}

// NewRateLimiter creates a limiter allowing requestsPerMinute per key. A nil
// backoff uses DefaultBackoff.
func NewRateLimiter(requestsPerMinute int, backoff BackoffStrategy) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	if backoff == nil {
		backoff = DefaultBackoff()
	}
	return &RateLimiter{
		limit:   requestsPerMinute,
		window:  rateLimitWindow,
		grants:  make(map[string][]time.Time),
		backoff: backoff,
		now:     time.Now,
	}
}

// WithMetrics records admission waits on m.
func (rl *RateLimiter) WithMetrics(m *Metrics) *RateLimiter {
	rl.metrics = m
	return rl
}

// Wait blocks until key is admitted or ctx is done. The slot is reserved at
// call time, which keeps admissions FIFO; a cancelled waiter releases it
// unless later waiters are queued behind it.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	rl.mu.Lock()
	now := rl.now()
	rl.sweep(now)
	grants := rl.prune(key, now)

	grantAt := now
	if len(grants) >= rl.limit {
		if next := grants[len(grants)-rl.limit].Add(rl.window); next.After(grantAt) {
			grantAt = next
		}
	}
	rl.grants[key] = append(grants, grantAt)
	rl.mu.Unlock()

	delay := grantAt.Sub(now)
	rl.metrics.ObserveRateLimitWait(delay)
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		rl.release(key, grantAt)
		return ctx.Err()
	}
}

// HandleRateLimitError returns how long a caller should back off before retry
// number attempt (0-based) after ErrRateLimitExceeded.
func (rl *RateLimiter) HandleRateLimitError(attempt int) time.Duration {
	return rl.backoff.Backoff(attempt)
}

// prune drops grants that left the window. Reserved future grants are kept.
func (rl *RateLimiter) prune(key string, now time.Time) []time.Time {
	grants := rl.grants[key]
	i := 0
	for i < len(grants) && now.Sub(grants[i]) >= rl.window {
		i++
	}
	if i == len(grants) {
		delete(rl.grants, key)
		return nil
	}
	return grants[i:]
}

// sweep drops keys whose newest grant left the window, at most once per window.
func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < rl.window {
		return
	}
	rl.lastSweep = now

	for key, grants := range rl.grants {
		if len(grants) == 0 || now.Sub(grants[len(grants)-1]) >= rl.window {
			delete(rl.grants, key)
		}
	}
}

// release gives back a cancelled reservation when it is the newest one.
// Reservations with later waiters behind them stay and age out; grants must
// remain sorted.
func (rl *RateLimiter) release(key string, grantAt time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	grants := rl.grants[key]
	if n := len(grants); n > 0 && grants[n-1].Equal(grantAt) {
		rl.grants[key] = grants[:n-1]
	}
}

// BackoffStrategy maps a retry attempt (0-based) to a wait duration.
type BackoffStrategy interface {
	Backoff(attempt int) time.Duration
}

// ConstantBackoff always waits Interval.
type ConstantBackoff struct {
	Interval time.Duration
}

func (b ConstantBackoff) Backoff(int) time.Duration { return b.Interval }

// LinearBackoff waits Initial + Increment*attempt.
type LinearBackoff struct {
	Initial   time.Duration
	Increment time.Duration
}

func (b LinearBackoff) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return b.Initial + b.Increment*time.Duration(attempt)
}

// ExponentialBackoff waits Initial * Multiplier^attempt, capped at Max.
type ExponentialBackoff struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

func (b ExponentialBackoff) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(b.Initial) * math.Pow(b.Multiplier, float64(attempt))
	if d > float64(b.Max) || math.IsInf(d, 0) || math.IsNaN(d) {
		return b.Max
	}
	return time.Duration(d)
}

// DefaultBackoff is exponential from 1s, doubling, capped at 60s.
func DefaultBackoff() BackoffStrategy {
	return ExponentialBackoff{Initial: time.Second, Multiplier: 2, Max: time.Minute}
}
