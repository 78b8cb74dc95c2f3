// Package ratelimit bounds the outbound request rate to the upstream
// exchange using a sliding time window shared by all extraction workers.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"harvester/internal/metrics"
)

// Limiter admits at most maxCalls requests within any trailing window.
// It is safe for concurrent use; the mutex is never held while sleeping.
type Limiter struct {
	maxCalls int
	window   time.Duration

	mu    sync.Mutex
	calls []time.Time // ascending admission timestamps

	now   func() time.Time          // injectable clock for tests
	sleep func(context.Context, time.Duration) error
}

// Stats is a point-in-time snapshot of window usage.
type Stats struct {
	Used      int
	Remaining int
}

// New creates a Limiter admitting maxCalls per window.
func New(maxCalls int, window time.Duration) *Limiter {
	return &Limiter{
		maxCalls: maxCalls,
		window:   window,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Acquire blocks until admitting one more call would not exceed maxCalls
// within the trailing window, then records the call and returns. It only
// returns an error when ctx is cancelled; the limiter itself never fails.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		l.evict(now)

		if len(l.calls) < l.maxCalls {
			l.calls = append(l.calls, now)
			l.mu.Unlock()
			return nil
		}

		// Window full: wait until the oldest retained call falls out,
		// with the lock released, then re-check from the top.
		wait := l.calls[0].Add(l.window).Sub(now)
		l.mu.Unlock()

		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		metrics.RateLimitWaitSeconds.Add(wait.Seconds())
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Stats reports how many calls sit in the current window and how many more
// would be admitted without waiting.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evict(l.now())
	return Stats{Used: len(l.calls), Remaining: l.maxCalls - len(l.calls)}
}

// evict drops timestamps older than now-window. Caller holds the mutex.
func (l *Limiter) evict(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.calls) && !l.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.calls = append(l.calls[:0], l.calls[i:]...)
	}
}
