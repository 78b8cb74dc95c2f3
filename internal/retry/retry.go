// Package retry runs units of work with exponential backoff and jitter,
// consulting the fault taxonomy to decide whether a failure is worth
// another attempt.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"harvester/internal/fault"
	"harvester/internal/metrics"
)

// Policy is the immutable retry configuration owned by the caller.
type Policy struct {
	// MaxRetries is the number of re-attempts after the first invocation.
	MaxRetries int
	// BaseDelay seeds the exponential backoff.
	BaseDelay time.Duration
	// MaxDelay caps the computed backoff before jitter.
	MaxDelay time.Duration
	// BackoffFactor multiplies the delay per attempt; defaults to 2.
	BackoffFactor float64
	// RateLimitPenalty is an extra fixed delay applied on top of backoff
	// when the failure is an upstream throttle, so throttled callers back
	// off well past the budget window. Defaults to 30s.
	RateLimitPenalty time.Duration
	// Classify reports whether an error may be retried. Defaults to
	// fault.Retryable.
	Classify func(error) bool
}

// DefaultPolicy is a reasonable policy for upstream and storage calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   30 * time.Second,
	}
}

// Executor retries work functions according to a Policy, logging each
// failed attempt with the operation name.
type Executor struct {
	log *slog.Logger

	sleep func(context.Context, time.Duration) error
	randf func() float64 // uniform [0,1), injectable for tests
}

// New creates an Executor logging through log. A nil logger falls back to
// slog.Default().
func New(log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		log:   log,
		sleep: sleepCtx,
		randf: rand.Float64,
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

// Do invokes fn, retrying retryable failures per policy. Fatal failures are
// returned immediately after a single invocation. Once MaxRetries
// re-attempts are exhausted the last error is returned.
func (e *Executor) Do(ctx context.Context, op string, policy Policy, fn func() error) error {
	classify := policy.Classify
	if classify == nil {
		classify = fault.Retryable
	}
	factor := policy.BackoffFactor
	if factor <= 1 {
		factor = 2
	}
	penalty := policy.RateLimitPenalty
	if penalty <= 0 {
		penalty = 30 * time.Second
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !classify(err) {
			e.log.Error("operation failed, not retryable",
				"op", op,
				"kind", fault.KindOf(err).String(),
				"err", err,
			)
			return err
		}
		if attempt >= policy.MaxRetries {
			e.log.Error("operation failed, retries exhausted",
				"op", op,
				"attempts", attempt+1,
				"err", err,
			)
			return fmt.Errorf("%s: retries exhausted after %d attempts: %w", op, attempt+1, err)
		}

		delay := e.backoff(policy, factor, attempt)
		if fault.KindOf(err) == fault.KindRateLimit {
			delay += penalty
		}
		metrics.RetryAttempts.Inc()
		e.log.Warn("operation failed, retrying",
			"op", op,
			"attempt", attempt+1,
			"delay", delay.Round(time.Millisecond),
			"kind", fault.KindOf(err).String(),
			"err", err,
		)
		if serr := e.sleep(ctx, delay); serr != nil {
			return serr
		}
	}
}

// DoValue is Do for work that produces a result.
func DoValue[T any](e *Executor, ctx context.Context, op string, policy Policy, fn func() (T, error)) (T, error) {
	var out T
	err := e.Do(ctx, op, policy, func() error {
		v, ferr := fn()
		if ferr != nil {
			return ferr
		}
		out = v
		return nil
	})
	return out, err
}

// backoff computes base*factor^attempt clamped to MaxDelay, plus a uniform
// jitter of 10-30% of the clamped delay.
func (e *Executor) backoff(policy Policy, factor float64, attempt int) time.Duration {
	delay := float64(policy.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= factor
		if policy.MaxDelay > 0 && delay >= float64(policy.MaxDelay) {
			delay = float64(policy.MaxDelay)
			break
		}
	}
	if policy.MaxDelay > 0 && delay > float64(policy.MaxDelay) {
		delay = float64(policy.MaxDelay)
	}
	jitter := delay * (0.1 + 0.2*e.randf())
	return time.Duration(delay + jitter)
}
