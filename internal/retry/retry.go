// Package retry wraps a single attempt closure with a bounded retry policy.
// Attempt counters and delays are local to each call, so concurrent callers
// never share backoff state.
package retry

import (
	"context"
	"time"
)

type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	// Backoff returns the delay to wait after the given 1-based failed
	// attempt, before the next one.
	Backoff func(attempt int) time.Duration

	// Retryable reports whether the error is worth another attempt.
	// A nil Retryable retries every error.
	Retryable func(error) bool

	// Sleep defaults to time.Sleep. Tests substitute it to observe the
	// backoff schedule without waiting.
	Sleep func(time.Duration)
}

// Linear returns a backoff function with linearly increasing delays:
// base, 2*base, 3*base, ...
func Linear(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return base * time.Duration(attempt)
	}
}

// Do runs attempt until it succeeds, the policy is exhausted, a
// non-retryable error occurs, or ctx is cancelled. The last error is
// returned on failure.
func Do[T any](ctx context.Context, p Policy, attempt func(context.Context) (T, error)) (T, error) {
	var zero T

	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var lastErr error
	for n := 1; n <= maxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := attempt(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if p.Retryable != nil && !p.Retryable(err) {
			return zero, err
		}
		if n < maxAttempts && p.Backoff != nil {
			sleep(p.Backoff(n))
		}
	}
	return zero, lastErr
}
