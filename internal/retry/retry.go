// Package retry provides a bounded retry wrapper with exponential backoff
// for fallible page interactions.
package retry

import (
	"context"
	"time"
)

// DefaultAttempts is the number of attempts used by callers that do not
// configure their own bound.
const DefaultAttempts = 3

// DefaultBaseDelay is the backoff unit: attempt i waits BaseDelay * 2^i
// before the next try.
const DefaultBaseDelay = 1 * time.Second

// SleepFunc waits for the given duration or until the context is done.
// Injectable so tests run without real delays.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the production SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do invokes op up to attempts times, waiting baseDelay*2^i between
// attempts. Every error is treated as retryable; the last error is
// returned once attempts are exhausted. A nil sleep uses Sleep.
func Do[T any](ctx context.Context, attempts int, baseDelay time.Duration, sleep SleepFunc, op func(ctx context.Context) (T, error)) (T, error) {
	if attempts < 1 {
		attempts = 1
	}
	if sleep == nil {
		sleep = Sleep
	}

	var zero T
	var lastErr error
	for i := 0; i < attempts; i++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		if err := sleep(ctx, baseDelay<<uint(i)); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}
