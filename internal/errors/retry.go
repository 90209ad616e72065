package errors

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// RetryConfig shapes the exponential backoff schedule.
type RetryConfig struct {
	MaxRetries   int           // retries after the initial attempt
	InitialDelay time.Duration // wait before the first retry
	MaxDelay     time.Duration // backoff ceiling
	Multiplier   float64       // delay growth per retry
	Jitter       bool          // randomize delays to spread concurrent retriers
}

// DefaultRetryConfig is 3 retries at 1s/2s/4s, capped at 16s, with jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     16 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retry runs fn with exponential backoff until it succeeds, the retry
// budget runs out, or ctx is cancelled.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	_, err := RetryWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryWithResult is Retry for functions that produce a value. On failure
// the zero value is returned along with the last error, wrapped with the
// attempt count.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)

	delay := cfg.InitialDelay
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == cfg.MaxRetries {
			return zero, fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(jittered(delay, cfg.Jitter)):
		}

		if delay = time.Duration(float64(delay) * cfg.Multiplier); delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}

// jittered scales delay by a random factor in [0.5, 1.0).
func jittered(delay time.Duration, jitter bool) time.Duration {
	if !jitter {
		return delay
	}
	return time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))
}
