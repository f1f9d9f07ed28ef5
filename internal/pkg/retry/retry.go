// Package retry provides the retry policy shared by every network boundary.
//
// A policy is a bounded attempt count, a backoff function and a predicate that
// decides which errors are worth another attempt. The indexer uses linear
// backoff, the handoff sinks use capped exponential backoff.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// BackoffFunc returns the wait before the given retry. attempt is 1-indexed.
type BackoffFunc func(attempt int) time.Duration

// Config holds configuration for retry behavior.
type Config struct {
	// MaxRetries is the maximum number of retry attempts (0 means no retries, just the initial attempt).
	MaxRetries int

	// Backoff overrides the exponential schedule built from the fields below.
	Backoff BackoffFunc

	// InitialBackoff is the initial backoff duration before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration (caps exponential growth).
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied to backoff after each retry (default: 2.0).
	BackoffFactor float64

	// Jitter adds randomness to backoff to prevent thundering herd.
	// When true, actual backoff is: backoff + rand(0, backoff)
	Jitter bool
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     100 * time.Millisecond,
		BackoffFactor:  2.0,
		Jitter:         true,
	}
}

// LinearConfig returns a policy that waits attempt*step before each retry.
func LinearConfig(maxRetries int, step time.Duration) Config {
	return Config{
		MaxRetries: maxRetries,
		Backoff:    Linear(step),
	}
}

// Linear waits step, 2*step, 3*step, ...
func Linear(step time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * step
	}
}

// Exponential waits initial, initial*factor, ... capped at max.
func Exponential(initial, max time.Duration, factor float64) BackoffFunc {
	return func(attempt int) time.Duration {
		backoff := float64(initial)
		for i := 1; i < attempt; i++ {
			backoff *= factor
			if backoff >= float64(max) {
				return max
			}
		}
		return time.Duration(backoff)
	}
}

// IsRetryableFunc determines if an error should trigger a retry.
type IsRetryableFunc func(error) bool

// OnRetryFunc is called before each retry attempt (optional, for logging/metrics).
// attempt is 1-indexed (first retry is attempt 1).
type OnRetryFunc func(attempt int, err error, backoff time.Duration)

// Always retries every error.
func Always(error) bool { return true }

func (cfg Config) backoffFunc() BackoffFunc {
	if cfg.Backoff != nil {
		return cfg.Backoff
	}
	if cfg.BackoffFactor <= 0 {
		cfg.BackoffFactor = 2.0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 10 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 100 * time.Millisecond
	}
	return Exponential(cfg.InitialBackoff, cfg.MaxBackoff, cfg.BackoffFactor)
}

// Do executes the given function with retry logic.
// It returns the result of the function or the last error if all retries are exhausted.
//
// The function is called at least once. If it returns an error and isRetryable returns true,
// it will be retried up to cfg.MaxRetries additional times.
//
// Example:
//
//	result, err := retry.Do(ctx, retry.LinearConfig(5, time.Second), isTransientError, nil, func() (int, error) {
//	    return someOperation()
//	})
func Do[T any](
	ctx context.Context,
	cfg Config,
	isRetryable IsRetryableFunc,
	onRetry OnRetryFunc,
	fn func() (T, error),
) (T, error) {
	var zero T
	var lastErr error

	if isRetryable == nil {
		isRetryable = Always
	}
	backoffFor := cfg.backoffFunc()

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := backoffFor(attempt)
			if cfg.Jitter && backoff > 0 {
				backoff += time.Duration(rand.Int63n(int64(backoff)))
			}

			if onRetry != nil {
				onRetry(attempt, lastErr, backoff)
			}

			select {
			case <-ctx.Done():
				return zero, fmt.Errorf("context cancelled while retrying: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}

		lastErr = err

		if !isRetryable(err) {
			return zero, err
		}
	}

	return zero, fmt.Errorf("operation failed after %d retries: %w", cfg.MaxRetries, lastErr)
}

// DoVoid is like Do but for functions that don't return a value.
func DoVoid(
	ctx context.Context,
	cfg Config,
	isRetryable IsRetryableFunc,
	onRetry OnRetryFunc,
	fn func() error,
) error {
	_, err := Do(ctx, cfg, isRetryable, onRetry, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
