// Package retry re-runs a whole operation with exponential backoff.
//
// A frame count never retries internally; the CLI wraps complete counts with
// Run when the user asked for retries and the failure is transient.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Config contains configuration for exponential backoff
type Config struct {
	MaxRetries    int           // Maximum number of retries after the first attempt (0 = no retry)
	RetryDelay    time.Duration // Initial retry delay (default: 1 second)
	MaxRetryDelay time.Duration // Maximum retry delay cap (default: 30 seconds)
}

// DefaultConfig returns the default backoff with retries disabled
func DefaultConfig() Config {
	return Config{
		MaxRetries:    0,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// State tracks attempts across a Run
type State struct {
	Attempts int
	Retries  atomic.Uint32
}

// Func is one attempt of the retried operation
type Func func(ctx context.Context) error

// Run executes fn, retrying with exponential backoff while retryable reports
// the error as transient.
//
// Exponential backoff schedule with the default delays:
//   - Retry 1: 1 second
//   - Retry 2: 2 seconds
//   - Retry 3: 4 seconds
//   - Retry 4: 8 seconds
//
// The last error is returned wrapped when retries are exhausted, so callers
// can still inspect it with errors.Is/As. state may be nil.
func Run(ctx context.Context, fn Func, cfg Config, retryable func(error) bool, state *State) error {
	if state == nil {
		state = &State{}
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("retry: context cancelled, stopping")
			return ctx.Err()
		default:
		}

		state.Attempts++
		err := fn(ctx)
		if err == nil {
			if state.Attempts > 1 {
				slog.Info("retry: attempt succeeded", "attempt", state.Attempts)
			}
			return nil
		}

		if retryable == nil || !retryable(err) {
			return err
		}
		if state.Attempts > cfg.MaxRetries {
			if cfg.MaxRetries == 0 {
				return err
			}
			return fmt.Errorf("retry: max retries exceeded (%d attempts): %w", cfg.MaxRetries, err)
		}

		state.Retries.Add(1)
		delay := calculateBackoff(state.Attempts, cfg)

		slog.Warn("retry: attempt failed, retrying",
			"attempt", state.Attempts,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
			"error", err,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			slog.Info("retry: context cancelled during backoff")
			return ctx.Err()
		}
	}
}

// calculateBackoff calculates the exponential backoff delay for a given attempt
//
// Formula: delay = retryDelay * 2^(attempt-1)
// Cap: min(delay, maxRetryDelay)
func calculateBackoff(attempt int, cfg Config) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Past 2^30 the shift would overflow the duration; the cap applies anyway
	if attempt > 31 {
		return cfg.MaxRetryDelay
	}

	delay := cfg.RetryDelay * time.Duration(1<<uint(attempt-1))

	if cfg.MaxRetryDelay > 0 && (delay > cfg.MaxRetryDelay || delay < 0) {
		delay = cfg.MaxRetryDelay
	}
	return delay
}
