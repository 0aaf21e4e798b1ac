// Package retry runs an operation a bounded number of times, waiting between
// attempts according to a back-off strategy.
//
// Usage:
//
//	err := retry.Do(ctx, retry.Config{MaxAttempts: 3, InitialDelay: 2 * time.Second, Backoff: retry.Fixed}, func() error {
//	    return summarizer.Summarize(ctx, text)
//	})
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Backoff selects how the wait grows between attempts.
type Backoff int

const (
	// Exponential doubles the delay after every failed attempt.
	Exponential Backoff = iota
	// Fixed waits InitialDelay between every pair of attempts.
	Fixed
	// Linear waits InitialDelay * attempt.
	Linear
)

// Config controls the retry behaviour.
type Config struct {
	// MaxAttempts is the total number of attempts (including the first).
	// Zero or negative values are treated as 1 (no retries).
	MaxAttempts int
	// InitialDelay is the wait before the second attempt.
	InitialDelay time.Duration
	// MaxDelay caps the per-attempt wait.
	MaxDelay time.Duration
	// Backoff picks the delay progression. The zero value is Exponential.
	Backoff Backoff
	// ShouldRetry is an optional predicate that lets callers classify errors
	// as retryable. When nil, all non-nil errors are retried.
	ShouldRetry func(err error) bool
	// OnRetry, when set, is called after each failed attempt that will be
	// followed by another one.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig provides defaults for short-lived local operations such as
// file writes.
var DefaultConfig = Config{
	MaxAttempts:  3,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     5 * time.Second,
}

// Delay returns the wait that follows the given failed attempt (1-based).
func (c Config) Delay(attempt int) time.Duration {
	initial := c.InitialDelay
	if initial <= 0 {
		initial = DefaultConfig.InitialDelay
	}
	maxDelay := c.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultConfig.MaxDelay
	}
	if maxDelay < initial {
		maxDelay = initial
	}

	var d time.Duration
	switch c.Backoff {
	case Fixed:
		d = initial
	case Linear:
		d = initial * time.Duration(attempt)
	default:
		d = initial
		for i := 1; i < attempt && d < maxDelay; i++ {
			d *= 2
		}
	}
	if d > maxDelay {
		d = maxDelay
	}
	return d
}

// Do calls fn up to cfg.MaxAttempts times. It stops early when ctx is
// cancelled, when fn returns nil, or when ShouldRetry rejects an error.
// The error from the last attempt is returned.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = func(err error) bool { return true }
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(lastErr, err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !shouldRetry(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := cfg.Delay(attempt)
		slog.Debug("retry: attempt failed, retrying",
			"attempt", attempt, "max", cfg.MaxAttempts,
			"err", lastErr, "delay", delay)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(lastErr, ctx.Err())
		case <-timer.C:
		}
	}

	return lastErr
}
