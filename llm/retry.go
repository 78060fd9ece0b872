// ABOUTME: Retry with exponential backoff and jitter for provider API calls.
// ABOUTME: Retries transient failures (rate limits, 5xx, timeouts) and respects context cancellation.
package llm

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"net"
	"strings"
	"time"
)

// RetryConfig controls how transient provider failures are retried.
type RetryConfig struct {
	// MaxRetries is the number of retry attempts after the initial call.
	MaxRetries int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration

	// BackoffMultiplier controls exponential growth of the delay.
	BackoffMultiplier float64

	// Jitter randomizes each delay between zero and the computed backoff.
	Jitter bool
}

// DefaultRetryConfig returns 2 retries with 1s base delay, 30s cap,
// 2x backoff, and jitter enabled.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        2,
		BaseDelay:         time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// delayFor computes the backoff delay for a 0-indexed retry attempt.
func (c RetryConfig) delayFor(attempt int) time.Duration {
	delay := float64(c.BaseDelay) * math.Pow(c.BackoffMultiplier, float64(attempt))
	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	d := time.Duration(delay)
	if c.Jitter && d > 0 {
		d = time.Duration(rand.Int64N(int64(d) + 1))
	}
	return d
}

// withRetry runs fn, retrying retryable errors up to cfg.MaxRetries
// times with backoff. Context cancellation stops the loop immediately.
func withRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt >= cfg.MaxRetries || !isRetryable(lastErr) {
			return lastErr
		}
		timer := time.NewTimer(cfg.delayFor(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// isRetryable reports whether an error looks transient. Rate limits,
// server errors, and network timeouts retry; auth and validation
// failures do not.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429", "rate limit", "too many requests",
		"500", "502", "503", "504",
		"overloaded", "connection reset", "connection refused", "timeout",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
