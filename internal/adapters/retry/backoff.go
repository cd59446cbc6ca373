// Package retry provides exponential backoff for the resilient executor.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"syscall"
	"time"

	"github.com/YuriyZhabov/stellar-voice-agent/internal/config"
)

// Delay computes the pause before attempt k (1-based):
// min(base * exponentialBase^(k-1), max), times a uniform jitter factor in
// [0.5, 1.0] when jitter is enabled. No delay follows the final attempt.
func Delay(cfg config.RetryConfig, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(cfg.BaseDelay) * math.Pow(cfg.ExponentialBase, float64(attempt-1))
	if max := float64(cfg.MaxDelay); cfg.MaxDelay > 0 && d > max {
		d = max
	}
	if cfg.Jitter {
		d *= 0.5 + rand.Float64()*0.5
	}
	return time.Duration(d)
}

// IsRetryable reports whether an error is worth another attempt. Context
// cancellation and local validation failures are not.
func IsRetryable(err error) bool {
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

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return !dnsErr.IsNotFound
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.ECONNREFUSED) ||
			errors.Is(opErr.Err, syscall.ECONNRESET) ||
			errors.Is(opErr.Err, syscall.EPIPE) {
			return true
		}
	}

	return true
}

// WithBackoff runs fn up to cfg.MaxAttempts times, pausing per Delay between
// attempts. onRetry, when non-nil, observes every failed attempt that will
// be retried.
func WithBackoff(ctx context.Context, cfg config.RetryConfig, fn func(ctx context.Context, attempt int) error, onRetry func(attempt int, err error, delay time.Duration)) error {
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return fmt.Errorf("non-retryable error on attempt %d: %w", attempt, err)
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := Delay(cfg, attempt)
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}
