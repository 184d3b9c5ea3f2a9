package resilience

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	apperrors "github.com/HZeroxium/fleet-control/infrastructure/errors"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64 // 0-1; delay drawn uniformly from [d*(1-j), d*(1+j)]
}

// DefaultRetryConfig returns sensible defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.5,
	}
}

// IsRetryable reports whether err is worth retrying: network timeouts,
// connection refused, I/O errors, and broker failures. Errors carrying a
// terminal taxonomy code are never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if svcErr := apperrors.GetServiceError(err); svcErr != nil {
		return !apperrors.IsTerminal(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

// Retry executes fn with exponential backoff. When budget is non-nil it is
// consulted before every retry; denial surfaces the budget error immediately.
// Only idempotent operations should be passed here.
func Retry(ctx context.Context, operation string, cfg RetryConfig, budget *RetryBudget, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	if cfg.InitialDelay > 0 {
		bo.InitialInterval = cfg.InitialDelay
	}
	if cfg.MaxDelay > 0 {
		bo.MaxInterval = cfg.MaxDelay
	}
	if cfg.Multiplier > 0 {
		bo.Multiplier = cfg.Multiplier
	}
	bo.RandomizationFactor = cfg.Jitter
	bo.MaxElapsedTime = 0
	bo.Reset()

	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) || attempt >= cfg.MaxAttempts {
			return lastErr
		}
		if budget != nil && !budget.AllowRetry() {
			return apperrors.RetryBudgetExhausted(operation)
		}

		select {
		case <-ctx.Done():
			return TranslateCancellation(ctx, operation)
		case <-time.After(bo.NextBackOff()):
		}
	}
}
