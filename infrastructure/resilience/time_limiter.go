package resilience

import (
	"context"
	"time"

	apperrors "github.com/HZeroxium/fleet-control/infrastructure/errors"
)

// TimeLimit runs fn under a hard per-attempt deadline. Expiry cancels the
// in-flight call through its context (best-effort; the goroutine drains in the
// background) and fails with Timeout.
func TimeLimit(ctx context.Context, operation string, limit time.Duration, fn func(ctx context.Context) error) error {
	if limit <= 0 {
		return fn(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(attemptCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return TranslateCancellation(ctx, operation)
		}
		return apperrors.Timeout(operation)
	}
}
