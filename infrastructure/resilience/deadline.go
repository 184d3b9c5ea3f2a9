package resilience

import (
	"context"
	"time"

	apperrors "github.com/HZeroxium/fleet-control/infrastructure/errors"
)

// DeadlineHeader is the wire header carrying the absolute request deadline.
const DeadlineHeader = "X-Request-Deadline"

type deadlineKey struct{}

// ContextWithDeadlineInstant attaches an absolute request deadline to ctx.
// The instant rides the context so it survives across decorator layers and is
// re-emitted on outbound calls; it does not cancel the context by itself.
func ContextWithDeadlineInstant(ctx context.Context, at time.Time) context.Context {
	return context.WithValue(ctx, deadlineKey{}, at)
}

// DeadlineInstant returns the ambient request deadline, if any.
func DeadlineInstant(ctx context.Context) (time.Time, bool) {
	at, ok := ctx.Value(deadlineKey{}).(time.Time)
	return at, ok
}

// CheckDeadline fails fast when the ambient deadline is already in the past.
func CheckDeadline(ctx context.Context, operation string) error {
	at, ok := DeadlineInstant(ctx)
	if !ok {
		return nil
	}
	if !time.Now().Before(at) {
		return apperrors.DeadlineExceeded(operation)
	}
	return nil
}

// TranslateCancellation maps a context error to the taxonomy: DeadlineExceeded
// when the ambient deadline has passed, Cancelled otherwise.
func TranslateCancellation(ctx context.Context, operation string) error {
	if at, ok := DeadlineInstant(ctx); ok && !time.Now().Before(at) {
		return apperrors.DeadlineExceeded(operation)
	}
	if ctx.Err() == context.DeadlineExceeded {
		return apperrors.DeadlineExceeded(operation)
	}
	return apperrors.Cancelled(operation)
}

// FormatDeadline renders a deadline for the wire header (RFC 3339, UTC).
func FormatDeadline(at time.Time) string {
	return at.UTC().Format(time.RFC3339)
}

// ParseDeadline parses a wire header value into an instant.
func ParseDeadline(value string) (time.Time, error) {
	return time.Parse(time.RFC3339, value)
}
