package httputil

import (
	"net/http"

	"github.com/HZeroxium/fleet-control/infrastructure/logging"
	"github.com/HZeroxium/fleet-control/infrastructure/resilience"
)

// DeadlineMiddleware lifts an X-Request-Deadline header (RFC 3339 UTC) into
// the request context. Malformed values are ignored; the request proceeds
// without a deadline.
func DeadlineMiddleware(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(resilience.DeadlineHeader)
			if raw != "" {
				at, err := resilience.ParseDeadline(raw)
				if err != nil {
					if logger != nil {
						logger.WithError(err).WithField("value", raw).Debug("ignoring malformed request deadline")
					}
				} else {
					r = r.WithContext(resilience.ContextWithDeadlineInstant(r.Context(), at))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// DeadlineTransport re-emits the ambient request deadline on outbound calls.
// No header is emitted when the context carries no deadline.
type DeadlineTransport struct {
	Base http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *DeadlineTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if at, ok := resilience.DeadlineInstant(req.Context()); ok {
		req = req.Clone(req.Context())
		req.Header.Set(resilience.DeadlineHeader, resilience.FormatDeadline(at))
	}
	return base.RoundTrip(req)
}

// NewClient returns an HTTP client that propagates request deadlines.
func NewClient(base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	clone := *base
	clone.Transport = &DeadlineTransport{Base: base.Transport}
	return &clone
}
