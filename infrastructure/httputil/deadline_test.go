package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/HZeroxium/fleet-control/infrastructure/resilience"
)

func TestDeadlineMiddleware_LiftsHeaderIntoContext(t *testing.T) {
	var captured time.Time
	var found bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, found = resilience.DeadlineInstant(r.Context())
	})

	handler := DeadlineMiddleware(nil)(inner)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(resilience.DeadlineHeader, "2024-06-01T12:00:30Z")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !found {
		t.Fatal("deadline not lifted into context")
	}
	want := time.Date(2024, 6, 1, 12, 0, 30, 0, time.UTC)
	if !captured.Equal(want) {
		t.Errorf("captured %v, want %v", captured, want)
	}
}

func TestDeadlineMiddleware_IgnoresMalformedHeader(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, found := resilience.DeadlineInstant(r.Context()); found {
			t.Error("malformed header must not set a deadline")
		}
	})

	handler := DeadlineMiddleware(nil)(inner)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(resilience.DeadlineHeader, "not-a-time")
	handler.ServeHTTP(httptest.NewRecorder(), req)
}

func TestDeadlineTransport_ReEmitsHeader(t *testing.T) {
	var received string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received = r.Header.Get(resilience.DeadlineHeader)
	}))
	defer upstream.Close()

	at := time.Date(2024, 6, 1, 12, 0, 30, 0, time.UTC)
	ctx := resilience.ContextWithDeadlineInstant(httptest.NewRequest(http.MethodGet, "/", nil).Context(), at)

	client := NewClient(nil)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, upstream.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if received != "2024-06-01T12:00:30Z" {
		t.Errorf("outbound header %q, want the inbound deadline", received)
	}
}

func TestDeadlineTransport_NoHeaderWithoutDeadline(t *testing.T) {
	var present bool
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, present = r.Header[resilience.DeadlineHeader]
	}))
	defer upstream.Close()

	client := NewClient(nil)
	resp, err := client.Get(upstream.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if present {
		t.Error("no header must be emitted without an ambient deadline")
	}
}
