// Package ratelimit guards ingress endpoints with a token bucket.
package ratelimit

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/HZeroxium/fleet-control/infrastructure/errors"
	"github.com/HZeroxium/fleet-control/infrastructure/httputil"
)

// RateLimitConfig configures the limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	Window            time.Duration
}

// DefaultConfig returns sensible defaults for the heartbeat intake.
func DefaultConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 500,
		Burst:             1000,
		Window:            time.Second,
	}
}

// RateLimiter wraps a token bucket.
type RateLimiter struct {
	limiter *rate.Limiter
	config  RateLimitConfig
}

// New creates a RateLimiter from cfg, applying defaults.
func New(cfg RateLimitConfig) *RateLimiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 500
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond * 2)
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		config:  cfg,
	}
}

// Allow reports whether one request may proceed now.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Middleware sheds requests above the configured rate with 429.
func (r *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !r.Allow() {
			httputil.WriteError(w, req, apperrors.RateLimitExceeded(int(r.config.RequestsPerSecond), "1s"))
			return
		}
		next.ServeHTTP(w, req)
	})
}
