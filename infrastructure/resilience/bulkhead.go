package resilience

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	apperrors "github.com/HZeroxium/fleet-control/infrastructure/errors"
)

// BulkheadConfig bounds concurrent admission to a dependency.
type BulkheadConfig struct {
	Name               string
	MaxConcurrentCalls int
	MaxWaitDuration    time.Duration
}

// DefaultBulkheadConfig returns sensible defaults
func DefaultBulkheadConfig(name string) BulkheadConfig {
	return BulkheadConfig{
		Name:               name,
		MaxConcurrentCalls: 25,
		MaxWaitDuration:    100 * time.Millisecond,
	}
}

// Bulkhead is a weighted-semaphore admission gate. Waiters block up to
// MaxWaitDuration; exhaustion is terminal. Cancellation during the wait never
// leaks a permit: a failed Acquire holds nothing.
type Bulkhead struct {
	config   BulkheadConfig
	sem      *semaphore.Weighted
	inFlight func(delta float64)
}

// NewBulkhead creates a Bulkhead from cfg, applying defaults.
func NewBulkhead(cfg BulkheadConfig) *Bulkhead {
	if cfg.MaxConcurrentCalls <= 0 {
		cfg.MaxConcurrentCalls = 25
	}
	if cfg.MaxWaitDuration <= 0 {
		cfg.MaxWaitDuration = 100 * time.Millisecond
	}
	return &Bulkhead{
		config: cfg,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrentCalls)),
	}
}

// OnInFlightChange registers a gauge callback invoked with +1 / -1.
func (b *Bulkhead) OnInFlightChange(fn func(delta float64)) {
	b.inFlight = fn
}

// Acquire admits a call or fails with BulkheadFull after MaxWaitDuration.
// The returned release function must always be called after the inner call.
func (b *Bulkhead) Acquire(ctx context.Context) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, b.config.MaxWaitDuration)
	defer cancel()

	if err := b.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, TranslateCancellation(ctx, b.config.Name)
		}
		return nil, apperrors.BulkheadFull(b.config.Name)
	}
	if b.inFlight != nil {
		b.inFlight(1)
	}
	return func() {
		b.sem.Release(1)
		if b.inFlight != nil {
			b.inFlight(-1)
		}
	}, nil
}
