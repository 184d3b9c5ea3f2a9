package cache

import (
	"context"
	"time"
)

// CorrelationTable is a distributed pending-reply map built on the cache
// engine. Entries carry a TTL derived from the request deadline; a sweep is
// unnecessary because expiry is enforced by the underlying tiers.
type CorrelationTable struct {
	engine *Engine
	prefix string
	ttl    time.Duration
}

// NewCorrelationTable creates a table with the given default entry TTL.
func NewCorrelationTable(engine *Engine, ttl time.Duration) *CorrelationTable {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CorrelationTable{engine: engine, prefix: "corr:", ttl: ttl}
}

// Register records a pending request keyed by correlation ID. When deadline is
// non-zero the entry expires at the deadline instead of the default TTL.
func (t *CorrelationTable) Register(ctx context.Context, correlationID string, payload interface{}, deadline time.Time) error {
	ttl := t.ttl
	if !deadline.IsZero() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil // already past its deadline: nothing left to resolve
		}
		ttl = remaining
	}
	return t.engine.Set(ctx, t.prefix+correlationID, payload, ttl)
}

// Resolve fetches and removes a pending entry.
func (t *CorrelationTable) Resolve(ctx context.Context, correlationID string, out interface{}) (bool, error) {
	found, err := t.engine.Get(ctx, t.prefix+correlationID, out)
	if err != nil || !found {
		return false, err
	}
	_ = t.engine.Delete(ctx, t.prefix+correlationID)
	return true, nil
}
