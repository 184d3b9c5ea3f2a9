// Package cache implements the tiered cache engine: an in-process bounded L1,
// an optional distributed L2, and a provider manager supporting runtime
// hot-swap between LOCAL, DISTRIBUTED, TIERED, and NOOP.
package cache

import (
	"context"
	"time"
)

// Store is a byte-level cache tier.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// noopStore ignores writes and misses every read.
type noopStore struct{}

func (noopStore) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, nil }
func (noopStore) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (noopStore) Delete(context.Context, string) error                     { return nil }
