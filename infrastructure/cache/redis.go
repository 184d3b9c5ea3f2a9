package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/HZeroxium/fleet-control/infrastructure/errors"
	"github.com/HZeroxium/fleet-control/infrastructure/resilience"
)

// RedisStore is the distributed L2 tier. Every backend call is guarded by the
// resilience pipeline so a degraded Redis degrades reads to L1 instead of
// stalling callers.
type RedisStore struct {
	client   redis.UniversalClient
	pipeline *resilience.Pipeline
	prefix   string
}

// NewRedisStore wraps client as an L2 tier. pipeline may be nil (unguarded,
// used in tests).
func NewRedisStore(client redis.UniversalClient, pipeline *resilience.Pipeline, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "cache:"
	}
	return &RedisStore{client: client, pipeline: pipeline, prefix: prefix}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	fetch := func(ctx context.Context) (interface{}, error) {
		raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, nil
			}
			return nil, apperrors.Transient("cache.l2.get", err)
		}
		return raw, nil
	}

	var value interface{}
	var err error
	if s.pipeline != nil {
		value, err = s.pipeline.Execute(ctx, fetch)
	} else {
		value, err = fetch(ctx)
	}
	if err != nil {
		return nil, false, err
	}
	if value == nil {
		return nil, false, nil
	}
	return value.([]byte), true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	write := func(ctx context.Context) (interface{}, error) {
		if err := s.client.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
			return nil, apperrors.Transient("cache.l2.set", err)
		}
		return nil, nil
	}
	if s.pipeline != nil {
		_, err := s.pipeline.Execute(ctx, write)
		return err
	}
	_, err := write(ctx)
	return err
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return apperrors.Transient("cache.l2.delete", err)
	}
	return nil
}
