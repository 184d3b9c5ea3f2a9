package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// LocalStore is the in-process L1 tier: a bounded LRU with per-entry TTL
// enforcement on read. The LRU provides its own internal locking.
type LocalStore struct {
	entries *lru.LRU[string, localEntry]
}

type localEntry struct {
	value   []byte
	expires time.Time
}

// NewLocalStore creates an L1 store holding at most maxEntries values.
// defaultTTL bounds entry lifetime at the LRU level; per-call TTLs shorter
// than that are enforced on read.
func NewLocalStore(maxEntries int, defaultTTL time.Duration) *LocalStore {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &LocalStore{
		entries: lru.NewLRU[string, localEntry](maxEntries, nil, defaultTTL),
	}
}

func (s *LocalStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	entry, ok := s.entries.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !entry.expires.IsZero() && time.Now().After(entry.expires) {
		s.entries.Remove(key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (s *LocalStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := localEntry{value: value}
	if ttl > 0 {
		entry.expires = time.Now().Add(ttl)
	}
	s.entries.Add(key, entry)
	return nil
}

func (s *LocalStore) Delete(_ context.Context, key string) error {
	s.entries.Remove(key)
	return nil
}

// Len returns the number of entries held by the LRU. An entry whose per-call
// TTL has passed is still counted until a read removes it or the LRU's own
// TTL evicts it.
func (s *LocalStore) Len() int {
	return s.entries.Len()
}
