// Package memory provides in-memory store implementations for tests and
// single-node development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/HZeroxium/fleet-control/domain/heartbeat"
	"github.com/HZeroxium/fleet-control/pkg/storage"
)

// FleetStore is an in-memory projection keyed by instance ID.
type FleetStore struct {
	mu      sync.RWMutex
	entries map[string]heartbeat.FleetEntry
}

// NewFleetStore creates an empty projection store.
func NewFleetStore() *FleetStore {
	return &FleetStore{entries: make(map[string]heartbeat.FleetEntry)}
}

func (s *FleetStore) Upsert(_ context.Context, entry *heartbeat.FleetEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *entry
	stored.ConsecutiveMisses = 0
	s.entries[entry.InstanceID] = stored
	return nil
}

func (s *FleetStore) Get(_ context.Context, instanceID string) (*heartbeat.FleetEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[instanceID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &entry, nil
}

func (s *FleetStore) ListByService(_ context.Context, serviceName string) ([]heartbeat.FleetEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []heartbeat.FleetEntry
	for _, entry := range s.entries {
		if entry.ServiceName == serviceName {
			out = append(out, entry)
		}
	}
	sortEntries(out)
	return out, nil
}

func (s *FleetStore) List(_ context.Context) ([]heartbeat.FleetEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]heartbeat.FleetEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry)
	}
	sortEntries(out)
	return out, nil
}

func (s *FleetStore) MarkMissed(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	touched := 0
	for id, entry := range s.entries {
		if entry.LastSeen.Before(cutoff) {
			entry.ConsecutiveMisses++
			s.entries[id] = entry
			touched++
		}
	}
	return touched, nil
}

func (s *FleetStore) Retire(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, entry := range s.entries {
		if entry.LastSeen.Before(cutoff) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}

func sortEntries(entries []heartbeat.FleetEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ServiceName != entries[j].ServiceName {
			return entries[i].ServiceName < entries[j].ServiceName
		}
		return entries[i].InstanceID < entries[j].InstanceID
	})
}
