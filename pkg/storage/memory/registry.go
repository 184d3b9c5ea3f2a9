package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/HZeroxium/fleet-control/domain/registry"
	"github.com/HZeroxium/fleet-control/pkg/storage"
)

// RegistryStore keeps the service catalog and shares in memory.
type RegistryStore struct {
	mu       sync.RWMutex
	services map[string]registry.ApplicationService
	shares   map[string]registry.ServiceShare
}

// NewRegistryStore creates an empty catalog store.
func NewRegistryStore() *RegistryStore {
	return &RegistryStore{
		services: make(map[string]registry.ApplicationService),
		shares:   make(map[string]registry.ServiceShare),
	}
}

func (s *RegistryStore) InsertService(_ context.Context, svc *registry.ApplicationService) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.services[svc.ID]; exists {
		return storage.ErrDuplicateKey
	}
	s.services[svc.ID] = *svc
	return nil
}

func (s *RegistryStore) GetService(_ context.Context, id string) (*registry.ApplicationService, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	svc, ok := s.services[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &svc, nil
}

func (s *RegistryStore) ListServices(_ context.Context) ([]registry.ApplicationService, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]registry.ApplicationService, 0, len(s.services))
	for _, svc := range s.services {
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *RegistryStore) UpdateServiceVersioned(_ context.Context, svc *registry.ApplicationService, expected int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.services[svc.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if stored.Version != expected {
		return storage.ErrVersionConflict
	}
	updated := *svc
	updated.Version = expected + 1
	s.services[svc.ID] = updated
	svc.Version = updated.Version
	return nil
}

func (s *RegistryStore) InsertShare(_ context.Context, share *registry.ServiceShare) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.shares {
		if existing.ServiceID == share.ServiceID &&
			existing.GrantToType == share.GrantToType &&
			existing.GrantToID == share.GrantToID &&
			sameEnvironments(existing.Environments, share.Environments) {
			return storage.ErrDuplicateKey
		}
	}
	s.shares[share.ID] = *share
	return nil
}

func (s *RegistryStore) ListShares(_ context.Context, serviceID string) ([]registry.ServiceShare, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []registry.ServiceShare
	for _, share := range s.shares {
		if share.ServiceID == serviceID {
			out = append(out, share)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *RegistryStore) DeleteShare(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.shares[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.shares, id)
	return nil
}

func sameEnvironments(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]bool, len(a))
	for _, env := range a {
		seen[env] = true
	}
	for _, env := range b {
		if !seen[env] {
			return false
		}
	}
	return true
}
