// Package registry manages the application-service catalog: creation,
// lifecycle, sharing, and the ownership changes that finalized approval
// requests apply.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/HZeroxium/fleet-control/domain/approval"
	"github.com/HZeroxium/fleet-control/domain/registry"
	"github.com/HZeroxium/fleet-control/infrastructure/cache"
	apperrors "github.com/HZeroxium/fleet-control/infrastructure/errors"
	"github.com/HZeroxium/fleet-control/infrastructure/logging"
	"github.com/HZeroxium/fleet-control/pkg/storage"
)

const (
	updateAttempts = 3
	cacheKeyPrefix = "svc:"
	cacheTTL       = 5 * time.Minute
)

// Service coordinates the catalog with write-through caching.
type Service struct {
	store  storage.RegistryStore
	cache  *cache.Engine
	logger *logging.Logger
}

// NewService wires the catalog service. cache may be nil.
func NewService(store storage.RegistryStore, engine *cache.Engine, logger *logging.Logger) *Service {
	return &Service{store: store, cache: engine, logger: logger}
}

// CreateService registers a service. An empty ownerTeamID creates an orphan
// eligible for a CLAIM_OWNERSHIP workflow.
func (s *Service) CreateService(ctx context.Context, displayName, ownerTeamID, repoURL string, environments, tags []string) (*registry.ApplicationService, error) {
	if displayName == "" {
		return nil, apperrors.MissingParameter("displayName")
	}
	now := time.Now().UTC()
	svc := &registry.ApplicationService{
		ID:           uuid.New().String(),
		DisplayName:  displayName,
		OwnerTeamID:  ownerTeamID,
		Environments: environments,
		Tags:         tags,
		Lifecycle:    registry.LifecycleActive,
		RepoURL:      repoURL,
		CreatedAt:    now,
		UpdatedAt:    now,
		Version:      0,
	}
	if err := s.store.InsertService(ctx, svc); err != nil {
		return nil, apperrors.DatabaseError("registry.insert", err)
	}
	s.cacheService(ctx, svc)
	return svc, nil
}

// GetService loads one service, preferring the cache.
func (s *Service) GetService(ctx context.Context, id string) (*registry.ApplicationService, error) {
	if s.cache != nil {
		var cached registry.ApplicationService
		if found, err := s.cache.Get(ctx, cacheKeyPrefix+id, &cached); err == nil && found {
			return &cached, nil
		}
	}
	svc, err := s.store.GetService(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NotFound("application_service", id)
	}
	if err != nil {
		return nil, apperrors.DatabaseError("registry.get", err)
	}
	s.cacheService(ctx, svc)
	return svc, nil
}

// ListServices returns the catalog.
func (s *Service) ListServices(ctx context.Context) ([]registry.ApplicationService, error) {
	services, err := s.store.ListServices(ctx)
	if err != nil {
		return nil, apperrors.DatabaseError("registry.list", err)
	}
	return services, nil
}

// ChangeLifecycle moves a service between catalog states.
func (s *Service) ChangeLifecycle(ctx context.Context, id string, to registry.Lifecycle) (*registry.ApplicationService, error) {
	switch to {
	case registry.LifecycleActive, registry.LifecycleDeprecated, registry.LifecycleRetired:
	default:
		return nil, apperrors.InvalidInput("lifecycle", "unknown state")
	}
	return s.update(ctx, id, func(svc *registry.ApplicationService) error {
		svc.Lifecycle = to
		return nil
	})
}

// SetOwner assigns the owning team.
func (s *Service) SetOwner(ctx context.Context, id, teamID string) (*registry.ApplicationService, error) {
	if teamID == "" {
		return nil, apperrors.MissingParameter("teamId")
	}
	return s.update(ctx, id, func(svc *registry.ApplicationService) error {
		svc.OwnerTeamID = teamID
		return nil
	})
}

// update applies mutate under optimistic version control with bounded retry.
func (s *Service) update(ctx context.Context, id string, mutate func(*registry.ApplicationService) error) (*registry.ApplicationService, error) {
	for attempt := 0; attempt < updateAttempts; attempt++ {
		svc, err := s.store.GetService(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperrors.NotFound("application_service", id)
		}
		if err != nil {
			return nil, apperrors.DatabaseError("registry.get", err)
		}
		if err := mutate(svc); err != nil {
			return nil, err
		}

		observed := svc.Version
		svc.UpdatedAt = time.Now().UTC()
		err = s.store.UpdateServiceVersioned(ctx, svc, observed)
		if err == nil {
			s.cacheService(ctx, svc)
			return svc, nil
		}
		if !errors.Is(err, storage.ErrVersionConflict) {
			return nil, apperrors.DatabaseError("registry.update", err)
		}
	}
	return nil, apperrors.Contention("application_service", id)
}

// GrantShare creates a share after invariant checks. The compound uniqueness
// of (service, grantee type, grantee, environment set) is enforced here and
// by the store.
func (s *Service) GrantShare(ctx context.Context, share *registry.ServiceShare) (*registry.ServiceShare, error) {
	if share.ID == "" {
		share.ID = uuid.New().String()
	}
	if share.CreatedAt.IsZero() {
		share.CreatedAt = time.Now().UTC()
	}
	if err := share.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.GetService(ctx, share.ServiceID); err != nil {
		return nil, err
	}
	if err := s.store.InsertShare(ctx, share); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil, apperrors.AlreadyExists("service_share", share.ServiceID)
		}
		return nil, apperrors.DatabaseError("share.insert", err)
	}
	return share, nil
}

// ListShares returns a service's shares.
func (s *Service) ListShares(ctx context.Context, serviceID string) ([]registry.ServiceShare, error) {
	shares, err := s.store.ListShares(ctx, serviceID)
	if err != nil {
		return nil, apperrors.DatabaseError("share.list", err)
	}
	return shares, nil
}

// RevokeShare deletes a share.
func (s *Service) RevokeShare(ctx context.Context, id string) error {
	err := s.store.DeleteShare(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.NotFound("service_share", id)
	}
	if err != nil {
		return apperrors.DatabaseError("share.delete", err)
	}
	return nil
}

// ApplyFinalized applies the catalog effect of an approved request: claims
// and transfers assign ownership, retirements move the lifecycle. Rejected,
// cancelled, and expired requests change nothing.
func (s *Service) ApplyFinalized(ctx context.Context, req *approval.Request) {
	if req.Status != approval.StatusApproved || req.Target.ServiceID == "" {
		return
	}
	var err error
	switch req.Type {
	case approval.ClaimOwnership, approval.TransferOwnership:
		if req.Target.TeamID != "" {
			_, err = s.SetOwner(ctx, req.Target.ServiceID, req.Target.TeamID)
		}
	case approval.LifecycleRetire:
		_, err = s.ChangeLifecycle(ctx, req.Target.ServiceID, registry.LifecycleRetired)
	}
	if err != nil {
		s.logger.WithError(err).WithFields(map[string]interface{}{
			"request_id": req.ID,
			"service_id": req.Target.ServiceID,
		}).Error("applying finalized approval failed")
	}
}

func (s *Service) cacheService(ctx context.Context, svc *registry.ApplicationService) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKeyPrefix+svc.ID, svc, cacheTTL); err != nil {
		s.logger.WithError(err).Debug("catalog cache write failed")
	}
}
