package approval

import (
	"context"
	"sync"

	"github.com/HZeroxium/fleet-control/domain/approval"
	apperrors "github.com/HZeroxium/fleet-control/infrastructure/errors"
	"github.com/HZeroxium/fleet-control/pkg/storage"
)

// StaticAuthz authorizes gates from a role table and the catalog. SYS_ADMIN
// requires the admin role; LINE_MANAGER must match the manager captured in
// the request snapshot; CURRENT_OWNER requires membership of the owning team
// of the targeted service.
type StaticAuthz struct {
	registry storage.RegistryStore

	mu        sync.RWMutex
	sysAdmins map[string]bool
	teams     map[string]map[string]bool // teamID -> userID set
}

// NewStaticAuthz creates an empty role table backed by the catalog.
func NewStaticAuthz(registry storage.RegistryStore) *StaticAuthz {
	return &StaticAuthz{
		registry:  registry,
		sysAdmins: make(map[string]bool),
		teams:     make(map[string]map[string]bool),
	}
}

// GrantSysAdmin marks a user as SYS_ADMIN.
func (a *StaticAuthz) GrantSysAdmin(userID string) {
	a.mu.Lock()
	a.sysAdmins[userID] = true
	a.mu.Unlock()
}

// AddTeamMember records team membership.
func (a *StaticAuthz) AddTeamMember(teamID, userID string) {
	a.mu.Lock()
	if a.teams[teamID] == nil {
		a.teams[teamID] = make(map[string]bool)
	}
	a.teams[teamID][userID] = true
	a.mu.Unlock()
}

// IsSysAdmin implements Authz.
func (a *StaticAuthz) IsSysAdmin(_ context.Context, userID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sysAdmins[userID]
}

// Authorize implements Authz.
func (a *StaticAuthz) Authorize(ctx context.Context, userID, gate string, req *approval.Request) error {
	switch gate {
	case approval.GateSysAdmin:
		if !a.IsSysAdmin(ctx, userID) {
			return apperrors.Forbidden("gate requires the sys admin role")
		}
	case approval.GateLineManager:
		if req.Snapshot.ManagerID == "" || req.Snapshot.ManagerID != userID {
			return apperrors.Forbidden("gate requires the requester's line manager")
		}
	case approval.GateCurrentOwner:
		if err := a.authorizeOwner(ctx, userID, req); err != nil {
			return err
		}
	default:
		return apperrors.Forbidden("unknown gate")
	}
	return nil
}

func (a *StaticAuthz) authorizeOwner(ctx context.Context, userID string, req *approval.Request) error {
	if req.Target.ServiceID == "" {
		return apperrors.Forbidden("request has no service target")
	}
	svc, err := a.registry.GetService(ctx, req.Target.ServiceID)
	if err != nil {
		return apperrors.Forbidden("service owner cannot be resolved")
	}
	if svc.IsOrphan() {
		return apperrors.Forbidden("service has no owning team")
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.teams[svc.OwnerTeamID][userID] {
		return apperrors.Forbidden("gate requires membership of the owning team")
	}
	return nil
}
