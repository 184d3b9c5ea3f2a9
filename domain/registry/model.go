// Package registry defines the application-service catalog: the aggregate
// whose ownership and sharing the approval workflows govern.
package registry

import (
	"time"

	apperrors "github.com/HZeroxium/fleet-control/infrastructure/errors"
)

// Lifecycle is the catalog state of an application service.
type Lifecycle string

const (
	LifecycleActive     Lifecycle = "ACTIVE"
	LifecycleDeprecated Lifecycle = "DEPRECATED"
	LifecycleRetired    Lifecycle = "RETIRED"
)

// ApplicationService is the catalog aggregate root. ID is immutable; an
// absent OwnerTeamID marks the service as an orphan eligible for claiming.
// Version increases strictly on every update.
type ApplicationService struct {
	ID           string    `json:"id" db:"id"`
	DisplayName  string    `json:"displayName" db:"display_name"`
	OwnerTeamID  string    `json:"ownerTeamId,omitempty" db:"owner_team_id"`
	Environments []string  `json:"environments,omitempty" db:"-"`
	Tags         []string  `json:"tags,omitempty" db:"-"`
	Lifecycle    Lifecycle `json:"lifecycle" db:"lifecycle"`
	RepoURL      string    `json:"repoUrl,omitempty" db:"repo_url"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
	Version      int64     `json:"version" db:"version"`
}

// IsOrphan reports whether the service has no owning team.
func (s *ApplicationService) IsOrphan() bool {
	return s.OwnerTeamID == ""
}

// GrantType distinguishes share grantees.
type GrantType string

const (
	GrantToTeam GrantType = "TEAM"
	GrantToUser GrantType = "USER"
)

// Permission enumerates share capabilities.
type Permission string

const (
	PermissionView    Permission = "VIEW"
	PermissionDeploy  Permission = "DEPLOY"
	PermissionConfig  Permission = "CONFIG"
	PermissionOperate Permission = "OPERATE"
)

// ServiceShare grants a team or user scoped access to a service. At most one
// active share exists per (service, grantee type, grantee, environment set).
type ServiceShare struct {
	ID           string       `json:"id" db:"id"`
	ServiceID    string       `json:"serviceId" db:"service_id"`
	GrantToType  GrantType    `json:"grantToType" db:"grant_to_type"`
	GrantToID    string       `json:"grantToId" db:"grant_to_id"`
	Permissions  []Permission `json:"permissions" db:"-"`
	Environments []string     `json:"environments,omitempty" db:"-"`
	ExpiresAt    *time.Time   `json:"expiresAt,omitempty" db:"expires_at"`
	CreatedAt    time.Time    `json:"createdAt" db:"created_at"`
	CreatedBy    string       `json:"createdBy" db:"created_by"`
}

// Validate enforces the share invariants.
func (s *ServiceShare) Validate() error {
	if s.ServiceID == "" {
		return apperrors.MissingParameter("serviceId")
	}
	if s.GrantToID == "" {
		return apperrors.MissingParameter("grantToId")
	}
	if s.GrantToType != GrantToTeam && s.GrantToType != GrantToUser {
		return apperrors.InvalidInput("grantToType", "must be TEAM or USER")
	}
	if len(s.Permissions) == 0 {
		return apperrors.InvalidInput("permissions", "must not be empty")
	}
	if s.ExpiresAt != nil && !s.ExpiresAt.After(s.CreatedAt) {
		return apperrors.InvalidInput("expiresAt", "must be after createdAt")
	}
	return nil
}

// IsActive reports whether the share is in force at the given instant.
func (s *ServiceShare) IsActive(now time.Time) bool {
	return s.ExpiresAt == nil || s.ExpiresAt.After(now)
}
