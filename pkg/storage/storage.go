// Package storage defines the persistence contracts for the control plane.
// Implementations live in memory (tests, single node) and postgres.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/HZeroxium/fleet-control/domain/approval"
	"github.com/HZeroxium/fleet-control/domain/heartbeat"
	"github.com/HZeroxium/fleet-control/domain/registry"
)

// Sentinel errors shared by all implementations. Service layers translate
// these into the error taxonomy.
var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrDuplicateKey    = errors.New("duplicate key")
)

// FleetStore owns the per-instance liveness projection.
type FleetStore interface {
	// Upsert creates or refreshes the entry for payload's instance,
	// resetting ConsecutiveMisses.
	Upsert(ctx context.Context, entry *heartbeat.FleetEntry) error
	Get(ctx context.Context, instanceID string) (*heartbeat.FleetEntry, error)
	ListByService(ctx context.Context, serviceName string) ([]heartbeat.FleetEntry, error)
	List(ctx context.Context) ([]heartbeat.FleetEntry, error)
	// MarkMissed increments ConsecutiveMisses for entries unseen since cutoff
	// and returns how many were touched.
	MarkMissed(ctx context.Context, cutoff time.Time) (int, error)
	// Retire deletes entries unseen since cutoff and returns how many.
	Retire(ctx context.Context, cutoff time.Time) (int, error)
}

// ApprovalStore owns approval aggregates under optimistic versioning.
type ApprovalStore interface {
	Insert(ctx context.Context, req *approval.Request) error
	Get(ctx context.Context, id string) (*approval.Request, error)
	// UpdateVersioned commits req iff the stored version equals expected,
	// storing expected+1. Returns ErrVersionConflict otherwise.
	UpdateVersioned(ctx context.Context, req *approval.Request, expected int64) error
	// ListPendingOlderThan feeds the expiry sweep.
	ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]approval.Request, error)
	// ListPendingByGate returns pending requests requiring the named gate.
	ListPendingByGate(ctx context.Context, gate string) ([]approval.Request, error)
}

// DecisionStore owns decision events. Records are append-only.
type DecisionStore interface {
	// Insert persists a decision; ErrDuplicateKey when the compound key
	// (requestId, approverUserId, gate) already exists.
	Insert(ctx context.Context, decision *approval.Decision) error
	GetByKey(ctx context.Context, requestID, approverUserID, gate string) (*approval.Decision, error)
	ListByRequest(ctx context.Context, requestID string) ([]approval.Decision, error)
}

// RegistryStore owns the application-service catalog and its shares.
type RegistryStore interface {
	InsertService(ctx context.Context, svc *registry.ApplicationService) error
	GetService(ctx context.Context, id string) (*registry.ApplicationService, error)
	ListServices(ctx context.Context) ([]registry.ApplicationService, error)
	// UpdateServiceVersioned commits svc iff the stored version equals
	// expected, storing expected+1.
	UpdateServiceVersioned(ctx context.Context, svc *registry.ApplicationService, expected int64) error

	InsertShare(ctx context.Context, share *registry.ServiceShare) error
	ListShares(ctx context.Context, serviceID string) ([]registry.ServiceShare, error)
	DeleteShare(ctx context.Context, id string) error
}
