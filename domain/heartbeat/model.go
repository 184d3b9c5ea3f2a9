// Package heartbeat defines the liveness signal emitted by SDK-instrumented
// workers and the fleet projection derived from it.
package heartbeat

import (
	"time"

	apperrors "github.com/HZeroxium/fleet-control/infrastructure/errors"
)

// Payload is one liveness signal. Immutable once built; the partition key is
// ServiceName.
type Payload struct {
	ServiceName string            `json:"serviceName" validate:"required"`
	InstanceID  string            `json:"instanceId" validate:"required"`
	ConfigHash  string            `json:"configHash"`
	Host        string            `json:"host"`
	Port        int               `json:"port"`
	Environment string            `json:"environment"`
	Version     string            `json:"version"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ObservedAt  time.Time         `json:"observedAt,omitempty"`
}

// Validate enforces the payload invariants.
func (p *Payload) Validate() error {
	if p.ServiceName == "" {
		return apperrors.MissingParameter("serviceName")
	}
	if p.InstanceID == "" {
		return apperrors.MissingParameter("instanceId")
	}
	return nil
}

// PartitionKey returns the broker partition key.
func (p *Payload) PartitionKey() string {
	return p.ServiceName
}

// FleetEntry is the mutable per-instance liveness projection. Created on first
// heartbeat, refreshed on every batch, retired by the sweep.
type FleetEntry struct {
	ServiceName       string    `json:"serviceName" db:"service_name"`
	InstanceID        string    `json:"instanceId" db:"instance_id"`
	LastSeen          time.Time `json:"lastSeen" db:"last_seen"`
	ConfigHash        string    `json:"configHash" db:"config_hash"`
	LastPayload       Payload   `json:"lastPayload" db:"-"`
	ConsecutiveMisses int       `json:"consecutiveMisses" db:"consecutive_misses"`
}
