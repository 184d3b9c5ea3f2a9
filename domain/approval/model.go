// Package approval holds the multi-gate approval aggregate and its pure state
// machine. The aggregate owns its invariants and version; decisions are
// append-only events owned by the decision store and only read here.
package approval

import (
	"time"
)

// RequestType enumerates the governed workflows.
type RequestType string

const (
	ClaimOwnership    RequestType = "CLAIM_OWNERSHIP"
	TransferOwnership RequestType = "TRANSFER_OWNERSHIP"
	ShareGrant        RequestType = "SHARE_GRANT"
	LifecycleRetire   RequestType = "LIFECYCLE_RETIRE"
)

// Status is the aggregate lifecycle state. PENDING is the only non-terminal
// state; terminal states are immutable.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
)

// IsTerminal reports whether s admits no further transitions.
func (s Status) IsTerminal() bool {
	return s != StatusPending
}

// Well-known gate names.
const (
	GateSysAdmin     = "SYS_ADMIN"
	GateLineManager  = "LINE_MANAGER"
	GateCurrentOwner = "CURRENT_OWNER"
)

// Gate is a named approval predicate with a minimum approval count.
// Overridable gates reject only when rejections reach MinApprovals; the
// default (non-overridable) gate rejects on the first rejection.
type Gate struct {
	Name         string `json:"gate"`
	MinApprovals int    `json:"minApprovals"`
	Overridable  bool   `json:"overridable,omitempty"`
}

// Target names what a request operates on.
type Target struct {
	ServiceID string `json:"serviceId,omitempty"`
	TeamID    string `json:"teamId,omitempty"`
}

// Snapshot freezes the requester's org context at creation time so gate
// derivation and authorization do not drift with later org changes.
type Snapshot struct {
	TeamIDs   []string `json:"teamIds,omitempty"`
	ManagerID string   `json:"managerId,omitempty"`
	Roles     []string `json:"roles,omitempty"`
}

// Request is the approval aggregate root.
type Request struct {
	ID              string         `json:"id"`
	RequesterUserID string         `json:"requesterUserId"`
	Type            RequestType    `json:"requestType"`
	Target          Target         `json:"target"`
	Required        []Gate         `json:"required"`
	Status          Status         `json:"status"`
	Snapshot        Snapshot       `json:"snapshot"`
	Counts          map[string]int `json:"counts"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
	Version         int64          `json:"version"`
}

// HasGate reports whether the request requires the named gate.
func (r *Request) HasGate(gate string) bool {
	for _, g := range r.Required {
		if g.Name == gate {
			return true
		}
	}
	return false
}

// DecisionKind is an approver's verdict.
type DecisionKind string

const (
	Approve DecisionKind = "APPROVE"
	Reject  DecisionKind = "REJECT"
)

// Decision is an append-only event; at most one exists per
// (RequestID, ApproverUserID, Gate).
type Decision struct {
	ID             string       `json:"id"`
	RequestID      string       `json:"requestId"`
	ApproverUserID string       `json:"approverUserId"`
	Gate           string       `json:"gate"`
	Decision       DecisionKind `json:"decision"`
	DecidedAt      time.Time    `json:"decidedAt"`
	Note           string       `json:"note,omitempty"`
}

// Matches reports whether other records the same verdict and note, which is
// the condition for absorbing a duplicate idempotently.
func (d *Decision) Matches(other *Decision) bool {
	return d.Decision == other.Decision && d.Note == other.Note
}
