package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/HZeroxium/fleet-control/domain/approval"
	"github.com/HZeroxium/fleet-control/pkg/storage"
)

// ApprovalStore keeps aggregates in memory with conditional-version commits.
type ApprovalStore struct {
	mu       sync.RWMutex
	requests map[string]approval.Request
}

// NewApprovalStore creates an empty aggregate store.
func NewApprovalStore() *ApprovalStore {
	return &ApprovalStore{requests: make(map[string]approval.Request)}
}

func (s *ApprovalStore) Insert(_ context.Context, req *approval.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[req.ID]; exists {
		return storage.ErrDuplicateKey
	}
	s.requests[req.ID] = cloneRequest(req)
	return nil
}

func (s *ApprovalStore) Get(_ context.Context, id string) (*approval.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := cloneRequest(&req)
	return &out, nil
}

func (s *ApprovalStore) UpdateVersioned(_ context.Context, req *approval.Request, expected int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.requests[req.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if stored.Version != expected {
		return storage.ErrVersionConflict
	}
	updated := cloneRequest(req)
	updated.Version = expected + 1
	s.requests[req.ID] = updated
	req.Version = updated.Version
	return nil
}

func (s *ApprovalStore) ListPendingOlderThan(_ context.Context, cutoff time.Time) ([]approval.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []approval.Request
	for _, req := range s.requests {
		if req.Status == approval.StatusPending && req.CreatedAt.Before(cutoff) {
			out = append(out, cloneRequest(&req))
		}
	}
	sortRequests(out)
	return out, nil
}

func (s *ApprovalStore) ListPendingByGate(_ context.Context, gate string) ([]approval.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []approval.Request
	for _, req := range s.requests {
		if req.Status == approval.StatusPending && req.HasGate(gate) {
			out = append(out, cloneRequest(&req))
		}
	}
	sortRequests(out)
	return out, nil
}

func cloneRequest(req *approval.Request) approval.Request {
	out := *req
	out.Required = append([]approval.Gate(nil), req.Required...)
	out.Counts = make(map[string]int, len(req.Counts))
	for gate, n := range req.Counts {
		out.Counts[gate] = n
	}
	return out
}

func sortRequests(requests []approval.Request) {
	sort.Slice(requests, func(i, j int) bool {
		return requests[i].CreatedAt.Before(requests[j].CreatedAt)
	})
}

// DecisionStore keeps append-only decisions with compound-key uniqueness.
type DecisionStore struct {
	mu        sync.RWMutex
	decisions map[string]approval.Decision // keyed by requestID|approverID|gate
}

// NewDecisionStore creates an empty decision store.
func NewDecisionStore() *DecisionStore {
	return &DecisionStore{decisions: make(map[string]approval.Decision)}
}

func decisionKey(requestID, approverUserID, gate string) string {
	return requestID + "|" + approverUserID + "|" + gate
}

func (s *DecisionStore) Insert(_ context.Context, decision *approval.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := decisionKey(decision.RequestID, decision.ApproverUserID, decision.Gate)
	if _, exists := s.decisions[key]; exists {
		return storage.ErrDuplicateKey
	}
	s.decisions[key] = *decision
	return nil
}

func (s *DecisionStore) GetByKey(_ context.Context, requestID, approverUserID, gate string) (*approval.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	decision, ok := s.decisions[decisionKey(requestID, approverUserID, gate)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &decision, nil
}

func (s *DecisionStore) ListByRequest(_ context.Context, requestID string) ([]approval.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []approval.Decision
	for _, decision := range s.decisions {
		if decision.RequestID == requestID {
			out = append(out, decision)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DecidedAt.Before(out[j].DecidedAt)
	})
	return out, nil
}
