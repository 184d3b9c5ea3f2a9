// Package approval implements the multi-gate approval service over the
// aggregate state machine: decision recording, optimistic version control,
// cancellation, expiry, and finalization fan-out.
package approval

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/HZeroxium/fleet-control/domain/approval"
	apperrors "github.com/HZeroxium/fleet-control/infrastructure/errors"
	"github.com/HZeroxium/fleet-control/infrastructure/logging"
	"github.com/HZeroxium/fleet-control/infrastructure/metrics"
	"github.com/HZeroxium/fleet-control/pkg/storage"
)

// Authz decides whether an approver may decide a gate. Implementations
// consult org data captured in the request snapshot.
type Authz interface {
	Authorize(ctx context.Context, userID, gate string, req *approval.Request) error
	IsSysAdmin(ctx context.Context, userID string) bool
}

// Notifier publishes terminal-transition events. Failures must be absorbed by
// the implementation or the caller; they never roll a transition back.
type Notifier interface {
	RequestFinalized(ctx context.Context, req *approval.Request)
}

const (
	updateAttempts = 3
	retryBaseDelay = 20 * time.Millisecond
)

// Service coordinates the approval aggregate. Aggregate updates are
// serialized by optimistic versioning, not locking: contention shows up as
// bounded retries.
type Service struct {
	requests  storage.ApprovalStore
	decisions storage.DecisionStore
	authz     Authz
	notifier  Notifier
	logger    *logging.Logger
	metrics   *metrics.Metrics

	expiryWindow time.Duration
}

// NewService wires the approval service.
func NewService(requests storage.ApprovalStore, decisions storage.DecisionStore, authz Authz, notifier Notifier, expiryWindow time.Duration, logger *logging.Logger, m *metrics.Metrics) *Service {
	if expiryWindow <= 0 {
		expiryWindow = 72 * time.Hour
	}
	return &Service{
		requests:     requests,
		decisions:    decisions,
		authz:        authz,
		notifier:     notifier,
		logger:       logger,
		metrics:      m,
		expiryWindow: expiryWindow,
	}
}

// Create opens a new approval request. The gate list derives deterministically
// from the request type, target, and requester snapshot.
func (s *Service) Create(ctx context.Context, requesterUserID string, requestType approval.RequestType, target approval.Target, snapshot approval.Snapshot) (*approval.Request, error) {
	if requesterUserID == "" {
		return nil, apperrors.MissingParameter("requesterUserId")
	}
	now := time.Now().UTC()
	req := &approval.Request{
		ID:              uuid.New().String(),
		RequesterUserID: requesterUserID,
		Type:            requestType,
		Target:          target,
		Required:        approval.RequiredGates(requestType, target, snapshot),
		Status:          approval.StatusPending,
		Snapshot:        snapshot,
		Counts:          map[string]int{},
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         0,
	}
	if err := s.requests.Insert(ctx, req); err != nil {
		return nil, apperrors.DatabaseError("approval.insert", err)
	}
	return req, nil
}

// Get loads one aggregate.
func (s *Service) Get(ctx context.Context, id string) (*approval.Request, error) {
	req, err := s.requests.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NotFound("approval_request", id)
	}
	if err != nil {
		return nil, apperrors.DatabaseError("approval.get", err)
	}
	return req, nil
}

// RecordDecision validates, persists, and folds one decision into the
// aggregate. A duplicate decision that matches the stored verdict and note is
// absorbed idempotently; a conflicting one fails.
func (s *Service) RecordDecision(ctx context.Context, requestID, approverUserID, gate string, kind approval.DecisionKind, note string) (*approval.Request, error) {
	if kind != approval.Approve && kind != approval.Reject {
		return nil, apperrors.InvalidInput("decision", "must be APPROVE or REJECT")
	}

	req, err := s.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != approval.StatusPending {
		return nil, apperrors.Conflict("request is not pending")
	}
	if !req.HasGate(gate) {
		return nil, apperrors.InvalidInput("gate", "not required by this request")
	}
	if err := s.authz.Authorize(ctx, approverUserID, gate, req); err != nil {
		return nil, err
	}

	decision := &approval.Decision{
		ID:             uuid.New().String(),
		RequestID:      requestID,
		ApproverUserID: approverUserID,
		Gate:           gate,
		Decision:       kind,
		DecidedAt:      time.Now().UTC(),
		Note:           note,
	}
	if err := s.decisions.Insert(ctx, decision); err != nil {
		if !errors.Is(err, storage.ErrDuplicateKey) {
			return nil, apperrors.DatabaseError("decision.insert", err)
		}
		existing, getErr := s.decisions.GetByKey(ctx, requestID, approverUserID, gate)
		if getErr != nil {
			return nil, apperrors.DatabaseError("decision.get", getErr)
		}
		if s.metrics != nil {
			s.metrics.DecisionConflicts.Inc()
		}
		if existing.Matches(decision) {
			// Idempotent replay: no state change.
			return req, nil
		}
		return nil, apperrors.DuplicateDecision(requestID, approverUserID, gate)
	}

	return s.recompute(ctx, requestID)
}

// recompute re-derives (status, counts) from the decision set and commits it
// under optimistic version control with bounded jittered retry.
func (s *Service) recompute(ctx context.Context, requestID string) (*approval.Request, error) {
	for attempt := 0; attempt < updateAttempts; attempt++ {
		req, err := s.Get(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if req.Status != approval.StatusPending {
			// Another writer finalized concurrently; the decision still counted.
			return req, nil
		}

		decisions, err := s.decisions.ListByRequest(ctx, requestID)
		if err != nil {
			return nil, apperrors.DatabaseError("decision.list", err)
		}
		outcome := approval.Recompute(req.Required, decisions)

		observed := req.Version
		req.Status = outcome.Status
		req.Counts = outcome.Counts
		req.UpdatedAt = time.Now().UTC()

		err = s.requests.UpdateVersioned(ctx, req, observed)
		if err == nil {
			if req.Status.IsTerminal() {
				s.finalized(ctx, req)
			}
			return req, nil
		}
		if !errors.Is(err, storage.ErrVersionConflict) {
			return nil, apperrors.DatabaseError("approval.update", err)
		}

		select {
		case <-ctx.Done():
			return nil, apperrors.Cancelled("approval.recompute")
		case <-time.After(jitteredDelay(attempt)):
		}
	}
	return nil, apperrors.Contention("approval_request", requestID)
}

// Cancel aborts a pending request. Only the requester or a SYS_ADMIN may
// cancel.
func (s *Service) Cancel(ctx context.Context, requestID, actorUserID string) (*approval.Request, error) {
	req, err := s.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if actorUserID != req.RequesterUserID && !s.authz.IsSysAdmin(ctx, actorUserID) {
		return nil, apperrors.Forbidden("only the requester or a sys admin may cancel")
	}
	return s.transition(ctx, requestID, approval.StatusCancelled, func(r *approval.Request) error {
		if r.Status != approval.StatusPending {
			return apperrors.Conflict("request is not pending")
		}
		return nil
	})
}

// Expire moves a pending request past its expiry window to EXPIRED. Invoked
// by the sweep.
func (s *Service) Expire(ctx context.Context, requestID string, now time.Time) (*approval.Request, error) {
	return s.transition(ctx, requestID, approval.StatusExpired, func(r *approval.Request) error {
		if r.Status != approval.StatusPending {
			return apperrors.Conflict("request is not pending")
		}
		if now.Sub(r.CreatedAt) <= s.expiryWindow {
			return apperrors.Conflict("request has not reached its expiry window")
		}
		return nil
	})
}

// ExpireSweep expires every pending request older than the window.
func (s *Service) ExpireSweep(ctx context.Context, now time.Time) int {
	stale, err := s.requests.ListPendingOlderThan(ctx, now.Add(-s.expiryWindow))
	if err != nil {
		s.logger.WithError(err).Error("expiry sweep listing failed")
		return 0
	}
	expired := 0
	for i := range stale {
		if _, err := s.Expire(ctx, stale[i].ID, now); err != nil {
			s.logger.WithError(err).WithField("request_id", stale[i].ID).Warn("expiry failed")
			continue
		}
		expired++
	}
	return expired
}

func (s *Service) transition(ctx context.Context, requestID string, to approval.Status, guard func(*approval.Request) error) (*approval.Request, error) {
	for attempt := 0; attempt < updateAttempts; attempt++ {
		req, err := s.Get(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if err := guard(req); err != nil {
			return nil, err
		}

		observed := req.Version
		req.Status = to
		req.UpdatedAt = time.Now().UTC()

		err = s.requests.UpdateVersioned(ctx, req, observed)
		if err == nil {
			s.finalized(ctx, req)
			return req, nil
		}
		if !errors.Is(err, storage.ErrVersionConflict) {
			return nil, apperrors.DatabaseError("approval.update", err)
		}

		select {
		case <-ctx.Done():
			return nil, apperrors.Cancelled("approval.transition")
		case <-time.After(jitteredDelay(attempt)):
		}
	}
	return nil, apperrors.Contention("approval_request", requestID)
}

// finalized records the terminal transition and fans it out. Notification
// failure never rolls the transition back.
func (s *Service) finalized(ctx context.Context, req *approval.Request) {
	if s.metrics != nil {
		s.metrics.ApprovalTransitions.WithLabelValues(string(req.Status)).Inc()
	}
	if s.notifier != nil {
		s.notifier.RequestFinalized(ctx, req)
	}
}

func jitteredDelay(attempt int) time.Duration {
	base := retryBaseDelay << attempt
	return base/2 + time.Duration(rand.Int63n(int64(base)))
}
