package approval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HZeroxium/fleet-control/domain/approval"
	apperrors "github.com/HZeroxium/fleet-control/infrastructure/errors"
	"github.com/HZeroxium/fleet-control/infrastructure/logging"
	"github.com/HZeroxium/fleet-control/pkg/storage/memory"
)

// allowAllAuthz authorizes everyone; sys admins are listed explicitly.
type allowAllAuthz struct {
	sysAdmins map[string]bool
}

func (a *allowAllAuthz) Authorize(context.Context, string, string, *approval.Request) error {
	return nil
}

func (a *allowAllAuthz) IsSysAdmin(_ context.Context, userID string) bool {
	return a.sysAdmins[userID]
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []approval.Status
}

func (n *recordingNotifier) RequestFinalized(_ context.Context, req *approval.Request) {
	n.mu.Lock()
	n.events = append(n.events, req.Status)
	n.mu.Unlock()
}

func newTestService(t *testing.T) (*Service, *recordingNotifier) {
	t.Helper()
	notifier := &recordingNotifier{}
	svc := NewService(
		memory.NewApprovalStore(),
		memory.NewDecisionStore(),
		&allowAllAuthz{sysAdmins: map[string]bool{"admin": true}},
		notifier,
		72*time.Hour,
		logging.New("test", "error", "json"),
		nil,
	)
	return svc, notifier
}

func createClaim(t *testing.T, svc *Service) *approval.Request {
	t.Helper()
	req, err := svc.Create(context.Background(), "alice", approval.ClaimOwnership,
		approval.Target{ServiceID: "svc-1", TeamID: "team-a"},
		approval.Snapshot{ManagerID: "lm1"})
	require.NoError(t, err)
	return req
}

func TestCreate_DerivesGatesAndStartsPending(t *testing.T) {
	svc, _ := newTestService(t)
	req := createClaim(t, svc)

	assert.Equal(t, approval.StatusPending, req.Status)
	assert.Equal(t, int64(0), req.Version)
	assert.Empty(t, req.Counts)
	require.Len(t, req.Required, 2)
	assert.Equal(t, approval.GateSysAdmin, req.Required[0].Name)
	assert.Equal(t, approval.GateLineManager, req.Required[1].Name)
}

func TestRecordDecision_ApprovePath(t *testing.T) {
	svc, notifier := newTestService(t)
	req := createClaim(t, svc)
	ctx := context.Background()

	// First gate approval keeps the request pending at version 1.
	updated, err := svc.RecordDecision(ctx, req.ID, "sa1", approval.GateSysAdmin, approval.Approve, "")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusPending, updated.Status)
	assert.Equal(t, map[string]int{approval.GateSysAdmin: 1}, updated.Counts)
	assert.Equal(t, int64(1), updated.Version)

	// Second gate approval finalizes at version 2.
	updated, err = svc.RecordDecision(ctx, req.ID, "lm1", approval.GateLineManager, approval.Approve, "")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusApproved, updated.Status)
	assert.Equal(t, int64(2), updated.Version)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Len(t, notifier.events, 1)
	assert.Equal(t, approval.StatusApproved, notifier.events[0])
}

func TestRecordDecision_RejectPath(t *testing.T) {
	svc, _ := newTestService(t)
	req := createClaim(t, svc)
	ctx := context.Background()

	updated, err := svc.RecordDecision(ctx, req.ID, "sa1", approval.GateSysAdmin, approval.Reject, "nope")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusRejected, updated.Status)
	assert.Equal(t, int64(1), updated.Version)

	// Terminal request admits no further decisions.
	_, err = svc.RecordDecision(ctx, req.ID, "lm1", approval.GateLineManager, approval.Approve, "")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))
}

func TestRecordDecision_DuplicateIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	req := createClaim(t, svc)
	ctx := context.Background()

	first, err := svc.RecordDecision(ctx, req.ID, "sa1", approval.GateSysAdmin, approval.Approve, "lgtm")
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Version)

	// Identical replay: OK, no state change, version still 1.
	second, err := svc.RecordDecision(ctx, req.ID, "sa1", approval.GateSysAdmin, approval.Approve, "lgtm")
	require.NoError(t, err)
	assert.Equal(t, int64(1), second.Version)
	assert.Equal(t, map[string]int{approval.GateSysAdmin: 1}, second.Counts)
}

func TestRecordDecision_ConflictingDuplicateFails(t *testing.T) {
	svc, _ := newTestService(t)
	req := createClaim(t, svc)
	ctx := context.Background()

	_, err := svc.RecordDecision(ctx, req.ID, "sa1", approval.GateSysAdmin, approval.Approve, "lgtm")
	require.NoError(t, err)

	_, err = svc.RecordDecision(ctx, req.ID, "sa1", approval.GateSysAdmin, approval.Reject, "changed my mind")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDuplicateDecision))
}

func TestRecordDecision_UnknownGateRejected(t *testing.T) {
	svc, _ := newTestService(t)
	req := createClaim(t, svc)

	_, err := svc.RecordDecision(context.Background(), req.ID, "sa1", "AUDITOR", approval.Approve, "")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
}

func TestRecordDecision_MissingRequest(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.RecordDecision(context.Background(), "missing", "sa1", approval.GateSysAdmin, approval.Approve, "")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}

func TestCancel_RequesterOnly(t *testing.T) {
	svc, _ := newTestService(t)
	req := createClaim(t, svc)
	ctx := context.Background()

	_, err := svc.Cancel(ctx, req.ID, "stranger")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))

	updated, err := svc.Cancel(ctx, req.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusCancelled, updated.Status)

	// Terminal: a second cancel conflicts.
	_, err = svc.Cancel(ctx, req.ID, "alice")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))
}

func TestCancel_SysAdminAllowed(t *testing.T) {
	svc, _ := newTestService(t)
	req := createClaim(t, svc)

	updated, err := svc.Cancel(context.Background(), req.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusCancelled, updated.Status)
}

func TestExpire_OnlyPastWindow(t *testing.T) {
	svc, _ := newTestService(t)
	req := createClaim(t, svc)
	ctx := context.Background()

	_, err := svc.Expire(ctx, req.ID, time.Now().UTC())
	require.Error(t, err, "fresh request must not expire")

	updated, err := svc.Expire(ctx, req.ID, time.Now().UTC().Add(73*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, approval.StatusExpired, updated.Status)
}

func TestExpireSweep(t *testing.T) {
	svc, _ := newTestService(t)
	createClaim(t, svc)
	createClaim(t, svc)

	expired := svc.ExpireSweep(context.Background(), time.Now().UTC().Add(100*time.Hour))
	assert.Equal(t, 2, expired)
}

func TestVersionMonotonicity(t *testing.T) {
	svc, _ := newTestService(t)
	gates := []string{approval.GateSysAdmin, approval.GateLineManager}
	req := createClaim(t, svc)
	ctx := context.Background()

	last := req.Version
	approvers := []string{"sa1", "lm1"}
	for i, gate := range gates {
		updated, err := svc.RecordDecision(ctx, req.ID, approvers[i], gate, approval.Approve, "")
		require.NoError(t, err)
		assert.Greater(t, updated.Version, last, "version must strictly increase")
		last = updated.Version
	}
}
