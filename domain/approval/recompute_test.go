package approval

import (
	"math/rand"
	"testing"
)

func twoGates() []Gate {
	return []Gate{
		{Name: GateSysAdmin, MinApprovals: 1},
		{Name: GateLineManager, MinApprovals: 1},
	}
}

func decision(approver, gate string, kind DecisionKind) Decision {
	return Decision{ApproverUserID: approver, Gate: gate, Decision: kind}
}

func TestRecompute_EmptyStaysPending(t *testing.T) {
	out := Recompute(twoGates(), nil)
	if out.Status != StatusPending {
		t.Errorf("expected PENDING, got %s", out.Status)
	}
	if len(out.Counts) != 0 {
		t.Errorf("expected empty counts, got %v", out.Counts)
	}
}

func TestRecompute_PartialApprovalStaysPending(t *testing.T) {
	out := Recompute(twoGates(), []Decision{
		decision("sa1", GateSysAdmin, Approve),
	})
	if out.Status != StatusPending {
		t.Errorf("expected PENDING, got %s", out.Status)
	}
	if out.Counts[GateSysAdmin] != 1 {
		t.Errorf("expected SYS_ADMIN count 1, got %v", out.Counts)
	}
}

func TestRecompute_AllGatesApproved(t *testing.T) {
	out := Recompute(twoGates(), []Decision{
		decision("sa1", GateSysAdmin, Approve),
		decision("lm1", GateLineManager, Approve),
	})
	if out.Status != StatusApproved {
		t.Errorf("expected APPROVED, got %s", out.Status)
	}
}

func TestRecompute_SingleRejectionRejects(t *testing.T) {
	out := Recompute(twoGates(), []Decision{
		decision("sa1", GateSysAdmin, Reject),
	})
	if out.Status != StatusRejected {
		t.Errorf("expected REJECTED, got %s", out.Status)
	}
}

func TestRecompute_RejectWinsOverApprove(t *testing.T) {
	out := Recompute(twoGates(), []Decision{
		decision("sa1", GateSysAdmin, Approve),
		decision("lm1", GateLineManager, Approve),
		decision("sa2", GateSysAdmin, Reject),
	})
	if out.Status != StatusRejected {
		t.Errorf("REJECTED must win, got %s", out.Status)
	}
}

func TestRecompute_OverridableGateNeedsQuorumToReject(t *testing.T) {
	gates := []Gate{{Name: GateSysAdmin, MinApprovals: 2, Overridable: true}}

	out := Recompute(gates, []Decision{
		decision("sa1", GateSysAdmin, Reject),
	})
	if out.Status != StatusPending {
		t.Errorf("one rejection below quorum must stay PENDING, got %s", out.Status)
	}

	out = Recompute(gates, []Decision{
		decision("sa1", GateSysAdmin, Reject),
		decision("sa2", GateSysAdmin, Reject),
	})
	if out.Status != StatusRejected {
		t.Errorf("quorum rejections must reject, got %s", out.Status)
	}
}

func TestRecompute_MultiApprovalGate(t *testing.T) {
	gates := []Gate{{Name: GateSysAdmin, MinApprovals: 2}}

	out := Recompute(gates, []Decision{decision("sa1", GateSysAdmin, Approve)})
	if out.Status != StatusPending {
		t.Errorf("expected PENDING below quorum, got %s", out.Status)
	}

	out = Recompute(gates, []Decision{
		decision("sa1", GateSysAdmin, Approve),
		decision("sa2", GateSysAdmin, Approve),
	})
	if out.Status != StatusApproved {
		t.Errorf("expected APPROVED at quorum, got %s", out.Status)
	}
}

func TestRecompute_OrderIndependent(t *testing.T) {
	decisions := []Decision{
		decision("sa1", GateSysAdmin, Approve),
		decision("sa2", GateSysAdmin, Reject),
		decision("lm1", GateLineManager, Approve),
		decision("lm2", GateLineManager, Approve),
	}
	want := Recompute(twoGates(), decisions)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		shuffled := append([]Decision(nil), decisions...)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		got := Recompute(twoGates(), shuffled)
		if got.Status != want.Status {
			t.Fatalf("status depends on order: %s vs %s", got.Status, want.Status)
		}
	}
}

func TestRequiredGates_Deterministic(t *testing.T) {
	snapshot := Snapshot{ManagerID: "mgr-1"}
	first := RequiredGates(ClaimOwnership, Target{ServiceID: "svc"}, snapshot)
	second := RequiredGates(ClaimOwnership, Target{ServiceID: "svc"}, snapshot)
	if len(first) != len(second) || len(first) != 2 {
		t.Fatalf("unexpected gates: %v vs %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Error("gate derivation not deterministic")
		}
	}
}

func TestRequiredGates_NoManagerSkipsLineManager(t *testing.T) {
	gates := RequiredGates(ClaimOwnership, Target{ServiceID: "svc"}, Snapshot{})
	if len(gates) != 1 || gates[0].Name != GateSysAdmin {
		t.Errorf("expected SYS_ADMIN only, got %v", gates)
	}
}
