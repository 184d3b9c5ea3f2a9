package loadbalancer

import (
	"fmt"
	"testing"

	"github.com/HZeroxium/fleet-control/infrastructure/discovery"
)

func pool(n int) []discovery.Instance {
	instances := make([]discovery.Instance, n)
	for i := range instances {
		instances[i] = discovery.Instance{
			ServiceID:  "svc",
			InstanceID: fmt.Sprintf("svc-%d", i),
			Host:       fmt.Sprintf("host-%d", i),
			Port:       8080,
		}
	}
	return instances
}

func TestNew_RejectsUnknownPolicy(t *testing.T) {
	if _, err := New("FANCY"); err == nil {
		t.Error("expected error for unknown policy")
	}
	for _, policy := range []string{PolicyRoundRobin, PolicyRandom, PolicyWeightedRandom, PolicyRendezvous, ""} {
		if _, err := New(policy); err != nil {
			t.Errorf("policy %q rejected: %v", policy, err)
		}
	}
}

func TestRoundRobin_CyclesPerService(t *testing.T) {
	rr := NewRoundRobin()
	instances := pool(3)

	for round := 0; round < 2; round++ {
		for i := 0; i < 3; i++ {
			picked, err := rr.Select("svc", "", instances)
			if err != nil {
				t.Fatalf("select failed: %v", err)
			}
			if picked.InstanceID != instances[i].InstanceID {
				t.Errorf("round %d pick %d: got %s, want %s", round, i, picked.InstanceID, instances[i].InstanceID)
			}
		}
	}
}

func TestRoundRobin_IndependentCountersPerService(t *testing.T) {
	rr := NewRoundRobin()
	instances := pool(3)

	first, _ := rr.Select("svc-a", "", instances)
	second, _ := rr.Select("svc-b", "", instances)
	if first.InstanceID != second.InstanceID {
		t.Error("fresh counters should both start at the first instance")
	}
}

func TestSelectors_EmptyPool(t *testing.T) {
	selectors := []Selector{NewRoundRobin(), Random{}, WeightedRandom{}, Rendezvous{}}
	for _, s := range selectors {
		if _, err := s.Select("svc", "k", nil); err != ErrNoInstances {
			t.Errorf("%T: expected ErrNoInstances, got %v", s, err)
		}
	}
}

func TestWeightedRandom_RespectsWeights(t *testing.T) {
	instances := pool(2)
	instances[0].Metadata = map[string]string{"weight": "9"}
	instances[1].Metadata = map[string]string{"weight": "1"}

	counts := map[string]int{}
	for i := 0; i < 2000; i++ {
		picked, err := WeightedRandom{}.Select("svc", "", instances)
		if err != nil {
			t.Fatalf("select failed: %v", err)
		}
		counts[picked.InstanceID]++
	}
	// Expect roughly a 9:1 split; allow generous slack.
	if counts["svc-0"] < counts["svc-1"]*4 {
		t.Errorf("weights not respected: %v", counts)
	}
}

func TestWeightedRandom_InvalidWeightDefaultsToOne(t *testing.T) {
	instances := pool(2)
	instances[0].Metadata = map[string]string{"weight": "not-a-number"}

	counts := map[string]int{}
	for i := 0; i < 2000; i++ {
		picked, _ := WeightedRandom{}.Select("svc", "", instances)
		counts[picked.InstanceID]++
	}
	if counts["svc-0"] == 0 || counts["svc-1"] == 0 {
		t.Errorf("both instances should be picked with equal default weights: %v", counts)
	}
}

func TestRendezvous_Deterministic(t *testing.T) {
	instances := pool(5)
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key-%d", i)
		first, _ := Rendezvous{}.Select("svc", key, instances)
		second, _ := Rendezvous{}.Select("svc", key, instances)
		if first.InstanceID != second.InstanceID {
			t.Fatalf("key %s not stable: %s vs %s", key, first.InstanceID, second.InstanceID)
		}
	}
}

func TestRendezvous_OrderIndependent(t *testing.T) {
	instances := pool(5)
	reversed := make([]discovery.Instance, len(instances))
	for i := range instances {
		reversed[len(instances)-1-i] = instances[i]
	}
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key-%d", i)
		a, _ := Rendezvous{}.Select("svc", key, instances)
		b, _ := Rendezvous{}.Select("svc", key, reversed)
		if a.InstanceID != b.InstanceID {
			t.Fatalf("key %s depends on list order: %s vs %s", key, a.InstanceID, b.InstanceID)
		}
	}
}

func TestRendezvous_MinimalDisruption(t *testing.T) {
	const samples = 1000
	instances := pool(5)

	before := make(map[string]string, samples)
	for i := 0; i < samples; i++ {
		key := fmt.Sprintf("key-%d", i)
		picked, _ := Rendezvous{}.Select("svc", key, instances)
		before[key] = picked.InstanceID
	}

	// Remove one instance; only the keys it owned may move.
	removed := instances[2].InstanceID
	shrunk := append(append([]discovery.Instance{}, instances[:2]...), instances[3:]...)

	moved := 0
	for i := 0; i < samples; i++ {
		key := fmt.Sprintf("key-%d", i)
		picked, _ := Rendezvous{}.Select("svc", key, shrunk)
		if picked.InstanceID != before[key] {
			if before[key] != removed {
				t.Fatalf("key %s moved although its instance survived", key)
			}
			moved++
		}
	}

	// On average 1/5 of keys lived on the removed instance; ceil(M/N)+slack.
	if limit := samples/len(instances) + samples/10; moved > limit {
		t.Errorf("reassigned %d keys, expected at most ~%d", moved, limit)
	}
}
