// Package loadbalancer provides pluggable instance selection policies.
// Policies are pure and safe for concurrent use.
package loadbalancer

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"

	"github.com/HZeroxium/fleet-control/infrastructure/discovery"
)

// Policy names.
const (
	PolicyRoundRobin     = "ROUND_ROBIN"
	PolicyRandom         = "RANDOM"
	PolicyWeightedRandom = "WEIGHTED_RANDOM"
	PolicyRendezvous     = "RENDEZVOUS"
)

// Selector chooses one instance for a request. The key parameter is used only
// by key-affine policies; others ignore it.
type Selector interface {
	Select(serviceName, key string, instances []discovery.Instance) (discovery.Instance, error)
}

// ErrNoInstances is returned when the candidate list is empty.
var ErrNoInstances = fmt.Errorf("no instances available")

// New returns the selector for a policy name.
func New(policy string) (Selector, error) {
	switch strings.ToUpper(strings.TrimSpace(policy)) {
	case PolicyRoundRobin, "":
		return NewRoundRobin(), nil
	case PolicyRandom:
		return Random{}, nil
	case PolicyWeightedRandom:
		return WeightedRandom{}, nil
	case PolicyRendezvous:
		return Rendezvous{}, nil
	default:
		return nil, fmt.Errorf("unknown load balancer policy %q", policy)
	}
}

// RoundRobin selects by a per-service monotonic counter mod N.
type RoundRobin struct {
	mu       sync.Mutex
	counters map[string]uint64
}

// NewRoundRobin creates a RoundRobin selector.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{counters: make(map[string]uint64)}
}

func (r *RoundRobin) Select(serviceName, _ string, instances []discovery.Instance) (discovery.Instance, error) {
	if len(instances) == 0 {
		return discovery.Instance{}, ErrNoInstances
	}
	r.mu.Lock()
	n := r.counters[serviceName]
	r.counters[serviceName] = n + 1
	r.mu.Unlock()
	return instances[n%uint64(len(instances))], nil
}

// Random selects uniformly at random.
type Random struct{}

func (Random) Select(_, _ string, instances []discovery.Instance) (discovery.Instance, error) {
	if len(instances) == 0 {
		return discovery.Instance{}, ErrNoInstances
	}
	return instances[rand.Intn(len(instances))], nil
}

// WeightedRandom selects by cumulative-weight interval over the integer
// metadata key "weight". Missing or invalid weights count as 1.
type WeightedRandom struct{}

func (WeightedRandom) Select(_, _ string, instances []discovery.Instance) (discovery.Instance, error) {
	if len(instances) == 0 {
		return discovery.Instance{}, ErrNoInstances
	}
	total := 0
	weights := make([]int, len(instances))
	for i, inst := range instances {
		weights[i] = instanceWeight(inst)
		total += weights[i]
	}
	pick := rand.Intn(total)
	for i, w := range weights {
		pick -= w
		if pick < 0 {
			return instances[i], nil
		}
	}
	return instances[len(instances)-1], nil
}

func instanceWeight(inst discovery.Instance) int {
	raw, ok := inst.Metadata["weight"]
	if !ok {
		return 1
	}
	w, err := strconv.Atoi(raw)
	if err != nil || w <= 0 {
		return 1
	}
	return w
}

// Rendezvous implements highest-random-weight hashing: score every
// (key, instance) pair and pick the max, so membership changes reassign only
// ~1/N of keys. Score = first 8 bytes of MD5(key || instanceID), big-endian
// unsigned; ties go to the first-seen instance.
type Rendezvous struct{}

func (Rendezvous) Select(_, key string, instances []discovery.Instance) (discovery.Instance, error) {
	if len(instances) == 0 {
		return discovery.Instance{}, ErrNoInstances
	}
	best := 0
	var bestScore uint64
	for i, inst := range instances {
		score := rendezvousScore(key, inst.InstanceID)
		if i == 0 || score > bestScore {
			best = i
			bestScore = score
		}
	}
	return instances[best], nil
}

func rendezvousScore(key, instanceID string) uint64 {
	sum := md5.Sum([]byte(key + instanceID))
	return binary.BigEndian.Uint64(sum[:8])
}
