package loadbalancer

import (
	"sync"

	"github.com/HZeroxium/fleet-control/infrastructure/discovery"
)

// PolicySet resolves which selector serves a call: a per-call override wins,
// then a per-service policy, then the process default.
type PolicySet struct {
	def Selector

	mu         sync.RWMutex
	perService map[string]Selector
}

// NewPolicySet creates a set with the given default policy name.
func NewPolicySet(defaultPolicy string) (*PolicySet, error) {
	def, err := New(defaultPolicy)
	if err != nil {
		return nil, err
	}
	return &PolicySet{def: def, perService: make(map[string]Selector)}, nil
}

// SetServicePolicy pins a policy for one service.
func (p *PolicySet) SetServicePolicy(serviceName, policy string) error {
	selector, err := New(policy)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.perService[serviceName] = selector
	p.mu.Unlock()
	return nil
}

// Select picks an instance using the per-call override when non-nil, the
// service's pinned policy otherwise, and the default as a last resort.
func (p *PolicySet) Select(serviceName, key string, instances []discovery.Instance, override Selector) (discovery.Instance, error) {
	if override != nil {
		return override.Select(serviceName, key, instances)
	}
	p.mu.RLock()
	selector, ok := p.perService[serviceName]
	p.mu.RUnlock()
	if !ok {
		selector = p.def
	}
	return selector.Select(serviceName, key, instances)
}
