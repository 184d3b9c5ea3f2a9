package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/HZeroxium/fleet-control/infrastructure/logging"
	"github.com/HZeroxium/fleet-control/infrastructure/metrics"
)

// Provider selects which tiers the engine consults.
type Provider string

const (
	ProviderLocal       Provider = "LOCAL"
	ProviderDistributed Provider = "DISTRIBUTED"
	ProviderTiered      Provider = "TIERED"
	ProviderNoop        Provider = "NOOP"
)

// ParseProvider validates a provider name.
func ParseProvider(raw string) (Provider, error) {
	switch Provider(strings.ToUpper(strings.TrimSpace(raw))) {
	case ProviderLocal:
		return ProviderLocal, nil
	case ProviderDistributed:
		return ProviderDistributed, nil
	case ProviderTiered:
		return ProviderTiered, nil
	case ProviderNoop:
		return ProviderNoop, nil
	default:
		return "", fmt.Errorf("unknown cache provider %q", raw)
	}
}

// Status reports the engine's observable state.
type Status struct {
	Provider   Provider  `json:"provider"`
	L1Entries  int       `json:"l1_entries"`
	SwitchedAt time.Time `json:"switched_at"`
}

// Engine is the tiered cache. Read path: L1, then L2 with promotion; writes
// land in both tiers, and an L2 write failure is logged, never surfaced.
// Concurrent L2 misses for the same key collapse to one backend call.
type Engine struct {
	l1         *LocalStore
	l2         Store
	serializer *Serializer
	defaultTTL time.Duration
	logger     *logging.Logger
	metrics    *metrics.Metrics

	mu         sync.RWMutex
	provider   Provider
	switchedAt time.Time

	flight singleflight.Group
}

// EngineConfig configures the cache engine.
type EngineConfig struct {
	Provider             Provider
	DefaultTTL           time.Duration
	L1MaxEntries         int
	CompressionThreshold int
}

// NewEngine builds the engine. l2 may be nil; a configured DISTRIBUTED or
// TIERED provider then starts as LOCAL. SwitchProvider does not apply this
// fallback: switching to a provider that reads L2 without an l2 tier makes
// every L2 lookup miss.
func NewEngine(cfg EngineConfig, l2 Store, logger *logging.Logger, m *metrics.Metrics) *Engine {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	if cfg.Provider == "" {
		cfg.Provider = ProviderTiered
	}
	e := &Engine{
		l1:         NewLocalStore(cfg.L1MaxEntries, cfg.DefaultTTL),
		l2:         l2,
		serializer: NewSerializer(cfg.CompressionThreshold, logger),
		defaultTTL: cfg.DefaultTTL,
		logger:     logger,
		metrics:    m,
		provider:   cfg.Provider,
		switchedAt: time.Now(),
	}
	if e.l2 == nil {
		e.l2 = noopStore{}
		if cfg.Provider == ProviderDistributed || cfg.Provider == ProviderTiered {
			e.provider = ProviderLocal
		}
	}
	return e
}

// Provider returns the active provider.
func (e *Engine) Provider() Provider {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.provider
}

// SwitchProvider hot-swaps the active provider at runtime.
func (e *Engine) SwitchProvider(p Provider) error {
	if _, err := ParseProvider(string(p)); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.provider == p {
		return nil
	}
	old := e.provider
	e.provider = p
	e.switchedAt = time.Now()
	if e.logger != nil {
		e.logger.WithFields(map[string]interface{}{
			"from": string(old),
			"to":   string(p),
		}).Info("cache provider switched")
	}
	return nil
}

// Status reports provider, L1 size, and the last switch time.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Status{
		Provider:   e.provider,
		L1Entries:  e.l1.Len(),
		SwitchedAt: e.switchedAt,
	}
}

// Get loads key into out. The bool reports whether a value was found.
func (e *Engine) Get(ctx context.Context, key string, out interface{}) (bool, error) {
	provider := e.Provider()
	if provider == ProviderNoop {
		return false, nil
	}

	if provider == ProviderLocal || provider == ProviderTiered {
		if raw, ok, _ := e.l1.Get(ctx, key); ok {
			e.hit("l1")
			return true, e.serializer.Unmarshal(raw, out)
		}
		e.miss("l1")
		if provider == ProviderLocal {
			return false, nil
		}
	}

	// Single-flight: concurrent misses on the same key share one L2 lookup.
	type l2Result struct {
		raw   []byte
		found bool
	}
	v, err, _ := e.flight.Do(key, func() (interface{}, error) {
		raw, found, err := e.l2.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		return l2Result{raw: raw, found: found}, nil
	})
	if err != nil {
		e.miss("l2")
		return false, err
	}
	res := v.(l2Result)
	if !res.found {
		e.miss("l2")
		return false, nil
	}
	e.hit("l2")

	if provider == ProviderTiered {
		if err := e.l1.Set(ctx, key, res.raw, e.defaultTTL); err == nil && e.metrics != nil {
			e.metrics.CachePromotions.Inc()
		}
	}
	return true, e.serializer.Unmarshal(res.raw, out)
}

// Set writes key to the active tiers. An L2 failure is logged and absorbed.
func (e *Engine) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	provider := e.Provider()
	if provider == ProviderNoop {
		return nil
	}
	if ttl <= 0 {
		ttl = e.defaultTTL
	}

	raw, err := e.serializer.Marshal(value)
	if err != nil {
		return err
	}

	if provider == ProviderLocal || provider == ProviderTiered {
		if err := e.l1.Set(ctx, key, raw, ttl); err != nil {
			return err
		}
	}
	if provider == ProviderDistributed || provider == ProviderTiered {
		if err := e.l2.Set(ctx, key, raw, ttl); err != nil {
			if e.logger != nil {
				e.logger.WithError(err).WithField("key", key).Warn("l2 cache write failed")
			}
			if provider == ProviderDistributed {
				return nil
			}
		}
	}
	return nil
}

// Delete removes key from all tiers.
func (e *Engine) Delete(ctx context.Context, key string) error {
	_ = e.l1.Delete(ctx, key)
	if err := e.l2.Delete(ctx, key); err != nil {
		if e.logger != nil {
			e.logger.WithError(err).WithField("key", key).Warn("l2 cache delete failed")
		}
	}
	return nil
}

// Lookup implements resilience.FallbackCache for stale-read fallbacks.
func (e *Engine) Lookup(ctx context.Context, key string) (interface{}, bool) {
	var value interface{}
	found, err := e.Get(ctx, key, &value)
	if err != nil || !found {
		return nil, false
	}
	return value, true
}

func (e *Engine) hit(tier string) {
	if e.metrics != nil {
		e.metrics.CacheHits.WithLabelValues(tier).Inc()
	}
}

func (e *Engine) miss(tier string) {
	if e.metrics != nil {
		e.metrics.CacheMisses.WithLabelValues(tier).Inc()
	}
}
