package resilience

import (
	"context"
	"time"

	apperrors "github.com/HZeroxium/fleet-control/infrastructure/errors"
	"github.com/HZeroxium/fleet-control/infrastructure/logging"
	"github.com/HZeroxium/fleet-control/infrastructure/metrics"
)

// Func is an outbound operation guarded by the pipeline.
type Func func(ctx context.Context) (interface{}, error)

// Result carries a pipeline outcome. Stale marks a value served from the
// fallback cache after the live call failed terminally.
type Result struct {
	Value interface{}
	Stale bool
}

// FallbackCache supplies last-known-good values for read operations.
type FallbackCache interface {
	Lookup(ctx context.Context, key string) (interface{}, bool)
}

// PipelineConfig assembles the decorator stack for one dependency.
type PipelineConfig struct {
	Name       string
	Idempotent bool // retries apply only to idempotent operations
	Breaker    BreakerConfig
	Retry      RetryConfig
	Bulkhead   BulkheadConfig
	TimeLimit  time.Duration
}

// DefaultPipelineConfig returns a pipeline configuration with stack defaults.
func DefaultPipelineConfig(name string) PipelineConfig {
	return PipelineConfig{
		Name:       name,
		Idempotent: true,
		Breaker:    DefaultBreakerConfig(name),
		Retry:      DefaultRetryConfig(),
		Bulkhead:   DefaultBulkheadConfig(name),
		TimeLimit:  5 * time.Second,
	}
}

// Pipeline applies, outer to inner: deadline check, request recording,
// circuit breaker, retry with budget, bulkhead, time limiter.
type Pipeline struct {
	config   PipelineConfig
	breaker  *CircuitBreaker
	budget   *RetryBudget
	bulkhead *Bulkhead
	fallback FallbackCache
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

// NewPipeline wires a pipeline around a shared retry budget. The budget is
// shared across pipelines so retry amplification is bounded process-wide.
func NewPipeline(cfg PipelineConfig, budget *RetryBudget, logger *logging.Logger, m *metrics.Metrics) *Pipeline {
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = cfg.Name
	}
	if cfg.Bulkhead.Name == "" {
		cfg.Bulkhead.Name = cfg.Name
	}
	if m != nil && cfg.Breaker.OnStateChange == nil {
		cfg.Breaker.OnStateChange = func(name string, from, to State) {
			m.BreakerState.WithLabelValues(name).Set(float64(to))
			if logger != nil {
				logger.WithFields(map[string]interface{}{
					"breaker":    name,
					"from_state": from.String(),
					"to_state":   to.String(),
				}).Warn("circuit breaker state changed")
			}
		}
	}

	p := &Pipeline{
		config:   cfg,
		breaker:  NewBreaker(cfg.Breaker),
		budget:   budget,
		bulkhead: NewBulkhead(cfg.Bulkhead),
		logger:   logger,
		metrics:  m,
	}
	if m != nil {
		p.bulkhead.OnInFlightChange(func(delta float64) {
			m.BulkheadInFlight.WithLabelValues(cfg.Bulkhead.Name).Add(delta)
		})
	}
	return p
}

// WithFallback attaches a cached-fallback provider for read operations.
func (p *Pipeline) WithFallback(fb FallbackCache) *Pipeline {
	p.fallback = fb
	return p
}

// Breaker exposes the pipeline's circuit breaker for health wiring.
func (p *Pipeline) Breaker() *CircuitBreaker {
	return p.breaker
}

// Execute runs fn through the full decorator stack.
func (p *Pipeline) Execute(ctx context.Context, fn Func) (interface{}, error) {
	if err := CheckDeadline(ctx, p.config.Name); err != nil {
		return nil, err
	}
	if p.budget != nil {
		p.budget.RecordRequest()
	}

	release, err := p.breaker.Allow()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	value, err := p.executeWithRetry(ctx, fn)
	release(time.Since(start), err)
	return value, err
}

// ExecuteRead is Execute with a stale-value fallback: terminal failure of a
// read returns the cached value tagged stale instead of the error.
func (p *Pipeline) ExecuteRead(ctx context.Context, key string, fn Func) (*Result, error) {
	value, err := p.Execute(ctx, fn)
	if err == nil {
		return &Result{Value: value}, nil
	}
	if p.fallback != nil {
		if cached, ok := p.fallback.Lookup(ctx, key); ok {
			if p.logger != nil {
				p.logger.WithError(err).WithField("key", key).Warn("serving stale fallback value")
			}
			return &Result{Value: cached, Stale: true}, nil
		}
	}
	return nil, err
}

func (p *Pipeline) executeWithRetry(ctx context.Context, fn Func) (interface{}, error) {
	var value interface{}

	attempt := func() error {
		release, err := p.bulkhead.Acquire(ctx)
		if err != nil {
			return err
		}
		defer release()

		// attemptValue is per-attempt: a timed-out call may still complete in
		// the background, and its late write must not race the committed value.
		var attemptValue interface{}
		err = TimeLimit(ctx, p.config.Name, p.config.TimeLimit, func(attemptCtx context.Context) error {
			v, err := fn(attemptCtx)
			if err != nil {
				return err
			}
			attemptValue = v
			return nil
		})
		if err != nil {
			return err
		}
		value = attemptValue
		return nil
	}

	if !p.config.Idempotent {
		return value, attempt()
	}

	err := Retry(ctx, p.config.Name, p.config.Retry, p.budget, attempt)
	if err != nil && p.metrics != nil && apperrors.HasCode(err, apperrors.ErrCodeRetryBudget) {
		p.metrics.RetryBudgetRejected.WithLabelValues(p.config.Name).Inc()
	}
	return value, err
}
