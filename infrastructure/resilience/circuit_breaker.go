package resilience

import (
	"sync"
	"time"

	apperrors "github.com/HZeroxium/fleet-control/infrastructure/errors"
)

// State represents circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a count-based sliding-window circuit breaker.
type BreakerConfig struct {
	Name                  string
	WindowSize            int           // recent calls considered; min 5
	MinimumCalls          int           // calls required before rates are evaluated
	FailureRateThreshold  float64       // percentage, 0-100
	SlowCallRateThreshold float64       // percentage, 0-100
	SlowCallDuration      time.Duration // calls slower than this count as slow
	HalfOpenPermits       int           // probe calls permitted in half-open
	WaitDurationInOpen    time.Duration // open -> half-open delay
	OnStateChange         func(name string, from, to State)
}

// DefaultBreakerConfig returns sensible defaults
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:                  name,
		WindowSize:            10,
		MinimumCalls:          5,
		FailureRateThreshold:  50,
		SlowCallRateThreshold: 80,
		SlowCallDuration:      2 * time.Second,
		HalfOpenPermits:       3,
		WaitDurationInOpen:    30 * time.Second,
	}
}

type callOutcome struct {
	failed bool
	slow   bool
}

// CircuitBreaker implements a count-based sliding-window breaker. The window
// holds the outcomes of the last WindowSize calls; the breaker opens when the
// failure rate or the slow-call rate over a full-enough window crosses its
// threshold. All state is guarded by a single short-held mutex.
type CircuitBreaker struct {
	config BreakerConfig

	mu            sync.Mutex
	state         State
	window        []callOutcome
	windowPos     int
	windowCount   int
	openedAt      time.Time
	halfOpenUsed  int
	halfOpenOK    int
}

// NewBreaker creates a CircuitBreaker from cfg, applying defaults and floors.
func NewBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 10
	}
	if cfg.WindowSize < 5 {
		cfg.WindowSize = 5
	}
	if cfg.MinimumCalls <= 0 {
		cfg.MinimumCalls = 5
	}
	if cfg.FailureRateThreshold <= 0 {
		cfg.FailureRateThreshold = 50
	}
	if cfg.SlowCallRateThreshold <= 0 {
		cfg.SlowCallRateThreshold = 80
	}
	if cfg.SlowCallDuration <= 0 {
		cfg.SlowCallDuration = 2 * time.Second
	}
	if cfg.HalfOpenPermits <= 0 {
		cfg.HalfOpenPermits = 3
	}
	if cfg.WaitDurationInOpen <= 0 {
		cfg.WaitDurationInOpen = 30 * time.Second
	}
	return &CircuitBreaker{
		config: cfg,
		state:  StateClosed,
		window: make([]callOutcome, cfg.WindowSize),
	}
}

// Name returns the breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// State returns the current state, applying the open -> half-open timer.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()
	return cb.state
}

// Allow asks for admission. It returns a release function to be called with
// the call's duration and error, or an error when the call must be shed.
func (cb *CircuitBreaker) Allow() (func(duration time.Duration, err error), error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeHalfOpen()

	switch cb.state {
	case StateOpen:
		return nil, apperrors.CircuitOpen(cb.config.Name)
	case StateHalfOpen:
		if cb.halfOpenUsed >= cb.config.HalfOpenPermits {
			return nil, apperrors.CircuitOpen(cb.config.Name)
		}
		cb.halfOpenUsed++
	}

	return cb.record, nil
}

func (cb *CircuitBreaker) record(duration time.Duration, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	outcome := callOutcome{
		failed: err != nil,
		slow:   duration >= cb.config.SlowCallDuration,
	}

	switch cb.state {
	case StateHalfOpen:
		if outcome.failed {
			cb.setState(StateOpen)
			cb.openedAt = time.Now()
			return
		}
		cb.halfOpenOK++
		if cb.halfOpenOK >= cb.config.HalfOpenPermits {
			cb.setState(StateClosed)
		}
	case StateClosed:
		cb.window[cb.windowPos] = outcome
		cb.windowPos = (cb.windowPos + 1) % len(cb.window)
		if cb.windowCount < len(cb.window) {
			cb.windowCount++
		}
		if cb.shouldTrip() {
			cb.setState(StateOpen)
			cb.openedAt = time.Now()
		}
	}
}

func (cb *CircuitBreaker) shouldTrip() bool {
	if cb.windowCount < cb.config.MinimumCalls {
		return false
	}
	failed, slow := 0, 0
	for i := 0; i < cb.windowCount; i++ {
		if cb.window[i].failed {
			failed++
		}
		if cb.window[i].slow {
			slow++
		}
	}
	failureRate := float64(failed) * 100 / float64(cb.windowCount)
	slowRate := float64(slow) * 100 / float64(cb.windowCount)
	return failureRate >= cb.config.FailureRateThreshold || slowRate >= cb.config.SlowCallRateThreshold
}

// maybeHalfOpen moves an expired open breaker to half-open. Caller holds mu.
func (cb *CircuitBreaker) maybeHalfOpen() {
	if cb.state == StateOpen && time.Since(cb.openedAt) > cb.config.WaitDurationInOpen {
		cb.setState(StateHalfOpen)
	}
}

// setState transitions state and resets counters. Caller holds mu.
func (cb *CircuitBreaker) setState(newState State) {
	if cb.state == newState {
		return
	}
	old := cb.state
	cb.state = newState
	cb.halfOpenUsed = 0
	cb.halfOpenOK = 0
	if newState == StateClosed {
		cb.window = make([]callOutcome, len(cb.window))
		cb.windowPos = 0
		cb.windowCount = 0
	}

	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(cb.config.Name, old, newState)
	}
}
