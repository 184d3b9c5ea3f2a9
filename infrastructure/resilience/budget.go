package resilience

import (
	"sync"
	"time"
)

// RetryBudgetConfig bounds the fraction of retried calls inside a sliding window.
type RetryBudgetConfig struct {
	Window             time.Duration // sliding window length
	MaxRetryPercentage float64       // retries / requests ceiling, 0-100
}

// DefaultRetryBudgetConfig returns sensible defaults
func DefaultRetryBudgetConfig() RetryBudgetConfig {
	return RetryBudgetConfig{
		Window:             10 * time.Second,
		MaxRetryPercentage: 20,
	}
}

// RetryBudget tracks requests and retries over per-second buckets and admits a
// retry only while retries/requests stays at or under the configured ceiling.
// Shared across goroutines; a single mutex guards the bucket ring.
type RetryBudget struct {
	config  RetryBudgetConfig
	buckets []budgetBucket
	mu      sync.Mutex
}

type budgetBucket struct {
	second   int64
	requests int64
	retries  int64
}

// NewRetryBudget creates a RetryBudget from cfg, applying defaults.
func NewRetryBudget(cfg RetryBudgetConfig) *RetryBudget {
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Second
	}
	if cfg.MaxRetryPercentage <= 0 {
		cfg.MaxRetryPercentage = 20
	}
	seconds := int(cfg.Window / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return &RetryBudget{
		config:  cfg,
		buckets: make([]budgetBucket, seconds),
	}
}

// RecordRequest counts one inbound call toward the window.
func (b *RetryBudget) RecordRequest() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bucketFor(time.Now()).requests++
}

// AllowRetry admits a retry when the resulting ratio stays within budget,
// counting it immediately so concurrent callers cannot overrun the ceiling.
func (b *RetryBudget) AllowRetry() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	horizon := now.Unix() - int64(len(b.buckets))
	var requests, retries int64
	for i := range b.buckets {
		if b.buckets[i].second > horizon {
			requests += b.buckets[i].requests
			retries += b.buckets[i].retries
		}
	}
	if requests == 0 {
		requests = 1
	}
	if float64(retries+1)*100 > b.config.MaxRetryPercentage*float64(requests) {
		return false
	}
	b.bucketFor(now).retries++
	return true
}

// Snapshot returns the current request and retry counts in the window.
func (b *RetryBudget) Snapshot() (requests, retries int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	horizon := time.Now().Unix() - int64(len(b.buckets))
	for i := range b.buckets {
		if b.buckets[i].second > horizon {
			requests += b.buckets[i].requests
			retries += b.buckets[i].retries
		}
	}
	return requests, retries
}

// bucketFor returns the live bucket for t, recycling stale slots. Caller holds mu.
func (b *RetryBudget) bucketFor(t time.Time) *budgetBucket {
	second := t.Unix()
	slot := &b.buckets[second%int64(len(b.buckets))]
	if slot.second != second {
		slot.second = second
		slot.requests = 0
		slot.retries = 0
	}
	return slot
}
