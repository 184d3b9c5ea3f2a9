package resilience

import (
	"testing"
	"time"
)

func TestRetryBudget_BoundOverWindow(t *testing.T) {
	// 100 requests at 20% budget admits at most 20 retries.
	budget := NewRetryBudget(RetryBudgetConfig{Window: 10 * time.Second, MaxRetryPercentage: 20})

	for i := 0; i < 100; i++ {
		budget.RecordRequest()
	}

	granted := 0
	for i := 0; i < 100; i++ {
		if budget.AllowRetry() {
			granted++
		}
	}
	if granted > 20 {
		t.Errorf("budget exceeded: %d retries granted over 100 requests at 20%%", granted)
	}
	if granted == 0 {
		t.Error("budget granted no retries at all")
	}
}

func TestRetryBudget_DeniesWithoutRequests(t *testing.T) {
	budget := NewRetryBudget(RetryBudgetConfig{Window: time.Second, MaxRetryPercentage: 20})
	// With zero requests in the window the ratio denominator floors at 1;
	// a single retry would already exceed 20%.
	if budget.AllowRetry() {
		t.Error("expected denial with an empty window")
	}
}

func TestRetryBudget_Snapshot(t *testing.T) {
	budget := NewRetryBudget(RetryBudgetConfig{Window: 10 * time.Second, MaxRetryPercentage: 50})
	for i := 0; i < 10; i++ {
		budget.RecordRequest()
	}
	budget.AllowRetry()

	requests, retries := budget.Snapshot()
	if requests != 10 {
		t.Errorf("expected 10 requests, got %d", requests)
	}
	if retries != 1 {
		t.Errorf("expected 1 retry, got %d", retries)
	}
}

func TestRetryBudget_ConcurrentAccess(t *testing.T) {
	budget := NewRetryBudget(RetryBudgetConfig{Window: 10 * time.Second, MaxRetryPercentage: 20})

	done := make(chan int, 8)
	for w := 0; w < 8; w++ {
		go func() {
			granted := 0
			for i := 0; i < 100; i++ {
				budget.RecordRequest()
				if budget.AllowRetry() {
					granted++
				}
			}
			done <- granted
		}()
	}

	total := 0
	for w := 0; w < 8; w++ {
		total += <-done
	}
	requests, _ := budget.Snapshot()
	limit := int(float64(requests) * 0.20)
	if total > limit+1 {
		t.Errorf("concurrent grants %d exceed budget %d", total, limit)
	}
}
