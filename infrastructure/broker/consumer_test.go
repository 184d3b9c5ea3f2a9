package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/HZeroxium/fleet-control/infrastructure/logging"
)

func testLogger() *logging.Logger {
	return logging.New("test", "error", "json")
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestBatchConsumer_ProcessesAndCommits(t *testing.T) {
	b := NewMemoryBroker(2)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = b.Publish(ctx, "t", "svc-a", []byte(fmt.Sprintf("%d", i)))
	}

	var mu sync.Mutex
	var seen []string
	cfg := DefaultConsumerConfig("t", "t-dlq")
	cfg.FetchMaxWait = 20 * time.Millisecond
	consumer := NewBatchConsumer(b, cfg, func(_ context.Context, batch *Batch) error {
		mu.Lock()
		defer mu.Unlock()
		for _, rec := range batch.Records {
			seen = append(seen, string(rec.Value))
		}
		return nil
	}, testLogger())

	consumer.Start(ctx)
	defer consumer.Stop()

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 5
	})
	waitFor(t, 2*time.Second, func() bool {
		return b.TopicDepth("t") == 0
	})

	mu.Lock()
	defer mu.Unlock()
	for i, v := range seen {
		if v != fmt.Sprintf("%d", i) {
			t.Errorf("record %d out of order: %s", i, v)
		}
	}
}

func TestBatchConsumer_PoisonRoutedToDLQOnce(t *testing.T) {
	b := NewMemoryBroker(1)
	ctx := context.Background()
	_ = b.Publish(ctx, "t", "bad", []byte("poison"))

	var attempts int32
	var mu sync.Mutex
	cfg := DefaultConsumerConfig("t", "t-dlq")
	cfg.MaxRetries = 3
	cfg.FetchMaxWait = 20 * time.Millisecond
	consumer := NewBatchConsumer(b, cfg, func(context.Context, *Batch) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("always fails")
	}, testLogger())

	consumer.Start(ctx)
	defer consumer.Stop()

	// Attempt 1, backoff 1s, attempt 2, backoff 2s, attempt 3, DLQ.
	waitFor(t, 10*time.Second, func() bool {
		return len(b.TopicRecords("t-dlq")) > 0
	})

	dlq := b.TopicRecords("t-dlq")
	if len(dlq) != 1 {
		t.Fatalf("expected exactly 1 DLQ record, got %d", len(dlq))
	}
	if dlq[0].Key != "bad" || string(dlq[0].Value) != "poison" {
		t.Errorf("DLQ record lost key or bytes: %+v", dlq[0])
	}

	// Original batch is committed after routing.
	waitFor(t, 2*time.Second, func() bool {
		return b.TopicDepth("t") == 0
	})

	mu.Lock()
	got := attempts
	mu.Unlock()
	if got != 3 {
		t.Errorf("expected exactly 3 processing attempts, got %d", got)
	}
}

func TestBatchConsumer_RecoversAfterTransientFailure(t *testing.T) {
	b := NewMemoryBroker(1)
	ctx := context.Background()
	_ = b.Publish(ctx, "t", "k", []byte("v"))

	var calls int32
	var mu sync.Mutex
	cfg := DefaultConsumerConfig("t", "t-dlq")
	cfg.FetchMaxWait = 20 * time.Millisecond
	consumer := NewBatchConsumer(b, cfg, func(context.Context, *Batch) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	}, testLogger())

	consumer.Start(ctx)
	defer consumer.Stop()

	waitFor(t, 5*time.Second, func() bool {
		return b.TopicDepth("t") == 0
	})
	if len(b.TopicRecords("t-dlq")) != 0 {
		t.Error("recovered batch must not reach the DLQ")
	}
}

func TestBatchConsumer_StopLeavesBatchUncommitted(t *testing.T) {
	b := NewMemoryBroker(1)
	ctx := context.Background()
	_ = b.Publish(ctx, "t", "k", []byte("v"))

	processing := make(chan struct{})
	var once sync.Once
	cfg := DefaultConsumerConfig("t", "t-dlq")
	cfg.FetchMaxWait = 20 * time.Millisecond
	consumer := NewBatchConsumer(b, cfg, func(context.Context, *Batch) error {
		once.Do(func() { close(processing) })
		return errors.New("force backoff")
	}, testLogger())

	consumer.Start(ctx)
	<-processing
	consumer.Stop() // cancels during the backoff sleep

	if depth := b.TopicDepth("t"); depth != 1 {
		t.Errorf("cancelled batch must stay uncommitted, depth=%d", depth)
	}
}
