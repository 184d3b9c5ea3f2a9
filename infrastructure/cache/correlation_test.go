package cache

import (
	"context"
	"testing"
	"time"
)

func newLocalEngine() *Engine {
	return NewEngine(EngineConfig{Provider: ProviderLocal, DefaultTTL: time.Minute}, nil, nil, nil)
}

func TestCorrelationTable_RegisterResolve(t *testing.T) {
	table := NewCorrelationTable(newLocalEngine(), time.Minute)
	ctx := context.Background()

	if err := table.Register(ctx, "corr-1", map[string]string{"reply": "pending"}, time.Time{}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	var out map[string]string
	found, err := table.Resolve(ctx, "corr-1", &out)
	if err != nil || !found {
		t.Fatalf("resolve failed: found=%v err=%v", found, err)
	}
	if out["reply"] != "pending" {
		t.Errorf("unexpected payload %v", out)
	}

	// Resolution consumes the entry.
	found, _ = table.Resolve(ctx, "corr-1", &out)
	if found {
		t.Error("entry must be removed after resolution")
	}
}

func TestCorrelationTable_DeadlineBoundsTTL(t *testing.T) {
	table := NewCorrelationTable(newLocalEngine(), time.Minute)
	ctx := context.Background()

	deadline := time.Now().Add(30 * time.Millisecond)
	if err := table.Register(ctx, "corr-2", "payload", deadline); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	time.Sleep(60 * time.Millisecond)

	var out string
	found, _ := table.Resolve(ctx, "corr-2", &out)
	if found {
		t.Error("entry past its deadline must not resolve")
	}
}

func TestCorrelationTable_UnknownID(t *testing.T) {
	table := NewCorrelationTable(newLocalEngine(), time.Minute)

	var out string
	found, err := table.Resolve(context.Background(), "ghost", &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("unknown correlation ID must not resolve")
	}
}
