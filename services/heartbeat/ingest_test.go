package heartbeat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HZeroxium/fleet-control/domain/heartbeat"
	"github.com/HZeroxium/fleet-control/infrastructure/broker"
	"github.com/HZeroxium/fleet-control/infrastructure/config"
	apperrors "github.com/HZeroxium/fleet-control/infrastructure/errors"
	"github.com/HZeroxium/fleet-control/infrastructure/logging"
	"github.com/HZeroxium/fleet-control/pkg/storage/memory"
)

func testHeartbeatConfig() config.HeartbeatConfig {
	return config.HeartbeatConfig{
		AsyncEnabled: true,
		Topic:        "heartbeat-queue",
		DLQTopic:     "heartbeat-queue-dlq",
		Partitions:   4,
		Consumer: config.ConsumerConfig{
			Concurrency:    4,
			MaxPollRecords: 100,
			FetchMaxWait:   20 * time.Millisecond,
			MaxRetries:     3,
		},
		MissThreshold:       90 * time.Second,
		RetirementThreshold: 24 * time.Hour,
	}
}

func payload(serviceName, instanceID string, observed time.Time) *heartbeat.Payload {
	return &heartbeat.Payload{
		ServiceName: serviceName,
		InstanceID:  instanceID,
		ConfigHash:  "deadbeef",
		Host:        "h1",
		Port:        8080,
		Environment: "prod",
		Version:     "1.0.0",
		Metadata:    map[string]string{"hostname": "h1", "profile": "prod"},
		ObservedAt:  observed,
	}
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

func TestIngest_HappyPath(t *testing.T) {
	cfg := testHeartbeatConfig()
	bus := broker.NewMemoryBroker(cfg.Partitions)
	store := memory.NewFleetStore()
	logger := logging.New("test", "error", "json")

	ingestor := NewIngestor(bus, store, cfg, logger)
	consumer := NewConsumer(bus, cfg, store, logger, nil)
	ctx := context.Background()
	consumer.Start(ctx)
	defer consumer.Stop()

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		require.NoError(t, ingestor.Accept(ctx, payload("svc-a", "svc-a-1", base.Add(time.Duration(i)*time.Second))))
	}

	waitFor(t, 2*time.Second, func() bool {
		entry, err := store.Get(ctx, "svc-a-1")
		return err == nil && !entry.LastSeen.Before(base.Add(2*time.Second))
	})

	entry, err := store.Get(ctx, "svc-a-1")
	require.NoError(t, err)
	assert.Equal(t, "svc-a", entry.ServiceName)
	assert.Equal(t, "deadbeef", entry.LastPayload.ConfigHash)
	assert.False(t, entry.LastSeen.Before(base.Add(2*time.Second)))

	entries, err := store.ListByService(ctx, "svc-a")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "three heartbeats collapse into one projection entry")
}

func TestIngest_RejectsInvalidPayload(t *testing.T) {
	cfg := testHeartbeatConfig()
	ingestor := NewIngestor(broker.NewMemoryBroker(cfg.Partitions), memory.NewFleetStore(), cfg, logging.New("test", "error", "json"))

	err := ingestor.Accept(context.Background(), payload("", "i-1", time.Now()))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMissingParameter))
}

func TestIngest_SyncModeBypassesBroker(t *testing.T) {
	cfg := testHeartbeatConfig()
	cfg.AsyncEnabled = false
	bus := broker.NewMemoryBroker(cfg.Partitions)
	store := memory.NewFleetStore()
	ingestor := NewIngestor(bus, store, cfg, logging.New("test", "error", "json"))
	ctx := context.Background()

	require.NoError(t, ingestor.Accept(ctx, payload("svc-s", "svc-s-1", time.Now().UTC())))

	entry, err := store.Get(ctx, "svc-s-1")
	require.NoError(t, err)
	assert.Equal(t, "svc-s", entry.ServiceName)
	assert.Zero(t, bus.TopicDepth(cfg.Topic))
}

func TestIngest_PoisonRoutedToDLQ(t *testing.T) {
	cfg := testHeartbeatConfig()
	bus := broker.NewMemoryBroker(cfg.Partitions)
	store := memory.NewFleetStore()
	logger := logging.New("test", "error", "json")

	// A record that deserializes into an invalid payload poisons its batch:
	// empty serviceName fails validation on every attempt.
	poison, err := json.Marshal(payload("", "svc-a-1", time.Now().UTC()))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, cfg.Topic, "svc-a", poison))

	consumer := NewConsumer(bus, cfg, store, logger, nil)
	consumer.Start(ctx)
	defer consumer.Stop()

	// Three failed attempts with 1s and 2s backoffs, then DLQ.
	waitFor(t, 10*time.Second, func() bool {
		return len(bus.TopicRecords(cfg.DLQTopic)) > 0
	})

	dlq := bus.TopicRecords(cfg.DLQTopic)
	require.Len(t, dlq, 1, "poison record appears in the DLQ exactly once")
	assert.Equal(t, "svc-a", dlq[0].Key, "partition key preserved")
	assert.Equal(t, poison, dlq[0].Value, "original bytes preserved")

	_, err = store.Get(ctx, "svc-a-1")
	assert.Error(t, err, "no projection entry for the poison record")

	waitFor(t, 2*time.Second, func() bool {
		return bus.TopicDepth(cfg.Topic) == 0
	})
}

func TestIngest_PerServiceOrder(t *testing.T) {
	cfg := testHeartbeatConfig()
	bus := broker.NewMemoryBroker(cfg.Partitions)
	store := memory.NewFleetStore()
	logger := logging.New("test", "error", "json")

	ingestor := NewIngestor(bus, store, cfg, logger)
	consumer := NewConsumer(bus, cfg, store, logger, nil)
	ctx := context.Background()
	consumer.Start(ctx)
	defer consumer.Stop()

	base := time.Now().UTC()
	const n = 20
	for i := 0; i < n; i++ {
		require.NoError(t, ingestor.Accept(ctx, payload("svc-o", "svc-o-1", base.Add(time.Duration(i)*time.Millisecond))))
	}

	waitFor(t, 2*time.Second, func() bool {
		entry, err := store.Get(ctx, "svc-o-1")
		return err == nil && entry.LastSeen.Equal(base.Add((n-1)*time.Millisecond))
	})

	// The projection never moves backwards: the final state reflects the
	// last submission.
	entry, err := store.Get(ctx, "svc-o-1")
	require.NoError(t, err)
	assert.True(t, entry.LastSeen.Equal(base.Add((n-1)*time.Millisecond)))
}

func TestSweeper_MarksAndRetires(t *testing.T) {
	cfg := testHeartbeatConfig()
	cfg.MissThreshold = 50 * time.Millisecond
	cfg.RetirementThreshold = time.Hour
	store := memory.NewFleetStore()
	ctx := context.Background()

	stale := payload("svc-m", "svc-m-1", time.Now().UTC().Add(-time.Minute))
	require.NoError(t, upsertPayload(ctx, store, stale))

	sweeper := NewSweeper(store, cfg, logging.New("test", "error", "json"))
	sweeper.Sweep(ctx)

	entry, err := store.Get(ctx, "svc-m-1")
	require.NoError(t, err)
	assert.Equal(t, 1, entry.ConsecutiveMisses)

	// Past the retirement threshold the entry is deleted.
	cfg.RetirementThreshold = time.Second
	sweeper = NewSweeper(store, cfg, logging.New("test", "error", "json"))
	sweeper.Sweep(ctx)

	_, err = store.Get(ctx, "svc-m-1")
	assert.Error(t, err)
}
