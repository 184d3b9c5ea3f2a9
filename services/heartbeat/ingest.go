package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/HZeroxium/fleet-control/domain/heartbeat"
	"github.com/HZeroxium/fleet-control/infrastructure/broker"
	"github.com/HZeroxium/fleet-control/infrastructure/config"
	"github.com/HZeroxium/fleet-control/infrastructure/logging"
	"github.com/HZeroxium/fleet-control/infrastructure/metrics"
	"github.com/HZeroxium/fleet-control/pkg/storage"
)

// Ingestor accepts heartbeats at the control-plane edge and enqueues them on
// the broker, keyed by service name so per-service order survives the queue.
type Ingestor struct {
	producer broker.Producer
	topic    string
	enabled  bool
	store    storage.FleetStore
	logger   *logging.Logger
}

// NewIngestor wires the intake. When async is disabled the projection is
// updated synchronously, bypassing the broker.
func NewIngestor(p broker.Producer, store storage.FleetStore, cfg config.HeartbeatConfig, logger *logging.Logger) *Ingestor {
	return &Ingestor{
		producer: p,
		topic:    cfg.Topic,
		enabled:  cfg.AsyncEnabled,
		store:    store,
		logger:   logger,
	}
}

// Accept validates and enqueues one heartbeat.
func (i *Ingestor) Accept(ctx context.Context, payload *heartbeat.Payload) error {
	if err := payload.Validate(); err != nil {
		return err
	}
	if payload.ObservedAt.IsZero() {
		payload.ObservedAt = time.Now().UTC()
	}

	if !i.enabled {
		return upsertPayload(ctx, i.store, payload)
	}

	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode heartbeat: %w", err)
	}
	return i.producer.Publish(ctx, i.topic, payload.PartitionKey(), value)
}

// Processor turns broker batches into projection upserts. It is the handler
// behind the batch consumer; any record failure fails the whole batch so the
// broker redelivers it.
type Processor struct {
	store   storage.FleetStore
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewProcessor creates the batch handler.
func NewProcessor(store storage.FleetStore, logger *logging.Logger, m *metrics.Metrics) *Processor {
	return &Processor{store: store, logger: logger, metrics: m}
}

// Handle implements broker.Handler.
func (p *Processor) Handle(ctx context.Context, batch *broker.Batch) error {
	start := time.Now()

	payloads := make([]heartbeat.Payload, 0, len(batch.Records))
	for _, rec := range batch.Records {
		var payload heartbeat.Payload
		if err := json.Unmarshal(rec.Value, &payload); err != nil {
			return fmt.Errorf("decode heartbeat record %s: %w", rec.ID, err)
		}
		if err := payload.Validate(); err != nil {
			return fmt.Errorf("invalid heartbeat record %s: %w", rec.ID, err)
		}
		payloads = append(payloads, payload)
	}

	for idx := range payloads {
		if err := upsertPayload(ctx, p.store, &payloads[idx]); err != nil {
			return fmt.Errorf("upsert projection: %w", err)
		}
	}

	if p.metrics != nil {
		p.metrics.RecordBatch(len(batch.Records), time.Since(start))
	}
	return nil
}

func upsertPayload(ctx context.Context, store storage.FleetStore, payload *heartbeat.Payload) error {
	observed := payload.ObservedAt
	if observed.IsZero() {
		observed = time.Now().UTC()
	}
	return store.Upsert(ctx, &heartbeat.FleetEntry{
		ServiceName: payload.ServiceName,
		InstanceID:  payload.InstanceID,
		LastSeen:    observed,
		ConfigHash:  payload.ConfigHash,
		LastPayload: *payload,
	})
}

// NewConsumer assembles the batch consumer for the heartbeat topic.
func NewConsumer(b broker.Broker, cfg config.HeartbeatConfig, store storage.FleetStore, logger *logging.Logger, m *metrics.Metrics) *broker.BatchConsumer {
	processor := NewProcessor(store, logger, m)
	consumerCfg := broker.ConsumerConfig{
		Topic:          cfg.Topic,
		DLQTopic:       cfg.DLQTopic,
		Concurrency:    cfg.Consumer.Concurrency,
		MaxPollRecords: cfg.Consumer.MaxPollRecords,
		FetchMinBytes:  cfg.Consumer.FetchMinBytes,
		FetchMaxWait:   cfg.Consumer.FetchMaxWait,
		MaxRetries:     cfg.Consumer.MaxRetries,
	}
	consumer := broker.NewBatchConsumer(b, consumerCfg, processor.Handle, logger)
	if m != nil {
		consumer.OnDLQ = func(topic string, records int) {
			m.DLQRouted.WithLabelValues(topic).Add(float64(records))
		}
	}
	return consumer
}
