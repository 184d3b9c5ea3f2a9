package broker

import (
	"context"
	"sync"
	"time"

	"github.com/HZeroxium/fleet-control/infrastructure/logging"
)

// Handler processes one batch. Returning an error leaves the batch uncommitted
// so the broker redelivers it.
type Handler func(ctx context.Context, batch *Batch) error

// ConsumerConfig configures a BatchConsumer.
type ConsumerConfig struct {
	Topic          string
	DLQTopic       string
	Concurrency    int
	MaxPollRecords int
	FetchMinBytes  int
	FetchMaxWait   time.Duration
	MaxRetries     int
}

// DefaultConsumerConfig returns the standard consumer tuning.
func DefaultConsumerConfig(topic, dlqTopic string) ConsumerConfig {
	return ConsumerConfig{
		Topic:          topic,
		DLQTopic:       dlqTopic,
		Concurrency:    10,
		MaxPollRecords: 100,
		FetchMinBytes:  1024,
		FetchMaxWait:   500 * time.Millisecond,
		MaxRetries:     3,
	}
}

// BatchConsumer pulls batches with manual commit. Workers own disjoint
// partition sets, preserving per-key order. A failing batch is retried with
// exponential backoff (1s, 2s, 4s, ...) by redelivery; once the per-worker
// count of failed attempts reaches MaxRetries, each record is republished
// individually to the DLQ and the original batch is acknowledged.
//
// Batch lifecycle: RECEIVED -> PROCESSING -> {COMMITTED | RETRY_SCHEDULED ->
// PROCESSING | DLQ_ROUTED -> COMMITTED}.
type BatchConsumer struct {
	broker  Broker
	config  ConsumerConfig
	handler Handler
	logger  *logging.Logger

	// OnBatch and OnDLQ are optional observability hooks.
	OnBatch func(size int, duration time.Duration)
	OnDLQ   func(topic string, records int)

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewBatchConsumer creates a consumer; Start launches its workers.
func NewBatchConsumer(b Broker, cfg ConsumerConfig, handler Handler, logger *logging.Logger) *BatchConsumer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.MaxPollRecords <= 0 {
		cfg.MaxPollRecords = 100
	}
	if cfg.FetchMaxWait <= 0 {
		cfg.FetchMaxWait = 500 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &BatchConsumer{
		broker:  b,
		config:  cfg,
		handler: handler,
		logger:  logger,
	}
}

// Start launches the partition workers. Each worker owns the partitions whose
// index is congruent to its own modulo the worker count.
func (c *BatchConsumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	partitions := c.broker.Partitions(c.config.Topic)

	workers := c.config.Concurrency
	if workers > partitions {
		workers = partitions
	}
	for w := 0; w < workers; w++ {
		var owned []int
		for p := w; p < partitions; p += workers {
			owned = append(owned, p)
		}
		c.wg.Add(1)
		go c.runWorker(ctx, w, owned)
	}
}

// Stop cancels the workers and waits for them to drain. In-flight batches are
// left uncommitted and will be redelivered.
func (c *BatchConsumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

func (c *BatchConsumer) runWorker(ctx context.Context, id int, partitions []int) {
	defer c.wg.Done()

	// Stateful retry counter: survives across redeliveries of the same batch
	// within this worker, resets on commit or DLQ routing.
	attempts := 0

	for {
		if ctx.Err() != nil {
			return
		}
		for _, partition := range partitions {
			if ctx.Err() != nil {
				return
			}
			records, err := c.broker.Fetch(ctx, c.config.Topic, partition, c.config.MaxPollRecords, c.config.FetchMaxWait)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.WithError(err).WithFields(map[string]interface{}{
					"worker":    id,
					"partition": partition,
				}).Warn("fetch failed")
				continue
			}
			if len(records) == 0 {
				continue
			}

			batch := &Batch{Topic: c.config.Topic, Partition: partition, Records: records}
			start := time.Now()
			err = c.handler(ctx, batch)
			if err == nil {
				if ackErr := c.broker.Ack(ctx, c.config.Topic, partition, records); ackErr != nil {
					c.logger.WithError(ackErr).WithField("partition", partition).Error("commit failed")
					continue
				}
				attempts = 0
				if c.OnBatch != nil {
					c.OnBatch(len(records), time.Since(start))
				}
				continue
			}

			attempts++
			c.logger.WithError(err).WithFields(map[string]interface{}{
				"worker":    id,
				"partition": partition,
				"attempt":   attempts,
				"records":   len(records),
			}).Warn("batch processing failed")

			if attempts >= c.config.MaxRetries {
				c.routeToDLQ(ctx, batch)
				attempts = 0
				if ackErr := c.broker.Ack(ctx, c.config.Topic, partition, records); ackErr != nil {
					c.logger.WithError(ackErr).WithField("partition", partition).Error("commit after DLQ routing failed")
				}
				continue
			}

			// Interruptible backoff; cancellation leaves the batch uncommitted.
			backoff := time.Duration(1<<(attempts-1)) * time.Second
			select {
			case <-ctx.Done():
				c.logger.WithField("worker", id).Info("worker cancelled during backoff")
				return
			case <-time.After(backoff):
			}
		}
	}
}

// routeToDLQ republishes each record individually with its key preserved.
// A single failed publish is logged, never fatal.
func (c *BatchConsumer) routeToDLQ(ctx context.Context, batch *Batch) {
	routed := 0
	for _, rec := range batch.Records {
		if err := c.broker.Publish(ctx, c.config.DLQTopic, rec.Key, rec.Value); err != nil {
			c.logger.WithError(err).WithFields(map[string]interface{}{
				"topic": c.config.DLQTopic,
				"key":   rec.Key,
			}).Error("dead-letter publish failed")
			continue
		}
		routed++
	}
	c.logger.WithFields(map[string]interface{}{
		"topic":   c.config.DLQTopic,
		"records": routed,
	}).Warn("batch routed to dead-letter topic")
	if c.OnDLQ != nil && routed > 0 {
		c.OnDLQ(c.config.DLQTopic, routed)
	}
}
