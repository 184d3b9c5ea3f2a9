package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/HZeroxium/fleet-control/infrastructure/errors"
)

// RedisBroker implements Broker on Redis Streams. Each topic is sharded into a
// fixed number of streams ("topic:partition"); a consumer group per stream
// provides at-least-once delivery with explicit XACK. Pending (delivered but
// unacknowledged) entries are re-read before new ones, so an unacked batch is
// redelivered intact.
type RedisBroker struct {
	client     redis.UniversalClient
	group      string
	consumer   string
	partitions int

	mu     sync.Mutex
	groups map[string]bool // streams whose consumer group exists
}

// RedisBrokerConfig configures a RedisBroker.
type RedisBrokerConfig struct {
	Group      string
	Consumer   string
	Partitions int
}

// NewRedisBroker creates a broker client over an existing Redis connection.
func NewRedisBroker(client redis.UniversalClient, cfg RedisBrokerConfig) *RedisBroker {
	if cfg.Group == "" {
		cfg.Group = "fleet-control"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "consumer-1"
	}
	if cfg.Partitions <= 0 {
		cfg.Partitions = 8
	}
	return &RedisBroker{
		client:     client,
		group:      cfg.Group,
		consumer:   cfg.Consumer,
		partitions: cfg.Partitions,
		groups:     make(map[string]bool),
	}
}

// Partitions returns the partition count for any topic.
func (b *RedisBroker) Partitions(string) int {
	return b.partitions
}

func (b *RedisBroker) stream(topic string, partition int) string {
	return fmt.Sprintf("%s:%d", topic, partition)
}

// Publish appends a record to the partition owned by key.
func (b *RedisBroker) Publish(ctx context.Context, topic, key string, value []byte) error {
	partition := PartitionFor(key, b.partitions)
	stream := b.stream(topic, partition)
	err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"key": key, "value": value},
	}).Err()
	if err != nil {
		return apperrors.BrokerError("publish", err)
	}
	return nil
}

// ensureGroup creates the consumer group for a stream once.
func (b *RedisBroker) ensureGroup(ctx context.Context, stream string) error {
	b.mu.Lock()
	exists := b.groups[stream]
	b.mu.Unlock()
	if exists {
		return nil
	}

	err := b.client.XGroupCreateMkStream(ctx, stream, b.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return apperrors.BrokerError("group-create", err)
	}
	b.mu.Lock()
	b.groups[stream] = true
	b.mu.Unlock()
	return nil
}

// Fetch reads up to max records from one partition, pending entries first.
func (b *RedisBroker) Fetch(ctx context.Context, topic string, partition, max int, wait time.Duration) ([]Record, error) {
	stream := b.stream(topic, partition)
	if err := b.ensureGroup(ctx, stream); err != nil {
		return nil, err
	}

	// Pending entries (delivered, never acked) are redelivered before new
	// ones; this is what makes batch-level retry possible.
	records, err := b.read(ctx, stream, topic, partition, max, 0, "0")
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		return records, nil
	}
	return b.read(ctx, stream, topic, partition, max, wait, ">")
}

func (b *RedisBroker) read(ctx context.Context, stream, topic string, partition, max int, block time.Duration, cursor string) ([]Record, error) {
	args := &redis.XReadGroupArgs{
		Group:    b.group,
		Consumer: b.consumer,
		Streams:  []string{stream, cursor},
		Count:    int64(max),
	}
	if block > 0 {
		args.Block = block
	} else {
		args.Block = -1 // do not block when draining pending entries
	}

	res, err := b.client.XReadGroup(ctx, args).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, apperrors.BrokerError("fetch", err)
	}

	var records []Record
	for _, streamRes := range res {
		for _, msg := range streamRes.Messages {
			records = append(records, recordFromMessage(topic, partition, msg))
		}
	}
	return records, nil
}

func recordFromMessage(topic string, partition int, msg redis.XMessage) Record {
	rec := Record{Topic: topic, Partition: partition, ID: msg.ID}
	if key, ok := msg.Values["key"].(string); ok {
		rec.Key = key
	}
	switch v := msg.Values["value"].(type) {
	case string:
		rec.Value = []byte(v)
	case []byte:
		rec.Value = v
	}
	return rec
}

// Ack acknowledges records so they are never redelivered.
func (b *RedisBroker) Ack(ctx context.Context, topic string, partition int, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	stream := b.stream(topic, partition)
	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	if err := b.client.XAck(ctx, stream, b.group, ids...).Err(); err != nil {
		return apperrors.BrokerError("ack", err)
	}
	return nil
}
