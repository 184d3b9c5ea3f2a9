// Package broker abstracts a partitioned, durable, ordered queue. Records
// sharing a partition key land in the same partition and are delivered in
// submission order to a single consumer; delivery is at-least-once and offsets
// advance only on explicit acknowledgement. A dead-letter topic captures
// poison batches.
package broker

import (
	"context"
	"hash/fnv"
	"time"
)

// Record is one queued message.
type Record struct {
	Topic     string
	Partition int
	ID        string // broker-assigned delivery ID, used for acknowledgement
	Key       string // partition key
	Value     []byte
}

// Batch is an ordered slice of records from one partition.
type Batch struct {
	Topic     string
	Partition int
	Records   []Record
}

// Producer publishes records.
type Producer interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// PartitionReader fetches and acknowledges records for one partition.
type PartitionReader interface {
	// Fetch returns up to max records. Unacknowledged records from earlier
	// deliveries are returned before new ones, preserving order. Blocks up to
	// wait when no records are available.
	Fetch(ctx context.Context, topic string, partition, max int, wait time.Duration) ([]Record, error)
	// Ack marks records as processed; the broker will not redeliver them.
	Ack(ctx context.Context, topic string, partition int, records []Record) error
}

// Broker is a full client: produce, consume, and inspect topology.
type Broker interface {
	Producer
	PartitionReader
	Partitions(topic string) int
}

// PartitionFor maps a key to a partition using FNV-1a, keeping all records of
// one key on one partition.
func PartitionFor(key string, partitions int) int {
	if partitions <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(partitions))
}
