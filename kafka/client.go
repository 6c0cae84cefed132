package kafka

import (
	"context"
	"time"
)

// BrokerClient is the slice of a Kafka client needed for manually assigned
// consumption: metadata discovery, partition assignment with explicit
// positioning, polling and group offset commits.
//
// Seek positions a partition so that the record at the given offset is the
// next one returned by Poll. CommitOffsets takes last-processed offsets; the
// value committed to the broker is offset+1, per Kafka convention.
type BrokerClient interface {
	ListPartitions(ctx context.Context, topic string) ([]TopicPartition, error)
	AssignPartitions(partitions ...TopicPartition)
	Seek(tp TopicPartition, offset int64)
	Poll(ctx context.Context, timeout time.Duration) ([]ConsumerRecord, error)
	CommitOffsets(ctx context.Context, group string, offsets map[TopicPartition]int64) error
	Close()
}
