// Package offsetstore persists committed consumer offsets. Two backends
// exist: an external coordination service (ZooKeeper) the connector writes
// to itself, and the broker's native consumer-group commit mechanism.
package offsetstore

import (
	"context"

	"github.com/fluxstream/kafka-source/kafka"
)

// Store maps (consumer group, topic, partition) to the last committed
// offset. Offsets stored are last-processed offsets; Fetch returns
// kafka.OffsetUnset when nothing has been committed for the partition.
type Store interface {
	Commit(ctx context.Context, tp kafka.TopicPartition, offset int64) error
	Fetch(ctx context.Context, tp kafka.TopicPartition) (int64, error)
	Close() error
}

// Committer is the native commit capability of a fetcher, used by the
// broker-backed store.
type Committer interface {
	Commit(ctx context.Context, offsets map[kafka.TopicPartition]int64) error
}
