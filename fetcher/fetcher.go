// Package fetcher pulls records from the broker and hands them to the
// orchestrator one at a time. Two interchangeable strategies implement the
// same contract: a polling loop that drives all partition state itself, and
// a broker-managed group subscription.
package fetcher

import (
	"context"

	"github.com/fluxstream/kafka-source/kafka"
)

// DeliverFunc receives every fetched record. The orchestrator's
// implementation decodes, emits downstream and updates offset progress
// atomically; a non-nil error aborts the run loop.
type DeliverFunc func(rec kafka.ConsumerRecord) error

// Fetcher is the pluggable consumption strategy.
//
// Subscribe must be called before Run. Seek positions one partition so the
// record at the given offset is fetched next; it is only meaningful before
// Run starts. Commit acknowledges last-processed offsets through the
// broker's native mechanism. Stop asks the run loop to exit after the record
// currently in flight; it is idempotent, as is Close.
type Fetcher interface {
	Subscribe(partitions []kafka.TopicPartition) error
	Run(ctx context.Context) error
	Seek(tp kafka.TopicPartition, offset int64)
	Commit(ctx context.Context, offsets map[kafka.TopicPartition]int64) error
	Stop()
	Close() error
}
