// Package source implements a parallel Kafka source operator that takes part
// in a distributed checkpointing protocol. Each instance owns a static
// partition subset, tracks per-partition offset progress as records are
// emitted, snapshots that progress on checkpoint requests and commits the
// offsets of confirmed checkpoints to a durable offset store.
package source

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/fluxstream/kafka-source/fetcher"
	"github.com/fluxstream/kafka-source/kafka"
	"github.com/fluxstream/kafka-source/offsetstore"
	"github.com/fluxstream/kafka-source/serde"
	"github.com/fluxstream/kafka-source/telemetry"
	"go.uber.org/zap"
)

type options struct {
	logger     *zap.Logger
	client     kafka.BrokerClient
	pathClient offsetstore.PathClient
	store      offsetstore.Store
	fetch      fetcher.Fetcher
}

type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithBrokerClient injects the broker client used for metadata discovery and
// by the polling fetcher. Without it a franz-go client is built from the
// configured brokers.
func WithBrokerClient(c kafka.BrokerClient) Option {
	return func(o *options) { o.client = c }
}

// WithPathClient injects the coordination-service client backing the
// ZooKeeper offset store.
func WithPathClient(c offsetstore.PathClient) Option {
	return func(o *options) { o.pathClient = c }
}

// WithOffsetStore overrides the offset store entirely.
func WithOffsetStore(s offsetstore.Store) Option {
	return func(o *options) { o.store = s }
}

// WithFetcher overrides the fetcher entirely. The fetcher must route its
// records through the DeliverFunc obtained from Source.Deliver.
func WithFetcher(f fetcher.Fetcher) Option {
	return func(o *options) { o.fetch = f }
}

// Source is the checkpointed source operator for one parallel instance.
//
// Lifecycle: New discovers partitions, Open wires the fetcher and offset
// store and positions the cursors, Run blocks consuming, Cancel stops and
// releases. SnapshotState and NotifyCheckpointComplete are called from the
// checkpoint coordination path, concurrently with Run.
type Source[T any] struct {
	cfg          Config
	deserialiser serde.Deserialiser[T]
	logger       *zap.Logger
	opts         options

	client     kafka.BrokerClient
	partitions []kafka.TopicPartition
	indexOf    map[kafka.TopicPartition]int
	assigned   []kafka.TopicPartition

	fetch fetcher.Fetcher
	store offsetstore.Store

	// deliveryMu makes record emission and progress update atomic with
	// respect to snapshots: a snapshot always reflects exactly the records
	// already emitted downstream.
	deliveryMu sync.Mutex
	progress   []int64
	collector  Collector[T]

	pending pendingLedger

	committedMu sync.Mutex
	committed   []int64

	restored []int64

	opened    atomic.Bool
	cancelled sync.Once
}

// New discovers the topic's partitions and prepares a source instance. A
// topic with zero partitions is a configuration error and fails here.
func New[T any](ctx context.Context, cfg Config, d serde.Deserialiser[T], opts ...Option) (*Source[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	logger := o.logger.With(zap.String("component", "kafka-source"), zap.String("topic", cfg.Topic))

	client := o.client
	if client == nil {
		pos := kafka.StartLatest
		if cfg.StartFrom == "oldest" {
			pos = kafka.StartEarliest
		}
		var err error
		client, err = kafka.NewKgoClient(
			kafka.WithBootstrapServers(cfg.Brokers...),
			kafka.WithStartPosition(pos),
			kafka.WithLogger(o.logger),
		)
		if err != nil {
			return nil, err
		}
	}

	partitions, err := client.ListPartitions(ctx, cfg.Topic)
	if err != nil {
		return nil, fmt.Errorf("discover partitions: %w", err)
	}
	if len(partitions) == 0 {
		return nil, fmt.Errorf("topic %q has no partitions; check the topic name and broker configuration", cfg.Topic)
	}
	logger.Info("Discovered partitions", zap.Int("count", len(partitions)))

	indexOf := make(map[kafka.TopicPartition]int, len(partitions))
	for i, tp := range partitions {
		indexOf[tp] = i
	}

	return &Source[T]{
		cfg:          cfg,
		deserialiser: d,
		logger:       logger,
		opts:         o,
		client:       client,
		partitions:   partitions,
		indexOf:      indexOf,
	}, nil
}

// Partitions returns the full partition list discovered at construction.
func (s *Source[T]) Partitions() []kafka.TopicPartition {
	return append([]kafka.TopicPartition(nil), s.partitions...)
}

// RestoreState seeds the source with offsets from a previous snapshot. Only
// valid before Open; the token is consumed during Open to position the
// fetcher before any record is read.
func (s *Source[T]) RestoreState(offsets []int64) error {
	if s.opened.Load() {
		return errors.New("restore is only valid before the source is opened")
	}
	if len(offsets) != len(s.partitions) {
		return fmt.Errorf("restore token has %d offsets, topic has %d partitions", len(offsets), len(s.partitions))
	}

	s.restored = append([]int64(nil), offsets...)
	return nil
}

// Open computes this instance's assignment, builds the fetcher and offset
// store and positions every assigned partition: from the restore token if
// one was supplied, otherwise from previously committed offsets.
func (s *Source[T]) Open(ctx context.Context, rc RuntimeContext, collector Collector[T]) error {
	if s.opened.Load() {
		return errors.New("source already opened")
	}
	if collector == nil {
		return errors.New("open: collector is required")
	}

	s.collector = collector
	s.assigned = AssignPartitions(s.partitions, rc.SubtaskIndex(), rc.Parallelism())
	s.logger.Info("Computed partition assignment",
		zap.Int("subtask", rc.SubtaskIndex()),
		zap.Int("parallelism", rc.Parallelism()),
		zap.Int("assigned", len(s.assigned)))

	s.progress = unsetVector(len(s.partitions))
	s.committed = unsetVector(len(s.partitions))

	if err := s.buildFetcher(); err != nil {
		return err
	}
	if err := s.fetch.Subscribe(s.assigned); err != nil {
		return err
	}
	if err := s.buildStore(); err != nil {
		return err
	}

	if s.restored != nil {
		s.logger.Info("Restoring offsets from snapshot")
		for _, tp := range s.assigned {
			if offset := s.restored[s.indexOf[tp]]; offset != kafka.OffsetUnset {
				s.fetch.Seek(tp, offset+1)
			}
		}
		s.restored = nil
	} else {
		// no restore request: resume from whatever the offset store has
		for _, tp := range s.assigned {
			offset, err := s.store.Fetch(ctx, tp)
			if err != nil {
				return fmt.Errorf("fetch committed offset for %s: %w", tp, err)
			}
			if offset != kafka.OffsetUnset {
				s.logger.Info("Resuming partition from committed offset",
					zap.String("partition", tp.String()), zap.Int64("offset", offset))
				s.fetch.Seek(tp, offset+1)
			}
		}
	}

	s.opened.Store(true)
	return nil
}

func (s *Source[T]) buildFetcher() error {
	if s.opts.fetch != nil {
		s.fetch = s.opts.fetch
		return nil
	}

	switch s.cfg.Fetcher {
	case FetcherPoll:
		s.fetch = fetcher.NewPollFetcher(s.client, s.deliver, s.cfg.GroupID, s.cfg.PollTimeout, s.logger)
	case FetcherGroup:
		f, err := fetcher.NewGroupFetcher(fetcher.GroupConfig{
			Brokers:       s.cfg.Brokers,
			GroupID:       s.cfg.GroupID,
			Version:       s.cfg.KafkaVersion,
			StartEarliest: s.cfg.StartFrom == "oldest",
		}, s.deliver, s.logger)
		if err != nil {
			return err
		}
		s.fetch = f
	default:
		return fmt.Errorf("unknown fetcher %q", s.cfg.Fetcher)
	}
	return nil
}

func (s *Source[T]) buildStore() error {
	if s.opts.store != nil {
		s.store = s.opts.store
		return nil
	}

	switch s.cfg.OffsetStore {
	case OffsetStoreZooKeeper:
		pathClient := s.opts.pathClient
		if pathClient == nil {
			var err error
			pathClient, err = offsetstore.NewZKPathClient(s.cfg.ZooKeeper.Servers, s.cfg.ZooKeeper.SessionTimeout, s.logger)
			if err != nil {
				return err
			}
		}
		store, err := offsetstore.NewZooKeeperStore(pathClient, s.cfg.GroupID, s.logger)
		if err != nil {
			return err
		}
		s.store = store
	case OffsetStoreBroker:
		s.store = offsetstore.NewBrokerNativeStore(s.fetch, s.logger)
	default:
		return fmt.Errorf("unknown offset store %q", s.cfg.OffsetStore)
	}
	return nil
}

// Run blocks consuming records until Cancel is called or a fatal broker
// error terminates the loop.
func (s *Source[T]) Run(ctx context.Context) error {
	if !s.opened.Load() {
		return errors.New("run called before open")
	}
	return s.fetch.Run(ctx)
}

// Cancel stops the fetcher and releases broker and offset store resources.
// Idempotent and safe to call from any state.
func (s *Source[T]) Cancel() {
	s.cancelled.Do(func() {
		if s.fetch != nil {
			s.fetch.Stop()
			if err := s.fetch.Close(); err != nil {
				s.logger.Warn("Error closing fetcher", zap.Error(err))
			}
		}
		if s.store != nil {
			if err := s.store.Close(); err != nil {
				s.logger.Warn("Error closing offset store", zap.Error(err))
			}
		}
		s.logger.Info("Source cancelled")
	})
}

// deliver is the fetcher's record callback. Decoding, emission and the
// progress update happen under the delivery lock so a concurrent snapshot
// never observes a half-applied record.
func (s *Source[T]) deliver(rec kafka.ConsumerRecord) error {
	idx, ok := s.indexOf[rec.TopicPartition()]
	if !ok {
		return fmt.Errorf("record for unknown partition %s", rec.TopicPartition())
	}

	s.deliveryMu.Lock()
	value, err := s.deserialiser.Deserialise(rec.Topic, rec.Value)
	if err != nil {
		s.deliveryMu.Unlock()
		return fmt.Errorf("deserialise record at offset %d of %s: %w", rec.Offset, rec.TopicPartition(), err)
	}
	s.collector.Collect(value)
	s.progress[idx] = rec.Offset
	s.deliveryMu.Unlock()

	telemetry.RecordsConsumed.WithLabelValues(rec.Topic, strconv.Itoa(int(rec.Partition))).Inc()
	return nil
}

// Deliver exposes the record callback for externally constructed fetchers.
func (s *Source[T]) Deliver(rec kafka.ConsumerRecord) error {
	return s.deliver(rec)
}

// SnapshotState captures the current progress vector for a checkpoint and
// parks it in the pending ledger until the checkpoint completes. Called
// before Open finishes it returns all-unset offsets: the coordinator still
// needs a placeholder payload.
func (s *Source[T]) SnapshotState(checkpointID int64) []int64 {
	if !s.opened.Load() {
		s.logger.Warn("Snapshot requested before the source opened, returning unset offsets",
			zap.Int64("checkpoint_id", checkpointID))
		return unsetVector(len(s.partitions))
	}

	s.deliveryMu.Lock()
	snapshot := append([]int64(nil), s.progress...)
	s.deliveryMu.Unlock()

	s.pending.Put(checkpointID, snapshot)
	telemetry.SnapshotsTaken.Inc()
	telemetry.PendingCheckpoints.Set(float64(s.pending.Len()))

	s.logger.Debug("Snapshotted progress",
		zap.Int64("checkpoint_id", checkpointID), zap.Int64s("offsets", snapshot))
	return snapshot
}

// NotifyCheckpointComplete commits the offsets captured for the confirmed
// checkpoint and drops it, along with every older pending entry, from the
// ledger. Unknown ids are ignored: coordinator notifications can be
// duplicated or arrive late.
func (s *Source[T]) NotifyCheckpointComplete(ctx context.Context, checkpointID int64) error {
	offsets, ok := s.pending.Resolve(checkpointID)
	if !ok {
		s.logger.Warn("Ignoring completion for unknown checkpoint",
			zap.Int64("checkpoint_id", checkpointID))
		return nil
	}
	telemetry.PendingCheckpoints.Set(float64(s.pending.Len()))

	s.logger.Info("Committing offsets for checkpoint",
		zap.Int64("checkpoint_id", checkpointID), zap.Int64s("offsets", offsets))

	if err := s.commitOffsets(ctx, offsets); err != nil {
		telemetry.CommitFailures.Inc()
		return err
	}
	telemetry.CheckpointsCommitted.Inc()
	return nil
}

// commitOffsets writes each offset that advances past the committed vector.
// The vector never regresses, even if confirmations race or repeat.
func (s *Source[T]) commitOffsets(ctx context.Context, offsets []int64) error {
	s.committedMu.Lock()
	defer s.committedMu.Unlock()

	for idx, offset := range offsets {
		if offset == kafka.OffsetUnset {
			continue
		}
		if offset <= s.committed[idx] {
			s.logger.Debug("Skipping already committed offset",
				zap.String("partition", s.partitions[idx].String()), zap.Int64("offset", offset))
			continue
		}

		if err := s.store.Commit(ctx, s.partitions[idx], offset); err != nil {
			return fmt.Errorf("commit offset %d for %s: %w", offset, s.partitions[idx], err)
		}
		s.committed[idx] = offset
	}

	return nil
}

func unsetVector(n int) []int64 {
	v := make([]int64, n)
	for i := range v {
		v[i] = kafka.OffsetUnset
	}
	return v
}
