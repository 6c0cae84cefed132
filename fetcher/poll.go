package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxstream/kafka-source/kafka"
	"go.uber.org/zap"
)

var _ Fetcher = (*PollFetcher)(nil)

const DefaultPollTimeout = 50 * time.Millisecond

// PollFetcher actively polls the broker on a bounded timeout and delivers
// whatever each poll returns. The timeout bounds how long a Stop call can go
// unobserved. Broker I/O errors are fatal; the surrounding job recovers by
// restarting from a checkpoint.
type PollFetcher struct {
	client      kafka.BrokerClient
	deliver     DeliverFunc
	group       string
	pollTimeout time.Duration
	logger      *zap.Logger

	mu         sync.Mutex
	subscribed bool

	stopped   atomic.Bool
	closeOnce sync.Once
}

func NewPollFetcher(client kafka.BrokerClient, deliver DeliverFunc, group string, pollTimeout time.Duration, logger *zap.Logger) *PollFetcher {
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PollFetcher{
		client:      client,
		deliver:     deliver,
		group:       group,
		pollTimeout: pollTimeout,
		logger:      logger.With(zap.String("component", "poll-fetcher")),
	}
}

func (f *PollFetcher) Subscribe(partitions []kafka.TopicPartition) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subscribed {
		return errors.New("poll fetcher: already subscribed")
	}

	f.client.AssignPartitions(partitions...)
	f.subscribed = true

	f.logger.Info("Subscribed to partitions", zap.Int("count", len(partitions)))
	return nil
}

func (f *PollFetcher) Seek(tp kafka.TopicPartition, offset int64) {
	f.client.Seek(tp, offset)
	f.logger.Info("Seeking partition",
		zap.String("partition", tp.String()), zap.Int64("offset", offset))
}

func (f *PollFetcher) Run(ctx context.Context) error {
	f.mu.Lock()
	subscribed := f.subscribed
	f.mu.Unlock()
	if !subscribed {
		return errors.New("poll fetcher: run called before subscribe")
	}

	for !f.stopped.Load() {
		records, err := f.client.Poll(ctx, f.pollTimeout)
		if err != nil {
			// a poll in flight when Stop/Close lands fails with a
			// closed-client error; that is a clean shutdown, not a
			// broker failure
			if ctx.Err() != nil || f.stopped.Load() {
				return nil
			}
			return fmt.Errorf("poll fetcher: %w", err)
		}

		for _, rec := range records {
			if err := f.deliver(rec); err != nil {
				return fmt.Errorf("poll fetcher: deliver offset %d of %s: %w",
					rec.Offset, rec.TopicPartition(), err)
			}
		}
	}

	f.logger.Info("Poll loop stopped")
	return nil
}

func (f *PollFetcher) Commit(ctx context.Context, offsets map[kafka.TopicPartition]int64) error {
	return f.client.CommitOffsets(ctx, f.group, offsets)
}

func (f *PollFetcher) Stop() {
	f.stopped.Store(true)
}

func (f *PollFetcher) Close() error {
	f.closeOnce.Do(f.client.Close)
	return nil
}
