package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/IBM/sarama"
	"github.com/fluxstream/kafka-source/kafka"
	"go.uber.org/zap"
)

var _ Fetcher = (*GroupFetcher)(nil)

type GroupConfig struct {
	Brokers       []string
	GroupID       string
	Version       string
	StartEarliest bool
}

// GroupFetcher joins a consumer group and lets the broker's membership
// protocol own partition and offset bookkeeping. Every delivered record
// still passes through the DeliverFunc so the orchestrator's progress vector
// stays authoritative. Offsets are only committed through Commit; automatic
// commits are disabled.
type GroupFetcher struct {
	cfg     GroupConfig
	deliver DeliverFunc
	logger  *zap.Logger

	cl    sarama.Client
	group sarama.ConsumerGroup

	mu      sync.Mutex
	topics  []string
	seeks   map[kafka.TopicPartition]int64
	session sarama.ConsumerGroupSession

	stopped   atomic.Bool
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func NewGroupFetcher(cfg GroupConfig, deliver DeliverFunc, logger *zap.Logger) (*GroupFetcher, error) {
	if cfg.GroupID == "" {
		return nil, errors.New("group fetcher: consumer group is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sc := sarama.NewConfig()
	if cfg.Version != "" {
		ver, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, fmt.Errorf("group fetcher: %w", err)
		}
		sc.Version = ver
	}
	sc.Consumer.Return.Errors = true
	sc.Consumer.Offsets.AutoCommit.Enable = false
	if cfg.StartEarliest {
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	}

	cl, err := sarama.NewClient(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("group fetcher: create client: %w", err)
	}
	group, err := sarama.NewConsumerGroupFromClient(cfg.GroupID, cl)
	if err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("group fetcher: create consumer group: %w", err)
	}

	f := &GroupFetcher{
		cfg:     cfg,
		deliver: deliver,
		logger:  logger.With(zap.String("component", "group-fetcher"), zap.String("group", cfg.GroupID)),
		cl:      cl,
		group:   group,
		seeks:   make(map[kafka.TopicPartition]int64),
	}

	go func() {
		for err := range group.Errors() {
			f.logger.Warn("Consumer group error", zap.Error(err))
		}
	}()

	return f, nil
}

func (f *GroupFetcher) Subscribe(partitions []kafka.TopicPartition) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	seen := make(map[string]struct{})
	f.topics = f.topics[:0]
	for _, tp := range partitions {
		if _, ok := seen[tp.Topic]; ok {
			continue
		}
		seen[tp.Topic] = struct{}{}
		f.topics = append(f.topics, tp.Topic)
	}

	return nil
}

// Seek records the desired position; it takes effect through
// ConsumerGroupSession.ResetOffset when the next session is set up.
func (f *GroupFetcher) Seek(tp kafka.TopicPartition, offset int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seeks[tp] = offset
}

func (f *GroupFetcher) Run(ctx context.Context) error {
	f.mu.Lock()
	if len(f.topics) == 0 {
		f.mu.Unlock()
		return errors.New("group fetcher: run called before subscribe")
	}
	topics := append([]string(nil), f.topics...)
	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.mu.Unlock()
	defer cancel()

	handler := &groupHandler{fetcher: f}
	for {
		// Consume returns without error when the group rebalances; the
		// session is simply set up again.
		err := f.group.Consume(runCtx, topics, handler)
		if f.stopped.Load() || runCtx.Err() != nil {
			f.logger.Info("Group consumption stopped")
			return nil
		}
		if err != nil {
			return fmt.Errorf("group fetcher: %w", err)
		}
	}
}

func (f *GroupFetcher) Commit(_ context.Context, offsets map[kafka.TopicPartition]int64) error {
	f.mu.Lock()
	sess := f.session
	f.mu.Unlock()

	if sess == nil {
		return errors.New("group fetcher: no active session to commit through")
	}

	for tp, offset := range offsets {
		// the committed value is the next offset to consume
		sess.MarkOffset(tp.Topic, tp.Partition, offset+1, "")
	}
	sess.Commit()
	return nil
}

func (f *GroupFetcher) Stop() {
	f.stopped.Store(true)

	f.mu.Lock()
	cancel := f.cancel
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (f *GroupFetcher) Close() error {
	var err error
	f.closeOnce.Do(func() {
		err = f.group.Close()
		if cerr := f.cl.Close(); err == nil {
			err = cerr
		}
	})
	return err
}

type groupHandler struct {
	fetcher *GroupFetcher
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	f := h.fetcher

	f.mu.Lock()
	f.session = sess
	seeks := f.seeks
	f.seeks = make(map[kafka.TopicPartition]int64)
	f.mu.Unlock()

	for tp, offset := range seeks {
		sess.ResetOffset(tp.Topic, tp.Partition, offset, "")
		f.logger.Info("Reset partition offset",
			zap.String("partition", tp.String()), zap.Int64("offset", offset))
	}

	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	f := h.fetcher

	f.mu.Lock()
	f.session = nil
	f.mu.Unlock()

	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-sess.Context().Done():
			return nil

		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			rec := kafka.ConsumerRecord{
				Topic:     msg.Topic,
				Partition: msg.Partition,
				Offset:    msg.Offset,
				Key:       msg.Key,
				Value:     msg.Value,
				Timestamp: msg.Timestamp,
			}
			if err := h.fetcher.deliver(rec); err != nil {
				return err
			}
		}
	}
}
