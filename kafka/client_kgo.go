package kafka

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kzap"
	"go.uber.org/zap"
)

var _ BrokerClient = (*KgoClient)(nil)

// StartPosition controls where a partition without a seek begins.
type StartPosition string

const (
	StartEarliest StartPosition = "earliest"
	StartLatest   StartPosition = "latest"
)

type KgoClientConfig struct {
	BootstrapServers []string
	ClientID         string
	StartPosition    StartPosition
	Logger           *zap.Logger
}

func defaultKgoConfig() KgoClientConfig {
	return KgoClientConfig{
		BootstrapServers: []string{"localhost:9092"},
		ClientID:         "kafka-source",
		StartPosition:    StartLatest,
		Logger:           zap.NewNop(),
	}
}

type KgoOption func(*KgoClientConfig)

func WithBootstrapServers(servers ...string) KgoOption {
	return func(cfg *KgoClientConfig) {
		cfg.BootstrapServers = servers
	}
}

func WithClientID(id string) KgoOption {
	return func(cfg *KgoClientConfig) {
		cfg.ClientID = id
	}
}

func WithStartPosition(pos StartPosition) KgoOption {
	return func(cfg *KgoClientConfig) {
		cfg.StartPosition = pos
	}
}

func WithLogger(l *zap.Logger) KgoOption {
	return func(cfg *KgoClientConfig) {
		cfg.Logger = l
	}
}

// KgoClient consumes manually assigned partitions through franz-go. The
// assignment is bound to the underlying client lazily on the first Poll so
// that Seek calls issued between assignment and the run loop pick the start
// offset for each partition.
type KgoClient struct {
	client *kgo.Client
	adm    *kadm.Client
	config KgoClientConfig
	logger *zap.Logger

	mu        sync.Mutex
	assigned  map[TopicPartition]int64
	bound     bool
	closeOnce sync.Once
}

func NewKgoClient(opts ...KgoOption) (*KgoClient, error) {
	cfg := defaultKgoConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.BootstrapServers...),
		kgo.ClientID(cfg.ClientID),
		kgo.WithLogger(kzap.New(cfg.Logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("create kgo client: %w", err)
	}

	return &KgoClient{
		client:   client,
		adm:      kadm.NewClient(client),
		config:   cfg,
		logger:   cfg.Logger,
		assigned: make(map[TopicPartition]int64),
	}, nil
}

func (c *KgoClient) ListPartitions(ctx context.Context, topic string) ([]TopicPartition, error) {
	meta, err := c.adm.Metadata(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("metadata for topic %q: %w", topic, err)
	}

	detail, ok := meta.Topics[topic]
	if !ok {
		return nil, fmt.Errorf("topic %q not found", topic)
	}
	if detail.Err != nil {
		return nil, fmt.Errorf("metadata for topic %q: %w", topic, detail.Err)
	}

	partitions := make([]TopicPartition, 0, len(detail.Partitions))
	for p := range detail.Partitions {
		partitions = append(partitions, TopicPartition{Topic: topic, Partition: p})
	}
	sort.Slice(partitions, func(i, j int) bool {
		if partitions[i].Topic != partitions[j].Topic {
			return partitions[i].Topic < partitions[j].Topic
		}
		return partitions[i].Partition < partitions[j].Partition
	})

	return partitions, nil
}

func (c *KgoClient) AssignPartitions(partitions ...TopicPartition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, tp := range partitions {
		if _, exists := c.assigned[tp]; !exists {
			c.assigned[tp] = OffsetUnset
		}
	}
}

func (c *KgoClient) Seek(tp TopicPartition, offset int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bound {
		c.logger.Warn("Seek after consumption started is ignored",
			zap.String("partition", tp.String()), zap.Int64("offset", offset))
		return
	}
	c.assigned[tp] = offset
}

// bind registers the accumulated assignment with the kgo consumer. Called
// under c.mu.
func (c *KgoClient) bind() {
	if c.bound {
		return
	}

	consume := make(map[string]map[int32]kgo.Offset)
	for tp, offset := range c.assigned {
		if consume[tp.Topic] == nil {
			consume[tp.Topic] = make(map[int32]kgo.Offset)
		}

		var at kgo.Offset
		switch {
		case offset != OffsetUnset:
			at = kgo.NewOffset().At(offset)
		case c.config.StartPosition == StartEarliest:
			at = kgo.NewOffset().AtStart()
		default:
			at = kgo.NewOffset().AtEnd()
		}
		consume[tp.Topic][tp.Partition] = at
	}

	c.client.AddConsumePartitions(consume)
	c.bound = true
}

func (c *KgoClient) Poll(ctx context.Context, timeout time.Duration) ([]ConsumerRecord, error) {
	c.mu.Lock()
	c.bind()
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fetches := c.client.PollFetches(ctx)
	for _, fetchErr := range fetches.Errors() {
		if errors.Is(fetchErr.Err, context.DeadlineExceeded) || errors.Is(fetchErr.Err, context.Canceled) {
			continue
		}
		return nil, fmt.Errorf("poll %s-%d: %w", fetchErr.Topic, fetchErr.Partition, fetchErr.Err)
	}

	return convertRecords(fetches.Records()), nil
}

func (c *KgoClient) CommitOffsets(ctx context.Context, group string, offsets map[TopicPartition]int64) error {
	if group == "" {
		return errors.New("commit offsets: consumer group not configured")
	}

	toCommit := make(kadm.Offsets)
	for tp, offset := range offsets {
		toCommit.Add(kadm.Offset{
			Topic:       tp.Topic,
			Partition:   tp.Partition,
			At:          offset + 1,
			LeaderEpoch: -1,
		})
	}

	resps, err := c.adm.CommitOffsets(ctx, group, toCommit)
	if err != nil {
		return fmt.Errorf("commit offsets for group %q: %w", group, err)
	}
	if err := resps.Error(); err != nil {
		return fmt.Errorf("commit offsets for group %q: %w", group, err)
	}

	return nil
}

func (c *KgoClient) Close() {
	c.closeOnce.Do(c.client.Close)
}

func convertRecords(records []*kgo.Record) []ConsumerRecord {
	converted := make([]ConsumerRecord, len(records))
	for i, r := range records {
		converted[i] = ConsumerRecord{
			Topic:     r.Topic,
			Partition: r.Partition,
			Offset:    r.Offset,
			Key:       r.Key,
			Value:     r.Value,
			Timestamp: r.Timestamp,
		}
	}

	return converted
}
