// Package mockkafka provides a deterministic in-memory BrokerClient for
// tests: records carry explicit offsets, Seek repositions the per-partition
// cursor and commits are recorded for inspection.
package mockkafka

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fluxstream/kafka-source/kafka"
)

var _ kafka.BrokerClient = (*Client)(nil)

type Client struct {
	mu sync.Mutex

	records map[kafka.TopicPartition][]kafka.ConsumerRecord
	cursors map[kafka.TopicPartition]int64

	assigned map[kafka.TopicPartition]struct{}

	// committed is keyed by group; offsets stored are the last-processed
	// offsets passed to CommitOffsets.
	committed map[string]map[kafka.TopicPartition]int64

	maxPollRecords int
	pollErr        func() error
	commitErr      func() error
	listErr        error

	closed bool
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		records:        make(map[kafka.TopicPartition][]kafka.ConsumerRecord),
		cursors:        make(map[kafka.TopicPartition]int64),
		assigned:       make(map[kafka.TopicPartition]struct{}),
		committed:      make(map[string]map[kafka.TopicPartition]int64),
		maxPollRecords: 10,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// AddRecords appends records to a partition. Offsets continue from the last
// record already present unless the record carries an explicit offset.
func (c *Client) AddRecords(topic string, partition int32, records ...kafka.ConsumerRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tp := kafka.TopicPartition{Topic: topic, Partition: partition}
	next := int64(0)
	if existing := c.records[tp]; len(existing) > 0 {
		next = existing[len(existing)-1].Offset + 1
	}

	for _, r := range records {
		r.Topic = topic
		r.Partition = partition
		if r.Offset == 0 && next != 0 {
			r.Offset = next
		}
		if r.Offset >= next {
			next = r.Offset + 1
		}
		c.records[tp] = append(c.records[tp], r)
	}

	sort.Slice(c.records[tp], func(i, j int) bool {
		return c.records[tp][i].Offset < c.records[tp][j].Offset
	})
}

// AddPartition registers an empty partition so it shows up in metadata.
func (c *Client) AddPartition(topic string, partition int32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tp := kafka.TopicPartition{Topic: topic, Partition: partition}
	if _, ok := c.records[tp]; !ok {
		c.records[tp] = nil
	}
}

func (c *Client) ListPartitions(_ context.Context, topic string) ([]kafka.TopicPartition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.listErr != nil {
		return nil, c.listErr
	}

	var partitions []kafka.TopicPartition
	for tp := range c.records {
		if tp.Topic == topic {
			partitions = append(partitions, tp)
		}
	}
	sort.Slice(partitions, func(i, j int) bool {
		return partitions[i].Partition < partitions[j].Partition
	})

	return partitions, nil
}

func (c *Client) AssignPartitions(partitions ...kafka.TopicPartition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, tp := range partitions {
		if _, ok := c.assigned[tp]; !ok {
			c.assigned[tp] = struct{}{}
			c.cursors[tp] = 0
		}
	}
}

func (c *Client) Seek(tp kafka.TopicPartition, offset int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cursors[tp] = offset
}

// Poll returns up to maxPollRecords across assigned partitions in partition
// order. The timeout is ignored; an empty slice means no data is available.
func (c *Client) Poll(ctx context.Context, _ time.Duration) ([]kafka.ConsumerRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pollErr != nil {
		if err := c.pollErr(); err != nil {
			return nil, err
		}
	}

	assigned := make([]kafka.TopicPartition, 0, len(c.assigned))
	for tp := range c.assigned {
		assigned = append(assigned, tp)
	}
	sort.Slice(assigned, func(i, j int) bool {
		if assigned[i].Topic != assigned[j].Topic {
			return assigned[i].Topic < assigned[j].Topic
		}
		return assigned[i].Partition < assigned[j].Partition
	})

	var out []kafka.ConsumerRecord
	for _, tp := range assigned {
		for _, r := range c.records[tp] {
			if len(out) >= c.maxPollRecords {
				return out, nil
			}
			if r.Offset < c.cursors[tp] {
				continue
			}
			out = append(out, r)
			c.cursors[tp] = r.Offset + 1
		}
	}

	return out, nil
}

func (c *Client) CommitOffsets(ctx context.Context, group string, offsets map[kafka.TopicPartition]int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.commitErr != nil {
		if err := c.commitErr(); err != nil {
			return err
		}
	}

	if c.committed[group] == nil {
		c.committed[group] = make(map[kafka.TopicPartition]int64)
	}
	for tp, offset := range offsets {
		c.committed[group][tp] = offset
	}

	return nil
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
}

// CommittedOffsets returns a copy of the offsets committed for a group.
func (c *Client) CommittedOffsets(group string) map[kafka.TopicPartition]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[kafka.TopicPartition]int64, len(c.committed[group]))
	for tp, offset := range c.committed[group] {
		out[tp] = offset
	}
	return out
}

// AssignedPartitions returns the partitions registered via AssignPartitions.
func (c *Client) AssignedPartitions() []kafka.TopicPartition {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]kafka.TopicPartition, 0, len(c.assigned))
	for tp := range c.assigned {
		out = append(out, tp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Partition < out[j].Partition
	})
	return out
}

// Cursor returns the next offset Poll would return for a partition.
func (c *Client) Cursor(tp kafka.TopicPartition) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cursors[tp]
}

func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

// SetPollError configures an error returned by every Poll. Pass nil to clear.
func (c *Client) SetPollError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err == nil {
		c.pollErr = nil
		return
	}
	c.pollErr = func() error { return err }
}

// SetPollErrorFunc configures a function consulted on every Poll.
func (c *Client) SetPollErrorFunc(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pollErr = fn
}

// SetCommitError configures an error returned by every CommitOffsets.
func (c *Client) SetCommitError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err == nil {
		c.commitErr = nil
		return
	}
	c.commitErr = func() error { return err }
}

// SetListError configures an error returned by ListPartitions.
func (c *Client) SetListError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.listErr = err
}
