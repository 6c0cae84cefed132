package fetcher

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	"github.com/fluxstream/kafka-source/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type markedOffset struct {
	topic     string
	partition int32
	offset    int64
}

type fakeSession struct {
	ctx context.Context

	mu      sync.Mutex
	marked  []markedOffset
	resets  []markedOffset
	commits int
}

func newFakeSession() *fakeSession {
	return &fakeSession{ctx: context.Background()}
}

func (s *fakeSession) Claims() map[string][]int32 { return nil }
func (s *fakeSession) MemberID() string           { return "member-1" }
func (s *fakeSession) GenerationID() int32        { return 1 }
func (s *fakeSession) Context() context.Context   { return s.ctx }

func (s *fakeSession) MarkOffset(topic string, partition int32, offset int64, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, markedOffset{topic, partition, offset})
}

func (s *fakeSession) ResetOffset(topic string, partition int32, offset int64, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets = append(s.resets, markedOffset{topic, partition, offset})
}

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, metadata string) {
	s.MarkOffset(msg.Topic, msg.Partition, msg.Offset+1, metadata)
}

func (s *fakeSession) Commit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++
}

type fakeClaim struct {
	topic     string
	partition int32
	messages  chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return c.topic }
func (c *fakeClaim) Partition() int32                         { return c.partition }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func newTestGroupFetcher(deliver DeliverFunc) *GroupFetcher {
	return &GroupFetcher{
		deliver: deliver,
		logger:  zap.NewNop(),
		seeks:   make(map[kafka.TopicPartition]int64),
	}
}

func TestGroupHandler_SetupAppliesSeeks(t *testing.T) {
	f := newTestGroupFetcher(func(kafka.ConsumerRecord) error { return nil })
	f.Seek(kafka.TopicPartition{Topic: "events", Partition: 2}, 17)

	sess := newFakeSession()
	h := &groupHandler{fetcher: f}
	require.NoError(t, h.Setup(sess))

	require.Len(t, sess.resets, 1)
	assert.Equal(t, markedOffset{"events", 2, 17}, sess.resets[0])

	// seeks are consumed once
	require.NoError(t, h.Setup(newFakeSession()))
	f.mu.Lock()
	assert.Empty(t, f.seeks)
	f.mu.Unlock()
}

func TestGroupHandler_ConsumeClaimDelivers(t *testing.T) {
	var delivered []kafka.ConsumerRecord
	f := newTestGroupFetcher(func(rec kafka.ConsumerRecord) error {
		delivered = append(delivered, rec)
		return nil
	})

	claim := &fakeClaim{topic: "events", partition: 1, messages: make(chan *sarama.ConsumerMessage, 2)}
	claim.messages <- &sarama.ConsumerMessage{Topic: "events", Partition: 1, Offset: 4, Value: []byte("v4")}
	claim.messages <- &sarama.ConsumerMessage{Topic: "events", Partition: 1, Offset: 5, Value: []byte("v5")}
	close(claim.messages)

	h := &groupHandler{fetcher: f}
	require.NoError(t, h.ConsumeClaim(newFakeSession(), claim))

	require.Len(t, delivered, 2)
	assert.Equal(t, int64(4), delivered[0].Offset)
	assert.Equal(t, int64(5), delivered[1].Offset)
	assert.Equal(t, []byte("v5"), delivered[1].Value)
}

func TestGroupHandler_DeliverErrorAborts(t *testing.T) {
	boom := errors.New("decode failed")
	f := newTestGroupFetcher(func(kafka.ConsumerRecord) error { return boom })

	claim := &fakeClaim{topic: "events", partition: 0, messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- &sarama.ConsumerMessage{Topic: "events", Partition: 0, Offset: 0}

	h := &groupHandler{fetcher: f}
	err := h.ConsumeClaim(newFakeSession(), claim)
	require.ErrorIs(t, err, boom)
}

func TestGroupFetcher_CommitRequiresSession(t *testing.T) {
	f := newTestGroupFetcher(func(kafka.ConsumerRecord) error { return nil })

	err := f.Commit(context.Background(), map[kafka.TopicPartition]int64{
		{Topic: "events", Partition: 0}: 3,
	})
	assert.ErrorContains(t, err, "no active session")
}

func TestGroupFetcher_CommitMarksNextOffset(t *testing.T) {
	f := newTestGroupFetcher(func(kafka.ConsumerRecord) error { return nil })

	sess := newFakeSession()
	h := &groupHandler{fetcher: f}
	require.NoError(t, h.Setup(sess))

	require.NoError(t, f.Commit(context.Background(), map[kafka.TopicPartition]int64{
		{Topic: "events", Partition: 3}: 41,
	}))

	require.Len(t, sess.marked, 1)
	assert.Equal(t, markedOffset{"events", 3, 42}, sess.marked[0])
	assert.Equal(t, 1, sess.commits)

	// session goes away with the next rebalance
	require.NoError(t, h.Cleanup(sess))
	err := f.Commit(context.Background(), map[kafka.TopicPartition]int64{
		{Topic: "events", Partition: 3}: 43,
	})
	assert.Error(t, err)
}
