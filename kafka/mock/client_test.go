package mockkafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fluxstream/kafka-source/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_OffsetsAreSequentialPerPartition(t *testing.T) {
	c := NewClient()
	c.AddRecords("events", 0, SimpleRecord("a", "1"), SimpleRecord("b", "2"))
	c.AddRecords("events", 0, SimpleRecord("c", "3"))

	c.AssignPartitions(kafka.TopicPartition{Topic: "events", Partition: 0})

	records, err := c.Poll(context.Background(), time.Millisecond)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, r := range records {
		assert.Equal(t, int64(i), r.Offset)
	}
}

func TestClient_SeekRepositionsCursor(t *testing.T) {
	c := NewClient()
	c.AddRecords("events", 0,
		RecordAt(0, "v0"), RecordAt(1, "v1"), RecordAt(2, "v2"), RecordAt(3, "v3"))

	tp := kafka.TopicPartition{Topic: "events", Partition: 0}
	c.AssignPartitions(tp)
	c.Seek(tp, 2)

	records, err := c.Poll(context.Background(), time.Millisecond)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(2), records[0].Offset)
	assert.Equal(t, int64(3), records[1].Offset)

	// drained: a second poll is empty
	records, err = c.Poll(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestClient_PollOnlyReturnsAssigned(t *testing.T) {
	c := NewClient()
	c.AddRecords("events", 0, SimpleRecord("a", "1"))
	c.AddRecords("events", 1, SimpleRecord("b", "2"))

	c.AssignPartitions(kafka.TopicPartition{Topic: "events", Partition: 1})

	records, err := c.Poll(context.Background(), time.Millisecond)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int32(1), records[0].Partition)
}

func TestClient_ListPartitions(t *testing.T) {
	c := NewClient()
	c.AddRecords("events", 2, SimpleRecord("a", "1"))
	c.AddPartition("events", 0)
	c.AddPartition("events", 1)
	c.AddPartition("other", 0)

	partitions, err := c.ListPartitions(context.Background(), "events")
	require.NoError(t, err)
	require.Len(t, partitions, 3)
	for i, tp := range partitions {
		assert.Equal(t, int32(i), tp.Partition)
		assert.Equal(t, "events", tp.Topic)
	}
}

func TestClient_CommitAndErrors(t *testing.T) {
	c := NewClient()
	tp := kafka.TopicPartition{Topic: "events", Partition: 0}

	require.NoError(t, c.CommitOffsets(context.Background(), "g1", map[kafka.TopicPartition]int64{tp: 7}))
	assert.Equal(t, int64(7), c.CommittedOffsets("g1")[tp])

	boom := errors.New("boom")
	c.SetCommitError(boom)
	err := c.CommitOffsets(context.Background(), "g1", map[kafka.TopicPartition]int64{tp: 8})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int64(7), c.CommittedOffsets("g1")[tp])

	c.SetPollError(boom)
	_, err = c.Poll(context.Background(), time.Millisecond)
	require.ErrorIs(t, err, boom)
}
