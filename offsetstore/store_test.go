package offsetstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/fluxstream/kafka-source/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakePathClient is an in-memory PathClient.
type fakePathClient struct {
	mu       sync.Mutex
	nodes    map[string][]byte
	writeErr error
	closed   bool
}

func newFakePathClient() *fakePathClient {
	return &fakePathClient{nodes: make(map[string][]byte)}
}

func (f *fakePathClient) WritePath(path string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writeErr != nil {
		return f.writeErr
	}
	f.nodes[path] = append([]byte(nil), value...)
	return nil
}

func (f *fakePathClient) ReadPath(path string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	value, ok := f.nodes[path]
	return value, ok, nil
}

func (f *fakePathClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	return nil
}

func TestZooKeeperStore_RequiresGroup(t *testing.T) {
	_, err := NewZooKeeperStore(newFakePathClient(), "", zap.NewNop())
	assert.Error(t, err)
}

func TestZooKeeperStore_CommitFetchRoundTrip(t *testing.T) {
	client := newFakePathClient()
	store, err := NewZooKeeperStore(client, "g1", zap.NewNop())
	require.NoError(t, err)

	tp := kafka.TopicPartition{Topic: "events", Partition: 3}
	require.NoError(t, store.Commit(context.Background(), tp, 42))

	// layout is visible to external tooling
	assert.Equal(t, []byte("42"), client.nodes["/consumers/g1/offsets/events/3"])

	offset, err := store.Fetch(context.Background(), tp)
	require.NoError(t, err)
	assert.Equal(t, int64(42), offset)
}

func TestZooKeeperStore_FetchMissingReturnsUnset(t *testing.T) {
	store, err := NewZooKeeperStore(newFakePathClient(), "g1", zap.NewNop())
	require.NoError(t, err)

	offset, err := store.Fetch(context.Background(), kafka.TopicPartition{Topic: "events", Partition: 0})
	require.NoError(t, err)
	assert.Equal(t, kafka.OffsetUnset, offset)
}

func TestZooKeeperStore_WriteFailureSurfaces(t *testing.T) {
	client := newFakePathClient()
	client.writeErr = errors.New("connection loss")

	store, err := NewZooKeeperStore(client, "g1", zap.NewNop())
	require.NoError(t, err)

	err = store.Commit(context.Background(), kafka.TopicPartition{Topic: "events", Partition: 0}, 5)
	assert.ErrorContains(t, err, "connection loss")
}

func TestZooKeeperStore_MalformedValue(t *testing.T) {
	client := newFakePathClient()
	client.nodes["/consumers/g1/offsets/events/0"] = []byte("not-a-number")

	store, err := NewZooKeeperStore(client, "g1", zap.NewNop())
	require.NoError(t, err)

	_, err = store.Fetch(context.Background(), kafka.TopicPartition{Topic: "events", Partition: 0})
	assert.Error(t, err)
}

type fakeCommitter struct {
	mu      sync.Mutex
	commits []map[kafka.TopicPartition]int64
	err     error
}

func (f *fakeCommitter) Commit(_ context.Context, offsets map[kafka.TopicPartition]int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}
	copied := make(map[kafka.TopicPartition]int64, len(offsets))
	for tp, off := range offsets {
		copied[tp] = off
	}
	f.commits = append(f.commits, copied)
	return nil
}

func TestBrokerNativeStore_DelegatesToCommitter(t *testing.T) {
	committer := &fakeCommitter{}
	store := NewBrokerNativeStore(committer, zap.NewNop())

	tp := kafka.TopicPartition{Topic: "events", Partition: 1}
	require.NoError(t, store.Commit(context.Background(), tp, 9))

	require.Len(t, committer.commits, 1)
	assert.Equal(t, int64(9), committer.commits[0][tp])
}

func TestBrokerNativeStore_SwallowsCommitFailure(t *testing.T) {
	committer := &fakeCommitter{err: errors.New("broker unavailable")}
	store := NewBrokerNativeStore(committer, zap.NewNop())

	err := store.Commit(context.Background(), kafka.TopicPartition{Topic: "events", Partition: 0}, 3)
	assert.NoError(t, err)
}

func TestBrokerNativeStore_FetchAlwaysUnset(t *testing.T) {
	store := NewBrokerNativeStore(&fakeCommitter{}, zap.NewNop())

	offset, err := store.Fetch(context.Background(), kafka.TopicPartition{Topic: "events", Partition: 0})
	require.NoError(t, err)
	assert.Equal(t, kafka.OffsetUnset, offset)
}
