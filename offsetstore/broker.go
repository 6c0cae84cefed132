package offsetstore

import (
	"context"

	"github.com/fluxstream/kafka-source/kafka"
	"go.uber.org/zap"
)

var _ Store = (*BrokerNativeStore)(nil)

// BrokerNativeStore commits through the fetcher's own group mechanism. There
// is no independent read path: the broker resumes the group from its
// committed offsets itself, so Fetch always reports unset. Commit failures
// are logged and swallowed; the offsets get committed again with the next
// confirmed checkpoint.
type BrokerNativeStore struct {
	committer Committer
	logger    *zap.Logger
}

func NewBrokerNativeStore(committer Committer, logger *zap.Logger) *BrokerNativeStore {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BrokerNativeStore{
		committer: committer,
		logger:    logger.With(zap.String("component", "broker-offset-store")),
	}
}

func (s *BrokerNativeStore) Commit(ctx context.Context, tp kafka.TopicPartition, offset int64) error {
	err := s.committer.Commit(ctx, map[kafka.TopicPartition]int64{tp: offset})
	if err != nil {
		s.logger.Warn("Broker offset commit failed, will retry on next checkpoint",
			zap.String("partition", tp.String()), zap.Int64("offset", offset), zap.Error(err))
	}
	return nil
}

func (s *BrokerNativeStore) Fetch(context.Context, kafka.TopicPartition) (int64, error) {
	return kafka.OffsetUnset, nil
}

func (s *BrokerNativeStore) Close() error {
	return nil
}
