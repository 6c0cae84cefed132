package offsetstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fluxstream/kafka-source/kafka"
	"github.com/go-zookeeper/zk"
	"go.uber.org/zap"
)

var _ Store = (*ZooKeeperStore)(nil)

// PathClient is the coordination-service boundary: write a value at a path,
// read it back or report absence.
type PathClient interface {
	WritePath(path string, value []byte) error
	ReadPath(path string) (value []byte, found bool, err error)
	Close() error
}

// ZooKeeperStore keeps offsets under
// /consumers/<group>/offsets/<topic>/<partition>, the classic consumer
// layout, so other tooling reading that tree keeps working.
type ZooKeeperStore struct {
	client PathClient
	group  string
	logger *zap.Logger
}

func NewZooKeeperStore(client PathClient, group string, logger *zap.Logger) (*ZooKeeperStore, error) {
	if group == "" {
		return nil, errors.New("offsetstore: consumer group is required for the zookeeper store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ZooKeeperStore{
		client: client,
		group:  group,
		logger: logger.With(zap.String("component", "zookeeper-offset-store"), zap.String("group", group)),
	}, nil
}

func (s *ZooKeeperStore) Commit(_ context.Context, tp kafka.TopicPartition, offset int64) error {
	path := s.offsetPath(tp)
	if err := s.client.WritePath(path, []byte(strconv.FormatInt(offset, 10))); err != nil {
		return fmt.Errorf("write offset %d at %s: %w", offset, path, err)
	}

	s.logger.Debug("Committed offset",
		zap.String("partition", tp.String()), zap.Int64("offset", offset))
	return nil
}

func (s *ZooKeeperStore) Fetch(_ context.Context, tp kafka.TopicPartition) (int64, error) {
	path := s.offsetPath(tp)
	value, found, err := s.client.ReadPath(path)
	if err != nil {
		return kafka.OffsetUnset, fmt.Errorf("read offset at %s: %w", path, err)
	}
	if !found {
		return kafka.OffsetUnset, nil
	}

	offset, err := strconv.ParseInt(string(value), 10, 64)
	if err != nil {
		return kafka.OffsetUnset, fmt.Errorf("malformed offset %q at %s: %w", value, path, err)
	}
	return offset, nil
}

func (s *ZooKeeperStore) Close() error {
	return s.client.Close()
}

func (s *ZooKeeperStore) offsetPath(tp kafka.TopicPartition) string {
	return fmt.Sprintf("/consumers/%s/offsets/%s/%d", s.group, tp.Topic, tp.Partition)
}

// ---- zk-backed PathClient ----

var _ PathClient = (*ZKPathClient)(nil)

type ZKPathClient struct {
	conn *zk.Conn
}

// NewZKPathClient connects to a ZooKeeper ensemble. The session timeout also
// bounds the initial connection handshake.
func NewZKPathClient(servers []string, sessionTimeout time.Duration, logger *zap.Logger) (*ZKPathClient, error) {
	if len(servers) == 0 {
		return nil, errors.New("offsetstore: no zookeeper servers configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, _, err := zk.Connect(servers, sessionTimeout, zk.WithLogger(zkLogger{logger.Sugar()}))
	if err != nil {
		return nil, fmt.Errorf("connect to zookeeper %v: %w", servers, err)
	}

	return &ZKPathClient{conn: conn}, nil
}

func (c *ZKPathClient) WritePath(path string, value []byte) error {
	exists, _, err := c.conn.Exists(path)
	if err != nil {
		return err
	}
	if exists {
		_, err = c.conn.Set(path, value, -1)
		return err
	}

	if err := c.ensureParents(path); err != nil {
		return err
	}
	_, err = c.conn.Create(path, value, 0, zk.WorldACL(zk.PermAll))
	if errors.Is(err, zk.ErrNodeExists) {
		_, err = c.conn.Set(path, value, -1)
	}
	return err
}

func (c *ZKPathClient) ReadPath(path string) ([]byte, bool, error) {
	value, _, err := c.conn.Get(path)
	if errors.Is(err, zk.ErrNoNode) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (c *ZKPathClient) Close() error {
	c.conn.Close()
	return nil
}

func (c *ZKPathClient) ensureParents(path string) error {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	node := ""
	for _, part := range parts[:len(parts)-1] {
		node += "/" + part
		_, err := c.conn.Create(node, nil, 0, zk.WorldACL(zk.PermAll))
		if err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return err
		}
	}
	return nil
}

type zkLogger struct {
	l *zap.SugaredLogger
}

func (z zkLogger) Printf(format string, args ...interface{}) {
	z.l.Debugf(format, args...)
}
