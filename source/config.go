package source

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// OffsetStoreKind selects where committed offsets live.
type OffsetStoreKind string

const (
	// OffsetStoreZooKeeper keeps offsets in an external ZooKeeper ensemble.
	OffsetStoreZooKeeper OffsetStoreKind = "zookeeper"
	// OffsetStoreBroker commits through the broker's group coordinator.
	OffsetStoreBroker OffsetStoreKind = "broker"
)

// FetcherKind selects the consumption strategy.
type FetcherKind string

const (
	// FetcherPoll drives partition assignment and positioning itself.
	FetcherPoll FetcherKind = "poll"
	// FetcherGroup delegates both to the broker's group membership protocol.
	FetcherGroup FetcherKind = "group"
)

type ZooKeeperConfig struct {
	Servers        []string      `koanf:"servers"`
	SessionTimeout time.Duration `koanf:"session_timeout"`
}

type Config struct {
	Brokers      []string        `koanf:"brokers"`
	Topic        string          `koanf:"topic"`
	GroupID      string          `koanf:"group_id"`
	PollTimeout  time.Duration   `koanf:"poll_timeout"`
	OffsetStore  OffsetStoreKind `koanf:"offset_store"`
	Fetcher      FetcherKind     `koanf:"fetcher"`
	StartFrom    string          `koanf:"start_from"` // oldest|newest (default newest)
	KafkaVersion string          `koanf:"kafka_version"`
	ZooKeeper    ZooKeeperConfig `koanf:"zookeeper"`
}

// LoadConfig merges YAML (if present) with env vars
// (prefix `KAFKA_SOURCE__`, delimiter `__`).
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	_ = k.Load(env.Provider("KAFKA_SOURCE__", "__", nil), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(c *Config) {
	if len(c.Brokers) == 0 {
		c.Brokers = []string{"localhost:9092"}
	}
	if c.PollTimeout == 0 {
		c.PollTimeout = 50 * time.Millisecond
	}
	if c.OffsetStore == "" {
		c.OffsetStore = OffsetStoreZooKeeper
	}
	if c.Fetcher == "" {
		c.Fetcher = FetcherPoll
	}
	if c.StartFrom == "" {
		c.StartFrom = "newest"
	}
	if c.ZooKeeper.SessionTimeout == 0 {
		c.ZooKeeper.SessionTimeout = 6 * time.Second
	}
}

func (c Config) Validate() error {
	if c.Topic == "" {
		return errors.New("config: topic is required")
	}

	switch c.OffsetStore {
	case OffsetStoreZooKeeper:
		if c.GroupID == "" {
			return errors.New("config: group_id is required for the zookeeper offset store")
		}
		if len(c.ZooKeeper.Servers) == 0 {
			return errors.New("config: zookeeper.servers is required for the zookeeper offset store")
		}
	case OffsetStoreBroker:
	default:
		return fmt.Errorf("config: unknown offset store %q", c.OffsetStore)
	}

	switch c.Fetcher {
	case FetcherPoll:
	case FetcherGroup:
		if c.GroupID == "" {
			return errors.New("config: group_id is required for the group fetcher")
		}
	default:
		return fmt.Errorf("config: unknown fetcher %q", c.Fetcher)
	}

	if c.StartFrom != "oldest" && c.StartFrom != "newest" {
		return fmt.Errorf("config: start_from must be oldest or newest, got %q", c.StartFrom)
	}

	return nil
}
