package mockkafka

import "github.com/fluxstream/kafka-source/kafka"

type Option func(*Client)

// WithMaxPollRecords caps the number of records a single Poll returns.
func WithMaxPollRecords(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxPollRecords = n
		}
	}
}

// WithRecords seeds a partition with records at construction time.
func WithRecords(topic string, partition int32, records ...kafka.ConsumerRecord) Option {
	return func(c *Client) {
		c.AddRecords(topic, partition, records...)
	}
}

// SimpleRecord builds a record with string key and value; the offset is
// assigned when the record is added to a partition.
func SimpleRecord(key, value string) kafka.ConsumerRecord {
	return kafka.ConsumerRecord{
		Key:   []byte(key),
		Value: []byte(value),
	}
}

// RecordAt builds a record pinned to an explicit offset.
func RecordAt(offset int64, value string) kafka.ConsumerRecord {
	return kafka.ConsumerRecord{
		Offset: offset,
		Value:  []byte(value),
	}
}
