package source

import "github.com/fluxstream/kafka-source/kafka"

// AssignPartitions computes the partition subset owned by one subtask:
// partition i goes to subtask i mod parallelism, relative order preserved.
// The result is fully determined by the inputs, so every subtask of an
// execution derives the same disjoint split without coordination. An empty
// result is valid; the subtask stays idle but keeps checkpointing.
func AssignPartitions(partitions []kafka.TopicPartition, index, parallelism int) []kafka.TopicPartition {
	if parallelism <= 0 || index < 0 || index >= parallelism {
		return nil
	}

	var assigned []kafka.TopicPartition
	for i, tp := range partitions {
		if i%parallelism == index {
			assigned = append(assigned, tp)
		}
	}

	return assigned
}
