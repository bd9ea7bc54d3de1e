package jobqueue

import (
	"time"

	"github.com/riverqueue/river"
)

// QueueConfig holds the tunable parameters for the River job queue
type QueueConfig struct {
	// MaxWorkers is the number of concurrent workers processing jobs
	MaxWorkers int

	// MaxRetries is the maximum retry attempts per job
	MaxRetries int

	// JobTimeout is the maximum time a single job can run
	JobTimeout time.Duration
}

// DefaultQueueConfig returns the default configuration
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers: 10,
		MaxRetries: 10,
		JobTimeout: 2 * time.Minute,
	}
}

// NewQueueConfig returns a configuration with the given worker count, falling
// back to the default when it is not positive.
func NewQueueConfig(maxWorkers int) *QueueConfig {
	config := DefaultQueueConfig()
	if maxWorkers > 0 {
		config.MaxWorkers = maxWorkers
	}
	return config
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}
