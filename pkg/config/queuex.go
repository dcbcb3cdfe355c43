package config

import "time"

// QueueConfig configures the background delivery queue workers.
type QueueConfig struct {
	Concurrency     int
	Queues          []string
	PollInterval    time.Duration
	ShutdownTimeout time.Duration
	DequeueTimeout  time.Duration
	RedeliveryDelay time.Duration
}

func loadQueueConfig() QueueConfig {
	return QueueConfig{
		Concurrency:     getEnvInt("QUEUE_CONCURRENCY", 2),
		Queues:          getEnvStringSlice("QUEUE_NAMES", []string{"transfers"}),
		PollInterval:    getEnvDuration("QUEUE_POLL_INTERVAL", time.Second),
		ShutdownTimeout: getEnvDuration("QUEUE_SHUTDOWN_TIMEOUT", 30*time.Second),
		DequeueTimeout:  getEnvDuration("QUEUE_DEQUEUE_TIMEOUT", 5*time.Second),
		RedeliveryDelay: getEnvDuration("QUEUE_REDELIVERY_DELAY", 15*time.Second),
	}
}
