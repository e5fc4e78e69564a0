package config

import "time"

// BusConfig configures the durable, Postgres-backed event bus used by every
// producer and consumer. There is no separate broker process: the bus tables
// live in the Postgres database named by DSN below, apart from each
// service's own DatabaseConfig, and the remaining fields tune the polling
// consumer loop.
type BusConfig struct {
	// DSN points at the bus's own backing store, shared by every service
	// that publishes or subscribes. It is distinct from each service's own
	// domain DSN: the bus is infrastructure no single service owns.
	DSN string `env:"TASKMESH_BUS_DSN"`

	// Group is this process's consumer group name, used for per-group
	// delivery and dedup bookkeeping. Empty for pure producers.
	Group string `env:"TASKMESH_BUS_GROUP"`

	PollInterval        time.Duration `env:"TASKMESH_BUS_POLL_INTERVAL" default:"500ms"`
	BatchSize           int           `env:"TASKMESH_BUS_BATCH_SIZE" default:"20"`
	AvailabilityTimeout time.Duration `env:"TASKMESH_BUS_AVAILABILITY_TIMEOUT" default:"30s"`
	MaxAttempts         int           `env:"TASKMESH_BUS_MAX_ATTEMPTS" default:"10"`
}
