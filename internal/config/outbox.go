package config

import "time"

// OutboxConfig configures the Task API's outbox dispatcher, the process that
// turns committed-but-unpublished rows into bus publishes.
type OutboxConfig struct {
	PollInterval time.Duration `env:"TASKMESH_OUTBOX_POLL_INTERVAL" default:"250ms"`
	BatchSize    int           `env:"TASKMESH_OUTBOX_BATCH_SIZE" default:"50"`
	RetryCap     int           `env:"TASKMESH_OUTBOX_RETRY_CAP" default:"8"`
	HighWaterMark int          `env:"TASKMESH_OUTBOX_HIGH_WATER_MARK" default:"10000"`
}
