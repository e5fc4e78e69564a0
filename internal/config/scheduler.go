package config

import "time"

// SchedulerConfig configures the embedded durable scheduler that backs
// Reminder delivery: a claim loop over scheduled_jobs plus an HTTP callback.
type SchedulerConfig struct {
	PollInterval        time.Duration `env:"TASKMESH_SCHEDULER_POLL_INTERVAL" default:"1s"`
	BatchSize           int           `env:"TASKMESH_SCHEDULER_BATCH_SIZE" default:"50"`
	AvailabilityTimeout time.Duration `env:"TASKMESH_SCHEDULER_AVAILABILITY_TIMEOUT" default:"30s"`
	CallbackTimeout     time.Duration `env:"TASKMESH_SCHEDULER_CALLBACK_TIMEOUT" default:"5s"`
	MaxAttempts         int           `env:"TASKMESH_SCHEDULER_MAX_ATTEMPTS" default:"10"`
}
