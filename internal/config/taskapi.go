package config

import (
	"fmt"

	"github.com/taskmesh/taskmesh/internal/env"
)

// TaskAPIConfig holds all configuration for the Task API binary: the HTTP
// surface, its own Postgres schema, the outbox dispatcher, and the embedded
// scheduler.
type TaskAPIConfig struct {
	Database      DatabaseConfig
	Bus           BusConfig
	HTTP          HTTPConfig
	Auth          AuthConfig
	List          ListConfig
	Outbox        OutboxConfig
	Scheduler     SchedulerConfig
	Admin         AdminConfig
	Observability ObservabilityConfig
}

// LoadTaskAPIConfig loads and validates Task API configuration from the environment.
func LoadTaskAPIConfig() (*TaskAPIConfig, error) {
	cfg := &TaskAPIConfig{}
	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("load task api config: %w", err)
	}
	return cfg, nil
}
