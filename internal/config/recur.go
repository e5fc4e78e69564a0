package config

import (
	"fmt"
	"time"

	"github.com/taskmesh/taskmesh/internal/env"
)

// RecurConfig holds all configuration for the Recurring Regenerator binary,
// including the circuit breaker guarding its service-to-service call into
// the Task API.
type RecurConfig struct {
	Database      DatabaseConfig
	Bus           BusConfig
	Auth          AuthConfig
	Observability ObservabilityConfig

	TaskAPIBaseURL string        `env:"TASKMESH_RECUR_TASK_API_URL" default:"http://localhost:8080"`
	TaskAPITimeout time.Duration `env:"TASKMESH_RECUR_TASK_API_TIMEOUT" default:"5s"`

	BreakerMaxRequests uint32        `env:"TASKMESH_RECUR_BREAKER_MAX_REQUESTS" default:"1"`
	BreakerInterval    time.Duration `env:"TASKMESH_RECUR_BREAKER_INTERVAL" default:"60s"`
	BreakerTimeout     time.Duration `env:"TASKMESH_RECUR_BREAKER_TIMEOUT" default:"30s"`
	BreakerFailureRate float64       `env:"TASKMESH_RECUR_BREAKER_FAILURE_RATE" default:"0.6"`
}

// LoadRecurConfig loads and validates Recurring Regenerator configuration
// from the environment.
func LoadRecurConfig() (*RecurConfig, error) {
	cfg := &RecurConfig{}
	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("load recur config: %w", err)
	}
	return cfg, nil
}
