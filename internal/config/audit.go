package config

import (
	"fmt"

	"github.com/taskmesh/taskmesh/internal/env"
)

// AuditConfig holds all configuration for the Audit Consumer binary: its own
// Postgres schema, the bus subscription, and its read-side HTTP surface.
type AuditConfig struct {
	Database      DatabaseConfig
	Bus           BusConfig
	HTTP          HTTPConfig
	List          ListConfig
	Observability ObservabilityConfig
}

// LoadAuditConfig loads and validates Audit Consumer configuration from the environment.
func LoadAuditConfig() (*AuditConfig, error) {
	cfg := &AuditConfig{}
	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("load audit config: %w", err)
	}
	return cfg, nil
}
