package config

import (
	"fmt"

	"github.com/taskmesh/taskmesh/internal/env"
)

// AdminConfig points the Task API's dead-letter admin surface at each
// consumer's own database, so an operator can list and replay dead letters
// across every consumer group from one place. A source left as "" is
// reported unavailable rather than failing startup: the admin surface is
// operational tooling, not a hard dependency of the Task API itself.
type AdminConfig struct {
	AuditDB  string `env:"TASKMESH_ADMIN_AUDIT_DSN"`
	NotifyDB string `env:"TASKMESH_ADMIN_NOTIFY_DSN"`
	RegenDB  string `env:"TASKMESH_ADMIN_REGEN_DSN"`
}

// LoadAdminConfig loads AdminConfig from the environment.
func LoadAdminConfig() (*AdminConfig, error) {
	cfg := &AdminConfig{}
	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("load admin config: %w", err)
	}
	return cfg, nil
}
