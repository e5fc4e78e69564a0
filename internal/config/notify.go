package config

import (
	"fmt"

	"github.com/taskmesh/taskmesh/internal/env"
)

// NotifyConfig holds all configuration for the Notification Consumer binary.
type NotifyConfig struct {
	Database      DatabaseConfig
	Bus           BusConfig
	Observability ObservabilityConfig
	// SinkKind selects the notification sink: "log" (default) or "webhook".
	SinkKind   string `env:"TASKMESH_NOTIFY_SINK" default:"log"`
	WebhookURL string `env:"TASKMESH_NOTIFY_WEBHOOK_URL"`
}

// LoadNotifyConfig loads and validates Notification Consumer configuration
// from the environment.
func LoadNotifyConfig() (*NotifyConfig, error) {
	cfg := &NotifyConfig{}
	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("load notify config: %w", err)
	}
	return cfg, nil
}
