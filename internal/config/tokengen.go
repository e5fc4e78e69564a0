package config

import (
	"errors"
	"fmt"

	"github.com/taskmesh/taskmesh/internal/env"
)

// ErrUserIDRequired is returned when no user id is given to mint a token for.
var ErrUserIDRequired = errors.New("user id is required (use -user flag)")

// TokenGenConfig holds configuration for the dev token-minting binary, used
// to generate bearer tokens for local testing against the Task API without a
// real identity provider.
type TokenGenConfig struct {
	Auth AuthConfig

	UserID string        // from command-line flag
	TTLMin int           // from command-line flag, minutes
}

// LoadTokenGenConfig loads token generator configuration from the
// environment; userID and ttlMin come from command-line flags.
func LoadTokenGenConfig(userID string, ttlMin int) (*TokenGenConfig, error) {
	cfg := &TokenGenConfig{UserID: userID, TTLMin: ttlMin}
	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("load tokengen config: %w", err)
	}
	return cfg, nil
}

// Validate validates the token generator configuration.
func (c *TokenGenConfig) Validate() error {
	if c.UserID == "" {
		return ErrUserIDRequired
	}
	return nil
}
