package config

import "errors"

// ErrSigningSecretRequired is returned when no JWT signing secret is configured.
var ErrSigningSecretRequired = errors.New("TASKMESH_JWT_SIGNING_SECRET is required")

// AuthConfig holds bearer-token validation configuration. The signing secret
// is shared with whatever external service issues tokens; this service only
// verifies them.
type AuthConfig struct {
	JWTSigningSecret string `env:"TASKMESH_JWT_SIGNING_SECRET"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.JWTSigningSecret == "" {
		return ErrSigningSecretRequired
	}
	return nil
}
