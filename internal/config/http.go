package config

import "time"

// HTTPConfig holds HTTP server configuration shared by every binary that
// exposes an HTTP surface (the Task API's public API, and each consumer's
// small internal read/health surface).
type HTTPConfig struct {
	Host              string        `env:"TASKMESH_HTTP_HOST" default:"0.0.0.0"`
	Port              string        `env:"TASKMESH_HTTP_PORT" default:"8080"`
	ReadTimeout       time.Duration `env:"TASKMESH_HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout      time.Duration `env:"TASKMESH_HTTP_WRITE_TIMEOUT" default:"10s"`
	IdleTimeout       time.Duration `env:"TASKMESH_HTTP_IDLE_TIMEOUT" default:"60s"`
	ReadHeaderTimeout time.Duration `env:"TASKMESH_HTTP_READ_HEADER_TIMEOUT" default:"5s"`
	MaxHeaderBytes    int           `env:"TASKMESH_HTTP_MAX_HEADER_BYTES" default:"1048576"`
	MaxBodyBytes      int64         `env:"TASKMESH_HTTP_MAX_BODY_BYTES" default:"1048576"`
}
