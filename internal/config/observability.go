package config

// ObservabilityConfig holds logging/tracing/metrics configuration shared by
// every binary.
type ObservabilityConfig struct {
	OTelEnabled     bool   `env:"TASKMESH_OTEL_ENABLED" default:"false"`
	OTelCollector   string `env:"TASKMESH_OTEL_COLLECTOR" default:"localhost:4317"`
	ServiceName     string `env:"OTEL_SERVICE_NAME"`
	MetricsPort     string `env:"TASKMESH_METRICS_PORT" default:"9090"`
	LogLevel        string `env:"TASKMESH_LOG_LEVEL" default:"info"`
}
