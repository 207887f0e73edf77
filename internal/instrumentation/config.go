package instrumentation

import (
	"fmt"
	"slices"

	"github.com/caarlos0/env/v11"
)

// Exporter names accepted by METRICS_EXPORTER and TRACING_EXPORTER.
const (
	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
	ExporterStdout     = "stdout"
	ExporterNone       = "none"
)

var (
	metricsExporters = []string{ExporterPrometheus, ExporterOTLP, ExporterStdout}
	tracingExporters = []string{ExporterOTLP, ExporterStdout, ExporterNone}
)

// Config selects the telemetry exporters. It is read from the environment
// so that the same binary can run with Prometheus scraping locally and OTLP
// push in a cluster.
type Config struct {
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"calendar-mcp"`

	// ServiceVersion is set by the caller from the build version.
	ServiceVersion string `env:"-"`

	// ServiceInstanceID defaults to the hostname, which is the pod name in
	// Kubernetes.
	ServiceInstanceID string `env:"OTEL_SERVICE_INSTANCE_ID"`

	Enabled bool `env:"INSTRUMENTATION_ENABLED" envDefault:"true"`

	MetricsExporter string `env:"METRICS_EXPORTER" envDefault:"prometheus"`
	TracingExporter string `env:"TRACING_EXPORTER" envDefault:"none"`

	// OTLPEndpoint is host:port without a scheme, e.g. "localhost:4318".
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `env:"OTEL_EXPORTER_OTLP_INSECURE"`

	TraceSamplingRate float64 `env:"OTEL_TRACES_SAMPLER_ARG" envDefault:"0.1"`

	// DetailedLabels adds the caller's email domain to tool metrics.
	DetailedLabels bool `env:"METRICS_DETAILED_LABELS"`

	Audit AuditConfig
}

// AuditConfig controls the tool call audit log.
type AuditConfig struct {
	Enabled bool `env:"AUDIT_LOGGING_ENABLED" envDefault:"true"`

	// IncludePII logs the caller's full email instead of its hash.
	IncludePII bool `env:"AUDIT_LOGGING_INCLUDE_PII"`
}

// LoadConfig reads the telemetry settings from the environment and
// validates them.
func LoadConfig(version string) (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return cfg, fmt.Errorf("parsing instrumentation config: %w", err)
	}
	cfg.ServiceVersion = version
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = "unknown"
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks exporter names, the sampling rate and the OTLP endpoint.
func (c *Config) Validate() error {
	if c.TraceSamplingRate < 0 || c.TraceSamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0.0 and 1.0, got %g", c.TraceSamplingRate)
	}
	if c.MetricsExporter != "" && !slices.Contains(metricsExporters, c.MetricsExporter) {
		return fmt.Errorf("invalid metrics exporter %q, must be one of %v", c.MetricsExporter, metricsExporters)
	}
	if c.TracingExporter != "" && !slices.Contains(tracingExporters, c.TracingExporter) {
		return fmt.Errorf("invalid tracing exporter %q, must be one of %v", c.TracingExporter, tracingExporters)
	}
	if c.OTLPEndpoint == "" && (c.MetricsExporter == ExporterOTLP || c.TracingExporter == ExporterOTLP) {
		return fmt.Errorf("OTEL_EXPORTER_OTLP_ENDPOINT is required for the otlp exporter")
	}
	return nil
}
