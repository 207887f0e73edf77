package instrumentation

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestProvider(t *testing.T, cfg Config) *Provider {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	cfg.ServiceName = "calendar-mcp-test"
	cfg.ServiceVersion = "1.0.0"
	provider, err := NewProvider(ctx, cfg)
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return provider
}

func TestNewProvider_Disabled(t *testing.T) {
	provider := newTestProvider(t, Config{Enabled: false})

	if provider.Enabled() {
		t.Error("expected provider to be disabled")
	}
	if provider.Metrics() == nil {
		t.Error("Metrics() must not be nil when disabled")
	}
	if provider.MetricsHandler() != nil {
		t.Error("MetricsHandler() should be nil when disabled")
	}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestNewProvider_PrometheusScrape(t *testing.T) {
	provider := newTestProvider(t, Config{
		Enabled:         true,
		MetricsExporter: ExporterPrometheus,
		TracingExporter: ExporterNone,
	})
	if !provider.Enabled() {
		t.Fatal("expected provider to be enabled")
	}

	provider.Metrics().RecordStorageOperation(context.Background(), "valkey", "take", StatusSuccess, time.Millisecond)

	handler := provider.MetricsHandler()
	if handler == nil {
		t.Fatal("MetricsHandler() is nil for the prometheus exporter")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"storage_operations_total", `backend="valkey"`, "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("scrape output missing %q", want)
		}
	}
}

func TestNewProvider_Exporters(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		wantErr     bool
		wantHandler bool
	}{
		{
			name:    "stdout",
			config:  Config{Enabled: true, MetricsExporter: ExporterStdout, TracingExporter: ExporterStdout},
			wantErr: false,
		},
		{
			name:    "invalid metrics exporter",
			config:  Config{Enabled: true, MetricsExporter: "invalid", TracingExporter: ExporterNone},
			wantErr: true,
		},
		{
			name:    "invalid tracing exporter",
			config:  Config{Enabled: true, MetricsExporter: ExporterPrometheus, TracingExporter: "invalid"},
			wantErr: true,
		},
		{
			name:    "otlp tracing without endpoint",
			config:  Config{Enabled: true, MetricsExporter: ExporterPrometheus, TracingExporter: ExporterOTLP},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			provider, err := NewProvider(ctx, tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewProvider() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer func() { _ = provider.Shutdown(ctx) }()

			if (provider.MetricsHandler() != nil) != tt.wantHandler {
				t.Errorf("MetricsHandler() present = %v, want %v", provider.MetricsHandler() != nil, tt.wantHandler)
			}
		})
	}
}
