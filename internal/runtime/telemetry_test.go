package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-minutes/internal/config"
)

func TestTraceExporterName(t *testing.T) {
	cases := []struct {
		cfg  config.TelemetryConfig
		want string
	}{
		{config.TelemetryConfig{}, "stdout"},
		{config.TelemetryConfig{OTLPEndpoint: "collector:4317"}, "otlp"},
		{config.TelemetryConfig{OTLPEndpoint: "collector:4317", TraceExporter: "none"}, "none"},
		{config.TelemetryConfig{TraceExporter: "stdout"}, "stdout"},
	}
	for _, tc := range cases {
		if got := traceExporterName(tc.cfg); got != tc.want {
			t.Fatalf("%+v: expected %s, got %s", tc.cfg, tc.want, got)
		}
	}
}

func TestSetupTelemetryServesRuntimeMetrics(t *testing.T) {
	cfg := config.Default()
	cfg.Telemetry.TraceExporter = "none"
	shutdown, handler, err := setupTelemetry(cfg, "test", newLogger())
	if err != nil {
		t.Fatalf("setup telemetry: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatalf("expected go runtime metrics, got:\n%s", rec.Body.String())
	}
}
