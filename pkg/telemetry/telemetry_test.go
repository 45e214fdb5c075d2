package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "production", mutate: func(c *Config) { *c = *ProductionConfig() }},
		{name: "missing service", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: true},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "bad exporter", mutate: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "jaeger"
		}, wantErr: true},
		{name: "bad sampling", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: true},
		{name: "async without buffer", mutate: func(c *Config) {
			c.Events.EnableAsync = true
			c.Events.BufferSize = 0
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMetricsRecordPlanAttempt(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "test"})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	m.RecordPlanAttempt("forms", "package", time.Millisecond, nil)
	m.RecordPlanAttempt("forms", "package", time.Millisecond, errors.New("boom"))
	m.ObserveStep("forms", time.Millisecond, nil)
	m.RecordOutcome("package_migration_complete")

	if got := testutil.ToFloat64(m.planAttempts.WithLabelValues("forms", "package", "succeeded")); got != 1 {
		t.Errorf("succeeded attempts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.planAttempts.WithLabelValues("forms", "package", "failed")); got != 1 {
		t.Errorf("failed attempts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.stepsApplied.WithLabelValues("forms", "succeeded")); got != 1 {
		t.Errorf("steps = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.bootOutcomes.WithLabelValues("package_migration_complete")); got != 1 {
		t.Errorf("outcomes = %v, want 1", got)
	}
}

func TestMetricsDisabledIsSafe(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	m.RecordPlanAttempt("core", "core", time.Second, nil)
	m.ObserveStep("core", time.Second, nil)
	m.RecordOutcome("none")
	if m.Registry() != nil {
		t.Error("disabled metrics should have no registry")
	}
	if srv := m.StartMetricsServer(nil); srv != nil {
		t.Error("disabled metrics should not start a server")
	}

	var nilMetrics *Metrics
	nilMetrics.RecordOutcome("none")
}

func TestTraceDurationLogs(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Logging.Format = "json"
	cfg.Metrics.Enabled = false

	tel, err := NewTelemetryWithWriter(&buf, cfg)
	if err != nil {
		t.Fatalf("NewTelemetryWithWriter() error = %v", err)
	}
	defer tel.Shutdown(context.Background())

	ctx, op := tel.TraceDuration(context.Background(), "forms", "package",
		"Starting unattended package migration for forms",
		"Unattended upgrade completed for forms")
	FromContext(ctx).Info("step applied")
	op.End("v2", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 log lines, got %d: %s", len(lines), buf.String())
	}

	var step map[string]interface{}
	if err := json.Unmarshal([]byte(lines[1]), &step); err != nil {
		t.Fatalf("failed to decode log line: %v", err)
	}
	if step["plan"] != "forms" || step["kind"] != "package" {
		t.Errorf("context logger fields = %v, want plan and kind", step)
	}

	var end map[string]interface{}
	if err := json.Unmarshal([]byte(lines[2]), &end); err != nil {
		t.Fatalf("failed to decode log line: %v", err)
	}
	if end["message"] != "Unattended upgrade completed for forms" {
		t.Errorf("message = %v", end["message"])
	}
	if end["plan"] != "forms" {
		t.Errorf("plan = %v, want forms", end["plan"])
	}
	if end["state"] != "v2" {
		t.Errorf("state = %v, want v2", end["state"])
	}
	if _, ok := end["duration"]; !ok {
		t.Error("expected duration field")
	}
}

func TestAsyncEventsDeliveredOnShutdown(t *testing.T) {
	ep := NewEventPublisher(EventsConfig{Enabled: true, EnableAsync: true, BufferSize: 8})

	var got []string
	ep.Subscribe(func(e Event) { got = append(got, e.Type) }, FilterByType(EventTypePlanFailed))

	_ = ep.PublishPlanStarted("core", "core")
	_ = ep.PublishPlanFailed("core", "core", "boom")

	if err := ep.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if len(got) != 1 || got[0] != EventTypePlanFailed {
		t.Errorf("delivered = %v, want [%s]", got, EventTypePlanFailed)
	}
}

func TestFilterByPlan(t *testing.T) {
	ep := NewEventPublisher(EventsConfig{Enabled: true})

	var got []string
	ep.Subscribe(func(e Event) { got = append(got, e.Plan) }, FilterByPlan("forms"))

	_ = ep.PublishPlanStarted("media", "package")
	_ = ep.PublishPlanStarted("forms", "package")
	_ = ep.PublishBootFailed("boom")

	if len(got) != 1 || got[0] != "forms" {
		t.Errorf("delivered = %v, want [forms]", got)
	}
}

func TestNopTelemetry(t *testing.T) {
	tel := Nop()
	_, op := tel.TraceDuration(context.Background(), "core", "core", "start", "end")
	op.End("", errors.New("boom"))
	tel.RecordBootFailure(errors.New("boom"))
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}
