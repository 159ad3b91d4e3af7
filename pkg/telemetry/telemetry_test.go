package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/homestack/homestack/pkg/engine"
)

func TestConfig_Validate_PresetsAreValid(t *testing.T) {
	presets := map[string]*Config{
		"default":     DefaultConfig(),
		"production":  ProductionConfig(),
		"development": DevelopmentConfig(),
	}

	for name, cfg := range presets {
		if err := cfg.Validate(); err != nil {
			t.Errorf("Expected %s config to validate, got: %v", name, err)
		}
	}
}

func TestConfig_Validate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "empty service name",
			mutate: func(c *Config) { c.ServiceName = "" },
			want:   "service name",
		},
		{
			name:   "empty service version",
			mutate: func(c *Config) { c.ServiceVersion = "" },
			want:   "service version",
		},
		{
			name:   "unknown log level",
			mutate: func(c *Config) { c.Logging.Level = "verbose" },
			want:   "invalid log level",
		},
		{
			name:   "unknown log format",
			mutate: func(c *Config) { c.Logging.Format = "logfmt" },
			want:   "invalid log format",
		},
		{
			name: "unknown trace exporter",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "zipkin"
			},
			want: "invalid trace exporter",
		},
		{
			name:   "sampling rate above one",
			mutate: func(c *Config) { c.Tracing.SamplingRate = 1.5 },
			want:   "sampling rate",
		},
		{
			name: "metrics without listen address",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.ListenAddress = ""
			},
			want: "listen address",
		},
		{
			name: "events without buffer",
			mutate: func(c *Config) {
				c.Events.Enabled = true
				c.Events.BufferSize = 0
			},
			want: "buffer size",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Expected error to mention %q, got: %v", tc.want, err)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"debug":   zerolog.DebugLevel,
		"info":    zerolog.InfoLevel,
		"warn":    zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"fatal":   zerolog.FatalLevel,
		"unknown": zerolog.InfoLevel,
	}

	for input, want := range cases {
		if got := parseLogLevel(input); got != want {
			t.Errorf("Expected level %v for %q, got %v", want, input, got)
		}
	}
}

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "homestack.log")

	logger, err := NewLogger(LoggingConfig{
		Level:      "info",
		Format:     "json",
		Output:     path,
		TimeFormat: "rfc3339",
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	logger.WithUnit("nextcloud").Info("container started")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Expected log file to exist, got: %v", err)
	}
	if !strings.Contains(string(data), "container started") {
		t.Errorf("Expected log file to contain the message, got: %s", data)
	}
	if !strings.Contains(string(data), `"unit":"nextcloud"`) {
		t.Errorf("Expected log file to carry the unit field, got: %s", data)
	}
}

func TestNewLogger_BadFilePath(t *testing.T) {
	_, err := NewLogger(LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: filepath.Join(t.TempDir(), "missing", "homestack.log"),
	})
	if err == nil {
		t.Fatal("Expected an error for an unwritable log path, got nil")
	}
}

func TestLogger_ContextRoundTrip(t *testing.T) {
	logger, err := NewLogger(DefaultConfig().Logging)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	ctx := logger.WithContext(context.Background())
	if got := FromContext(ctx); got != logger {
		t.Error("Expected FromContext to return the stored logger")
	}

	if got := FromContext(context.Background()); got == nil {
		t.Error("Expected FromContext to fall back to a default logger")
	}
}

func TestEventPublisher_SyncDeliveryOrder(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{
		Enabled:    true,
		BufferSize: 8,
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	var got []Event
	ep.Subscribe(func(ev Event) { got = append(got, ev) }, nil)

	if err := ep.PublishRunStarted("run-1", 2); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := ep.PublishUnitHealthy("run-1", "nextcloud", 3); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := ep.PublishRunCompleted("run-1", "converged", time.Second); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := []string{EventTypeRunStarted, EventTypeUnitHealthy, EventTypeRunCompleted}
	if len(got) != len(want) {
		t.Fatalf("Expected %d events, got %d", len(want), len(got))
	}
	for i, ev := range got {
		if ev.Type != want[i] {
			t.Errorf("Expected event %d to be %s, got %s", i, want[i], ev.Type)
		}
		if ev.ID == "" {
			t.Errorf("Expected event %d to have an ID assigned", i)
		}
		if ev.Timestamp.IsZero() {
			t.Errorf("Expected event %d to have a timestamp assigned", i)
		}
	}

	if got[1].Unit != "nextcloud" {
		t.Errorf("Expected unit event to carry the unit name, got %q", got[1].Unit)
	}
}

func TestEventPublisher_Disabled(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	delivered := false
	ep.Subscribe(func(ev Event) { delivered = true }, nil)

	if err := ep.PublishRunStarted("run-1", 1); err != nil {
		t.Fatalf("Expected publish on a disabled publisher to be a no-op, got: %v", err)
	}
	if delivered {
		t.Error("Expected no delivery from a disabled publisher")
	}
	if err := ep.Shutdown(context.Background()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
}

func TestEventPublisher_SubscriberFilter(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{
		Enabled:    true,
		BufferSize: 8,
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	var warnings []string
	ep.Subscribe(func(ev Event) { warnings = append(warnings, ev.Type) }, FilterByLevel(EventLevelWarning))

	var grafanaOnly []string
	ep.Subscribe(func(ev Event) { grafanaOnly = append(grafanaOnly, ev.Type) }, FilterByUnit("grafana"))

	_ = ep.PublishRunStarted("run-1", 3)
	_ = ep.PublishQuarantine("run-1", "grafana", "grafana-old-1700000000")
	_ = ep.PublishUnitFailed("run-1", "vault", "exit 137")

	wantWarnings := []string{EventTypeUnitQuarantined, EventTypeUnitFailed}
	if len(warnings) != len(wantWarnings) {
		t.Fatalf("Expected %d warning events, got %d", len(wantWarnings), len(warnings))
	}
	for i, typ := range warnings {
		if typ != wantWarnings[i] {
			t.Errorf("Expected warning event %d to be %s, got %s", i, wantWarnings[i], typ)
		}
	}

	if len(grafanaOnly) != 1 || grafanaOnly[0] != EventTypeUnitQuarantined {
		t.Errorf("Expected only the grafana quarantine for the unit filter, got %v", grafanaOnly)
	}
}

func TestEventPublisher_GlobalFilter(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{
		Enabled:    true,
		BufferSize: 8,
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	ep.AddFilter(FilterByRunID("run-keep"))

	var got []string
	ep.Subscribe(func(ev Event) { got = append(got, ev.RunID) }, nil)

	_ = ep.PublishRunStarted("run-keep", 1)
	_ = ep.PublishRunStarted("run-drop", 1)

	if len(got) != 1 || got[0] != "run-keep" {
		t.Errorf("Expected only run-keep to pass the global filter, got %v", got)
	}
}

func TestEventPublisher_AsyncFlushOnShutdown(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{
		Enabled:       true,
		BufferSize:    16,
		FlushInterval: time.Hour,
		MaxBatchSize:  8,
		EnableAsync:   true,
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	var mu sync.Mutex
	var got []string
	ep.Subscribe(func(ev Event) {
		mu.Lock()
		got = append(got, ev.Type)
		mu.Unlock()
	}, nil)

	for i := 0; i < 3; i++ {
		if err := ep.PublishUnitHealthy("run-1", "unit", i+1); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ep.Shutdown(ctx); err != nil {
		t.Fatalf("Expected clean shutdown, got: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 {
		t.Fatalf("Expected all 3 buffered events delivered before shutdown, got %d", len(got))
	}
}

func TestEventPublisher_AsyncBatchLimit(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{
		Enabled:       true,
		BufferSize:    16,
		FlushInterval: time.Hour,
		MaxBatchSize:  2,
		EnableAsync:   true,
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	delivered := make(chan struct{}, 8)
	ep.Subscribe(func(ev Event) { delivered <- struct{}{} }, nil)

	for i := 0; i < 4; i++ {
		_ = ep.PublishUnitHealthy("run-1", "unit", i+1)
	}

	// Two full batches of two should flush without a ticker or a shutdown.
	for i := 0; i < 4; i++ {
		select {
		case <-delivered:
		case <-time.After(2 * time.Second):
			t.Fatalf("Expected event %d to be delivered by batch flushing", i)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ep.Shutdown(ctx); err != nil {
		t.Fatalf("Expected clean shutdown, got: %v", err)
	}
}

func TestMetrics_DisabledIsNoOp(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// None of these may panic on the no-op instance.
	m.RecordRunStarted()
	m.RecordRunCompleted("converged", time.Second)
	m.RecordUnitStarting()
	m.RecordUnitResolved("healthy")
	m.RecordUnitReady("nextcloud", 3*time.Second)
	m.RecordProbeAttempts("nextcloud", 4)
	m.RecordQuarantine("grafana")
	m.RecordProvision("db", "created", time.Second)
	m.RecordBackendCall("inspect", time.Millisecond, nil)
	m.RecordError("backend_start", "START_FAILED")

	if err := m.StartMetricsServer(); err != nil {
		t.Fatalf("Expected disabled metrics server start to be a no-op, got: %v", err)
	}
}

func TestMetrics_EnabledRecordsWithoutPanic(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{
		Enabled:       true,
		ListenAddress: ":0",
		Path:          "/metrics",
		Namespace:     "homestack_test",
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	m.RecordRunStarted()
	m.RecordUnitStarting()
	m.RecordUnitResolved("healthy")
	m.RecordUnitResolved("blocked")
	m.RecordUnitReady("nextcloud", 3*time.Second)
	m.RecordProbeAttempts("nextcloud", 4)
	m.RecordQuarantine("grafana")
	m.RecordProvision("bucket", "already_exists", 20*time.Millisecond)
	m.RecordBackendCall("start", 40*time.Millisecond, nil)
	m.RecordBackendCall("stop", time.Millisecond, context.DeadlineExceeded)
	m.RecordError("readiness_timeout", "PROBE_TIMEOUT")
	m.RecordRunCompleted("degraded", 5*time.Second)

	if m.Handler() == nil {
		t.Fatal("Expected a metrics handler for an enabled instance")
	}
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	cfg := MetricsConfig{
		Enabled:       true,
		ListenAddress: ":0",
		Path:          "/metrics",
		Namespace:     "homestack_test",
	}

	// Two instances with the same namespace must not collide, each carries
	// its own registry.
	if _, err := NewMetrics(cfg); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, err := NewMetrics(cfg); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
}

func TestSink_ForwardsEngineEvents(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{
		Enabled:    true,
		BufferSize: 8,
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	var got []Event
	ep.Subscribe(func(ev Event) { got = append(got, ev) }, nil)

	sink := NewSink(nil, nil, ep)
	ctx := context.Background()

	sink.Publish(ctx, engine.Event{
		RunID:   "run-9",
		Unit:    "grafana",
		Type:    engine.EventUnitQuarantined,
		Message: "foreign resource quarantined as grafana-old-1700000000",
		At:      time.Now(),
	})
	sink.Publish(ctx, engine.Event{
		RunID:   "run-9",
		Unit:    "grafana",
		Type:    engine.EventUnitHealthy,
		Message: "healthy after 2 attempts",
		At:      time.Now(),
	})

	if len(got) != 2 {
		t.Fatalf("Expected 2 forwarded events, got %d", len(got))
	}
	if got[0].Type != EventTypeUnitQuarantined {
		t.Errorf("Expected first event type %s, got %s", EventTypeUnitQuarantined, got[0].Type)
	}
	if got[0].Level != EventLevelWarning {
		t.Errorf("Expected quarantine to forward as a warning, got %s", got[0].Level)
	}
	if got[0].Source != "engine" {
		t.Errorf("Expected source engine, got %s", got[0].Source)
	}
	if got[1].Level != EventLevelInfo {
		t.Errorf("Expected healthy to forward as info, got %s", got[1].Level)
	}
	if got[1].RunID != "run-9" || got[1].Unit != "grafana" {
		t.Errorf("Expected run and unit to pass through, got %s/%s", got[1].RunID, got[1].Unit)
	}
}

func TestSink_CountsEngineEvents(t *testing.T) {
	metrics, err := NewMetrics(MetricsConfig{
		Enabled:       true,
		ListenAddress: ":0",
		Path:          "/metrics",
		Namespace:     "homestack_test",
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	sink := NewSink(nil, metrics, nil)
	ctx := context.Background()

	types := []engine.EventType{
		engine.EventRunStarted,
		engine.EventBatchStarted,
		engine.EventUnitStarting,
		engine.EventUnitQuarantined,
		engine.EventUnitHealthy,
		engine.EventUnitUnhealthy,
		engine.EventUnitFailed,
		engine.EventUnitBlocked,
		engine.EventProvisioned,
		engine.EventProvisionFailed,
	}
	for _, typ := range types {
		sink.Publish(ctx, engine.Event{RunID: "run-1", Unit: "unit", Type: typ, At: time.Now()})
	}
}

func TestSink_RecordReport(t *testing.T) {
	metrics, err := NewMetrics(MetricsConfig{
		Enabled:       true,
		ListenAddress: ":0",
		Path:          "/metrics",
		Namespace:     "homestack_test",
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	sink := NewSink(nil, metrics, nil)

	started := time.Now().Add(-time.Minute)
	report := &engine.RunReport{
		RunID:    "run-2",
		Verdict:  engine.VerdictDegraded,
		Duration: time.Minute,
		Units: map[string]*engine.UnitResult{
			"postgres": {
				Name:      "postgres",
				State:     engine.UnitHealthy,
				Attempts:  3,
				StartedAt: started,
				ReadyAt:   started.Add(10 * time.Second),
				Provisions: []engine.ProvisionRecord{
					{Key: "db:nextcloud", Outcome: engine.ProvisionCreated, Duration: time.Second},
				},
			},
			"vault": {
				Name:     "vault",
				State:    engine.UnitFailed,
				Attempts: 1,
				Err:      engine.NewBackendCrashError("unit crashed: exit 137", nil),
			},
			"paperless": {
				Name:  "paperless",
				State: engine.UnitBlocked,
				Err:   engine.NewDependencyBlockedError("never started: vault is failed", nil),
			},
		},
	}

	sink.RecordReport(report)

	// Nil handling must be safe for both legs.
	sink.RecordReport(nil)
	NewSink(nil, nil, nil).RecordReport(report)
}

func TestProvisionKind(t *testing.T) {
	cases := map[string]string{
		"db:nextcloud":       "db",
		"bucket:media":       "bucket",
		"vector:documents":   "vector",
		"plain":              "other",
		":leading-separator": "other",
		"":                   "other",
	}

	for key, want := range cases {
		if got := provisionKind(key); got != want {
			t.Errorf("Expected kind %q for key %q, got %q", want, key, got)
		}
	}
}

func TestNewTelemetry_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "verbose"

	if _, err := NewTelemetry(cfg); err == nil {
		t.Fatal("Expected an error for an invalid config, got nil")
	}
}

func TestNewTelemetry_DefaultLifecycle(t *testing.T) {
	tel, err := NewTelemetry(DefaultConfig())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if tel.Logger == nil || tel.Tracer == nil || tel.Metrics == nil || tel.Events == nil {
		t.Fatal("Expected all telemetry components to be initialized")
	}

	if tel.EngineSink() == nil {
		t.Fatal("Expected an engine sink")
	}

	ctx := tel.WithContext(context.Background())
	if FromTelemetryContext(ctx) != tel {
		t.Error("Expected the telemetry instance to round-trip through context")
	}
	if FromTelemetryContext(context.Background()) != nil {
		t.Error("Expected nil for a bare context")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tel.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Expected clean shutdown, got: %v", err)
	}
}

func TestStartOperation_WithoutTelemetry(t *testing.T) {
	ic := StartOperation(context.Background(), "load_config")
	if ic.Logger == nil {
		t.Fatal("Expected a fallback logger")
	}
	if ic.Timer == nil {
		t.Fatal("Expected a timer")
	}

	// End must tolerate the missing span.
	ic.End(nil)
}

func TestRecordBackendOperation_PassesThroughError(t *testing.T) {
	wantErr := context.DeadlineExceeded
	err := RecordBackendOperation(context.Background(), "start", "nextcloud", func() error {
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("Expected the callback error back, got: %v", err)
	}

	err = RecordBackendOperation(context.Background(), "inspect", "nextcloud", func() error {
		return nil
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
}
