// Package telemetry provides observability instrumentation for homestack.
//
// The telemetry package integrates structured logging (zerolog), distributed
// tracing (OpenTelemetry), metrics (Prometheus), and event publishing into a
// unified system for monitoring and debugging convergence runs.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//  4. Event Publishing - Async event system for audit and notifications
//
// # Usage
//
// Initialize telemetry at application startup and hand its sink to the
// engine:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	eng := engine.New(backend, provisioner, tel.EngineSink())
//
// The sink routes every engine event to the logger, the metrics registry, and
// the event publisher, so components that come after the engine only deal
// with one stream. Once a run finishes, record the report so verdict and
// duration metrics land too:
//
//	report, err := eng.Run(ctx, units, opts)
//	tel.EngineSink().RecordReport(report)
//
// Add telemetry to context for components that take one:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context
// propagation:
//
//	logger := tel.Logger.NewComponentLogger("backend.docker")
//	logger = logger.WithRunID("run-123").WithUnit("nextcloud")
//	logger.Info("Starting container")
//	logger.WithError(err).Error("Container start failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing provides visibility into run flow and per-unit timing:
//
//	ctx, span := tel.Tracer.StartUnitSpan(ctx, runID, "nextcloud")
//	defer span.End()
//
//	span.SetAttributes(
//	    telemetry.AttrUnitState.String("probing"),
//	)
//
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Supported exporters: OTLP (production), Stdout (development), none (testing)
//
// # Metrics
//
// Key metrics exposed (with the default "homestack" namespace):
//
//   - homestack_runs_started_total
//   - homestack_runs_completed_total{verdict}
//   - homestack_run_duration_seconds{verdict}
//   - homestack_units_resolved_total{state}
//   - homestack_unit_ready_seconds{unit}
//   - homestack_probe_attempts{unit}
//   - homestack_quarantines_total{unit}
//   - homestack_provisions_total{kind,outcome}
//   - homestack_provision_duration_seconds{kind}
//   - homestack_backend_calls_total{operation}
//   - homestack_backend_call_duration_seconds{operation}
//   - homestack_errors_by_kind_total{kind}
//   - homestack_active_runs
//   - homestack_units_in_flight
//
// Metrics are exposed via HTTP at /metrics when enabled. The default listen
// address is :9135 so a Prometheus instance managed by homestack itself can
// keep :9090.
//
// # Event Publishing
//
// The event system provides async publishing with buffering and filtering:
//
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
//	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))
//
// Engine events arrive under their engine identifiers (run_started,
// unit_healthy, unit_quarantined, ...), so a subscriber filtering on
// telemetry.EventTypeUnitFailed sees exactly the engine's unit failures.
//
// Event filters: FilterByLevel, FilterByType, FilterByRunID, FilterByUnit
//
// # Configuration
//
// The package provides pre-configured setups for different environments:
//
//	// Development (verbose logging, stdout traces, full sampling)
//	cfg := telemetry.DevelopmentConfig()
//
//	// Production (JSON logs, OTLP traces, 10% sampling, metrics server)
//	cfg := telemetry.ProductionConfig()
//
// The default configuration keeps tracing and the metrics server off and logs
// to stderr, which suits one-shot CLI invocations. Long-running deployments
// should start from ProductionConfig.
//
// # Graceful Shutdown
//
// Always shut down telemetry gracefully to flush pending data:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	if err := tel.Shutdown(ctx); err != nil {
//	    log.Printf("telemetry shutdown error: %v", err)
//	}
//
// This ensures all buffered events are delivered and all pending traces are
// exported.
package telemetry
