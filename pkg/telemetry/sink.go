package telemetry

import (
	"context"
	"strings"

	"github.com/homestack/homestack/pkg/engine"
)

// Sink bridges engine run events into the telemetry stack. Every event is
// logged at its severity, counted in Prometheus, and forwarded to the event
// publisher for subscribers. It implements engine.EventSink.
type Sink struct {
	logger  *Logger
	metrics *Metrics
	events  *EventPublisher
}

// NewSink creates a sink wired to the given telemetry components. Any of the
// components may be nil, in which case that leg is skipped.
func NewSink(logger *Logger, metrics *Metrics, events *EventPublisher) *Sink {
	if logger != nil {
		logger = logger.NewComponentLogger("engine")
	}
	return &Sink{
		logger:  logger,
		metrics: metrics,
		events:  events,
	}
}

// Publish implements engine.EventSink.
func (s *Sink) Publish(ctx context.Context, ev engine.Event) {
	s.log(ev)
	s.count(ev)
	s.forward(ev)
}

func (s *Sink) log(ev engine.Event) {
	if s.logger == nil {
		return
	}
	logger := s.logger.WithRunID(ev.RunID)
	if ev.Unit != "" {
		logger = logger.WithUnit(ev.Unit)
	}
	switch ev.Type.Severity() {
	case "error":
		logger.Error(ev.Message)
	case "warning":
		logger.Warn(ev.Message)
	default:
		logger.Info(ev.Message)
	}
}

// count records the event-level metrics. Provisioning and run completion
// carry more detail in the run report than the event stream exposes, so those
// are recorded by RecordReport instead.
func (s *Sink) count(ev engine.Event) {
	if s.metrics == nil {
		return
	}
	switch ev.Type {
	case engine.EventRunStarted:
		s.metrics.RecordRunStarted()
	case engine.EventUnitStarting:
		s.metrics.RecordUnitStarting()
	case engine.EventUnitHealthy:
		s.metrics.RecordUnitResolved(string(engine.UnitHealthy))
	case engine.EventUnitUnhealthy:
		s.metrics.RecordUnitResolved(string(engine.UnitUnhealthy))
	case engine.EventUnitFailed:
		s.metrics.RecordUnitResolved(string(engine.UnitFailed))
	case engine.EventUnitBlocked:
		s.metrics.RecordUnitResolved(string(engine.UnitBlocked))
	case engine.EventUnitQuarantined:
		s.metrics.RecordQuarantine(ev.Unit)
	}
}

func (s *Sink) forward(ev engine.Event) {
	if s.events == nil {
		return
	}
	_ = s.events.Publish(Event{
		Timestamp: ev.At,
		Type:      string(ev.Type),
		Source:    "engine",
		RunID:     ev.RunID,
		Unit:      ev.Unit,
		Message:   ev.Message,
		Level:     ev.Type.Severity(),
	})
}

// RecordReport records the run-level metrics that are only known once the
// report is complete: the verdict, the run duration, per-unit readiness
// timings and probe counts, error kinds, and provisioning outcomes.
func (s *Sink) RecordReport(report *engine.RunReport) {
	if s.metrics == nil || report == nil {
		return
	}

	s.metrics.RecordRunCompleted(string(report.Verdict), report.Duration)

	for name, unit := range report.Units {
		if unit.Attempts > 0 {
			s.metrics.RecordProbeAttempts(name, unit.Attempts)
		}
		if unit.State == engine.UnitHealthy && !unit.ReadyAt.IsZero() && !unit.StartedAt.IsZero() {
			s.metrics.RecordUnitReady(name, unit.ReadyAt.Sub(unit.StartedAt))
		}
		if unit.Err != nil {
			s.metrics.RecordError(string(unit.Err.Kind), unit.Err.Code)
		}
		for _, rec := range unit.Provisions {
			s.metrics.RecordProvision(provisionKind(rec.Key), string(rec.Outcome), rec.Duration)
			if rec.Err != nil {
				s.metrics.RecordError(string(rec.Err.Kind), rec.Err.Code)
			}
		}
	}
}

// provisionKind extracts the resource kind from a task key such as
// "db:nextcloud" or "bucket:media". Keys without a scheme count as "other".
func provisionKind(key string) string {
	if i := strings.Index(key, ":"); i > 0 {
		return key[:i]
	}
	return "other"
}
