package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event in the homestack system.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// RunID is the associated run ID, if applicable.
	RunID string `json:"run_id,omitempty"`

	// Unit is the associated unit name, if applicable.
	Unit string `json:"unit,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types. Engine events pass through the
// sink under the same identifiers, so subscribers can filter on either side
// with one vocabulary.
const (
	EventTypeRunStarted      = "run_started"
	EventTypeRunCompleted    = "run_completed"
	EventTypeBatchStarted    = "batch_started"
	EventTypeUnitStarting    = "unit_starting"
	EventTypeUnitQuarantined = "unit_quarantined"
	EventTypeUnitHealthy     = "unit_healthy"
	EventTypeUnitUnhealthy   = "unit_unhealthy"
	EventTypeUnitFailed      = "unit_failed"
	EventTypeUnitBlocked     = "unit_blocked"
	EventTypeProvisioned     = "provisioned"
	EventTypeProvisionFailed = "provision_failed"
	EventTypeDNSSynced       = "dns_synced"
	EventTypeError           = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	// Start the event processing goroutine
	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	// Set ID and timestamp if not already set
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Apply global filters
	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil // Event filtered out
		}
	}
	ep.mu.RUnlock()

	// Send to buffer if async, otherwise process immediately
	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			// Buffer full, drop event or log warning
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	// Synchronous publishing
	ep.deliverEvent(event)
	return nil
}

// PublishRunStarted publishes a run started event.
func (ep *EventPublisher) PublishRunStarted(runID string, unitCount int) error {
	return ep.Publish(Event{
		Type:    EventTypeRunStarted,
		Source:  "engine",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s started with %d units", runID, unitCount),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"unit_count": unitCount,
		},
	})
}

// PublishRunCompleted publishes a run completed event.
func (ep *EventPublisher) PublishRunCompleted(runID, verdict string, duration time.Duration) error {
	level := EventLevelInfo
	if verdict != "converged" {
		level = EventLevelWarning
	}
	return ep.Publish(Event{
		Type:    EventTypeRunCompleted,
		Source:  "engine",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s completed with verdict: %s", runID, verdict),
		Level:   level,
		Data: map[string]interface{}{
			"verdict":  verdict,
			"duration": duration.Seconds(),
		},
	})
}

// PublishUnitHealthy publishes a unit healthy event.
func (ep *EventPublisher) PublishUnitHealthy(runID, unit string, attempts int) error {
	return ep.Publish(Event{
		Type:    EventTypeUnitHealthy,
		Source:  "engine",
		RunID:   runID,
		Unit:    unit,
		Message: fmt.Sprintf("Unit %s healthy after %d observations", unit, attempts),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"attempts": attempts,
		},
	})
}

// PublishUnitFailed publishes a unit failed event.
func (ep *EventPublisher) PublishUnitFailed(runID, unit, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeUnitFailed,
		Source:  "engine",
		RunID:   runID,
		Unit:    unit,
		Message: fmt.Sprintf("Unit %s failed: %s", unit, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishUnitBlocked publishes a unit blocked event.
func (ep *EventPublisher) PublishUnitBlocked(runID, unit, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeUnitBlocked,
		Source:  "engine",
		RunID:   runID,
		Unit:    unit,
		Message: fmt.Sprintf("Unit %s blocked: %s", unit, reason),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishQuarantine publishes a quarantine event for a foreign resource.
func (ep *EventPublisher) PublishQuarantine(runID, unit, quarantineName string) error {
	return ep.Publish(Event{
		Type:    EventTypeUnitQuarantined,
		Source:  "engine",
		RunID:   runID,
		Unit:    unit,
		Message: fmt.Sprintf("Foreign resource on %s renamed to %s", unit, quarantineName),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"quarantine_name": quarantineName,
		},
	})
}

// PublishProvisionFailed publishes a provisioning failure event.
func (ep *EventPublisher) PublishProvisionFailed(runID, unit, key, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeProvisionFailed,
		Source:  "provisioner",
		RunID:   runID,
		Unit:    unit,
		Message: fmt.Sprintf("Provisioning %s for unit %s failed: %s", key, unit, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"key":    key,
			"reason": reason,
		},
	})
}

// PublishDNSSynced publishes a DNS synchronization event.
func (ep *EventPublisher) PublishDNSSynced(zone string, changed int) error {
	return ep.Publish(Event{
		Type:    EventTypeDNSSynced,
		Source:  "edge",
		Message: fmt.Sprintf("DNS zone %s synchronized (%d records changed)", zone, changed),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"zone":    zone,
			"changed": changed,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	flush := time.NewTicker(ep.flushInterval())
	defer flush.Stop()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)

			// Flush batch if it reaches max size
			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-flush.C:
			if len(batch) > 0 {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ep.ctx.Done():
			// Drain the buffer and flush remaining events before shutdown
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					if len(batch) > 0 {
						ep.flushBatch(batch)
					}
					return
				}
			}
		}
	}
}

// flushInterval returns the configured flush interval with a sane floor.
func (ep *EventPublisher) flushInterval() time.Duration {
	if ep.config.FlushInterval <= 0 {
		return time.Second
	}
	return ep.config.FlushInterval
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		// Apply subscriber-specific filter
		if entry.filter != nil && !entry.filter(event) {
			continue
		}

		entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	// Signal shutdown
	ep.cancel()

	// Wait for processing to complete with timeout
	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByRunID creates a filter that only allows events for a specific run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}

// FilterByUnit creates a filter that only allows events for a specific unit.
func FilterByUnit(unit string) EventFilter {
	return func(event Event) bool {
		return event.Unit == unit
	}
}
