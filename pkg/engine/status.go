package engine

import (
	"encoding/json"
	"fmt"
)

// UnitState represents where a unit is in its lifecycle during one run.
type UnitState string

const (
	// UnitPending indicates the unit has not yet been selected into a batch.
	UnitPending UnitState = "pending"

	// UnitStarting indicates conflict resolution passed and the backend
	// ensure-running call is in flight.
	UnitStarting UnitState = "starting"

	// UnitProbing indicates the backend accepted the start and readiness
	// polling is underway.
	UnitProbing UnitState = "probing"

	// UnitHealthy indicates the unit reached its readiness criterion.
	UnitHealthy UnitState = "healthy"

	// UnitUnhealthy indicates readiness polling exhausted its bound without
	// a verdict. The unit may still converge later; it is not Failed.
	UnitUnhealthy UnitState = "unhealthy"

	// UnitFailed indicates the unit cannot be healthy this run: conflict
	// resolution failed, the backend start call failed, or the backend
	// reported a crash.
	UnitFailed UnitState = "failed"

	// UnitBlocked indicates a dependency never reached Healthy, so the unit
	// was never started. A consequence, not an independent failure.
	UnitBlocked UnitState = "blocked"
)

// IsTerminal returns true once the state can no longer change within a run.
func (s UnitState) IsTerminal() bool {
	return s == UnitHealthy || s == UnitUnhealthy || s == UnitFailed || s == UnitBlocked
}

// IsActive returns true while the unit is still being worked on.
func (s UnitState) IsActive() bool {
	return s == UnitPending || s == UnitStarting || s == UnitProbing
}

// Validate checks if the unit state is one of the defined values.
func (s UnitState) Validate() error {
	switch s {
	case UnitPending, UnitStarting, UnitProbing,
		UnitHealthy, UnitUnhealthy, UnitFailed, UnitBlocked:
		return nil
	default:
		return fmt.Errorf("invalid unit state: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s UnitState) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *UnitState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = UnitState(str)
	return s.Validate()
}

// ObservedState is what the backend reports for a named resource when
// inspected. It is the prober's only input.
type ObservedState string

const (
	// ObservedAbsent indicates no resource with that name exists.
	ObservedAbsent ObservedState = "absent"

	// ObservedStarting indicates the resource exists but is still coming up
	// (created, restarting, or its health check has not yet reported).
	ObservedStarting ObservedState = "starting"

	// ObservedRunning indicates the resource is running and exposes no
	// health signal. Readiness policies treat N consecutive running
	// observations as healthy.
	ObservedRunning ObservedState = "running"

	// ObservedHealthy indicates the resource's own health check passes.
	ObservedHealthy ObservedState = "healthy"

	// ObservedUnhealthy indicates the resource's own health check fails.
	ObservedUnhealthy ObservedState = "unhealthy"

	// ObservedFailed indicates the resource exited or crashed.
	ObservedFailed ObservedState = "failed"
)

// IsPresent returns true if a resource with the inspected name exists at all.
func (s ObservedState) IsPresent() bool {
	return s != ObservedAbsent
}

// IsActive returns true if the resource is up in some form and would need a
// stop before it could be renamed.
func (s ObservedState) IsActive() bool {
	return s == ObservedStarting || s == ObservedRunning ||
		s == ObservedHealthy || s == ObservedUnhealthy
}

// Validate checks if the observed state is one of the defined values.
func (s ObservedState) Validate() error {
	switch s {
	case ObservedAbsent, ObservedStarting, ObservedRunning,
		ObservedHealthy, ObservedUnhealthy, ObservedFailed:
		return nil
	default:
		return fmt.Errorf("invalid observed state: %s", s)
	}
}

// ProbeVerdict is the terminal outcome of one readiness probe.
type ProbeVerdict string

const (
	// ProbeHealthy indicates the unit met its readiness criterion.
	ProbeHealthy ProbeVerdict = "healthy"

	// ProbeTimedOut indicates the polling bound was exhausted without the
	// unit becoming healthy or failing.
	ProbeTimedOut ProbeVerdict = "timed_out"

	// ProbeFailed indicates the backend reported a crash; polling stopped
	// immediately rather than waiting out the budget.
	ProbeFailed ProbeVerdict = "failed"
)

// ConflictOutcome is the result of resolving a unit's name against
// resources already present in the backend.
type ConflictOutcome string

const (
	// ConflictClear indicates the name is free or occupied by a resource
	// this orchestrator owns; startup proceeds untouched.
	ConflictClear ConflictOutcome = "clear"

	// ConflictQuarantined indicates a foreign resource occupied the name
	// and was stopped and renamed aside, never deleted.
	ConflictQuarantined ConflictOutcome = "quarantined"
)

// ProvisionOutcome is the result of one provisioning task.
type ProvisionOutcome string

const (
	// ProvisionCreated indicates the resource was absent and was created
	// and verified this run.
	ProvisionCreated ProvisionOutcome = "created"

	// ProvisionAlreadyExists indicates the resource was already present.
	// This is the common idempotent path on every re-run, not an error.
	ProvisionAlreadyExists ProvisionOutcome = "already_exists"

	// ProvisionFailed indicates the create action failed or could not be
	// verified afterwards.
	ProvisionFailed ProvisionOutcome = "failed"

	// ProvisionSkipped indicates the task never ran because its owning
	// unit did not reach Healthy, or provisioning was disabled for the run.
	ProvisionSkipped ProvisionOutcome = "skipped"
)

// RunVerdict summarizes a whole run.
type RunVerdict string

const (
	// VerdictConverged indicates every declared unit reached Healthy.
	VerdictConverged RunVerdict = "converged"

	// VerdictDegraded indicates the run completed but at least one unit is
	// Unhealthy, Failed, or Blocked.
	VerdictDegraded RunVerdict = "degraded"

	// VerdictCancelled indicates the caller cancelled the run before all
	// units could resolve.
	VerdictCancelled RunVerdict = "cancelled"
)

// Validate checks if the run verdict is one of the defined values.
func (v RunVerdict) Validate() error {
	switch v {
	case VerdictConverged, VerdictDegraded, VerdictCancelled:
		return nil
	default:
		return fmt.Errorf("invalid run verdict: %s", v)
	}
}

// EventType identifies events on the run timeline.
type EventType string

const (
	// EventRunStarted indicates a run has started.
	EventRunStarted EventType = "run_started"

	// EventRunCompleted indicates a run has finished, whatever the verdict.
	EventRunCompleted EventType = "run_completed"

	// EventBatchStarted indicates a dependency batch began executing.
	EventBatchStarted EventType = "batch_started"

	// EventUnitStarting indicates a unit passed conflict resolution and its
	// backend start was issued.
	EventUnitStarting EventType = "unit_starting"

	// EventUnitQuarantined indicates a foreign resource was renamed aside.
	EventUnitQuarantined EventType = "unit_quarantined"

	// EventUnitHealthy indicates a unit reached Healthy.
	EventUnitHealthy EventType = "unit_healthy"

	// EventUnitUnhealthy indicates a unit's readiness polling timed out.
	EventUnitUnhealthy EventType = "unit_unhealthy"

	// EventUnitFailed indicates a unit failed to start or crashed.
	EventUnitFailed EventType = "unit_failed"

	// EventUnitBlocked indicates a unit was never started because a
	// dependency did not reach Healthy.
	EventUnitBlocked EventType = "unit_blocked"

	// EventProvisioned indicates a provisioning task resolved.
	EventProvisioned EventType = "provisioned"

	// EventProvisionFailed indicates a provisioning task failed.
	EventProvisionFailed EventType = "provision_failed"
)

// Severity returns the log severity for the event type.
func (e EventType) Severity() string {
	switch e {
	case EventUnitFailed, EventUnitBlocked, EventProvisionFailed:
		return "error"
	case EventUnitUnhealthy, EventUnitQuarantined:
		return "warning"
	default:
		return "info"
	}
}
