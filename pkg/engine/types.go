package engine

import (
	"encoding/json"
	"fmt"
	"time"
)

// UnitSpec declares one deployable unit of the stack. Specs are supplied by
// the caller per run; the engine never persists them.
type UnitSpec struct {
	// Name uniquely identifies the unit within a run. It is also the
	// resource name handed to the backend.
	Name string `json:"name"`

	// Start is the opaque start descriptor passed through to the backend
	// unchanged. Its schema belongs to the backend, not the engine.
	Start json.RawMessage `json:"start,omitempty"`

	// DependsOn lists unit names that must reach Healthy before this unit
	// is started. Every entry must name a declared unit.
	DependsOn []string `json:"depends_on,omitempty"`

	// Readiness bounds the wait for this unit to become healthy.
	Readiness ReadinessPolicy `json:"readiness"`

	// Provision lists first-run tasks executed after the unit reaches
	// Healthy, each at most once per logical resource key.
	Provision []ProvisionTask `json:"provision,omitempty"`
}

// ReadinessPolicy configures how the prober decides a unit's fate.
// A zero value is usable: WithDefaults fills in the standard bounds.
type ReadinessPolicy struct {
	// Interval is the base delay between observations. The actual delay
	// grows gently with each attempt, capped at a small multiple of the
	// base.
	Interval time.Duration `json:"interval,omitempty"`

	// MaxAttempts bounds the number of observations. Zero means the bound
	// comes from MaxDuration alone.
	MaxAttempts int `json:"max_attempts,omitempty"`

	// MaxDuration bounds the total probing time. Zero means the bound
	// comes from MaxAttempts alone; if both are zero, WithDefaults applies
	// a duration bound so no wait is unbounded. If both are set, whichever
	// trips first ends probing.
	MaxDuration time.Duration `json:"max_duration,omitempty"`

	// StableIterations is how many consecutive "running" observations
	// substitute for healthy when the backend exposes no health signal.
	// Guards against units that start and immediately crash-loop.
	StableIterations int `json:"stable_iterations,omitempty"`
}

// Defaults applied by WithDefaults. The 2s/30-attempt pair mirrors the
// bring-up waits the stack's services need in practice.
const (
	DefaultProbeInterval    = 2 * time.Second
	DefaultMaxAttempts      = 30
	DefaultStableIterations = 3
)

// WithDefaults returns a copy with zero fields replaced by defaults.
func (p ReadinessPolicy) WithDefaults() ReadinessPolicy {
	if p.Interval <= 0 {
		p.Interval = DefaultProbeInterval
	}
	if p.MaxAttempts <= 0 && p.MaxDuration <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.StableIterations <= 0 {
		p.StableIterations = DefaultStableIterations
	}
	return p
}

// Validate checks the policy for values the prober cannot honor.
func (p ReadinessPolicy) Validate() error {
	if p.Interval < 0 {
		return fmt.Errorf("interval must not be negative")
	}
	if p.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must not be negative")
	}
	if p.MaxDuration < 0 {
		return fmt.Errorf("max_duration must not be negative")
	}
	if p.StableIterations < 0 {
		return fmt.Errorf("stable_iterations must not be negative")
	}
	return nil
}

// ProvisionTask is a one-time side effect bound to a unit, such as creating
// a database or bucket on first run.
type ProvisionTask struct {
	// Key is the logical resource key, scheme-prefixed so a provisioner
	// registry can dispatch it (for example "db:authelia",
	// "bucket:paperless", "vector:documents"). The engine guarantees the
	// create action behind a key runs at most once per run; the existence
	// check guarantees at-most-once across runs.
	Key string `json:"key"`

	// Params carries provisioner-specific settings (owner role, region,
	// vector size). Opaque to the engine.
	Params map[string]string `json:"params,omitempty"`
}

// Observation is the backend's answer to an inspect call.
type Observation struct {
	// State is the observed lifecycle state.
	State ObservedState `json:"state"`

	// Detail optionally carries backend-specific context for causes, such
	// as an exit code or the last health check log line.
	Detail string `json:"detail,omitempty"`
}

// QuarantineRecord documents one renamed-aside foreign resource. The
// resource is preserved under QuarantinedAs for manual inspection or later
// reaping; nothing is ever deleted.
type QuarantineRecord struct {
	// Unit is the unit whose name was occupied.
	Unit string `json:"unit"`

	// QuarantinedAs is the name the foreign resource now carries.
	QuarantinedAs string `json:"quarantined_as"`

	// WasActive records whether the resource had to be stopped first.
	WasActive bool `json:"was_active"`

	// At is when the rename happened.
	At time.Time `json:"at"`
}

// ProvisionRecord documents the outcome of one provisioning task.
type ProvisionRecord struct {
	// Key is the task's logical resource key.
	Key string `json:"key"`

	// Outcome is what happened to the task.
	Outcome ProvisionOutcome `json:"outcome"`

	// Err carries the failure when Outcome is ProvisionFailed.
	Err *EngineError `json:"error,omitempty"`

	// Duration is how long the ensure call took.
	Duration time.Duration `json:"duration"`
}

// UnitResult is the per-unit entry of a RunReport. During a run, each entry
// is written only by the goroutine executing its unit; once the state is
// terminal the entry is write-once and safe to read.
type UnitResult struct {
	// Name is the unit name.
	Name string `json:"name"`

	// State is the unit's current (finally: terminal) state.
	State UnitState `json:"state"`

	// Err is the cause for any terminal state other than Healthy.
	Err *EngineError `json:"error,omitempty"`

	// Attempts is how many readiness observations were made.
	Attempts int `json:"attempts,omitempty"`

	// StartedAt is when the backend start call was issued; zero for units
	// that never left Pending.
	StartedAt time.Time `json:"started_at,omitzero"`

	// ReadyAt is when the unit reached Healthy; zero otherwise.
	ReadyAt time.Time `json:"ready_at,omitzero"`

	// CompletedAt is when the unit reached its terminal state.
	CompletedAt time.Time `json:"completed_at,omitzero"`

	// Quarantine is set when a foreign resource was renamed aside before
	// this unit started.
	Quarantine *QuarantineRecord `json:"quarantine,omitempty"`

	// Provisions records the unit's provisioning task outcomes in task
	// order.
	Provisions []ProvisionRecord `json:"provisions,omitempty"`
}

// RunReport is the aggregate outcome of one orchestration run. It is
// append-only while the run executes and immutable after Run returns.
type RunReport struct {
	// RunID uniquely identifies the run.
	RunID string `json:"run_id"`

	// Verdict summarizes the run.
	Verdict RunVerdict `json:"verdict"`

	// Units maps unit name to its terminal result. Every declared unit has
	// an entry.
	Units map[string]*UnitResult `json:"units"`

	// Quarantines aggregates all quarantine records from the run.
	Quarantines []QuarantineRecord `json:"quarantines,omitempty"`

	// StartedAt and CompletedAt bound the run.
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`

	// Duration is CompletedAt minus StartedAt.
	Duration time.Duration `json:"duration"`

	// Counts per terminal state.
	Healthy   int `json:"healthy"`
	Unhealthy int `json:"unhealthy"`
	Failed    int `json:"failed"`
	Blocked   int `json:"blocked"`

	// ProvisionFailures counts failed provisioning tasks across all units.
	// Provisioning failures never change a unit's state, so they are
	// surfaced here for callers that want to warn about them.
	ProvisionFailures int `json:"provision_failures,omitempty"`
}

// AllHealthy reports whether every declared unit reached Healthy. The CLI
// exit-code convention is 0 exactly when this returns true.
func (r *RunReport) AllHealthy() bool {
	return r.Verdict == VerdictConverged
}

// UnitsInState returns the names of units in the given state, in no
// particular order.
func (r *RunReport) UnitsInState(state UnitState) []string {
	var names []string
	for name, res := range r.Units {
		if res.State == state {
			names = append(names, name)
		}
	}
	return names
}

// Options tunes one orchestration run.
type Options struct {
	// Deadline bounds the whole run. Zero means only the caller's context
	// bounds it. On expiry, still-Starting/Probing units become Unhealthy
	// with a deadline cause and still-Pending units are Blocked.
	Deadline time.Duration

	// MaxParallel caps concurrent units within a batch. Zero or negative
	// selects the default of 10 workers; batches smaller than the cap use
	// one worker per unit.
	MaxParallel int

	// SkipProvision skips all provisioning tasks, recording them as
	// skipped rather than silently omitting them from the report.
	SkipProvision bool
}

// DownOptions tunes a teardown pass.
type DownOptions struct {
	// MaxParallel caps concurrent stops within a reverse batch.
	MaxParallel int

	// Remove also removes stopped resources. Only resources owned by this
	// orchestrator are ever removed; foreign and quarantined resources are
	// left alone.
	Remove bool
}

// TeardownAction says what Down did with one unit.
type TeardownAction string

const (
	// TeardownStopped indicates the unit was stopped.
	TeardownStopped TeardownAction = "stopped"

	// TeardownRemoved indicates the unit was stopped and removed.
	TeardownRemoved TeardownAction = "removed"

	// TeardownAbsent indicates no resource with the unit's name existed.
	TeardownAbsent TeardownAction = "absent"

	// TeardownSkippedForeign indicates the resource exists but is not
	// owned by this orchestrator, so it was left alone.
	TeardownSkippedForeign TeardownAction = "skipped_foreign"

	// TeardownFailed indicates the stop or remove call failed.
	TeardownFailed TeardownAction = "failed"
)

// TeardownResult is the per-unit entry of a TeardownReport.
type TeardownResult struct {
	// Name is the unit name.
	Name string `json:"name"`

	// Action is what happened.
	Action TeardownAction `json:"action"`

	// Err carries the failure when Action is TeardownFailed.
	Err *EngineError `json:"error,omitempty"`
}

// TeardownReport is the aggregate outcome of one Down pass. Units are
// processed in reverse dependency order, dependents before dependencies.
type TeardownReport struct {
	// Units maps unit name to its teardown result.
	Units map[string]*TeardownResult `json:"units"`

	// StartedAt and CompletedAt bound the pass.
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`

	// Failed counts units whose stop or remove call failed.
	Failed int `json:"failed"`
}

// Event is one entry on the run timeline, published to the configured
// EventSink as it happens.
type Event struct {
	// RunID is the run the event belongs to.
	RunID string `json:"run_id"`

	// Unit is the unit the event concerns; empty for run-level events.
	Unit string `json:"unit,omitempty"`

	// Type identifies the event.
	Type EventType `json:"type"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// At is when the event happened.
	At time.Time `json:"at"`
}
