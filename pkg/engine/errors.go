package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an engine error by what failed, which in turn
// determines the terminal state of the affected unit.
type ErrorKind string

const (
	// KindConfiguration indicates an invalid declaration: a dependency
	// cycle, an unknown dependency, a duplicate name, a bad readiness
	// policy. Detected before any side effect; aborts the whole run.
	KindConfiguration ErrorKind = "configuration"

	// KindConflictResolution indicates a foreign same-named resource could
	// not be quarantined. The unit is marked Failed; siblings continue.
	KindConflictResolution ErrorKind = "conflict_resolution"

	// KindBackendStart indicates a backend lifecycle call failed: an
	// ensure-running call during bring-up, or a stop or remove during
	// teardown. The bring-up unit is marked Failed.
	KindBackendStart ErrorKind = "backend_start"

	// KindReadinessTimeout indicates readiness polling exhausted its bound,
	// or the run's deadline expired while the unit was still starting or
	// probing. The unit is marked Unhealthy, deliberately distinct from
	// Failed: it may still converge on its own.
	KindReadinessTimeout ErrorKind = "readiness_timeout"

	// KindBackendCrash indicates the backend reported the unit crashed or
	// exited during probing. The unit is marked Failed.
	KindBackendCrash ErrorKind = "backend_crash"

	// KindProvisioning indicates a first-run provisioning task failed after
	// its existence re-check. Surfaced per task in the report; does not
	// retroactively change the owning unit's state.
	KindProvisioning ErrorKind = "provisioning"

	// KindDependencyBlocked records why a unit never left Pending: a
	// dependency did not reach Healthy. A consequence of another unit's
	// failure, not an independent one.
	KindDependencyBlocked ErrorKind = "dependency_blocked"
)

// EngineError is a classified error with unit and operation context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Unit is the unit name the error belongs to, if any.
	Unit string `json:"unit,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error, if any.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Unit != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (unit=%s, operation=%s)%s",
			e.Kind, e.Message, e.Unit, e.Operation, e.unwrapSuffix())
	}
	if e.Unit != "" {
		return fmt.Sprintf("[%s] %s (unit=%s)%s", e.Kind, e.Message, e.Unit, e.unwrapSuffix())
	}
	return fmt.Sprintf("[%s] %s%s", e.Kind, e.Message, e.unwrapSuffix())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) unwrapSuffix() string {
	if e.Err != nil {
		return ": " + e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// NewConfigurationError creates an error for an invalid declaration.
func NewConfigurationError(message string, err error) *EngineError {
	return &EngineError{Kind: KindConfiguration, Message: message, Err: err}
}

// NewConflictResolutionError creates an error for a failed quarantine.
func NewConflictResolutionError(message string, err error) *EngineError {
	return &EngineError{Kind: KindConflictResolution, Message: message, Err: err}
}

// NewBackendStartError creates an error for a failed ensure-running call.
func NewBackendStartError(message string, err error) *EngineError {
	return &EngineError{Kind: KindBackendStart, Message: message, Err: err}
}

// NewReadinessTimeoutError creates an error for exhausted readiness polling.
func NewReadinessTimeoutError(message string, err error) *EngineError {
	return &EngineError{Kind: KindReadinessTimeout, Message: message, Err: err}
}

// NewBackendCrashError creates an error for a backend-reported crash.
func NewBackendCrashError(message string, err error) *EngineError {
	return &EngineError{Kind: KindBackendCrash, Message: message, Err: err}
}

// NewProvisioningError creates an error for a failed provisioning task.
func NewProvisioningError(message string, err error) *EngineError {
	return &EngineError{Kind: KindProvisioning, Message: message, Err: err}
}

// NewDependencyBlockedError creates an error recording why a unit was
// never started.
func NewDependencyBlockedError(message string, err error) *EngineError {
	return &EngineError{Kind: KindDependencyBlocked, Message: message, Err: err}
}

// WithUnit adds unit context to an error.
func (e *EngineError) WithUnit(name string) *EngineError {
	e.Unit = name
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsConfiguration returns true if the error is a declaration problem.
func IsConfiguration(err error) bool {
	return hasKind(err, KindConfiguration)
}

// IsConflictResolution returns true if the error is a failed quarantine.
func IsConflictResolution(err error) bool {
	return hasKind(err, KindConflictResolution)
}

// IsBackendStart returns true if the error is a failed start call.
func IsBackendStart(err error) bool {
	return hasKind(err, KindBackendStart)
}

// IsReadinessTimeout returns true if the error is an exhausted probe bound.
func IsReadinessTimeout(err error) bool {
	return hasKind(err, KindReadinessTimeout)
}

// IsBackendCrash returns true if the error is a backend-reported crash.
func IsBackendCrash(err error) bool {
	return hasKind(err, KindBackendCrash)
}

// IsProvisioning returns true if the error is a failed provisioning task.
func IsProvisioning(err error) bool {
	return hasKind(err, KindProvisioning)
}

// IsDependencyBlocked returns true if the error records a never-started unit.
func IsDependencyBlocked(err error) bool {
	return hasKind(err, KindDependencyBlocked)
}

func hasKind(err error, kind ErrorKind) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// FailureState maps an error kind to the terminal state it imposes on a
// unit. KindReadinessTimeout is the only kind that yields Unhealthy.
func (k ErrorKind) FailureState() UnitState {
	switch k {
	case KindReadinessTimeout:
		return UnitUnhealthy
	case KindDependencyBlocked:
		return UnitBlocked
	default:
		return UnitFailed
	}
}

// Common error codes.
const (
	ErrCodeEmptyName         = "EMPTY_UNIT_NAME"
	ErrCodeDuplicateUnit     = "DUPLICATE_UNIT"
	ErrCodeUnknownDependency = "UNKNOWN_DEPENDENCY"
	ErrCodeCycle             = "DEPENDENCY_CYCLE"
	ErrCodeInvalidPolicy     = "INVALID_READINESS_POLICY"
	ErrCodeQuarantine        = "QUARANTINE_FAILED"
	ErrCodeStartFailed       = "START_FAILED"
	ErrCodeProbeTimeout      = "PROBE_TIMEOUT"
	ErrCodeRunDeadline       = "RUN_DEADLINE"
	ErrCodeUnitCrashed       = "UNIT_CRASHED"
	ErrCodeDependencyFailed  = "DEPENDENCY_FAILED"
	ErrCodeProvisionFailed   = "PROVISION_FAILED"
	ErrCodeProvisionNoVerify = "PROVISION_UNVERIFIED"
	ErrCodeNoProvisioner     = "NO_PROVISIONER"
)
