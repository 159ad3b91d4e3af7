package engine

import (
	"context"
	"fmt"
	"time"
)

// ConflictResolver clears a unit's name in the backend before startup. A
// same-named resource owned by this orchestrator is left untouched (the
// backend's idempotent ensure-running absorbs it); a foreign resource is
// stopped and renamed aside so startup is never blocked by stale state.
// Quarantine preserves the foreign resource for inspection or later
// reaping; the resolver never deletes anything.
type ConflictResolver struct {
	backend Backend
}

// NewConflictResolver creates a resolver over the given backend.
func NewConflictResolver(backend Backend) *ConflictResolver {
	return &ConflictResolver{backend: backend}
}

// ConflictResolution is the outcome of clearing one unit's name.
type ConflictResolution struct {
	// Outcome says whether the name was already clear or a foreign
	// resource had to be quarantined.
	Outcome ConflictOutcome

	// Quarantine is the rename record when Outcome is ConflictQuarantined.
	Quarantine *QuarantineRecord
}

// quarantineAttempts bounds the search for a free quarantine name. Two
// quarantines of the same unit within one second need the counter suffix.
const quarantineAttempts = 5

// Resolve checks the unit's name against the backend and quarantines a
// foreign occupant. Errors mean the name could not be cleared safely; the
// engine marks the unit Failed for this run rather than retrying.
func (r *ConflictResolver) Resolve(ctx context.Context, name string) (ConflictResolution, error) {
	obs, err := r.backend.Inspect(ctx, name)
	if err != nil {
		return ConflictResolution{}, NewConflictResolutionError(
			"cannot inspect occupant", err).
			WithUnit(name).
			WithOperation("inspect").
			WithCode(ErrCodeQuarantine)
	}
	if obs.State == ObservedAbsent {
		return ConflictResolution{Outcome: ConflictClear}, nil
	}

	owned, err := r.backend.Owned(ctx, name)
	if err != nil {
		return ConflictResolution{}, NewConflictResolutionError(
			"cannot determine occupant ownership", err).
			WithUnit(name).
			WithOperation("owned").
			WithCode(ErrCodeQuarantine)
	}
	if owned {
		return ConflictResolution{Outcome: ConflictClear}, nil
	}

	wasActive := obs.State.IsActive()
	if wasActive {
		if err := r.backend.Stop(ctx, name); err != nil {
			return ConflictResolution{}, NewConflictResolutionError(
				"cannot stop foreign occupant", err).
				WithUnit(name).
				WithOperation("stop").
				WithCode(ErrCodeQuarantine)
		}
	}

	now := time.Now()
	newName, err := r.freeQuarantineName(ctx, name, now)
	if err != nil {
		return ConflictResolution{}, err
	}
	if err := r.backend.Rename(ctx, name, newName); err != nil {
		return ConflictResolution{}, NewConflictResolutionError(
			"cannot rename foreign occupant", err).
			WithUnit(name).
			WithOperation("rename").
			WithCode(ErrCodeQuarantine).
			WithDetail("quarantine_name", newName)
	}

	return ConflictResolution{
		Outcome: ConflictQuarantined,
		Quarantine: &QuarantineRecord{
			Unit:          name,
			QuarantinedAs: newName,
			WasActive:     wasActive,
			At:            now,
		},
	}, nil
}

// freeQuarantineName picks `<name>-old-<unix>` and verifies the target name
// is unoccupied before the rename, appending a counter when it is not.
func (r *ConflictResolver) freeQuarantineName(ctx context.Context, name string, now time.Time) (string, error) {
	for attempt := 0; attempt < quarantineAttempts; attempt++ {
		candidate := fmt.Sprintf("%s-old-%d", name, now.Unix())
		if attempt > 0 {
			candidate = fmt.Sprintf("%s-%d", candidate, attempt+1)
		}
		obs, err := r.backend.Inspect(ctx, candidate)
		if err != nil {
			return "", NewConflictResolutionError(
				"cannot verify quarantine name", err).
				WithUnit(name).
				WithOperation("inspect").
				WithCode(ErrCodeQuarantine).
				WithDetail("quarantine_name", candidate)
		}
		if obs.State == ObservedAbsent {
			return candidate, nil
		}
	}
	return "", NewConflictResolutionError(
		fmt.Sprintf("no free quarantine name after %d attempts", quarantineAttempts), nil).
		WithUnit(name).
		WithCode(ErrCodeQuarantine)
}
