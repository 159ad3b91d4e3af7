package engine

import (
	"context"
	"encoding/json"
)

// Backend is the resource lifecycle adapter the engine drives. A backend
// manages named resources (containers, host services); the engine never
// looks inside a start descriptor and never deletes through this interface
// except via the explicit, teardown-only Remove.
//
// Implementations must be safe for concurrent use: units within a batch
// call into the backend in parallel.
type Backend interface {
	// EnsureRunning starts the named resource with the given descriptor,
	// or confirms an already-running owned resource. Idempotent.
	EnsureRunning(ctx context.Context, name string, start json.RawMessage) error

	// Inspect reports the resource's observed state. Read-only; the prober
	// calls it repeatedly and concurrently.
	Inspect(ctx context.Context, name string) (Observation, error)

	// Stop stops the named resource. Stopping an already-stopped resource
	// is not an error.
	Stop(ctx context.Context, name string) error

	// Rename renames a resource. Used only by conflict quarantine, which
	// preserves foreign resources instead of deleting them.
	Rename(ctx context.Context, oldName, newName string) error

	// Owned reports whether the named resource carries this orchestrator's
	// ownership tag. Resources started by EnsureRunning are always tagged.
	Owned(ctx context.Context, name string) (bool, error)

	// Remove deletes a stopped resource. Called only from teardown with
	// the remove option, and only for owned resources. Never called during
	// bring-up or conflict resolution.
	Remove(ctx context.Context, name string) error
}

// Provisioner is the existence-check collaborator behind the Gate. One
// implementation typically dispatches on the task key's scheme to a
// resource-specific provisioner (database, bucket, collection).
type Provisioner interface {
	// Exists reports whether the logical resource behind the task key is
	// already present.
	Exists(ctx context.Context, task ProvisionTask) (bool, error)

	// Create creates the resource. Create is only called after Exists
	// returned false; the Gate re-verifies existence afterwards.
	Create(ctx context.Context, task ProvisionTask) error
}

// EventSink receives run timeline events as they happen. Publish must not
// block for long: it is called from unit goroutines. A nil sink on the
// engine disables publishing.
type EventSink interface {
	Publish(ctx context.Context, ev Event)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(ctx context.Context, ev Event)

// Publish implements EventSink.
func (f EventSinkFunc) Publish(ctx context.Context, ev Event) { f(ctx, ev) }
