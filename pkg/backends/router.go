// Package backends routes engine lifecycle calls to the runtime each
// unit runs on. The concrete runtimes live in the docker and hostsvc
// subpackages; the router lets one run mix them.
package backends

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/homestack/homestack/pkg/engine"
)

// Router dispatches backend calls by unit name. It implements the
// engine's Backend interface. Bind every unit before the run starts;
// binding is not safe concurrently with use.
type Router struct {
	byUnit map[string]engine.Backend
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{byUnit: make(map[string]engine.Backend)}
}

// Bind routes the named unit's calls to the given backend.
func (r *Router) Bind(unit string, backend engine.Backend) {
	r.byUnit[unit] = backend
}

// EnsureRunning starts the unit on its bound backend.
func (r *Router) EnsureRunning(ctx context.Context, name string, start json.RawMessage) error {
	b, err := r.lookup(name)
	if err != nil {
		return err
	}
	return b.EnsureRunning(ctx, name, start)
}

// Inspect reports the unit's state from its bound backend.
func (r *Router) Inspect(ctx context.Context, name string) (engine.Observation, error) {
	b, err := r.lookup(name)
	if err != nil {
		return engine.Observation{}, err
	}
	return b.Inspect(ctx, name)
}

// Stop stops the unit on its bound backend.
func (r *Router) Stop(ctx context.Context, name string) error {
	b, err := r.lookup(name)
	if err != nil {
		return err
	}
	return b.Stop(ctx, name)
}

// Rename dispatches on the old name: quarantine renames a conflicting
// resource within the unit's own backend, so the aside name needs no
// binding of its own.
func (r *Router) Rename(ctx context.Context, oldName, newName string) error {
	b, err := r.lookup(oldName)
	if err != nil {
		return err
	}
	return b.Rename(ctx, oldName, newName)
}

// Owned reports whether the unit's resource carries the ownership tag.
func (r *Router) Owned(ctx context.Context, name string) (bool, error) {
	b, err := r.lookup(name)
	if err != nil {
		return false, err
	}
	return b.Owned(ctx, name)
}

// Remove deletes the unit's stopped resource on its bound backend.
func (r *Router) Remove(ctx context.Context, name string) error {
	b, err := r.lookup(name)
	if err != nil {
		return err
	}
	return b.Remove(ctx, name)
}

func (r *Router) lookup(unit string) (engine.Backend, error) {
	b, ok := r.byUnit[unit]
	if !ok {
		return nil, fmt.Errorf("no backend bound for unit %q", unit)
	}
	return b, nil
}
