// Package provision implements the engine's provisioning collaborators:
// existence-checked creation of databases, object storage buckets, and
// vector collections, dispatched by the task key's scheme.
package provision

import (
	"context"
	"fmt"
	"strings"

	"github.com/homestack/homestack/pkg/engine"
)

// Schemes the built-in provisioners register under.
const (
	SchemeDatabase = "db"
	SchemeBucket   = "bucket"
	SchemeVector   = "vector"
)

// Registry routes provisioning tasks to scheme-specific provisioners. It
// implements the engine's Provisioner interface. Register everything
// before the run starts; registration is not safe concurrently with use.
type Registry struct {
	provisioners map[string]engine.Provisioner
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{provisioners: make(map[string]engine.Provisioner)}
}

// Register binds a key scheme to its provisioner.
func (r *Registry) Register(scheme string, p engine.Provisioner) {
	r.provisioners[scheme] = p
}

// Exists delegates the existence check to the scheme's provisioner.
func (r *Registry) Exists(ctx context.Context, task engine.ProvisionTask) (bool, error) {
	p, err := r.lookup(task.Key)
	if err != nil {
		return false, err
	}
	return p.Exists(ctx, task)
}

// Create delegates creation to the scheme's provisioner.
func (r *Registry) Create(ctx context.Context, task engine.ProvisionTask) error {
	p, err := r.lookup(task.Key)
	if err != nil {
		return err
	}
	return p.Create(ctx, task)
}

func (r *Registry) lookup(key string) (engine.Provisioner, error) {
	scheme, _, err := ParseKey(key)
	if err != nil {
		return nil, err
	}
	p, ok := r.provisioners[scheme]
	if !ok {
		return nil, fmt.Errorf("no provisioner registered for scheme %q", scheme)
	}
	return p, nil
}

// ParseKey splits a task key like "db:authelia" into its scheme and
// resource name.
func ParseKey(key string) (scheme, name string, err error) {
	scheme, name, found := strings.Cut(key, ":")
	if !found || scheme == "" || name == "" {
		return "", "", fmt.Errorf("malformed provisioning key %q, want scheme:name", key)
	}
	return scheme, name, nil
}
