// Package docker adapts the engine's resource lifecycle to containers
// driven through the Docker CLI. Containers created here carry an
// ownership label so later runs can tell homestack-managed containers
// apart from foreign ones occupying a unit's name.
package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/homestack/homestack/pkg/engine"
)

const (
	// ManagedLabel marks containers created by homestack. Ownership
	// checks read this label, never the container name alone.
	ManagedLabel = "homestack.managed"

	managedLabelValue = "true"
)

// Options configures the docker backend.
type Options struct {
	// Binary is the CLI to invoke. Defaults to "docker" resolved on
	// PATH; podman's docker-compatible CLI works as well.
	Binary string

	// Context selects a docker CLI context, typically one pointing at a
	// remote engine over ssh. Empty uses the CLI's active context.
	Context string

	// StopTimeout is how long docker waits for a container to exit on
	// stop before killing it. Zero keeps the CLI default.
	StopTimeout time.Duration
}

// Backend drives containers through the Docker CLI. Safe for concurrent
// use: every call runs an independent CLI process.
type Backend struct {
	runner      runner
	stopTimeout time.Duration
}

// New creates a docker backend, verifying the CLI binary is on PATH.
func New(opts Options) (*Backend, error) {
	binary := strings.TrimSpace(opts.Binary)
	if binary == "" {
		binary = "docker"
	}
	if _, err := exec.LookPath(binary); err != nil {
		return nil, fmt.Errorf("docker binary not found: %w", err)
	}
	return &Backend{
		runner:      &execRunner{binary: binary, context: opts.Context},
		stopTimeout: opts.StopTimeout,
	}, nil
}

// EnsureRunning starts the named container from its start descriptor.
// An absent container is created, an owned stopped one is restarted, and
// an owned active one is left alone.
func (b *Backend) EnsureRunning(ctx context.Context, name string, start json.RawMessage) error {
	var spec StartSpec
	if err := json.Unmarshal(start, &spec); err != nil {
		return fmt.Errorf("decode start descriptor for %s: %w", name, err)
	}
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("start descriptor for %s: %w", name, err)
	}

	obs, err := b.Inspect(ctx, name)
	if err != nil {
		return err
	}
	if obs.State == engine.ObservedAbsent {
		return b.create(ctx, name, &spec)
	}

	// Anything present at this point should already be ours: conflicts
	// are quarantined before units start. A foreign container can still
	// appear in the window between those steps.
	owned, err := b.Owned(ctx, name)
	if err != nil {
		return err
	}
	if !owned {
		return fmt.Errorf("container %s exists but is not managed by homestack", name)
	}

	if obs.State.IsActive() {
		log.Debug().
			Str("container", name).
			Str("state", string(obs.State)).
			Msg("container already active")
		return nil
	}
	return b.start(ctx, name)
}

// create runs a new container. The run is detached; waiting for
// readiness is the prober's job, not the backend's.
func (b *Backend) create(ctx context.Context, name string, spec *StartSpec) error {
	_, stderr, err := b.runner.run(ctx, spec.runArgs(name)...)
	if err != nil {
		return fmt.Errorf("docker run %s: %w: %s", name, err, stderr)
	}

	// docker run accepts a single --network; any further networks are
	// attached afterwards.
	if len(spec.Networks) > 1 {
		for _, network := range spec.Networks[1:] {
			if _, stderr, err := b.runner.run(ctx, "network", "connect", network, name); err != nil {
				return fmt.Errorf("docker network connect %s %s: %w: %s", network, name, err, stderr)
			}
		}
	}

	log.Info().
		Str("container", name).
		Str("image", spec.Image).
		Msg("container created")
	return nil
}

func (b *Backend) start(ctx context.Context, name string) error {
	if _, stderr, err := b.runner.run(ctx, "start", name); err != nil {
		return fmt.Errorf("docker start %s: %w: %s", name, err, stderr)
	}
	log.Info().Str("container", name).Msg("stopped container restarted")
	return nil
}

// Stop stops the named container. A missing container is not an error,
// and stopping an already-stopped container is a no-op on the CLI side.
func (b *Backend) Stop(ctx context.Context, name string) error {
	args := []string{"stop"}
	if b.stopTimeout > 0 {
		args = append(args, "--timeout", strconv.Itoa(int(b.stopTimeout.Seconds())))
	}
	args = append(args, name)

	if _, stderr, err := b.runner.run(ctx, args...); err != nil {
		if isNotFound(stderr) {
			return nil
		}
		return fmt.Errorf("docker stop %s: %w: %s", name, err, stderr)
	}
	return nil
}

// Rename renames a container. Conflict quarantine uses this to move a
// foreign name-holder aside instead of deleting it.
func (b *Backend) Rename(ctx context.Context, oldName, newName string) error {
	if _, stderr, err := b.runner.run(ctx, "rename", oldName, newName); err != nil {
		return fmt.Errorf("docker rename %s %s: %w: %s", oldName, newName, err, stderr)
	}
	log.Info().
		Str("container", oldName).
		Str("renamed_to", newName).
		Msg("container renamed")
	return nil
}

// Owned reports whether the named container carries the homestack
// ownership label. A missing container is simply not owned.
func (b *Backend) Owned(ctx context.Context, name string) (bool, error) {
	format := fmt.Sprintf("{{index .Config.Labels %q}}", ManagedLabel)
	stdout, stderr, err := b.runner.run(ctx, "inspect", "--format", format, name)
	if err != nil {
		if isNotFound(stderr) {
			return false, nil
		}
		return false, fmt.Errorf("docker inspect %s: %w: %s", name, err, stderr)
	}
	return stdout == managedLabelValue, nil
}

// Remove deletes a stopped container. Only teardown calls this, and only
// for owned containers; a container that is already gone is not an error.
func (b *Backend) Remove(ctx context.Context, name string) error {
	if _, stderr, err := b.runner.run(ctx, "rm", name); err != nil {
		if isNotFound(stderr) {
			return nil
		}
		return fmt.Errorf("docker rm %s: %w: %s", name, err, stderr)
	}
	log.Info().Str("container", name).Msg("container removed")
	return nil
}
