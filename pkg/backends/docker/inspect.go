package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/homestack/homestack/pkg/engine"
)

// containerState is the slice of docker inspect output the backend
// reads. Health is nil for images without a HEALTHCHECK.
type containerState struct {
	Status   string `json:"Status"`
	ExitCode int    `json:"ExitCode"`
	Health   *struct {
		Status string `json:"Status"`
	} `json:"Health"`
}

// Inspect reports the named container's observed state. A container the
// CLI does not know about is absent, not an error.
func (b *Backend) Inspect(ctx context.Context, name string) (engine.Observation, error) {
	stdout, stderr, err := b.runner.run(ctx, "inspect", "--format", "{{json .State}}", name)
	if err != nil {
		if isNotFound(stderr) {
			return engine.Observation{State: engine.ObservedAbsent}, nil
		}
		return engine.Observation{}, fmt.Errorf("docker inspect %s: %w: %s", name, err, stderr)
	}

	var state containerState
	if err := json.Unmarshal([]byte(stdout), &state); err != nil {
		return engine.Observation{}, fmt.Errorf("parse docker inspect output for %s: %w", name, err)
	}
	return observe(state), nil
}

// observe maps a container state onto the engine's observed states. The
// health check verdict wins over the bare running status when the image
// defines one.
func observe(state containerState) engine.Observation {
	switch strings.ToLower(state.Status) {
	case "created", "restarting":
		return engine.Observation{State: engine.ObservedStarting, Detail: state.Status}

	case "running":
		if state.Health != nil {
			switch strings.ToLower(state.Health.Status) {
			case "starting":
				return engine.Observation{State: engine.ObservedStarting, Detail: "health check starting"}
			case "healthy":
				return engine.Observation{State: engine.ObservedHealthy}
			case "unhealthy":
				return engine.Observation{State: engine.ObservedUnhealthy, Detail: "health check failing"}
			}
		}
		return engine.Observation{State: engine.ObservedRunning}

	case "paused":
		return engine.Observation{State: engine.ObservedUnhealthy, Detail: "paused"}

	case "exited", "dead", "removing":
		return engine.Observation{
			State:  engine.ObservedFailed,
			Detail: fmt.Sprintf("%s with exit code %d", state.Status, state.ExitCode),
		}

	default:
		return engine.Observation{
			State:  engine.ObservedFailed,
			Detail: "unknown container status: " + state.Status,
		}
	}
}

// isNotFound recognizes the CLI's message for a missing container. The
// wording differs across docker and podman versions, so match loosely.
func isNotFound(stderr string) bool {
	lower := strings.ToLower(stderr)
	return strings.Contains(lower, "no such object") ||
		strings.Contains(lower, "no such container") ||
		strings.Contains(lower, "not found")
}
