package hostsvc

import (
	"context"
	"fmt"
	"strings"

	"github.com/homestack/homestack/pkg/engine"
)

const showProperties = "LoadState,ActiveState,SubState,Result,ExecMainStatus"

// Inspect reports the unit's observed state from systemd's view. A unit
// systemd has no file for is absent, not an error.
func (b *Backend) Inspect(ctx context.Context, name string) (engine.Observation, error) {
	unit := unitName(name)
	cmd := "systemctl show " + unit + " --property=" + showProperties
	stdout, stderr, err := b.transport.ExecuteCommand(ctx, cmd)
	if err != nil {
		return engine.Observation{}, fmt.Errorf("systemctl show %s: %w: %s", unit, err, stderr)
	}
	return observe(parseProperties(stdout)), nil
}

// parseProperties reads systemctl show KEY=VALUE output.
func parseProperties(out string) map[string]string {
	props := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		if key, value, found := strings.Cut(strings.TrimSpace(line), "="); found {
			props[key] = value
		}
	}
	return props
}

// observe maps systemd unit properties onto the engine's observed
// states. systemd has no native health checks, so a running service
// never reports healthy from here; the prober's stability window
// handles the promotion.
func observe(props map[string]string) engine.Observation {
	switch props["LoadState"] {
	case "not-found":
		return engine.Observation{State: engine.ObservedAbsent}
	case "masked":
		return engine.Observation{State: engine.ObservedFailed, Detail: "unit file masked"}
	}

	sub := props["SubState"]
	switch props["ActiveState"] {
	case "active", "reloading":
		return engine.Observation{State: engine.ObservedRunning, Detail: sub}
	case "activating":
		return engine.Observation{State: engine.ObservedStarting, Detail: sub}
	case "deactivating":
		return engine.Observation{State: engine.ObservedUnhealthy, Detail: "deactivating"}
	case "failed":
		detail := props["Result"]
		if code := props["ExecMainStatus"]; code != "" && code != "0" {
			detail = fmt.Sprintf("%s, exit status %s", detail, code)
		}
		return engine.Observation{State: engine.ObservedFailed, Detail: detail}
	case "inactive":
		return engine.Observation{State: engine.ObservedFailed, Detail: "inactive"}
	default:
		return engine.Observation{
			State:  engine.ObservedFailed,
			Detail: "unknown active state: " + props["ActiveState"],
		}
	}
}
