package hostsvc

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/homestack/homestack/pkg/transports/ssh"
)

// StartSpec is the host service start descriptor a unit carries in its
// manifest. The engine hands it to the backend opaquely; only this
// package reads it.
type StartSpec struct {
	// Package is an OS package to install before the service starts.
	Package string `json:"package,omitempty"`

	// UnitFile is the full systemd unit file content to install under
	// /etc/systemd/system. Empty relies on a unit the package provides.
	UnitFile string `json:"unit_file,omitempty"`
}

// EnsureRunning installs the service's package and unit file as needed,
// then enables and starts the unit. A service whose unit file changed
// while it was running is restarted so the change takes effect.
func (b *Backend) EnsureRunning(ctx context.Context, name string, start json.RawMessage) error {
	var spec StartSpec
	if err := json.Unmarshal(start, &spec); err != nil {
		return fmt.Errorf("decode start descriptor for %s: %w", name, err)
	}

	if spec.Package != "" {
		if err := b.ensurePackage(ctx, spec.Package); err != nil {
			return err
		}
	}

	var changed bool
	var err error
	if spec.UnitFile != "" {
		changed, err = b.installUnitFile(ctx, name, spec.UnitFile)
	} else {
		changed, err = b.ensureDropInMarker(ctx, name)
	}
	if err != nil {
		return err
	}

	if changed {
		if _, stderr, err := b.sudo(ctx, "systemctl daemon-reload"); err != nil {
			return fmt.Errorf("daemon-reload for %s: %w: %s", name, err, stderr)
		}
	}

	unit := unitName(name)
	obs, err := b.Inspect(ctx, name)
	if err != nil {
		return err
	}
	if obs.State.IsActive() && !changed {
		log.Debug().Str("unit", unit).Str("state", string(obs.State)).Msg("service already active")
		return nil
	}

	if _, stderr, err := b.sudo(ctx, "systemctl enable --now "+unit); err != nil {
		return fmt.Errorf("enable %s: %w: %s", unit, err, stderr)
	}
	if changed && obs.State.IsActive() {
		// enable --now does not restart an already-running unit, so a
		// changed unit file needs an explicit restart.
		if _, stderr, err := b.sudo(ctx, "systemctl restart "+unit); err != nil {
			return fmt.Errorf("restart %s: %w: %s", unit, err, stderr)
		}
		log.Info().Str("unit", unit).Msg("service restarted with updated unit file")
		return nil
	}

	log.Info().Str("unit", unit).Msg("service enabled and started")
	return nil
}

// ensurePackage installs an OS package unless it is already present.
func (b *Backend) ensurePackage(ctx context.Context, pkg string) error {
	stdout, _, err := b.transport.ExecuteCommand(ctx, "dpkg-query -W -f='${Status}' "+pkg)
	if err == nil && strings.Contains(stdout, "install ok installed") {
		return nil
	}

	cmd := "DEBIAN_FRONTEND=noninteractive apt-get install -y " + pkg
	if _, stderr, err := b.sudo(ctx, cmd); err != nil {
		return fmt.Errorf("install package %s: %w: %s", pkg, err, stderr)
	}
	log.Info().Str("package", pkg).Msg("package installed")
	return nil
}

// installUnitFile writes the unit file with the ownership marker when
// the remote copy differs. Returns whether anything was written.
func (b *Backend) installUnitFile(ctx context.Context, name, content string) (bool, error) {
	rendered := renderUnitFile(content)
	target := unitPath(name)

	localSum := fmt.Sprintf("%x", sha256.Sum256([]byte(rendered)))
	if remoteSum, err := b.transport.ComputeChecksum(ctx, target); err == nil && remoteSum == localSum {
		return false, nil
	}

	staging, err := b.stage(ctx, name, rendered)
	if err != nil {
		return false, err
	}
	defer b.cleanupStaging(ctx, staging)

	install := fmt.Sprintf("install -o root -g root -m 0644 %s %s", staging, target)
	if _, stderr, err := b.sudo(ctx, install); err != nil {
		return false, fmt.Errorf("install unit file for %s: %w: %s", name, err, stderr)
	}

	log.Info().Str("unit", unitName(name)).Msg("unit file installed")
	return true, nil
}

// ensureDropInMarker tags a packaged service whose unit file homestack
// does not own by placing a marker file in the unit's override
// directory. systemctl cat folds drop-ins into its output, which is
// where Owned looks.
func (b *Backend) ensureDropInMarker(ctx context.Context, name string) (bool, error) {
	marker := dropInPath(name)

	_, _, err := b.transport.ExecuteCommand(ctx, "test -f "+marker)
	if err == nil {
		return false, nil
	}
	var terr *ssh.TransportError
	if errors.As(err, &terr) && terr.Temporary() {
		return false, fmt.Errorf("check marker for %s: %w", name, err)
	}

	staging, err := b.stage(ctx, name, ownershipMarker+"\n")
	if err != nil {
		return false, err
	}
	defer b.cleanupStaging(ctx, staging)

	if _, stderr, err := b.sudo(ctx, "mkdir -p "+dropInDir(name)); err != nil {
		return false, fmt.Errorf("create drop-in directory for %s: %w: %s", name, err, stderr)
	}
	install := fmt.Sprintf("install -o root -g root -m 0644 %s %s", staging, marker)
	if _, stderr, err := b.sudo(ctx, install); err != nil {
		return false, fmt.Errorf("install marker for %s: %w: %s", name, err, stderr)
	}

	log.Info().Str("unit", unitName(name)).Msg("ownership marker installed")
	return true, nil
}

// stage writes content to a local temp file and uploads it to the
// remote staging directory, returning the remote path.
func (b *Backend) stage(ctx context.Context, name, content string) (string, error) {
	tmp, err := os.CreateTemp("", "homestack-unit-*")
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write staging file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close staging file: %w", err)
	}

	remote := b.stagingDir + "/homestack-" + unitName(name)
	if _, err := b.transport.UploadFile(ctx, tmp.Name(), remote, 0600); err != nil {
		return "", fmt.Errorf("upload staged file for %s: %w", name, err)
	}
	return remote, nil
}

func (b *Backend) cleanupStaging(ctx context.Context, staging string) {
	if _, _, err := b.transport.ExecuteCommand(ctx, "rm -f "+staging); err != nil {
		log.Warn().Err(err).Str("path", staging).Msg("staging file cleanup failed")
	}
}

// renderUnitFile prepends the ownership marker unless the content
// already carries it.
func renderUnitFile(content string) string {
	if strings.Contains(content, ownershipMarker) {
		return content
	}
	return ownershipMarker + "\n" + content
}
