// Package hostsvc adapts the engine's resource lifecycle to systemd
// services on remote hosts reached over SSH. Unit files homestack writes
// carry an ownership marker; services that ship their own unit file get
// a marker drop-in instead, so ownership checks work for both.
package hostsvc

import (
	"context"

	"github.com/homestack/homestack/pkg/transports/ssh"
)

const (
	systemdDir = "/etc/systemd/system"

	// ownershipMarker tags unit files and drop-ins written by homestack.
	// Owned greps systemctl cat output for it.
	ownershipMarker = "# Managed by homestack. Do not edit."
)

// Options configures the host service backend.
type Options struct {
	// SudoPassword authorizes privileged systemctl and file operations.
	// Empty assumes passwordless sudo for the connecting user.
	SudoPassword string

	// StagingDir is where uploads land before sudo moves them into
	// place. Defaults to /tmp.
	StagingDir string
}

// Backend drives systemd services through an SSH transport. Safe for
// concurrent use: the transport runs every command in its own session.
type Backend struct {
	transport    ssh.Transport
	sudoPassword string
	stagingDir   string
}

// New creates a host service backend over a connected transport.
func New(transport ssh.Transport, opts Options) *Backend {
	staging := opts.StagingDir
	if staging == "" {
		staging = "/tmp"
	}
	return &Backend{
		transport:    transport,
		sudoPassword: opts.SudoPassword,
		stagingDir:   staging,
	}
}

func (b *Backend) sudo(ctx context.Context, cmd string) (string, string, error) {
	return b.transport.ExecuteCommandWithSudo(ctx, cmd, b.sudoPassword)
}

// unitName maps an engine resource name onto its systemd unit name.
func unitName(name string) string {
	return name + ".service"
}

func unitPath(name string) string {
	return systemdDir + "/" + unitName(name)
}

// dropInDir is the unit's override directory. Marker drop-ins for
// packaged services live here.
func dropInDir(name string) string {
	return unitPath(name) + ".d"
}

func dropInPath(name string) string {
	return dropInDir(name) + "/homestack.conf"
}
