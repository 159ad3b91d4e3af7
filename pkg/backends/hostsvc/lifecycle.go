package hostsvc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/homestack/homestack/pkg/engine"
	"github.com/homestack/homestack/pkg/transports/ssh"
)

// Stop stops the unit. A unit systemd does not know about, or one that
// is already down, is left alone.
func (b *Backend) Stop(ctx context.Context, name string) error {
	obs, err := b.Inspect(ctx, name)
	if err != nil {
		return err
	}
	if !obs.State.IsActive() {
		return nil
	}

	unit := unitName(name)
	if _, stderr, err := b.sudo(ctx, "systemctl stop "+unit); err != nil {
		return fmt.Errorf("systemctl stop %s: %w: %s", unit, err, stderr)
	}
	log.Info().Str("unit", unit).Msg("service stopped")
	return nil
}

// Rename moves the unit's files aside under the new name and reloads
// systemd. Conflict quarantine stops the unit before calling this, so
// only the on-disk identity moves here. A vendor unit with no file under
// /etc/systemd/system cannot be renamed and errors out.
func (b *Backend) Rename(ctx context.Context, oldName, newName string) error {
	move := fmt.Sprintf("mv %s %s", unitPath(oldName), unitPath(newName))
	if _, stderr, err := b.sudo(ctx, move); err != nil {
		return fmt.Errorf("move unit file for %s: %w: %s", oldName, err, stderr)
	}

	if _, _, err := b.transport.ExecuteCommand(ctx, "test -d "+dropInDir(oldName)); err == nil {
		move := fmt.Sprintf("mv %s %s", dropInDir(oldName), dropInDir(newName))
		if _, stderr, err := b.sudo(ctx, move); err != nil {
			return fmt.Errorf("move drop-in directory for %s: %w: %s", oldName, err, stderr)
		}
	}

	if _, stderr, err := b.sudo(ctx, "systemctl daemon-reload"); err != nil {
		return fmt.Errorf("daemon-reload after renaming %s: %w: %s", oldName, err, stderr)
	}

	log.Info().
		Str("unit", unitName(oldName)).
		Str("renamed_to", unitName(newName)).
		Msg("unit moved aside")
	return nil
}

// Owned reports whether the unit carries the homestack marker. systemctl
// cat folds drop-ins into its output, so unit files homestack wrote and
// marker drop-ins on packaged services both count.
func (b *Backend) Owned(ctx context.Context, name string) (bool, error) {
	unit := unitName(name)
	stdout, _, err := b.transport.ExecuteCommand(ctx, "systemctl cat "+unit)
	if err != nil {
		var terr *ssh.TransportError
		if errors.As(err, &terr) && !terr.Temporary() {
			// cat exits non-zero when the unit has no files at all.
			return false, nil
		}
		return false, fmt.Errorf("systemctl cat %s: %w", unit, err)
	}
	return strings.Contains(stdout, ownershipMarker), nil
}

// Remove disables the unit and deletes its files. Teardown calls this
// only for owned, already-stopped units; a unit that is already gone is
// not an error.
func (b *Backend) Remove(ctx context.Context, name string) error {
	obs, err := b.Inspect(ctx, name)
	if err != nil {
		return err
	}
	if obs.State == engine.ObservedAbsent {
		return nil
	}

	unit := unitName(name)
	if _, stderr, err := b.sudo(ctx, "systemctl disable "+unit); err != nil {
		return fmt.Errorf("systemctl disable %s: %w: %s", unit, err, stderr)
	}
	if _, stderr, err := b.sudo(ctx, "rm -f "+unitPath(name)); err != nil {
		return fmt.Errorf("remove unit file for %s: %w: %s", name, err, stderr)
	}
	if _, stderr, err := b.sudo(ctx, "rm -rf "+dropInDir(name)); err != nil {
		return fmt.Errorf("remove drop-in directory for %s: %w: %s", name, err, stderr)
	}
	if _, stderr, err := b.sudo(ctx, "systemctl daemon-reload"); err != nil {
		return fmt.Errorf("daemon-reload after removing %s: %w: %s", name, err, stderr)
	}

	log.Info().Str("unit", unit).Msg("service removed")
	return nil
}
