package engine

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
)

func TestConflictResolver_Resolve_AbsentName(t *testing.T) {
	backend := newMockBackend()
	resolver := NewConflictResolver(backend)

	resolution, err := resolver.Resolve(context.Background(), "traefik")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if resolution.Outcome != ConflictClear {
		t.Errorf("Expected clear, got %s", resolution.Outcome)
	}
	if resolution.Quarantine != nil {
		t.Errorf("Expected no quarantine record, got %+v", resolution.Quarantine)
	}
	if len(backend.stoppedNames()) != 0 || len(backend.renamedPairs()) != 0 {
		t.Error("Expected no backend mutations for an absent name")
	}
}

func TestConflictResolver_Resolve_OwnedOccupant(t *testing.T) {
	backend := newMockBackend()
	backend.state["redis"] = Observation{State: ObservedRunning}
	backend.owned["redis"] = true
	resolver := NewConflictResolver(backend)

	resolution, err := resolver.Resolve(context.Background(), "redis")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if resolution.Outcome != ConflictClear {
		t.Errorf("Expected clear for owned occupant, got %s", resolution.Outcome)
	}

	// An owned occupant is left entirely alone.
	if len(backend.stoppedNames()) != 0 {
		t.Errorf("Expected no stops, got %v", backend.stoppedNames())
	}
	if len(backend.renamedPairs()) != 0 {
		t.Errorf("Expected no renames, got %v", backend.renamedPairs())
	}
}

func TestConflictResolver_Resolve_ForeignActiveOccupant(t *testing.T) {
	backend := newMockBackend()
	backend.state["grafana"] = Observation{State: ObservedRunning}
	resolver := NewConflictResolver(backend)

	resolution, err := resolver.Resolve(context.Background(), "grafana")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if resolution.Outcome != ConflictQuarantined {
		t.Fatalf("Expected quarantined, got %s", resolution.Outcome)
	}

	q := resolution.Quarantine
	if q == nil {
		t.Fatal("Expected quarantine record")
	}
	if q.Unit != "grafana" {
		t.Errorf("Expected unit grafana, got %s", q.Unit)
	}
	if !q.WasActive {
		t.Error("Expected WasActive for a running occupant")
	}
	if matched, _ := regexp.MatchString(`^grafana-old-\d+$`, q.QuarantinedAs); !matched {
		t.Errorf("Expected quarantine name grafana-old-<unix>, got %s", q.QuarantinedAs)
	}

	if stopped := backend.stoppedNames(); len(stopped) != 1 || stopped[0] != "grafana" {
		t.Errorf("Expected grafana stopped before rename, got %v", stopped)
	}
	renames := backend.renamedPairs()
	if len(renames) != 1 || renames[0][0] != "grafana" || renames[0][1] != q.QuarantinedAs {
		t.Errorf("Expected rename grafana -> %s, got %v", q.QuarantinedAs, renames)
	}

	// Quarantine preserves the resource: nothing is ever deleted.
	if len(backend.removedNames()) != 0 {
		t.Errorf("Expected no removals, got %v", backend.removedNames())
	}
}

func TestConflictResolver_Resolve_ForeignInactiveOccupant(t *testing.T) {
	backend := newMockBackend()
	backend.state["grafana"] = Observation{State: ObservedFailed, Detail: "exited"}
	resolver := NewConflictResolver(backend)

	resolution, err := resolver.Resolve(context.Background(), "grafana")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if resolution.Outcome != ConflictQuarantined {
		t.Fatalf("Expected quarantined, got %s", resolution.Outcome)
	}
	if resolution.Quarantine.WasActive {
		t.Error("Expected WasActive=false for an exited occupant")
	}

	// An already-stopped occupant skips the stop call and goes straight to
	// the rename.
	if len(backend.stoppedNames()) != 0 {
		t.Errorf("Expected no stops, got %v", backend.stoppedNames())
	}
	if len(backend.renamedPairs()) != 1 {
		t.Errorf("Expected 1 rename, got %v", backend.renamedPairs())
	}
}

func TestConflictResolver_Resolve_QuarantineNameCollision(t *testing.T) {
	backend := newMockBackend()
	backend.state["grafana"] = Observation{State: ObservedRunning}
	backend.quarantineBusy = 1
	resolver := NewConflictResolver(backend)

	resolution, err := resolver.Resolve(context.Background(), "grafana")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// The first candidate was occupied, so the counter suffix kicks in.
	if !strings.HasSuffix(resolution.Quarantine.QuarantinedAs, "-2") {
		t.Errorf("Expected counter suffix on quarantine name, got %s", resolution.Quarantine.QuarantinedAs)
	}
}

func TestConflictResolver_Resolve_QuarantineNamesExhausted(t *testing.T) {
	backend := newMockBackend()
	backend.state["grafana"] = Observation{State: ObservedRunning}
	backend.quarantineBusy = quarantineAttempts
	resolver := NewConflictResolver(backend)

	_, err := resolver.Resolve(context.Background(), "grafana")
	if err == nil {
		t.Fatal("Expected error when no quarantine name is free, got nil")
	}
	if !IsConflictResolution(err) {
		t.Errorf("Expected conflict resolution error, got: %v", err)
	}
	assertErrorCode(t, err, ErrCodeQuarantine)
	if len(backend.renamedPairs()) != 0 {
		t.Errorf("Expected no rename after exhaustion, got %v", backend.renamedPairs())
	}
}

func TestConflictResolver_Resolve_InspectError(t *testing.T) {
	backend := newMockBackend()
	backend.inspectErr["grafana"] = errors.New("daemon unreachable")
	resolver := NewConflictResolver(backend)

	_, err := resolver.Resolve(context.Background(), "grafana")
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !IsConflictResolution(err) {
		t.Errorf("Expected conflict resolution error, got: %v", err)
	}

	engineErr := err.(*EngineError)
	if engineErr.Operation != "inspect" {
		t.Errorf("Expected operation inspect, got %s", engineErr.Operation)
	}
}

func TestConflictResolver_Resolve_OwnershipError(t *testing.T) {
	backend := newMockBackend()
	backend.state["grafana"] = Observation{State: ObservedRunning}
	backend.ownedErr["grafana"] = errors.New("label query failed")
	resolver := NewConflictResolver(backend)

	_, err := resolver.Resolve(context.Background(), "grafana")
	if err == nil {
		t.Fatal("Expected error, got nil")
	}

	engineErr := err.(*EngineError)
	if engineErr.Operation != "owned" {
		t.Errorf("Expected operation owned, got %s", engineErr.Operation)
	}

	// Ambiguous ownership must not trigger a quarantine.
	if len(backend.stoppedNames()) != 0 || len(backend.renamedPairs()) != 0 {
		t.Error("Expected no mutations when ownership is unknown")
	}
}

func TestConflictResolver_Resolve_StopError(t *testing.T) {
	backend := newMockBackend()
	backend.state["grafana"] = Observation{State: ObservedRunning}
	backend.stopErr["grafana"] = errors.New("stop timed out")
	resolver := NewConflictResolver(backend)

	_, err := resolver.Resolve(context.Background(), "grafana")
	if err == nil {
		t.Fatal("Expected error, got nil")
	}

	engineErr := err.(*EngineError)
	if engineErr.Operation != "stop" {
		t.Errorf("Expected operation stop, got %s", engineErr.Operation)
	}
	if len(backend.renamedPairs()) != 0 {
		t.Errorf("Expected no rename after failed stop, got %v", backend.renamedPairs())
	}
}

func TestConflictResolver_Resolve_RenameError(t *testing.T) {
	backend := newMockBackend()
	backend.state["grafana"] = Observation{State: ObservedRunning}
	backend.renameErr["grafana"] = errors.New("name still in use")
	resolver := NewConflictResolver(backend)

	_, err := resolver.Resolve(context.Background(), "grafana")
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !IsConflictResolution(err) {
		t.Errorf("Expected conflict resolution error, got: %v", err)
	}

	engineErr := err.(*EngineError)
	if engineErr.Operation != "rename" {
		t.Errorf("Expected operation rename, got %s", engineErr.Operation)
	}
	if engineErr.Details["quarantine_name"] == nil {
		t.Error("Expected quarantine_name detail on rename failure")
	}
}
