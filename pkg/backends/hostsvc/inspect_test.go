package hostsvc

import (
	"context"
	"strings"
	"testing"

	"github.com/homestack/homestack/pkg/engine"
)

func TestInspectStateMapping(t *testing.T) {
	tests := []struct {
		name       string
		show       string
		wantState  engine.ObservedState
		wantDetail string
	}{
		{
			name:      "unit not found",
			show:      showNotFound,
			wantState: engine.ObservedAbsent,
		},
		{
			name:       "active and running",
			show:       showActive,
			wantState:  engine.ObservedRunning,
			wantDetail: "running",
		},
		{
			name:       "oneshot active after exit",
			show:       "LoadState=loaded\nActiveState=active\nSubState=exited\nResult=success\nExecMainStatus=0",
			wantState:  engine.ObservedRunning,
			wantDetail: "exited",
		},
		{
			name:       "activating",
			show:       "LoadState=loaded\nActiveState=activating\nSubState=start-pre\nResult=success\nExecMainStatus=0",
			wantState:  engine.ObservedStarting,
			wantDetail: "start-pre",
		},
		{
			name:       "deactivating",
			show:       "LoadState=loaded\nActiveState=deactivating\nSubState=stop-sigterm\nResult=success\nExecMainStatus=0",
			wantState:  engine.ObservedUnhealthy,
			wantDetail: "deactivating",
		},
		{
			name:       "failed with exit code",
			show:       "LoadState=loaded\nActiveState=failed\nSubState=failed\nResult=exit-code\nExecMainStatus=3",
			wantState:  engine.ObservedFailed,
			wantDetail: "exit-code, exit status 3",
		},
		{
			name:       "failed without main status",
			show:       "LoadState=loaded\nActiveState=failed\nSubState=failed\nResult=signal\nExecMainStatus=0",
			wantState:  engine.ObservedFailed,
			wantDetail: "signal",
		},
		{
			name:       "stopped",
			show:       showInactive,
			wantState:  engine.ObservedFailed,
			wantDetail: "inactive",
		},
		{
			name:       "masked",
			show:       "LoadState=masked\nActiveState=inactive\nSubState=dead\nResult=success\nExecMainStatus=0",
			wantState:  engine.ObservedFailed,
			wantDetail: "unit file masked",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeTransport()
			fake.respond = func(string) (string, string, error) {
				return tt.show, "", nil
			}
			b := New(fake, Options{})

			obs, err := b.Inspect(context.Background(), "wireguard")
			if err != nil {
				t.Fatalf("Inspect() error = %v", err)
			}
			if obs.State != tt.wantState {
				t.Errorf("state = %q, want %q", obs.State, tt.wantState)
			}
			if tt.wantDetail != "" && obs.Detail != tt.wantDetail {
				t.Errorf("detail = %q, want %q", obs.Detail, tt.wantDetail)
			}
		})
	}
}

func TestInspectCommandFailure(t *testing.T) {
	fake := newFakeTransport()
	fake.respond = func(string) (string, string, error) {
		return "", "Failed to connect to bus", exitError("Failed to connect to bus")
	}
	b := New(fake, Options{})

	_, err := b.Inspect(context.Background(), "wireguard")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "Failed to connect to bus") {
		t.Errorf("error = %v, want remote stderr included", err)
	}
}
