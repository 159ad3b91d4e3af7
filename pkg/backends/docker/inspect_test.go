package docker

import (
	"context"
	"strings"
	"testing"

	"github.com/homestack/homestack/pkg/engine"
)

func TestInspectStateMapping(t *testing.T) {
	tests := []struct {
		name       string
		stateJSON  string
		wantState  engine.ObservedState
		wantDetail string
	}{
		{
			name:      "created",
			stateJSON: `{"Status":"created","ExitCode":0}`,
			wantState: engine.ObservedStarting,
		},
		{
			name:      "restarting",
			stateJSON: `{"Status":"restarting","ExitCode":0}`,
			wantState: engine.ObservedStarting,
		},
		{
			name:      "running without health check",
			stateJSON: `{"Status":"running","ExitCode":0}`,
			wantState: engine.ObservedRunning,
		},
		{
			name:       "running with health check starting",
			stateJSON:  `{"Status":"running","ExitCode":0,"Health":{"Status":"starting"}}`,
			wantState:  engine.ObservedStarting,
			wantDetail: "health check starting",
		},
		{
			name:      "running and healthy",
			stateJSON: `{"Status":"running","ExitCode":0,"Health":{"Status":"healthy"}}`,
			wantState: engine.ObservedHealthy,
		},
		{
			name:       "running but unhealthy",
			stateJSON:  `{"Status":"running","ExitCode":0,"Health":{"Status":"unhealthy"}}`,
			wantState:  engine.ObservedUnhealthy,
			wantDetail: "health check failing",
		},
		{
			name:       "paused",
			stateJSON:  `{"Status":"paused","ExitCode":0}`,
			wantState:  engine.ObservedUnhealthy,
			wantDetail: "paused",
		},
		{
			name:       "exited cleanly",
			stateJSON:  `{"Status":"exited","ExitCode":0}`,
			wantState:  engine.ObservedFailed,
			wantDetail: "exited with exit code 0",
		},
		{
			name:       "exited with failure",
			stateJSON:  `{"Status":"exited","ExitCode":137}`,
			wantState:  engine.ObservedFailed,
			wantDetail: "exited with exit code 137",
		},
		{
			name:      "dead",
			stateJSON: `{"Status":"dead","ExitCode":1}`,
			wantState: engine.ObservedFailed,
		},
		{
			name:       "unknown status",
			stateJSON:  `{"Status":"teleporting","ExitCode":0}`,
			wantState:  engine.ObservedFailed,
			wantDetail: "unknown container status: teleporting",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeRunner{responses: []fakeResponse{stateResponse(tt.stateJSON)}}
			b := &Backend{runner: fake}

			obs, err := b.Inspect(context.Background(), "grafana")
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

func TestInspectAbsentContainer(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
	}{
		{name: "docker wording", stderr: "Error: No such object: grafana"},
		{name: "daemon wording", stderr: "Error response from daemon: No such container: grafana"},
		{name: "podman wording", stderr: "Error: no container with name or ID \"grafana\" found: no such container"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeRunner{responses: []fakeResponse{{stderr: tt.stderr, err: errExit}}}
			b := &Backend{runner: fake}

			obs, err := b.Inspect(context.Background(), "grafana")
			if err != nil {
				t.Fatalf("Inspect() error = %v", err)
			}
			if obs.State != engine.ObservedAbsent {
				t.Errorf("state = %q, want %q", obs.State, engine.ObservedAbsent)
			}
		})
	}
}

func TestInspectFailureCarriesStderr(t *testing.T) {
	fake := &fakeRunner{responses: []fakeResponse{
		{stderr: "Cannot connect to the Docker daemon at unix:///var/run/docker.sock", err: errExit},
	}}
	b := &Backend{runner: fake}

	_, err := b.Inspect(context.Background(), "grafana")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
		t.Errorf("error = %v, want daemon stderr included", err)
	}
}

func TestInspectRejectsMalformedOutput(t *testing.T) {
	fake := &fakeRunner{responses: []fakeResponse{{stdout: "not json"}}}
	b := &Backend{runner: fake}

	if _, err := b.Inspect(context.Background(), "grafana"); err == nil {
		t.Fatal("expected a parse error")
	}
}
