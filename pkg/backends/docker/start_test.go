package docker

import (
	"reflect"
	"slices"
	"testing"
)

func TestRunArgsFullSpec(t *testing.T) {
	spec := &StartSpec{
		Image:    "lscr.io/linuxserver/jellyfin:10.9.11",
		Command:  []string{"--datadir", "/config/data"},
		Env:      map[string]string{"TZ": "Europe/Amsterdam", "PUID": "1000"},
		Ports:    []string{"8096:8096"},
		Volumes:  []string{"jellyfin-config:/config", "/srv/media:/media:ro"},
		Networks: []string{"media"},
		Labels:   map[string]string{"homestack.unit": "jellyfin"},
		Restart:  "unless-stopped",
		Hostname: "jellyfin",
	}

	want := []string{
		"run", "--detach", "--name", "jellyfin",
		"--hostname", "jellyfin",
		"--restart", "unless-stopped",
		"--network", "media",
		"-e", "PUID=1000",
		"-e", "TZ=Europe/Amsterdam",
		"-p", "8096:8096",
		"-v", "jellyfin-config:/config",
		"-v", "/srv/media:/media:ro",
		"--label", "homestack.unit=jellyfin",
		"--label", "homestack.managed=true",
		"lscr.io/linuxserver/jellyfin:10.9.11",
		"--datadir", "/config/data",
	}
	if got := spec.runArgs("jellyfin"); !reflect.DeepEqual(got, want) {
		t.Errorf("runArgs() = %v, want %v", got, want)
	}
}

func TestRunArgsMinimalSpec(t *testing.T) {
	spec := &StartSpec{Image: "redis:7.4"}

	want := []string{
		"run", "--detach", "--name", "redis",
		"--label", "homestack.managed=true",
		"redis:7.4",
	}
	if got := spec.runArgs("redis"); !reflect.DeepEqual(got, want) {
		t.Errorf("runArgs() = %v, want %v", got, want)
	}
}

func TestRunArgsOwnershipLabelCannotBeShadowed(t *testing.T) {
	spec := &StartSpec{
		Image:  "redis:7.4",
		Labels: map[string]string{"homestack.managed": "false"},
	}

	args := spec.runArgs("redis")
	shadow := slices.Index(args, "homestack.managed=false")
	owned := slices.Index(args, "homestack.managed=true")
	if shadow == -1 || owned == -1 {
		t.Fatalf("expected both label values in args, got %v", args)
	}

	// docker keeps the last value for a repeated label, so the ownership
	// label must come after any manifest label of the same name.
	if owned < shadow {
		t.Errorf("ownership label at %d precedes manifest label at %d: %v", owned, shadow, args)
	}
}

func TestStartSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    StartSpec
		wantErr bool
	}{
		{name: "valid", spec: StartSpec{Image: "redis:7.4"}},
		{name: "missing image", spec: StartSpec{}, wantErr: true},
		{name: "blank image", spec: StartSpec{Image: "   "}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
