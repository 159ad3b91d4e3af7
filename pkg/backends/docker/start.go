package docker

import (
	"fmt"
	"sort"
	"strings"
)

// StartSpec is the docker start descriptor a unit carries in its
// manifest. The engine hands it to the backend opaquely; only this
// package reads it.
type StartSpec struct {
	// Image is the container image reference. Required.
	Image string `json:"image"`

	// Command overrides the image's default command.
	Command []string `json:"command,omitempty"`

	// Env sets environment variables inside the container.
	Env map[string]string `json:"env,omitempty"`

	// Ports are published ports in docker -p syntax ("8080:80").
	Ports []string `json:"ports,omitempty"`

	// Volumes are mounts in docker -v syntax ("data:/var/lib/grafana").
	Volumes []string `json:"volumes,omitempty"`

	// Networks are the docker networks to attach. The first is set at
	// run time, the rest are connected after creation.
	Networks []string `json:"networks,omitempty"`

	// Labels are extra container labels from the manifest.
	Labels map[string]string `json:"labels,omitempty"`

	// Restart is the docker restart policy ("unless-stopped").
	Restart string `json:"restart,omitempty"`

	// Hostname sets the container hostname.
	Hostname string `json:"hostname,omitempty"`
}

// Validate checks the descriptor has everything docker run needs.
func (s *StartSpec) Validate() error {
	if strings.TrimSpace(s.Image) == "" {
		return fmt.Errorf("image is required")
	}
	return nil
}

// runArgs assembles the docker run argument list for a container with
// the given name. The ownership label comes after the manifest labels so
// a manifest label cannot shadow it.
func (s *StartSpec) runArgs(name string) []string {
	args := []string{"run", "--detach", "--name", name}

	if s.Hostname != "" {
		args = append(args, "--hostname", s.Hostname)
	}
	if s.Restart != "" {
		args = append(args, "--restart", s.Restart)
	}
	if len(s.Networks) > 0 {
		args = append(args, "--network", s.Networks[0])
	}
	for _, key := range sortedKeys(s.Env) {
		args = append(args, "-e", key+"="+s.Env[key])
	}
	for _, port := range s.Ports {
		args = append(args, "-p", port)
	}
	for _, volume := range s.Volumes {
		args = append(args, "-v", volume)
	}
	for _, key := range sortedKeys(s.Labels) {
		args = append(args, "--label", key+"="+s.Labels[key])
	}
	args = append(args, "--label", ManagedLabel+"="+managedLabelValue)

	args = append(args, s.Image)
	args = append(args, s.Command...)
	return args
}

// sortedKeys keeps the argument order deterministic across runs.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
