package docker

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
)

// runner executes one docker CLI invocation. The seam lets tests script
// the CLI without a daemon.
type runner interface {
	run(ctx context.Context, args ...string) (stdout string, stderr string, err error)
}

// execRunner shells out to the configured docker binary.
type execRunner struct {
	binary  string
	context string
}

func (r *execRunner) run(ctx context.Context, args ...string) (string, string, error) {
	full := args
	if r.context != "" {
		full = append([]string{"--context", r.context}, args...)
	}

	cmd := exec.CommandContext(ctx, r.binary, full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return strings.TrimSpace(stdout.String()), strings.TrimSpace(stderr.String()), err
}
