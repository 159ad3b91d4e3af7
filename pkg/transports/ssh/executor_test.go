package ssh

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExecutorExecuteCommand(t *testing.T) {
	server := newTestSSHServer(t)
	defer server.close()

	host, port := parseAddress(server.addr)

	config := DefaultConfig(host, "testuser")
	config.Port = port
	config.AuthMethod = AuthMethodPassword
	config.Password = "testpass"
	config.StrictHostKeyChecking = false

	client, err := NewSSHClient(config)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Disconnect()

	tests := []struct {
		name           string
		command        string
		expectError    bool
		expectedStdout string
		expectedStderr string
	}{
		{
			name:           "simple echo",
			command:        "echo test",
			expectError:    false,
			expectedStdout: "test",
			expectedStderr: "",
		},
		{
			name:           "stderr output",
			command:        "echo error >&2",
			expectError:    false,
			expectedStdout: "",
			expectedStderr: "error",
		},
		{
			name:        "exit with error",
			command:     "exit 1",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, stderr, err := client.ExecuteCommand(ctx, tt.command)

			if tt.expectError {
				if err == nil {
					t.Fatal("expected error, got nil")
				}

				var transportErr *TransportError
				if !errors.As(err, &transportErr) {
					t.Fatalf("expected TransportError, got %T", err)
				}
				if transportErr.Temporary() {
					t.Error("expected a non-zero exit to be permanent")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if stdout != tt.expectedStdout {
				t.Errorf("expected stdout '%s', got '%s'", tt.expectedStdout, stdout)
			}

			if stderr != tt.expectedStderr {
				t.Errorf("expected stderr '%s', got '%s'", tt.expectedStderr, stderr)
			}
		})
	}
}

func TestExecutorCommandCancellation(t *testing.T) {
	server := newTestSSHServer(t)
	defer server.close()

	host, port := parseAddress(server.addr)

	config := DefaultConfig(host, "testuser")
	config.Port = port
	config.AuthMethod = AuthMethodPassword
	config.Password = "testpass"
	config.StrictHostKeyChecking = false

	client, err := NewSSHClient(config)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Disconnect()

	// The test server never answers "sleep 10", so the deadline must fire
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, _, err = client.ExecuteCommand(ctx, "sleep 10")
	if err == nil {
		t.Fatal("expected error from cancelled command")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
}

func TestExecutorConfiguredCommandTimeout(t *testing.T) {
	server := newTestSSHServer(t)
	defer server.close()

	host, port := parseAddress(server.addr)

	config := DefaultConfig(host, "testuser")
	config.Port = port
	config.AuthMethod = AuthMethodPassword
	config.Password = "testpass"
	config.StrictHostKeyChecking = false
	config.CommandTimeout = 200 * time.Millisecond

	client, err := NewSSHClient(config)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Disconnect()

	// No caller deadline, so CommandTimeout applies
	_, _, err = client.ExecuteCommand(context.Background(), "sleep 10")
	if err == nil {
		t.Fatal("expected error from timed out command")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
}

func TestExecutorSudoWrapping(t *testing.T) {
	server := newTestSSHServer(t)
	defer server.close()

	host, port := parseAddress(server.addr)

	config := DefaultConfig(host, "testuser")
	config.Port = port
	config.AuthMethod = AuthMethodPassword
	config.Password = "testpass"
	config.StrictHostKeyChecking = false

	client, err := NewSSHClient(config)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Disconnect()

	// The test server echoes unknown commands, exposing the sudo wrapping

	t.Run("nopasswd", func(t *testing.T) {
		stdout, _, err := client.ExecuteCommandWithSudo(ctx, "whoami", "")
		if err != nil {
			t.Fatalf("sudo command failed: %v", err)
		}

		if stdout != "command: sudo -n whoami" {
			t.Errorf("unexpected command wrapping: '%s'", stdout)
		}
	})

	t.Run("with password", func(t *testing.T) {
		stdout, _, err := client.ExecuteCommandWithSudo(ctx, "whoami", "secret")
		if err != nil {
			t.Fatalf("sudo command failed: %v", err)
		}

		// The password goes over stdin; the echoed command proves it is
		// not on the command line
		if stdout != "command: sudo -S -p '' whoami" {
			t.Errorf("unexpected command wrapping: '%s'", stdout)
		}
	})
}
