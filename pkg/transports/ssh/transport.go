// Package ssh implements the transport homestack uses to reach homelab
// hosts: remote command execution with sudo, unit file upload over SFTP,
// and connection health checks.
package ssh

import (
	"context"
	"time"
)

// Transport defines what the host service backend needs from an SSH
// connection. Implementations are safe for concurrent use; every command
// and transfer runs in its own session on the shared connection.
type Transport interface {
	// Connect establishes an SSH connection to the remote host.
	// An existing live connection is reused; a dead one is replaced.
	Connect(ctx context.Context) error

	// Disconnect closes the SSH connection and releases all resources.
	Disconnect() error

	// IsConnected returns true if the transport has an active connection.
	IsConnected() bool

	// HealthCheck verifies the connection is still alive and responsive.
	HealthCheck(ctx context.Context) error

	// ExecuteCommand runs a command on the remote host.
	// Returns stdout, stderr, and any error that occurred.
	ExecuteCommand(ctx context.Context, cmd string) (stdout string, stderr string, err error)

	// ExecuteCommandWithSudo runs a command with sudo privileges. The
	// sudoPassword parameter can be empty when NOPASSWD is configured;
	// a non-empty password travels over stdin, never the command line.
	ExecuteCommandWithSudo(ctx context.Context, cmd string, sudoPassword string) (stdout string, stderr string, err error)

	// UploadFile uploads a single file to the remote host via SFTP.
	// The mode parameter sets file permissions when non-zero.
	UploadFile(ctx context.Context, localPath string, remotePath string, mode uint32) (*FileTransferResult, error)

	// ComputeChecksum returns the SHA256 checksum of a remote file.
	ComputeChecksum(ctx context.Context, remotePath string) (string, error)

	// GetConnectionInfo returns information about the current connection.
	GetConnectionInfo() ConnectionInfo
}

// ConnectionInfo contains details about an active SSH connection.
type ConnectionInfo struct {
	// Host is the remote hostname or IP address
	Host string

	// Port is the SSH port number
	Port int

	// User is the SSH username
	User string

	// ConnectedAt is when the connection was established
	ConnectedAt time.Time

	// LastActivity is when the connection was last used
	LastActivity time.Time
}

// FileTransferResult describes a completed upload.
type FileTransferResult struct {
	// BytesTransferred is the number of bytes written to the remote file
	BytesTransferred int64

	// Checksum is the SHA256 checksum of the transferred content
	Checksum string

	// StartedAt is when the transfer started
	StartedAt time.Time

	// FinishedAt is when the transfer completed
	FinishedAt time.Time

	// Duration is the total transfer time
	Duration time.Duration
}

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "execute", "upload")
	Op string

	// Err is the underlying error
	Err error

	// IsTemporary indicates if the error is worth retrying
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}
