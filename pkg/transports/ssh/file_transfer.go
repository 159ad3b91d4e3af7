package ssh

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
)

// fileTransfer handles uploads via SFTP.
type fileTransfer struct {
	client *SSHClient
	config *Config
}

// UploadFile uploads a single file to the remote host via SFTP.
func (c *SSHClient) UploadFile(ctx context.Context, localPath string, remotePath string, mode uint32) (*FileTransferResult, error) {
	if c.fileTransfer == nil {
		return nil, &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("not connected"),
			IsTemporary: false,
			IsAuthError: false,
		}
	}
	return c.fileTransfer.uploadFile(ctx, localPath, remotePath, mode)
}

// ComputeChecksum calculates the SHA256 checksum of a remote file.
func (c *SSHClient) ComputeChecksum(ctx context.Context, remotePath string) (string, error) {
	if c.fileTransfer == nil {
		return "", &TransportError{
			Op:          "checksum",
			Err:         fmt.Errorf("not connected"),
			IsTemporary: false,
			IsAuthError: false,
		}
	}
	return c.fileTransfer.computeChecksum(ctx, remotePath)
}

// createSFTPClient opens an SFTP session on the current connection.
func (f *fileTransfer) createSFTPClient() (*sftp.Client, error) {
	sshClient, err := f.client.getClient()
	if err != nil {
		return nil, err
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return nil, &TransportError{
			Op:          "sftp-init",
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
			IsAuthError: false,
		}
	}

	return sftpClient, nil
}

// uploadFile streams the local file to the remote path, hashing the
// content on the way so callers can verify what landed.
func (f *fileTransfer) uploadFile(ctx context.Context, localPath string, remotePath string, mode uint32) (*FileTransferResult, error) {
	startTime := time.Now()

	log.Debug().
		Str("local", localPath).
		Str("remote", remotePath).
		Uint32("mode", mode).
		Msg("uploading file")

	localFile, err := os.Open(localPath)
	if err != nil {
		return nil, &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to open local file: %w", err),
			IsTemporary: false,
			IsAuthError: false,
		}
	}
	defer localFile.Close()

	sftpClient, err := f.createSFTPClient()
	if err != nil {
		return nil, err
	}
	defer sftpClient.Close()

	remoteDir := filepath.Dir(remotePath)
	if err := sftpClient.MkdirAll(remoteDir); err != nil {
		return nil, &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to create remote directory: %w", err),
			IsTemporary: false,
			IsAuthError: false,
		}
	}

	remoteFile, err := sftpClient.Create(remotePath)
	if err != nil {
		return nil, &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to create remote file: %w", err),
			IsTemporary: true,
			IsAuthError: false,
		}
	}
	defer remoteFile.Close()

	hash := sha256.New()
	bytesWritten, err := f.copyWithContext(ctx, remoteFile, io.TeeReader(localFile, hash))
	if err != nil {
		return nil, &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to copy file: %w", err),
			IsTemporary: true,
			IsAuthError: false,
		}
	}

	if mode > 0 {
		if err := sftpClient.Chmod(remotePath, os.FileMode(mode)); err != nil {
			log.Warn().Err(err).Str("remote", remotePath).Msg("failed to set file permissions")
		}
	}

	finishedAt := time.Now()
	result := &FileTransferResult{
		BytesTransferred: bytesWritten,
		Checksum:         fmt.Sprintf("%x", hash.Sum(nil)),
		StartedAt:        startTime,
		FinishedAt:       finishedAt,
		Duration:         finishedAt.Sub(startTime),
	}

	log.Info().
		Str("local", localPath).
		Str("remote", remotePath).
		Int64("bytes", result.BytesTransferred).
		Dur("duration", result.Duration).
		Msg("file uploaded")

	return result, nil
}

// computeChecksum runs sha256sum on the remote host.
func (f *fileTransfer) computeChecksum(ctx context.Context, remotePath string) (string, error) {
	log.Debug().Str("path", remotePath).Msg("computing checksum")

	cmd := fmt.Sprintf("sha256sum %s", remotePath)
	stdout, _, err := f.client.ExecuteCommand(ctx, cmd)
	if err != nil {
		return "", &TransportError{
			Op:          "checksum",
			Err:         fmt.Errorf("failed to compute checksum: %w", err),
			IsTemporary: false,
			IsAuthError: false,
		}
	}

	// Output format is "checksum  filename"
	parts := strings.Fields(stdout)
	if len(parts) == 0 {
		return "", &TransportError{
			Op:          "checksum",
			Err:         fmt.Errorf("invalid checksum output: %q", stdout),
			IsTemporary: false,
			IsAuthError: false,
		}
	}

	return parts[0], nil
}

// copyWithContext copies src to dst, checking for cancellation between
// chunks.
func (f *fileTransfer) copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[0:nr])
			if nw > 0 {
				written += int64(nw)
			}
			if werr != nil {
				return written, werr
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return written, rerr
		}
	}

	return written, nil
}
