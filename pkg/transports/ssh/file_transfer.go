package ssh

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
)

// WriteFile writes content to a remote path over SFTP, creating parent
// directories as needed.
func (c *Client) WriteFile(ctx context.Context, remotePath string, content []byte, mode os.FileMode) error {
	client, err := c.connect(ctx)
	if err != nil {
		return err
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return &TransportError{Op: "sftp", Err: fmt.Errorf("failed to open sftp session: %w", err)}
	}
	defer sftpClient.Close()

	remotePath = normalizeRemotePath(remotePath)
	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		if err := sftpClient.MkdirAll(dir); err != nil {
			return &TransportError{Op: "sftp", Err: fmt.Errorf("failed to create %s: %w", dir, err)}
		}
	}

	file, err := sftpClient.Create(remotePath)
	if err != nil {
		return &TransportError{Op: "sftp", Err: fmt.Errorf("failed to create %s: %w", remotePath, err)}
	}
	if _, err := file.Write(content); err != nil {
		file.Close()
		return &TransportError{Op: "sftp", Err: err}
	}
	if err := file.Close(); err != nil {
		return &TransportError{Op: "sftp", Err: err}
	}
	if err := sftpClient.Chmod(remotePath, mode); err != nil {
		return &TransportError{Op: "sftp", Err: err}
	}

	log.Debug().
		Str("host", c.config.Host).
		Str("path", remotePath).
		Int("bytes", len(content)).
		Msg("wrote remote file")
	return nil
}

// ReadFile reads a remote file over SFTP.
func (c *Client) ReadFile(ctx context.Context, remotePath string) ([]byte, error) {
	client, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return nil, &TransportError{Op: "sftp", Err: fmt.Errorf("failed to open sftp session: %w", err)}
	}
	defer sftpClient.Close()

	file, err := sftpClient.Open(normalizeRemotePath(remotePath))
	if err != nil {
		return nil, &TransportError{Op: "sftp", Err: err}
	}
	defer file.Close()

	return io.ReadAll(file)
}

// FileExists reports whether a remote path exists.
func (c *Client) FileExists(ctx context.Context, remotePath string) (bool, error) {
	client, err := c.connect(ctx)
	if err != nil {
		return false, err
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return false, &TransportError{Op: "sftp", Err: err}
	}
	defer sftpClient.Close()

	_, err = sftpClient.Stat(normalizeRemotePath(remotePath))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, &TransportError{Op: "sftp", Err: err}
}
