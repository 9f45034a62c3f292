package ssh

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/sftp"
)

// ReadFile returns the content of a remote file over SFTP.
func (c *Client) ReadFile(ctx context.Context, remotePath string) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := c.stream(ctx, "read", remotePath, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Checksum returns the hex SHA256 of a remote file.
func (c *Client) Checksum(ctx context.Context, remotePath string) (string, error) {
	hash := sha256.New()
	if _, err := c.stream(ctx, "checksum", remotePath, hash); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// stream copies a remote file into dst, bounded by ReadTimeout and
// MaxFileSize.
func (c *Client) stream(ctx context.Context, op, remotePath string, dst io.Writer) (int64, error) {
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.config.ReadTimeout)
	defer cancel()

	sftpClient, err := c.createSFTPClient()
	if err != nil {
		return 0, err
	}
	defer sftpClient.Close()

	remoteFile, err := sftpClient.Open(remotePath)
	if err != nil {
		return 0, &TransportError{
			Op:          op,
			Err:         fmt.Errorf("failed to open remote file %s: %w", remotePath, err),
			IsTemporary: !errors.Is(err, os.ErrNotExist) && !errors.Is(err, os.ErrPermission),
		}
	}
	defer remoteFile.Close()

	fileInfo, err := remoteFile.Stat()
	if err != nil {
		return 0, &TransportError{
			Op:          op,
			Err:         fmt.Errorf("failed to stat remote file %s: %w", remotePath, err),
			IsTemporary: true,
		}
	}
	if fileInfo.IsDir() {
		return 0, &TransportError{
			Op:  op,
			Err: fmt.Errorf("%s is a directory", remotePath),
		}
	}
	if limit := c.config.MaxFileSize; limit > 0 && fileInfo.Size() > limit {
		return 0, &TransportError{
			Op:  op,
			Err: fmt.Errorf("%s is %d bytes, limit is %d", remotePath, fileInfo.Size(), limit),
		}
	}

	written, err := copyWithContext(ctx, dst, remoteFile)
	if err != nil {
		return written, &TransportError{
			Op:          op,
			Err:         fmt.Errorf("failed to copy %s: %w", remotePath, err),
			IsTemporary: true,
		}
	}

	c.logger.Debug().
		Str("path", remotePath).
		Str("op", op).
		Int64("bytes", written).
		Dur("duration", time.Since(startTime)).
		Msg("Remote file read")

	return written, nil
}

// createSFTPClient opens an SFTP session on the current connection.
func (c *Client) createSFTPClient() (*sftp.Client, error) {
	sshClient, err := c.getClient()
	if err != nil {
		return nil, err
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return nil, &TransportError{
			Op:          "sftp-init",
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
		}
	}

	return sftpClient, nil
}

// copyWithContext copies data from src to dst while respecting context cancellation.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, err := src.Read(buf)
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
		if err != nil {
			if err == io.EOF {
				return written, nil
			}
			return written, err
		}
	}
}
