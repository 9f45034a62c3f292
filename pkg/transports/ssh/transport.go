// Package ssh reads remote files over SFTP for the sftp fetch backend.
package ssh

import (
	"context"
	"time"
)

// Reader is a connection that can read remote files.
type Reader interface {
	// Connect establishes the SSH connection. Calling it on a live
	// connection is a no-op.
	Connect(ctx context.Context) error

	// Disconnect closes the connection and releases all resources.
	Disconnect() error

	// IsConnected returns true if the reader has an active connection.
	IsConnected() bool

	// HealthCheck verifies the connection is still alive.
	HealthCheck(ctx context.Context) error

	// ReadFile returns the content of a remote file.
	ReadFile(ctx context.Context, remotePath string) ([]byte, error)

	// Checksum returns the hex SHA256 of a remote file, computed over the
	// SFTP stream.
	Checksum(ctx context.Context, remotePath string) (string, error)

	// GetConnectionInfo returns information about the current connection.
	GetConnectionInfo() ConnectionInfo
}

// ConnectionInfo contains details about an active SSH connection.
type ConnectionInfo struct {
	Host         string
	Port         int
	User         string
	ConnectedAt  time.Time
	LastActivity time.Time
	ViaProxy     bool
}

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "read", "stat").
	Op string

	// Err is the underlying error
	Err error

	// IsTemporary indicates if the error is temporary and can be retried
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

// Temporary reports whether retrying the operation may succeed.
func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}
