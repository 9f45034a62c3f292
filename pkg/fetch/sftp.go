package fetch

import (
	"context"
	"errors"
	"net/url"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyo-agent/pkg/engine"
	"github.com/openfroyo/froyo-agent/pkg/transports/ssh"
)

// SFTPBackend fetches sftp:// locations. One connection is kept per
// user, host and port.
type SFTPBackend struct {
	base   *ssh.Config
	logger zerolog.Logger

	mu      sync.Mutex
	clients map[string]ssh.Reader

	// dial is replaced in tests.
	dial func(cfg *ssh.Config, logger zerolog.Logger) (ssh.Reader, error)
}

// NewSFTPBackend creates an sftp backend. base supplies authentication,
// host key checking and timeouts.
func NewSFTPBackend(base *ssh.Config, logger zerolog.Logger) *SFTPBackend {
	if base == nil {
		base = ssh.DefaultConfig("", "froyo")
	}
	return &SFTPBackend{
		base:    base,
		logger:  logger.With().Str("component", "fetch.sftp").Logger(),
		clients: make(map[string]ssh.Reader),
		dial: func(cfg *ssh.Config, logger zerolog.Logger) (ssh.Reader, error) {
			return ssh.NewClient(cfg, logger)
		},
	}
}

// Fetch reads the remote file named by u.
func (b *SFTPBackend) Fetch(ctx context.Context, u *url.URL) ([]byte, error) {
	reader, err := b.reader(ctx, u)
	if err != nil {
		return nil, err
	}

	data, err := reader.ReadFile(ctx, u.Path)
	if err != nil {
		return nil, classify("sftp read failed", err)
	}
	return data, nil
}

func (b *SFTPBackend) reader(ctx context.Context, u *url.URL) (ssh.Reader, error) {
	cfg, err := b.base.ForURL(u)
	if err != nil {
		return nil, engine.NewPermanentError("invalid sftp location", err).WithCode(engine.ErrCodeValidation)
	}
	key := cfg.User + "@" + cfg.Address()

	b.mu.Lock()
	defer b.mu.Unlock()

	reader, ok := b.clients[key]
	if !ok {
		reader, err = b.dial(cfg, b.logger)
		if err != nil {
			return nil, engine.NewPermanentError("invalid sftp configuration", err).WithCode(engine.ErrCodeValidation)
		}
		b.clients[key] = reader
	}

	if err := reader.Connect(ctx); err != nil {
		return nil, classify("sftp connect failed", err)
	}
	return reader, nil
}

// Close disconnects every cached connection.
func (b *SFTPBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	for key, reader := range b.clients {
		if err := reader.Disconnect(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(b.clients, key)
	}
	return firstErr
}

// classify maps a transport error onto the engine error classes.
func classify(message string, err error) error {
	var terr *ssh.TransportError
	if errors.As(err, &terr) {
		switch {
		case terr.IsAuthError:
			return engine.NewPermanentError(message, err).WithCode(engine.ErrCodePermissionDenied)
		case terr.Temporary():
			return engine.NewTransientError(message, err)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return engine.NewPermanentError(message, err)
}
