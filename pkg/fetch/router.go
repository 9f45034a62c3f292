package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyo-agent/pkg/engine"
	"github.com/openfroyo/froyo-agent/pkg/telemetry"
)

// Backend fetches locations of one URL scheme.
type Backend interface {
	Fetch(ctx context.Context, u *url.URL) ([]byte, error)
}

// Closer is implemented by backends that hold connections.
type Closer interface {
	Close() error
}

// Router dispatches a location to the backend registered for its scheme.
type Router struct {
	mu       sync.RWMutex
	backends map[string]Backend
	logger   zerolog.Logger
}

// NewRouter creates a router with no backends.
func NewRouter(logger zerolog.Logger) *Router {
	return &Router{
		backends: make(map[string]Backend),
		logger:   logger.With().Str("component", "fetch").Logger(),
	}
}

// NewDefaultRouter creates a router with the file, http(s) and sftp backends.
func NewDefaultRouter(cfg Config, logger zerolog.Logger) *Router {
	r := NewRouter(logger)
	r.Register("file", NewFileBackend())
	httpBackend := NewHTTPBackend(cfg.HTTPTimeout)
	r.Register("http", httpBackend)
	r.Register("https", httpBackend)
	r.Register("sftp", NewSFTPBackend(cfg.SFTP, logger))
	return r
}

// Register installs b for scheme, replacing any previous backend.
func (r *Router) Register(scheme string, b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[strings.ToLower(scheme)] = b
}

// Fetch implements engine.Fetcher.
func (r *Router) Fetch(ctx context.Context, location string) ([]byte, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, engine.NewPermanentError("invalid location", err).
			WithCode(engine.ErrCodeValidation).
			WithResource(location)
	}
	scheme := strings.ToLower(u.Scheme)

	r.mu.RLock()
	b, ok := r.backends[scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, engine.NewPermanentError(fmt.Sprintf("unsupported scheme %q", u.Scheme), nil).
			WithCode(engine.ErrCodeValidation).
			WithResource(location)
	}

	var data []byte
	err = telemetry.RecordFetchOperation(ctx, location, scheme, func(ctx context.Context) error {
		var ferr error
		data, ferr = b.Fetch(ctx, u)
		return ferr
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debug().Str("location", location).Int("bytes", len(data)).Msg("Fetched")
	return data, nil
}

// Close releases every backend that holds connections.
func (r *Router) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var firstErr error
	seen := make(map[Backend]bool)
	for _, b := range r.backends {
		if seen[b] {
			continue
		}
		seen[b] = true
		if c, ok := b.(Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

var _ engine.Fetcher = (*Router)(nil)
