package fetch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"

	"github.com/openfroyo/froyo-agent/pkg/engine"
)

// FileBackend reads file:// locations from the local filesystem.
type FileBackend struct{}

// NewFileBackend creates a file backend.
func NewFileBackend() *FileBackend {
	return &FileBackend{}
}

// Fetch reads the file named by u.
func (b *FileBackend) Fetch(ctx context.Context, u *url.URL) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := u.Path
	if path == "" {
		path = u.Opaque
	}
	if u.Host != "" && u.Host != "localhost" {
		return nil, engine.NewPermanentError(fmt.Sprintf("remote file host %q not supported", u.Host), nil).
			WithCode(engine.ErrCodeValidation)
	}
	path = filepath.FromSlash(path)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		return data, nil
	case errors.Is(err, fs.ErrNotExist):
		return nil, engine.NewPermanentError("file not found", err).WithCode(engine.ErrCodeNotFound)
	case errors.Is(err, fs.ErrPermission):
		return nil, engine.NewPermanentError("permission denied", err).WithCode(engine.ErrCodePermissionDenied)
	default:
		return nil, engine.NewTransientError("read failed", err)
	}
}
