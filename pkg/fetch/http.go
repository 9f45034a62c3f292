package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/openfroyo/froyo-agent/pkg/engine"
)

// HTTPBackend fetches http and https locations.
type HTTPBackend struct {
	client *http.Client
}

// NewHTTPBackend creates an http backend whose requests time out after
// timeout.
func NewHTTPBackend(timeout time.Duration) *HTTPBackend {
	return &HTTPBackend{client: &http.Client{Timeout: timeout}}
}

// NewHTTPBackendWithClient creates an http backend around client.
func NewHTTPBackendWithClient(client *http.Client) *HTTPBackend {
	return &HTTPBackend{client: client}
}

// Fetch issues a GET for u. 5xx responses are transient, 429 is throttled
// and every other non-2xx status is permanent.
func (b *HTTPBackend) Fetch(ctx context.Context, u *url.URL) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, engine.NewPermanentError("invalid request", err).WithCode(engine.ErrCodeValidation)
	}
	req.Header.Set("User-Agent", "froyo-agent")

	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, engine.NewTransientError("request failed", err).WithCode(engine.ErrCodeTimeout)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, statusError(resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, engine.NewTransientError("reading body failed", err)
	}
	return data, nil
}

func statusError(code int) error {
	msg := fmt.Sprintf("unexpected status %d %s", code, http.StatusText(code))
	switch {
	case code == http.StatusTooManyRequests:
		return engine.NewThrottledError(msg, nil).WithCode(engine.ErrCodeRateLimited)
	case code >= 500:
		return engine.NewTransientError(msg, nil)
	case code == http.StatusNotFound:
		return engine.NewPermanentError(msg, nil).WithCode(engine.ErrCodeNotFound)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return engine.NewPermanentError(msg, nil).WithCode(engine.ErrCodePermissionDenied)
	default:
		return engine.NewPermanentError(msg, nil)
	}
}
