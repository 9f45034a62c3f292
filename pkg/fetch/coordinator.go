package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/froyo-agent/pkg/engine"
)

// Content is the fetched body of one location.
type Content struct {
	Location string
	Data     []byte

	// Digest is the hex SHA256 of Data.
	Digest string
}

// Listener is notified after each successful fetch.
type Listener func(*Content)

// Coordinator fetches locations with retries and bounded parallelism.
type Coordinator struct {
	fetcher engine.Fetcher
	config  Config
	logger  zerolog.Logger

	mu        sync.RWMutex
	listeners []Listener

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewCoordinator wraps fetcher. Zero config fields fall back to
// DefaultConfig.
func NewCoordinator(fetcher engine.Fetcher, cfg Config, logger zerolog.Logger) *Coordinator {
	def := DefaultConfig()
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = def.Parallelism
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	return &Coordinator{
		fetcher: fetcher,
		config:  cfg,
		logger:  logger.With().Str("component", "fetch").Logger(),
		sleep:   sleepContext,
	}
}

// OnFetched registers a listener for completed fetches. Listeners run on
// the fetching goroutine.
func (c *Coordinator) OnFetched(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Fetch implements engine.Fetcher with retries. Failures are Fetch errors.
func (c *Coordinator) Fetch(ctx context.Context, location string) ([]byte, error) {
	content, err := c.fetchOne(ctx, location)
	if err != nil {
		return nil, err
	}
	return content.Data, nil
}

// FetchAll fetches every distinct location in parallel. It returns when all
// fetches have finished. The first failure cancels the others and is
// returned as a Fetch error.
func (c *Coordinator) FetchAll(ctx context.Context, locations []string) (map[string]*Content, error) {
	unique := make([]string, 0, len(locations))
	seen := make(map[string]bool, len(locations))
	for _, loc := range locations {
		if seen[loc] {
			continue
		}
		seen[loc] = true
		unique = append(unique, loc)
	}

	results := make(map[string]*Content, len(unique))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.Parallelism)

	for _, loc := range unique {
		g.Go(func() error {
			content, err := c.fetchOne(gctx, loc)
			if err != nil {
				return err
			}
			mu.Lock()
			results[loc] = content
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	c.logger.Debug().Int("locations", len(unique)).Msg("Fetch batch complete")
	return results, nil
}

func (c *Coordinator) fetchOne(ctx context.Context, location string) (*Content, error) {
	var data []byte
	var err error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		data, err = c.fetcher.Fetch(ctx, location)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, engine.NewFetchError(location, ctx.Err())
		}
		if !engine.IsRetryable(err) || attempt >= c.config.MaxRetries {
			break
		}

		delay := c.calculateBackoff(attempt, err)
		c.logger.Debug().
			Err(err).
			Str("location", location).
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Msg("Retrying fetch")

		if serr := c.sleep(ctx, delay); serr != nil {
			return nil, engine.NewFetchError(location, serr)
		}
	}
	if err != nil {
		return nil, engine.NewFetchError(location, err)
	}

	sum := sha256.Sum256(data)
	content := &Content{
		Location: location,
		Data:     data,
		Digest:   hex.EncodeToString(sum[:]),
	}

	c.mu.RLock()
	listeners := c.listeners
	c.mu.RUnlock()
	for _, l := range listeners {
		l(content)
	}

	return content, nil
}

// calculateBackoff returns the delay before retry attempt+1. Throttled
// errors start from a longer base.
func (c *Coordinator) calculateBackoff(attempt int, err error) time.Duration {
	base := c.config.BaseDelay
	if engine.IsThrottled(err) {
		base *= 5
	} else if engine.IsConflict(err) {
		base *= 2
	}

	delay := base * time.Duration(math.Pow(2, float64(attempt)))
	if delay > c.config.MaxDelay {
		delay = c.config.MaxDelay
	}

	// Fixed +12.5% jitter.
	return delay + delay/8
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ engine.Fetcher = (*Coordinator)(nil)
