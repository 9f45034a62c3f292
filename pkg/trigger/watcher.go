package trigger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
	"github.com/rs/zerolog"

	"github.com/openfroyo/froyo-agent/pkg/config"
	"github.com/openfroyo/froyo-agent/pkg/engine"
	"github.com/openfroyo/froyo-agent/pkg/telemetry"
)

// DefaultDebounce is how long file changes must settle before a reload.
const DefaultDebounce = 500 * time.Millisecond

// Submitter receives freshly loaded snapshots.
type Submitter interface {
	Submit(snap *config.Snapshot)
}

// WatcherConfig configures a snapshot watcher.
type WatcherConfig struct {
	// Path is the snapshot file. Its directory is watched.
	Path string

	// Pattern filters file names in the directory. It defaults to the base
	// name of Path; a wider pattern lets sibling snapshot files trigger too.
	Pattern string

	// Debounce defaults to DefaultDebounce.
	Debounce time.Duration

	// SkipInitial suppresses the load of Path when watching starts.
	SkipInitial bool
}

// Watcher reloads snapshot files when they change on disk.
type Watcher struct {
	cfg     WatcherConfig
	dir     string
	pattern glob.Glob
	loader  *config.SnapshotLoader
	sink    Submitter
	logger  zerolog.Logger

	ready     chan struct{}
	readyOnce sync.Once
}

// NewWatcher creates a watcher that hands snapshots to sink.
func NewWatcher(cfg WatcherConfig, loader *config.SnapshotLoader, sink Submitter, logger zerolog.Logger) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, engine.NewConfigurationError("snapshot path is required", nil)
	}
	if cfg.Pattern == "" {
		cfg.Pattern = filepath.Base(cfg.Path)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	pattern, err := glob.Compile(cfg.Pattern)
	if err != nil {
		return nil, engine.NewConfigurationError("invalid snapshot pattern", err).WithResource(cfg.Pattern)
	}

	return &Watcher{
		cfg:     cfg,
		dir:     filepath.Dir(cfg.Path),
		pattern: pattern,
		loader:  loader,
		sink:    sink,
		logger:  logger.With().Str("component", "watcher").Str("dir", filepath.Dir(cfg.Path)).Logger(),
		ready:   make(chan struct{}),
	}, nil
}

// Ready is closed once the directory is being watched.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Matches reports whether a file name passes the pattern.
func (w *Watcher) Matches(name string) bool {
	return w.pattern.Match(filepath.Base(name))
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.readyOnce.Do(func() { close(w.ready) })

	w.logger.Info().Str("pattern", w.cfg.Pattern).Msg("Watching snapshot directory")

	if !w.cfg.SkipInitial {
		if _, err := os.Stat(w.cfg.Path); err == nil {
			w.load(ctx, w.cfg.Path)
		} else {
			w.logger.Warn().Err(err).Msg("Snapshot file not readable yet")
		}
	}

	var (
		timer   *time.Timer
		mu      sync.Mutex
		changed = make(map[string]bool)
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	flush := func() {
		mu.Lock()
		files := changed
		changed = make(map[string]bool)
		mu.Unlock()

		for file := range files {
			if ctx.Err() != nil {
				return
			}
			w.load(ctx, file)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !w.Matches(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				w.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Ignoring snapshot event")
				continue
			}

			w.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Snapshot changed")

			mu.Lock()
			changed[event.Name] = true
			mu.Unlock()

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.cfg.Debounce, flush)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// load reads one snapshot file and submits it. Unreadable or invalid files
// are logged and skipped.
func (w *Watcher) load(ctx context.Context, path string) {
	snap, err := w.loader.LoadFile(ctx, path)
	if err != nil {
		w.logger.Error().Err(err).Str("file", path).Msg("Failed to load snapshot")
		if t := telemetry.FromTelemetryContext(ctx); t != nil {
			t.Metrics.RecordError("snapshot", engine.CodeOf(err))
		}
		return
	}

	w.logger.Info().
		Str("file", path).
		Int("repositories", len(snap.Repositories)).
		Int("features", len(snap.Features)).
		Int("bundles", len(snap.Bundles)).
		Msg("Snapshot loaded")
	w.sink.Submit(snap)
}
