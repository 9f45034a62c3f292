package trigger

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyo-agent/pkg/config"
	"github.com/openfroyo/froyo-agent/pkg/engine"
	"github.com/openfroyo/froyo-agent/pkg/telemetry"
)

// Reconciler runs one reconciliation cycle for a snapshot.
type Reconciler interface {
	Reconcile(ctx context.Context, snap *config.Snapshot) error
}

// ReconcileFunc adapts a function to the Reconciler interface.
type ReconcileFunc func(ctx context.Context, snap *config.Snapshot) error

// Reconcile calls f.
func (f ReconcileFunc) Reconcile(ctx context.Context, snap *config.Snapshot) error {
	return f(ctx, snap)
}

// Worker runs reconciliation cycles one at a time. It holds at most one
// pending snapshot; a newer submission replaces an older one that has not
// started yet.
type Worker struct {
	reconciler Reconciler
	logger     zerolog.Logger

	mu      sync.Mutex
	pending *config.Snapshot
	metrics *telemetry.Metrics

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a worker for r.
func NewWorker(r Reconciler, logger zerolog.Logger) *Worker {
	return &Worker{
		reconciler: r,
		logger:     logger.With().Str("component", "worker").Logger(),
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}
}

// Submit queues snap for the next cycle. It never blocks and never
// interrupts a running cycle.
func (w *Worker) Submit(snap *config.Snapshot) {
	if snap == nil {
		return
	}

	w.mu.Lock()
	if w.pending != nil {
		w.logger.Debug().
			Str("dropped", w.pending.Source).
			Str("source", snap.Source).
			Msg("Pending snapshot replaced")
	}
	w.pending = snap
	w.metrics.SetPendingSnapshots(1)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Pending reports whether a snapshot is waiting.
func (w *Worker) Pending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending != nil
}

// Run processes snapshots until ctx is done or Stop is called. A cycle in
// progress always finishes first.
func (w *Worker) Run(ctx context.Context) error {
	if t := telemetry.FromTelemetryContext(ctx); t != nil {
		w.mu.Lock()
		w.metrics = t.Metrics
		w.mu.Unlock()
	}

	w.logger.Info().Msg("Worker started")
	defer w.logger.Info().Msg("Worker stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case <-w.wake:
		}

		snap := w.take()
		if snap == nil {
			continue
		}
		w.cycle(ctx, snap)
	}
}

// Stop ends Run after the current cycle.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *Worker) take() *config.Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := w.pending
	w.pending = nil
	w.metrics.SetPendingSnapshots(0)
	return snap
}

// cycle runs one reconciliation. Failures are only logged; the next
// snapshot is the retry.
func (w *Worker) cycle(ctx context.Context, snap *config.Snapshot) {
	logger := w.logger.With().Str("source", snap.Source).Logger()
	logger.Debug().Int("keys", snap.Keys).Msg("Reconciling snapshot")

	if err := w.reconciler.Reconcile(ctx, snap); err != nil {
		logger.Error().
			Err(err).
			Str("error_code", engine.CodeOf(err)).
			Bool("pre_mutation", engine.IsPreMutation(err)).
			Msg("Reconciliation failed")
		return
	}
	logger.Debug().Msg("Reconciliation finished")
}
