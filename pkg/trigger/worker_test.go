package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyo-agent/pkg/config"
	"github.com/openfroyo/froyo-agent/pkg/engine"
)

// mockReconciler records the snapshots it sees. While gate is non-nil each
// cycle blocks until the gate is released.
type mockReconciler struct {
	mu      sync.Mutex
	seen    []string
	started chan string
	gate    chan struct{}
	err     error
}

func newMockReconciler() *mockReconciler {
	return &mockReconciler{started: make(chan string, 16)}
}

func (m *mockReconciler) Reconcile(ctx context.Context, snap *config.Snapshot) error {
	m.mu.Lock()
	m.seen = append(m.seen, snap.Source)
	gate := m.gate
	m.mu.Unlock()

	m.started <- snap.Source
	if gate != nil {
		<-gate
	}
	return m.err
}

func (m *mockReconciler) sources() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.seen...)
}

func waitStarted(t *testing.T, m *mockReconciler, want string) {
	t.Helper()
	select {
	case got := <-m.started:
		if got != want {
			t.Fatalf("expected cycle for %s, got %s", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("cycle for %s did not start", want)
	}
}

func snapshot(source string) *config.Snapshot {
	return &config.Snapshot{Source: source, Features: []string{"demo"}, Keys: 1}
}

func TestWorker_RunsSubmittedSnapshot(t *testing.T) {
	rec := newMockReconciler()
	w := NewWorker(rec, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	w.Submit(snapshot("a"))
	waitStarted(t, rec, "a")

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorker_LastSnapshotWins(t *testing.T) {
	rec := newMockReconciler()
	rec.gate = make(chan struct{})
	w := NewWorker(rec, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	w.Submit(snapshot("s1"))
	waitStarted(t, rec, "s1")

	// s1 is running; s2 is superseded before the worker is free.
	w.Submit(snapshot("s2"))
	w.Submit(snapshot("s3"))
	if !w.Pending() {
		t.Fatal("expected a pending snapshot")
	}

	rec.mu.Lock()
	gate := rec.gate
	rec.gate = nil
	rec.mu.Unlock()
	close(gate)

	waitStarted(t, rec, "s3")

	got := rec.sources()
	if len(got) != 2 || got[0] != "s1" || got[1] != "s3" {
		t.Errorf("expected cycles [s1 s3], got %v", got)
	}
	if w.Pending() {
		t.Error("mailbox should be empty")
	}
}

func TestWorker_FailureDoesNotStop(t *testing.T) {
	rec := newMockReconciler()
	rec.err = engine.NewResolutionError("no candidates", nil)
	w := NewWorker(rec, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	w.Submit(snapshot("bad"))
	waitStarted(t, rec, "bad")
	w.Submit(snapshot("next"))
	waitStarted(t, rec, "next")
}

func TestWorker_Stop(t *testing.T) {
	w := NewWorker(newMockReconciler(), zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	w.Stop()
	w.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil error after Stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorker_SubmitNil(t *testing.T) {
	w := NewWorker(newMockReconciler(), zerolog.Nop())
	w.Submit(nil)
	if w.Pending() {
		t.Error("nil snapshot must be ignored")
	}
}
