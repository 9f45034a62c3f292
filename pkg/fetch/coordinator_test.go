package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyo-agent/pkg/engine"
)

// mockFetcher serves fixed bodies and fails a location a set number of times.
type mockFetcher struct {
	mu       sync.Mutex
	bodies   map[string]string
	failures map[string]int
	failWith func(location string) error
	calls    map[string]int

	inFlight    int32
	maxInFlight int32
	delay       time.Duration
}

func newMockFetcher(bodies map[string]string) *mockFetcher {
	return &mockFetcher{
		bodies:   bodies,
		failures: make(map[string]int),
		calls:    make(map[string]int),
		failWith: func(location string) error {
			return engine.NewTransientError("connection reset", nil)
		},
	}
}

func (m *mockFetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	n := atomic.AddInt32(&m.inFlight, 1)
	defer atomic.AddInt32(&m.inFlight, -1)
	for {
		cur := atomic.LoadInt32(&m.maxInFlight)
		if n <= cur || atomic.CompareAndSwapInt32(&m.maxInFlight, cur, n) {
			break
		}
	}

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[location]++

	if m.failures[location] > 0 {
		m.failures[location]--
		return nil, m.failWith(location)
	}
	body, ok := m.bodies[location]
	if !ok {
		return nil, engine.NewNotFoundError(location)
	}
	return []byte(body), nil
}

func (m *mockFetcher) callCount(location string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[location]
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestCoordinator(f engine.Fetcher, cfg Config) *Coordinator {
	c := NewCoordinator(f, cfg, zerolog.Nop())
	c.sleep = noSleep
	return c
}

func TestCoordinator_FetchAll_Deduplicates(t *testing.T) {
	f := newMockFetcher(map[string]string{
		"file:///a.yaml": "a",
		"file:///b.yaml": "b",
	})
	c := newTestCoordinator(f, DefaultConfig())

	var notified int32
	c.OnFetched(func(*Content) { atomic.AddInt32(&notified, 1) })

	got, err := c.FetchAll(context.Background(), []string{"file:///a.yaml", "file:///b.yaml", "file:///a.yaml"})
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if f.callCount("file:///a.yaml") != 1 {
		t.Errorf("duplicate location fetched %d times", f.callCount("file:///a.yaml"))
	}
	if string(got["file:///b.yaml"].Data) != "b" {
		t.Errorf("unexpected body: %q", got["file:///b.yaml"].Data)
	}
	// sha256("a")
	if got["file:///a.yaml"].Digest != "ca978112ca1bbdcafac231b39a23dc4da786eff8147c4e72b9807785afee48bb" {
		t.Errorf("unexpected digest: %s", got["file:///a.yaml"].Digest)
	}
	if atomic.LoadInt32(&notified) != 2 {
		t.Errorf("expected 2 listener calls, got %d", notified)
	}
}

func TestCoordinator_FetchAll_RetriesTransient(t *testing.T) {
	f := newMockFetcher(map[string]string{"https://repo/a.yaml": "a"})
	f.failures["https://repo/a.yaml"] = 2
	c := newTestCoordinator(f, DefaultConfig())

	got, err := c.FetchAll(context.Background(), []string{"https://repo/a.yaml"})
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	if string(got["https://repo/a.yaml"].Data) != "a" {
		t.Errorf("unexpected body")
	}
	if n := f.callCount("https://repo/a.yaml"); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
}

func TestCoordinator_FetchAll_RetriesExhausted(t *testing.T) {
	f := newMockFetcher(map[string]string{"https://repo/a.yaml": "a"})
	f.failures["https://repo/a.yaml"] = 5
	c := newTestCoordinator(f, DefaultConfig())

	_, err := c.FetchAll(context.Background(), []string{"https://repo/a.yaml"})
	if err == nil {
		t.Fatal("expected failure")
	}
	if !engine.HasCode(err, engine.ErrCodeFetch) {
		t.Errorf("expected fetch code, got %v", err)
	}
	if !engine.IsPreMutation(err) {
		t.Error("fetch errors must be pre-mutation")
	}
	if n := f.callCount("https://repo/a.yaml"); n != 3 {
		t.Errorf("expected 1 attempt plus 2 retries, got %d", n)
	}
}

func TestCoordinator_FetchAll_PermanentNotRetried(t *testing.T) {
	f := newMockFetcher(map[string]string{})
	c := newTestCoordinator(f, DefaultConfig())

	_, err := c.FetchAll(context.Background(), []string{"file:///missing.yaml"})
	if err == nil {
		t.Fatal("expected failure")
	}
	var eerr *engine.EngineError
	if !errors.As(err, &eerr) || eerr.Resource != "file:///missing.yaml" {
		t.Errorf("expected error naming the location, got %v", err)
	}
	if n := f.callCount("file:///missing.yaml"); n != 1 {
		t.Errorf("permanent failures must not be retried, got %d attempts", n)
	}
}

func TestCoordinator_FetchAll_Parallelism(t *testing.T) {
	bodies := make(map[string]string)
	var locations []string
	for i := 0; i < 12; i++ {
		loc := fmt.Sprintf("file:///m%d.yaml", i)
		bodies[loc] = "x"
		locations = append(locations, loc)
	}
	f := newMockFetcher(bodies)
	f.delay = 10 * time.Millisecond

	cfg := DefaultConfig()
	cfg.Parallelism = 3
	c := newTestCoordinator(f, cfg)

	got, err := c.FetchAll(context.Background(), locations)
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	if len(got) != 12 {
		t.Errorf("expected 12 results, got %d", len(got))
	}
	if m := atomic.LoadInt32(&f.maxInFlight); m > 3 {
		t.Errorf("expected at most 3 concurrent fetches, saw %d", m)
	}
}

func TestCoordinator_FetchAll_Empty(t *testing.T) {
	c := newTestCoordinator(newMockFetcher(nil), DefaultConfig())

	got, err := c.FetchAll(context.Background(), nil)
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no results, got %d", len(got))
	}
}

func TestCoordinator_CalculateBackoff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseDelay = 100 * time.Millisecond
	cfg.MaxDelay = time.Second
	c := NewCoordinator(newMockFetcher(nil), cfg, zerolog.Nop())

	transient := engine.NewTransientError("x", nil)
	throttled := engine.NewThrottledError("x", nil)

	tests := []struct {
		name    string
		attempt int
		err     error
		want    time.Duration
	}{
		{"first transient", 0, transient, 112500 * time.Microsecond},
		{"second transient", 1, transient, 225 * time.Millisecond},
		{"throttled", 0, throttled, 562500 * time.Microsecond},
		{"capped", 10, transient, 1125 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.calculateBackoff(tt.attempt, tt.err); got != tt.want {
				t.Errorf("calculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}
