package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{Path: MemoryPath})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newModule(location, name, version string) *Module {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &Module{
		Location:    location,
		Name:        name,
		Version:     version,
		State:       "installed",
		Headers:     map[string]string{"Module-Name": name, "Module-Version": version},
		Digest:      "abc123",
		InstalledAt: now,
		UpdatedAt:   now,
	}
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestNewSQLiteStore_MemorySingleConnection(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: MemoryPath, MaxOpenConns: 10})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if store.cfg.MaxOpenConns != 1 {
		t.Errorf("expected 1 open connection for :memory:, got %d", store.cfg.MaxOpenConns)
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: MemoryPath})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("health check should fail before Init")
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"modules", "module_events"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// Running again is a no-op
	if err := store.Migrate(ctx); err != nil {
		t.Errorf("second migration failed: %v", err)
	}
}

func TestSQLiteStore_ModuleCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	m := newModule("file:///bundles/a-1.0.0.yaml", "a", "1.0.0")
	if err := store.CreateModule(ctx, m); err != nil {
		t.Fatalf("failed to create module: %v", err)
	}
	if m.ID != 1 {
		t.Errorf("expected first ID 1, got %d", m.ID)
	}

	got, err := store.GetModule(ctx, m.ID)
	if err != nil {
		t.Fatalf("failed to get module: %v", err)
	}
	if got.Name != "a" || got.Version != "1.0.0" || got.Location != m.Location {
		t.Errorf("unexpected module %+v", got)
	}
	if got.Headers["Module-Name"] != "a" {
		t.Errorf("headers not persisted: %v", got.Headers)
	}
	if !got.InstalledAt.Equal(m.InstalledAt) {
		t.Errorf("expected installed_at %v, got %v", m.InstalledAt, got.InstalledAt)
	}

	byLoc, err := store.GetModuleByLocation(ctx, m.Location)
	if err != nil {
		t.Fatalf("failed to get module by location: %v", err)
	}
	if byLoc.ID != m.ID {
		t.Errorf("expected ID %d, got %d", m.ID, byLoc.ID)
	}

	got.Version = "1.0.1"
	got.Headers["Module-Version"] = "1.0.1"
	got.UpdatedAt = time.Now().UTC()
	if err := store.UpdateModule(ctx, got); err != nil {
		t.Fatalf("failed to update module: %v", err)
	}
	updated, err := store.GetModule(ctx, m.ID)
	if err != nil {
		t.Fatalf("failed to get module: %v", err)
	}
	if updated.Version != "1.0.1" || updated.Headers["Module-Version"] != "1.0.1" {
		t.Errorf("update not persisted: %+v", updated)
	}

	if err := store.DeleteModule(ctx, m.ID); err != nil {
		t.Fatalf("failed to delete module: %v", err)
	}
	if _, err := store.GetModule(ctx, m.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.DeleteModule(ctx, m.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestSQLiteStore_CreateModule_DuplicateLocation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.CreateModule(ctx, newModule("file:///a.yaml", "a", "1.0.0")); err != nil {
		t.Fatalf("failed to create module: %v", err)
	}
	err := store.CreateModule(ctx, newModule("file:///a.yaml", "a", "1.0.0"))
	if !errors.Is(err, ErrDuplicateLocation) {
		t.Errorf("expected ErrDuplicateLocation, got %v", err)
	}
}

func TestSQLiteStore_IDsNotReused(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	a := newModule("file:///a.yaml", "a", "1.0.0")
	b := newModule("file:///b.yaml", "b", "1.0.0")
	if err := store.CreateModule(ctx, a); err != nil {
		t.Fatalf("failed to create module: %v", err)
	}
	if err := store.CreateModule(ctx, b); err != nil {
		t.Fatalf("failed to create module: %v", err)
	}
	if err := store.DeleteModule(ctx, b.ID); err != nil {
		t.Fatalf("failed to delete module: %v", err)
	}

	c := newModule("file:///c.yaml", "c", "1.0.0")
	if err := store.CreateModule(ctx, c); err != nil {
		t.Fatalf("failed to create module: %v", err)
	}
	if c.ID != 3 {
		t.Errorf("expected ID 3, got %d", c.ID)
	}
}

func TestSQLiteStore_PutBootstrap(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	boot := newModule("system:bootstrap", "froyo.system", "1.0.0")
	boot.State = "active"
	if err := store.PutBootstrap(ctx, boot); err != nil {
		t.Fatalf("failed to store bootstrap: %v", err)
	}

	boot.Version = "1.1.0"
	if err := store.PutBootstrap(ctx, boot); err != nil {
		t.Fatalf("failed to replace bootstrap: %v", err)
	}

	m := newModule("file:///a.yaml", "a", "1.0.0")
	if err := store.CreateModule(ctx, m); err != nil {
		t.Fatalf("failed to create module: %v", err)
	}
	if m.ID != 1 {
		t.Errorf("expected first regular ID 1, got %d", m.ID)
	}

	modules, err := store.ListModules(ctx)
	if err != nil {
		t.Fatalf("failed to list modules: %v", err)
	}
	if len(modules) != 2 {
		t.Fatalf("expected 2 modules, got %d", len(modules))
	}
	if modules[0].ID != 0 || modules[0].Version != "1.1.0" || !modules[0].Autostart {
		t.Errorf("unexpected bootstrap row %+v", modules[0])
	}
}

func TestSQLiteStore_Transition(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	m := newModule("file:///a.yaml", "a", "1.0.0")
	if err := store.CreateModule(ctx, m); err != nil {
		t.Fatalf("failed to create module: %v", err)
	}

	event := &Event{
		ModuleID:  m.ID,
		Module:    "a@1.0.0",
		Action:    EventActionStart,
		FromState: "installed",
		ToState:   "active",
	}
	if err := store.Transition(ctx, m.ID, "active", true, event); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if event.ID == 0 {
		t.Error("event ID should be assigned")
	}

	got, err := store.GetModule(ctx, m.ID)
	if err != nil {
		t.Fatalf("failed to get module: %v", err)
	}
	if got.State != "active" || !got.Autostart {
		t.Errorf("transition not persisted: %+v", got)
	}

	missing := &Event{ModuleID: 99, Module: "x@1.0.0", Action: EventActionStop}
	if err := store.Transition(ctx, 99, "stopped", false, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	events, err := store.ListEvents(ctx, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("failed transition must not log an event, got %d events", len(events))
	}
}

func TestSQLiteStore_Events(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i, action := range []EventAction{EventActionInstall, EventActionStart, EventActionStop} {
		moduleID := int64(1)
		if i == 2 {
			moduleID = 2
		}
		if err := store.AppendEvent(ctx, &Event{ModuleID: moduleID, Module: "m", Action: action}); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
	}

	all, err := store.ListEvents(ctx, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	if all[0].Action != EventActionInstall || all[2].Action != EventActionStop {
		t.Errorf("events not in append order: %v, %v", all[0].Action, all[2].Action)
	}

	one := int64(1)
	filtered, err := store.ListEvents(ctx, &one, 10, 0)
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(filtered) != 2 {
		t.Errorf("expected 2 events for module 1, got %d", len(filtered))
	}

	page, err := store.ListEvents(ctx, nil, 1, 1)
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(page) != 1 || page[0].Action != EventActionStart {
		t.Errorf("unexpected page %+v", page)
	}
}

func TestSQLiteStore_FilePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.db")
	ctx := context.Background()

	open := func() *SQLiteStore {
		store, err := NewSQLiteStore(Config{Path: path})
		if err != nil {
			t.Fatalf("failed to create store: %v", err)
		}
		if err := store.Init(ctx); err != nil {
			t.Fatalf("failed to initialize store: %v", err)
		}
		if err := store.Migrate(ctx); err != nil {
			t.Fatalf("failed to migrate store: %v", err)
		}
		return store
	}

	first := open()
	if err := first.CreateModule(ctx, newModule("file:///a.yaml", "a", "1.0.0")); err != nil {
		t.Fatalf("failed to create module: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	second := open()
	defer second.Close()
	modules, err := second.ListModules(ctx)
	if err != nil {
		t.Fatalf("failed to list modules: %v", err)
	}
	if len(modules) != 1 || modules[0].Name != "a" {
		t.Errorf("module not persisted: %+v", modules)
	}
}
