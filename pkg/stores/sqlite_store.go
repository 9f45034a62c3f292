package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath opens a private in-memory registry.
const MemoryPath = ":memory:"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	// Every connection to :memory: is a separate database.
	if cfg.Path == MemoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// dsn builds the modernc connection string.
func (s *SQLiteStore) dsn() string {
	params := []string{
		"_pragma=foreign_keys(1)",
		fmt.Sprintf("_pragma=busy_timeout(%d)", s.cfg.BusyTimeout.Milliseconds()),
		"_pragma=synchronous(NORMAL)",
		"_time_format=sqlite",
		"_txlock=immediate",
	}
	if s.cfg.Path != MemoryPath {
		params = append(params, "_pragma=journal_mode(WAL)")
	}
	return "file:" + s.cfg.Path + "?" + strings.Join(params, "&")
}

// Init opens the database connection.
func (s *SQLiteStore) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

const moduleColumns = `id, location, name, version, state, autostart, headers, digest, installed_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanModule(row rowScanner) (*Module, error) {
	m := &Module{}
	var headers string
	err := row.Scan(
		&m.ID,
		&m.Location,
		&m.Name,
		&m.Version,
		&m.State,
		&m.Autostart,
		&headers,
		&m.Digest,
		&m.InstalledAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(headers), &m.Headers); err != nil {
		return nil, fmt.Errorf("module %d: invalid headers: %w", m.ID, err)
	}
	return m, nil
}

func encodeHeaders(h map[string]string) (string, error) {
	if h == nil {
		h = map[string]string{}
	}
	b, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("failed to encode headers: %w", err)
	}
	return string(b), nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// CreateModule inserts a module and assigns its ID
func (s *SQLiteStore) CreateModule(ctx context.Context, m *Module) error {
	headers, err := encodeHeaders(m.Headers)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO modules (location, name, version, state, autostart, headers, digest, installed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		m.Location,
		m.Name,
		m.Version,
		m.State,
		m.Autostart,
		headers,
		m.Digest,
		m.InstalledAt,
		m.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateLocation, m.Location)
	}
	if err != nil {
		return fmt.Errorf("failed to create module: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get module ID: %w", err)
	}

	m.ID = id
	return nil
}

// PutBootstrap inserts or replaces the bootstrap module, which always has ID 0
func (s *SQLiteStore) PutBootstrap(ctx context.Context, m *Module) error {
	headers, err := encodeHeaders(m.Headers)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO modules (id, location, name, version, state, autostart, headers, digest, installed_at, updated_at)
		VALUES (0, ?, ?, ?, ?, 1, ?, '', ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			location = excluded.location,
			name = excluded.name,
			version = excluded.version,
			state = excluded.state,
			headers = excluded.headers,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		m.Location,
		m.Name,
		m.Version,
		m.State,
		headers,
		m.InstalledAt,
		m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store bootstrap module: %w", err)
	}

	m.ID = 0
	m.Autostart = true
	return nil
}

// GetModule retrieves a module by ID
func (s *SQLiteStore) GetModule(ctx context.Context, id int64) (*Module, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+moduleColumns+` FROM modules WHERE id = ?`, id)

	m, err := scanModule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: module %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get module: %w", err)
	}

	return m, nil
}

// GetModuleByLocation retrieves a module by its install location
func (s *SQLiteStore) GetModuleByLocation(ctx context.Context, location string) (*Module, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+moduleColumns+` FROM modules WHERE location = ?`, location)

	m, err := scanModule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: module at %s", ErrNotFound, location)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get module: %w", err)
	}

	return m, nil
}

// ListModules lists all modules ordered by ID
func (s *SQLiteStore) ListModules(ctx context.Context) ([]*Module, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+moduleColumns+` FROM modules ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list modules: %w", err)
	}
	defer rows.Close()

	modules := []*Module{}
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan module: %w", err)
		}
		modules = append(modules, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating modules: %w", err)
	}

	return modules, nil
}

// UpdateModule replaces the content columns of a module. The location and
// install time never change.
func (s *SQLiteStore) UpdateModule(ctx context.Context, m *Module) error {
	headers, err := encodeHeaders(m.Headers)
	if err != nil {
		return err
	}

	query := `
		UPDATE modules
		SET name = ?, version = ?, state = ?, autostart = ?, headers = ?, digest = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		m.Name,
		m.Version,
		m.State,
		m.Autostart,
		headers,
		m.Digest,
		m.UpdatedAt,
		m.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update module: %w", err)
	}

	return requireOne(result, m.ID)
}

// DeleteModule deletes a module by ID
func (s *SQLiteStore) DeleteModule(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM modules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete module: %w", err)
	}

	return requireOne(result, id)
}

func requireOne(result sql.Result, id int64) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: module %d", ErrNotFound, id)
	}
	return nil
}

// Transition updates the state and autostart setting of a module and appends
// the event in one transaction.
func (s *SQLiteStore) Transition(ctx context.Context, id int64, state string, autostart bool, event *Event) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx,
		`UPDATE modules SET state = ?, autostart = ?, updated_at = ? WHERE id = ?`,
		state, autostart, event.Timestamp, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update module state: %w", err)
	}
	if err := requireOne(result, id); err != nil {
		return err
	}

	if err := appendEvent(ctx, tx, event); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// AppendEvent appends an event to the lifecycle log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	return appendEvent(ctx, s.db, event)
}

func appendEvent(ctx context.Context, db execer, event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	query := `
		INSERT INTO module_events (module_id, module, action, from_state, to_state, message, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := db.ExecContext(ctx, query,
		event.ModuleID,
		event.Module,
		event.Action,
		event.FromState,
		event.ToState,
		event.Message,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// ListEvents lists lifecycle events oldest first, optionally for one module
func (s *SQLiteStore) ListEvents(ctx context.Context, moduleID *int64, limit, offset int) ([]*Event, error) {
	query := `
		SELECT id, module_id, module, action, from_state, to_state, message, timestamp
		FROM module_events
		WHERE (? IS NULL OR module_id = ?)
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, moduleID, moduleID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.ModuleID,
			&event.Module,
			&event.Action,
			&event.FromState,
			&event.ToState,
			&event.Message,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
