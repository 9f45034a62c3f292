package stores

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned when a module does not exist in the registry.
var ErrNotFound = errors.New("not found")

// ErrDuplicateLocation is returned when a module is already installed from
// the same location.
var ErrDuplicateLocation = errors.New("location already installed")

// EventAction names a lifecycle operation recorded in the event log
type EventAction string

const (
	EventActionInstall   EventAction = "install"
	EventActionUpdate    EventAction = "update"
	EventActionStart     EventAction = "start"
	EventActionStop      EventAction = "stop"
	EventActionUninstall EventAction = "uninstall"
	EventActionRefresh   EventAction = "refresh"
	EventActionRestore   EventAction = "restore"
)

// Module is a registry row for an installed module
type Module struct {
	ID       int64  `json:"id"`
	Location string `json:"location"`
	Name     string `json:"name"`
	Version  string `json:"version"`
	State    string `json:"state"`

	// Autostart is the persistent start setting. A transient stop leaves it set.
	Autostart bool `json:"autostart"`

	Headers     map[string]string `json:"headers"`
	Digest      string            `json:"digest"` // hex SHA-256 of the installed content
	InstalledAt time.Time         `json:"installed_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Event is an append-only lifecycle log entry
type Event struct {
	ID        int64       `json:"id"`
	ModuleID  int64       `json:"module_id"`
	Module    string      `json:"module"` // name@version at the time of the event
	Action    EventAction `json:"action"`
	FromState string      `json:"from_state,omitempty"`
	ToState   string      `json:"to_state,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Store defines the interface for the module registry
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)

	// Module operations
	CreateModule(ctx context.Context, m *Module) error
	PutBootstrap(ctx context.Context, m *Module) error
	GetModule(ctx context.Context, id int64) (*Module, error)
	GetModuleByLocation(ctx context.Context, location string) (*Module, error)
	ListModules(ctx context.Context) ([]*Module, error)
	UpdateModule(ctx context.Context, m *Module) error
	DeleteModule(ctx context.Context, id int64) error

	// Transition changes a module's state and autostart setting and logs
	// the event in one transaction.
	Transition(ctx context.Context, id int64, state string, autostart bool, event *Event) error

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	ListEvents(ctx context.Context, moduleID *int64, limit, offset int) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
