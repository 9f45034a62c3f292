package engine

import "context"

// Runtime is the live modular runtime the agent converges.
//
// Implementations must report a missing module with an EngineError carrying
// ErrCodeNotFound so that re-applied deletes are no-ops.
type Runtime interface {
	// Modules returns a point-in-time snapshot of every installed module,
	// including the bootstrap module (ID 0).
	Modules(ctx context.Context) ([]ModuleRecord, error)

	// SystemCapabilities returns what the runtime itself provides.
	SystemCapabilities(ctx context.Context) ([]Capability, error)

	// Install creates a new module from artifact content.
	Install(ctx context.Context, location string, content []byte) (ModuleRecord, error)

	// Update replaces the content of an existing module in place.
	Update(ctx context.Context, id int64, content []byte) (ModuleRecord, error)

	// Stop stops a module. A transient stop is not remembered across
	// runtime restarts.
	Stop(ctx context.Context, id int64, transient bool) error

	// Uninstall removes a module.
	Uninstall(ctx context.Context, id int64) error

	// Start activates a module.
	Start(ctx context.Context, id int64) error

	// Refresh rewires the given modules. Completion is signalled
	// asynchronously to listeners registered with OnRefreshed.
	Refresh(ctx context.Context, ids []int64) error

	// OnRefreshed registers a listener for refresh completion and returns a
	// function that removes it.
	OnRefreshed(fn func(ids []int64)) (cancel func())
}

// Fetcher retrieves the bytes behind a location.
type Fetcher interface {
	Fetch(ctx context.Context, location string) ([]byte, error)
}

// PolicyEngine guards plans before they are executed.
type PolicyEngine interface {
	EvaluatePlan(ctx context.Context, plan *Plan) (*PolicyResult, error)
}
