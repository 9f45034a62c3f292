package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyo-agent/pkg/semver"
	"github.com/openfroyo/froyo-agent/pkg/telemetry"
)

// DefaultRefreshTimeout bounds the wait for the runtime's refresh signal.
const DefaultRefreshTimeout = 5 * time.Second

// ExecutorConfig configures plan execution.
type ExecutorConfig struct {
	// RefreshTimeout bounds the wait for refresh completion. Zero selects
	// DefaultRefreshTimeout.
	RefreshTimeout time.Duration
}

// Executor applies a plan to the live runtime.
type Executor struct {
	runtime        Runtime
	logger         zerolog.Logger
	refreshTimeout time.Duration
}

// NewExecutor creates a new executor for the given runtime.
func NewExecutor(rt Runtime, cfg ExecutorConfig, logger zerolog.Logger) *Executor {
	timeout := cfg.RefreshTimeout
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}
	return &Executor{
		runtime:        rt,
		logger:         logger.With().Str("component", "executor").Logger(),
		refreshTimeout: timeout,
	}
}

// execution is the transient state of one Execute call.
type execution struct {
	plan     *Plan
	contents map[string][]byte
	result   *ExecutionResult

	refresh *idSet
	restart *idSet

	// touched maps refresh-set module names to the version they carry after
	// the mutation steps. Deleted modules keep their old version.
	touched map[string]semver.Version

	// kinds remembers the kind of every module the cycle updated or installed.
	kinds map[int64]ModuleKind
}

// Execute runs the plan in strict step order: delete, update, install,
// extension propagation, optional-capability propagation, refresh, start.
//
// contents maps each update and install location to the artifact bytes.
// There is no rollback: a failing step returns an Execution error and the
// runtime may be left in a mixed state for the next cycle to converge.
func (e *Executor) Execute(ctx context.Context, plan *Plan, contents map[string][]byte) (*ExecutionResult, error) {
	x := &execution{
		plan:     plan,
		contents: contents,
		result: &ExecutionResult{
			PlanID:     plan.ID,
			RefreshSet: make([]int64, 0),
			Started:    make([]int64, 0),
			StepCounts: make(map[Step]int, len(Steps)),
			StartedAt:  time.Now(),
		},
		refresh: newIDSet(),
		restart: newIDSet(),
		touched: make(map[string]semver.Version),
		kinds:   make(map[int64]ModuleKind),
	}
	defer func() { x.result.Duration = time.Since(x.result.StartedAt) }()

	if plan.Empty() {
		e.logger.Debug().Str("plan_id", plan.ID).Msg("Plan is empty, nothing to execute")
		return x.result, nil
	}

	steps := []struct {
		step Step
		run  func(context.Context, *execution) error
	}{
		{StepDelete, e.deleteModules},
		{StepUpdate, e.updateModules},
		{StepInstall, e.installModules},
		{StepPropagateExtensions, e.propagateExtensions},
		{StepPropagateOptional, e.propagateOptional},
		{StepRefresh, e.refreshModules},
		{StepStart, e.startModules},
	}

	for _, s := range steps {
		stepCtx := telemetry.WithStepContext(ctx, plan.ID, string(s.step))
		err := s.run(stepCtx, x)
		telemetry.EndStepContext(stepCtx, plan.ID, string(s.step), x.result.StepCounts[s.step], err)
		if err != nil {
			x.result.RefreshSet = x.refresh.list()
			return x.result, err
		}
	}

	x.result.RefreshSet = x.refresh.list()

	e.logger.Info().
		Str("plan_id", plan.ID).
		Int("refreshed", len(x.result.RefreshSet)).
		Int("started", len(x.result.Started)).
		Bool("refresh_timed_out", x.result.RefreshTimedOut).
		Msg("Plan executed")

	return x.result, nil
}

func (e *Executor) deleteModules(ctx context.Context, x *execution) error {
	for _, mod := range x.plan.Delete {
		log := e.stepLogger(StepDelete, mod.String())
		err := e.runtime.Uninstall(ctx, mod.ID)
		switch {
		case err == nil:
			log.Info().Int64("module_id", mod.ID).Msg("Module uninstalled")
		case HasCode(err, ErrCodeNotFound):
			log.Debug().Int64("module_id", mod.ID).Msg("Module already gone")
		default:
			log.Error().Err(err).Int64("module_id", mod.ID).Msg("Uninstall failed")
			return NewExecutionError(StepDelete, mod.String(), err)
		}
		x.refresh.add(mod.ID)
		x.touched[mod.Name] = mod.Version
		x.result.StepCounts[StepDelete]++
	}
	return nil
}

func (e *Executor) updateModules(ctx context.Context, x *execution) error {
	for _, pair := range x.plan.Update {
		log := e.stepLogger(StepUpdate, pair.Desired.String())

		content, ok := x.contents[pair.Desired.Location]
		if !ok {
			return NewExecutionError(StepUpdate, pair.Desired.String(),
				fmt.Errorf("no content for %s", pair.Desired.Location))
		}

		if err := e.runtime.Stop(ctx, pair.Installed.ID, true); err != nil {
			log.Error().Err(err).Int64("module_id", pair.Installed.ID).Msg("Transient stop failed")
			return NewExecutionError(StepUpdate, pair.Installed.String(), err)
		}

		rec, err := e.runtime.Update(ctx, pair.Installed.ID, content)
		if err != nil {
			log.Error().Err(err).Int64("module_id", pair.Installed.ID).Msg("Update failed")
			return NewExecutionError(StepUpdate, pair.Desired.String(), err)
		}

		log.Info().
			Int64("module_id", rec.ID).
			Str("from", pair.Installed.Version.String()).
			Str("to", rec.Version.String()).
			Msg("Module updated")

		x.mark(rec)
		x.result.StepCounts[StepUpdate]++
	}
	return nil
}

func (e *Executor) installModules(ctx context.Context, x *execution) error {
	for _, art := range x.plan.Install {
		log := e.stepLogger(StepInstall, art.String())

		content, ok := x.contents[art.Location]
		if !ok {
			return NewExecutionError(StepInstall, art.String(), fmt.Errorf("no content for %s", art.Location))
		}

		rec, err := e.runtime.Install(ctx, art.Location, content)
		if err != nil {
			log.Error().Err(err).Str("location", art.Location).Msg("Install failed")
			return NewExecutionError(StepInstall, art.String(), err)
		}

		log.Info().Int64("module_id", rec.ID).Str("location", art.Location).Msg("Module installed")

		x.mark(rec)
		x.result.Installed = append(x.result.Installed, rec)
		x.result.StepCounts[StepInstall]++
	}
	return nil
}

// propagateExtensions adds every extension whose host is in the refresh set
// and whose host range still accepts the host's version.
func (e *Executor) propagateExtensions(ctx context.Context, x *execution) error {
	modules, err := e.runtime.Modules(ctx)
	if err != nil {
		return NewExecutionError(StepPropagateExtensions, "", err)
	}

	for _, mod := range modules {
		if mod.IsBootstrap() || !mod.State.IsPresent() || x.refresh.has(mod.ID) {
			continue
		}
		ext, ok := mod.Extension()
		if !ok {
			continue
		}
		hostVersion, ok := x.touched[ext.Host]
		if !ok || !ext.HostRange.Contains(hostVersion) {
			continue
		}
		log := e.stepLogger(StepPropagateExtensions, mod.String())
		log.Debug().
			Str("host", ext.Host).
			Msg("Extension host refreshed, refreshing extension")
		x.refresh.add(mod.ID)
		x.result.StepCounts[StepPropagateExtensions]++
	}
	return nil
}

// propagateOptional adds every module with an optional requirement that one
// of the refreshed modules still present in the runtime can now satisfy.
func (e *Executor) propagateOptional(ctx context.Context, x *execution) error {
	modules, err := e.runtime.Modules(ctx)
	if err != nil {
		return NewExecutionError(StepPropagateOptional, "", err)
	}

	var offerings []Capability
	for _, mod := range modules {
		if mod.State.IsPresent() && x.refresh.has(mod.ID) {
			offerings = append(offerings, mod.Provides...)
		}
	}
	if len(offerings) == 0 {
		return nil
	}

	for _, mod := range modules {
		if mod.IsBootstrap() || !mod.State.IsPresent() || x.refresh.has(mod.ID) {
			continue
		}
		if req, ok := matchOptional(mod.Requires, offerings); ok {
			log := e.stepLogger(StepPropagateOptional, mod.String())
			log.Debug().
				Str("requirement", req.String()).
				Msg("Optional requirement newly satisfiable, refreshing module")
			x.refresh.add(mod.ID)
			x.result.StepCounts[StepPropagateOptional]++
		}
	}
	return nil
}

// refreshModules asks the runtime to rewire the refresh set and waits for the
// completion signal. A missed signal is not an error.
func (e *Executor) refreshModules(ctx context.Context, x *execution) error {
	if x.refresh.len() == 0 {
		return nil
	}
	ids := x.refresh.list()

	done := make(chan struct{})
	var once sync.Once
	cancel := e.runtime.OnRefreshed(func([]int64) {
		once.Do(func() { close(done) })
	})
	defer cancel()

	start := time.Now()
	if err := e.runtime.Refresh(ctx, ids); err != nil {
		e.logger.Error().Err(err).Str("step", string(StepRefresh)).Msg("Refresh failed")
		return NewExecutionError(StepRefresh, "", err)
	}
	x.result.StepCounts[StepRefresh] = len(ids)

	timer := time.NewTimer(e.refreshTimeout)
	defer timer.Stop()

	select {
	case <-done:
		e.logger.Debug().
			Str("step", string(StepRefresh)).
			Int("modules", len(ids)).
			Dur("duration", time.Since(start)).
			Msg("Refresh completed")
	case <-timer.C:
		x.result.RefreshTimedOut = true
		e.logger.Info().
			Str("step", string(StepRefresh)).
			Int("modules", len(ids)).
			Dur("timeout", e.refreshTimeout).
			Msg("Refresh not confirmed in time, continuing")
	case <-ctx.Done():
		return NewExecutionError(StepRefresh, "", ctx.Err())
	}
	telemetry.RecordRefreshWait(ctx, time.Since(start), x.result.RefreshTimedOut)
	return nil
}

// startModules starts every restart-marked module that is not an extension.
func (e *Executor) startModules(ctx context.Context, x *execution) error {
	for _, id := range x.restart.list() {
		if _, isExt := x.kinds[id].(Extension); isExt {
			continue
		}
		if err := e.runtime.Start(ctx, id); err != nil {
			e.logger.Error().Err(err).Str("step", string(StepStart)).Int64("module_id", id).Msg("Start failed")
			return NewExecutionError(StepStart, fmt.Sprintf("%d", id), err)
		}
		x.result.Started = append(x.result.Started, id)
		x.result.StepCounts[StepStart]++
	}
	return nil
}

func (e *Executor) stepLogger(step Step, module string) zerolog.Logger {
	return e.logger.With().Str("step", string(step)).Str("module", module).Logger()
}

// mark records an updated or installed module for refresh and restart.
func (x *execution) mark(rec ModuleRecord) {
	x.refresh.add(rec.ID)
	x.restart.add(rec.ID)
	x.touched[rec.Name] = rec.Version
	kind := rec.Kind
	if kind == nil {
		kind = Standalone{}
	}
	x.kinds[rec.ID] = kind
}

func matchOptional(reqs []Requirement, offerings []Capability) (Requirement, bool) {
	for _, req := range reqs {
		if !req.Optional {
			continue
		}
		for _, offer := range offerings {
			if req.Matches(offer) {
				return req, true
			}
		}
	}
	return Requirement{}, false
}

// idSet is an insertion-ordered set of module IDs.
type idSet struct {
	order []int64
	seen  map[int64]bool
}

func newIDSet() *idSet {
	return &idSet{seen: make(map[int64]bool)}
}

func (s *idSet) add(id int64) {
	if s.seen[id] {
		return
	}
	s.seen[id] = true
	s.order = append(s.order, id)
}

func (s *idSet) has(id int64) bool { return s.seen[id] }
func (s *idSet) len() int          { return len(s.order) }

func (s *idSet) list() []int64 {
	out := make([]int64, len(s.order))
	copy(out, s.order)
	return out
}
