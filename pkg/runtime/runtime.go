package runtime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyo-agent/pkg/config"
	"github.com/openfroyo/froyo-agent/pkg/engine"
	"github.com/openfroyo/froyo-agent/pkg/stores"
	"github.com/openfroyo/froyo-agent/pkg/telemetry"
)

// LocalRuntime implements engine.Runtime on top of a module registry.
type LocalRuntime struct {
	store   stores.Store
	decoder *config.Decoder
	logger  zerolog.Logger

	// signals carries refresh completion to OnRefreshed listeners. It is
	// owned by the runtime so listeners work whatever telemetry is configured.
	signals *telemetry.EventPublisher

	// mu serializes mutations and wiring evaluation.
	mu     sync.Mutex
	wiring *wiring

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ engine.Runtime = (*LocalRuntime)(nil)

// Open prepares the registry, records the bootstrap module and restores
// every module whose autostart setting is on.
func Open(ctx context.Context, store stores.Store, cfg Config, logger zerolog.Logger) (*LocalRuntime, error) {
	headers, err := cfg.bootstrapHeaders()
	if err != nil {
		return nil, err
	}

	w, err := newWiring()
	if err != nil {
		return nil, err
	}

	signals, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true})
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh publisher: %w", err)
	}

	if err := store.Migrate(ctx); err != nil {
		return nil, engine.NewConfigurationError("failed to migrate module registry", err)
	}

	now := time.Now().UTC()
	boot := &stores.Module{
		ID:          0,
		Location:    BootstrapLocation,
		Name:        headers[engine.HeaderModuleName],
		Version:     headers[engine.HeaderModuleVersion],
		State:       string(engine.ModuleStateActive),
		Autostart:   true,
		Headers:     headers,
		InstalledAt: now,
		UpdatedAt:   now,
	}
	if err := store.PutBootstrap(ctx, boot); err != nil {
		return nil, fmt.Errorf("failed to record bootstrap module: %w", err)
	}

	rctx, cancel := context.WithCancel(context.Background())
	r := &LocalRuntime{
		store:   store,
		decoder: config.NewDecoder(),
		logger:  logger.With().Str("component", "runtime").Logger(),
		signals: signals,
		wiring:  w,
		ctx:     rctx,
		cancel:  cancel,
	}

	if err := r.restore(ctx); err != nil {
		cancel()
		return nil, err
	}
	return r, nil
}

// Close waits for pending refreshes and releases the refresh publisher. The
// store is left open for its owner to close.
func (r *LocalRuntime) Close(ctx context.Context) error {
	r.cancel()
	r.wg.Wait()
	return r.signals.Shutdown(ctx)
}

// restore starts modules that were active, or transiently stopped, when the
// registry was last written.
func (r *LocalRuntime) restore(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, records, err := r.snapshot(ctx)
	if err != nil {
		return err
	}
	ok := r.wiring.resolvable(records, records[0].Provides)

	for i, row := range rows {
		rec := records[i]
		if rec.IsBootstrap() || !row.Autostart || rec.State == engine.ModuleStateActive {
			continue
		}
		if _, isExt := rec.Extension(); isExt {
			continue
		}
		if !ok[rec.ID] {
			r.logger.Warn().Str("module", rec.String()).Msg("Module cannot be restored, requirements unsatisfied")
			continue
		}
		if err := r.transition(ctx, row, engine.ModuleStateActive, true, stores.EventActionRestore, ""); err != nil {
			return err
		}
	}
	return nil
}

// snapshot reads every registry row, bootstrap first, with its record.
func (r *LocalRuntime) snapshot(ctx context.Context) ([]*stores.Module, []engine.ModuleRecord, error) {
	rows, err := r.store.ListModules(ctx)
	if err != nil {
		return nil, nil, engine.NewTransientError("failed to list modules", err)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	if len(rows) == 0 || rows[0].ID != 0 {
		return nil, nil, engine.NewPermanentError("module registry has no bootstrap module", nil)
	}

	records := make([]engine.ModuleRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := toRecord(row)
		if err != nil {
			return nil, nil, err
		}
		records = append(records, rec)
	}
	return rows, records, nil
}

func toRecord(row *stores.Module) (engine.ModuleRecord, error) {
	rec, err := engine.RecordFromHeaders(row.ID, engine.ModuleState(row.State), row.Location, row.Headers)
	if err != nil {
		return engine.ModuleRecord{}, engine.NewPermanentError("corrupt registry row", err).WithResource(row.Location)
	}
	return rec, nil
}

// Modules returns every installed module, bootstrap first.
func (r *LocalRuntime) Modules(ctx context.Context) ([]engine.ModuleRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, records, err := r.snapshot(ctx)
	return records, err
}

// SystemCapabilities returns the offerings of the bootstrap module.
func (r *LocalRuntime) SystemCapabilities(ctx context.Context) ([]engine.Capability, error) {
	row, err := r.store.GetModule(ctx, 0)
	if err != nil {
		return nil, engine.NewTransientError("failed to read bootstrap module", err)
	}
	rec, err := toRecord(row)
	if err != nil {
		return nil, err
	}
	return rec.Provides, nil
}

// Events lists the lifecycle log, optionally for one module.
func (r *LocalRuntime) Events(ctx context.Context, moduleID *int64, limit, offset int) ([]*stores.Event, error) {
	return r.store.ListEvents(ctx, moduleID, limit, offset)
}

// Install decodes content as a module descriptor and records it as a new
// installed module.
func (r *LocalRuntime) Install(ctx context.Context, location string, content []byte) (engine.ModuleRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.store.GetModuleByLocation(ctx, location); err == nil {
		return engine.ModuleRecord{}, engine.NewConflictError("module already installed", nil).
			WithCode(engine.ErrCodeAlreadyExists).
			WithResource(location)
	} else if !errors.Is(err, stores.ErrNotFound) {
		return engine.ModuleRecord{}, engine.NewTransientError("failed to look up module", err)
	}

	headers, err := r.decode(location, content)
	if err != nil {
		return engine.ModuleRecord{}, err
	}

	now := time.Now().UTC()
	row := &stores.Module{
		Location:    location,
		Name:        headers[engine.HeaderModuleName],
		Version:     headers[engine.HeaderModuleVersion],
		State:       string(engine.ModuleStateInstalled),
		Headers:     headers,
		Digest:      digest(content),
		InstalledAt: now,
		UpdatedAt:   now,
	}
	if err := r.store.CreateModule(ctx, row); err != nil {
		if errors.Is(err, stores.ErrDuplicateLocation) {
			return engine.ModuleRecord{}, engine.NewConflictError("module already installed", err).
				WithCode(engine.ErrCodeAlreadyExists).
				WithResource(location)
		}
		return engine.ModuleRecord{}, engine.NewTransientError("failed to record module", err)
	}

	r.logEvent(ctx, row, stores.EventActionInstall, "", row.State, "")
	r.publishState(ctx, row, string(engine.ModuleStateUninstalled), row.State)
	r.recordCounts(ctx)

	r.logger.Info().Int64("id", row.ID).Str("module", moduleRef(row.Name, row.Version)).Msg("Module installed")
	return toRecord(row)
}

// Update replaces a module's content in place. The module keeps its ID,
// location and autostart setting and waits for a refresh in the installed
// state.
func (r *LocalRuntime) Update(ctx context.Context, id int64, content []byte) (engine.ModuleRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, err := r.lookup(ctx, id)
	if err != nil {
		return engine.ModuleRecord{}, err
	}

	headers, err := r.decode(row.Location, content)
	if err != nil {
		return engine.ModuleRecord{}, err
	}
	if name := headers[engine.HeaderModuleName]; name != row.Name {
		return engine.ModuleRecord{}, engine.NewPermanentError(
			fmt.Sprintf("update changes module name from %s to %s", row.Name, name), nil).
			WithCode(engine.ErrCodeValidation).
			WithResource(row.Location)
	}

	from, oldRef := row.State, moduleRef(row.Name, row.Version)
	row.Version = headers[engine.HeaderModuleVersion]
	row.Headers = headers
	row.Digest = digest(content)
	row.State = string(engine.ModuleStateInstalled)
	row.UpdatedAt = time.Now().UTC()
	if err := r.store.UpdateModule(ctx, row); err != nil {
		return engine.ModuleRecord{}, engine.NewTransientError("failed to update module", err)
	}

	r.logEvent(ctx, row, stores.EventActionUpdate, from, row.State, "from "+oldRef)
	r.publishState(ctx, row, from, row.State)
	r.recordCounts(ctx)

	r.logger.Info().Int64("id", id).Str("from", oldRef).Str("to", row.Version).Msg("Module updated")
	return toRecord(row)
}

// Stop stops an active module. A persistent stop also clears the autostart
// setting; a transient one keeps it so the module is restored on reopen.
func (r *LocalRuntime) Stop(ctx context.Context, id int64, transient bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, err := r.lookup(ctx, id)
	if err != nil {
		return err
	}

	state := engine.ModuleState(row.State)
	if state == engine.ModuleStateActive {
		state = engine.ModuleStateStopped
	}
	autostart := row.Autostart && transient
	if string(state) == row.State && autostart == row.Autostart {
		return nil
	}

	msg := "persistent"
	if transient {
		msg = "transient"
	}
	return r.transition(ctx, row, state, autostart, stores.EventActionStop, msg)
}

// Uninstall removes a module. A module that is not installed is reported
// with ErrCodeNotFound.
func (r *LocalRuntime) Uninstall(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, err := r.lookup(ctx, id)
	if err != nil {
		return err
	}
	if err := r.store.DeleteModule(ctx, id); err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return engine.NewNotFoundError(fmt.Sprintf("module %d", id))
		}
		return engine.NewTransientError("failed to delete module", err)
	}

	r.logEvent(ctx, row, stores.EventActionUninstall, row.State, string(engine.ModuleStateUninstalled), "")
	r.publishState(ctx, row, row.State, string(engine.ModuleStateUninstalled))
	r.recordCounts(ctx)

	r.logger.Info().Int64("id", id).Str("module", moduleRef(row.Name, row.Version)).Msg("Module uninstalled")
	return nil
}

// Start activates a module whose mandatory requirements are satisfied.
// Extensions are never started.
func (r *LocalRuntime) Start(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, err := r.lookup(ctx, id)
	if err != nil {
		return err
	}
	rec, err := toRecord(row)
	if err != nil {
		return err
	}
	if _, isExt := rec.Extension(); isExt {
		return engine.NewPermanentError("extensions cannot be started", nil).WithResource(rec.String())
	}
	if rec.State == engine.ModuleStateActive {
		if !row.Autostart {
			return r.transition(ctx, row, engine.ModuleStateActive, true, stores.EventActionStart, "")
		}
		return nil
	}

	_, records, err := r.snapshot(ctx)
	if err != nil {
		return err
	}
	if !r.wiring.resolvable(records, records[0].Provides)[id] {
		return engine.NewPermanentError("unsatisfied requirement "+r.firstMissing(rec, records), nil).
			WithResource(rec.String())
	}
	return r.transition(ctx, row, engine.ModuleStateActive, true, stores.EventActionStart, "")
}

// firstMissing explains why rec does not resolve.
func (r *LocalRuntime) firstMissing(rec engine.ModuleRecord, records []engine.ModuleRecord) string {
	ok := r.wiring.resolvable(records, records[0].Provides)
	offers := append([]engine.Capability(nil), records[0].Provides...)
	var hosts []engine.ModuleRecord
	for _, other := range records {
		if ok[other.ID] {
			offers = append(offers, other.Provides...)
			hosts = append(hosts, other)
		}
	}
	if m := r.wiring.missing(rec, offers, hosts); m != "" {
		return m
	}
	return "of a provider"
}

// Refresh rewires the registry in the background and signals listeners
// with ids once done. Unresolvable modules fall back to installed and
// installed modules that now resolve move to resolved.
func (r *LocalRuntime) Refresh(ctx context.Context, ids []int64) error {
	if err := r.ctx.Err(); err != nil {
		return engine.NewPermanentError("runtime is closed", err)
	}

	// Telemetry is carried over; cancellation of the caller is not.
	bg := r.ctx
	if t := telemetry.FromTelemetryContext(ctx); t != nil {
		bg = t.WithContext(bg)
	}
	ids = append([]int64(nil), ids...)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.rewire(bg, ids); err != nil {
			r.logger.Error().Err(err).Msg("Refresh failed")
			return
		}
		_ = r.signals.PublishModulesRefreshed(ids)
		if t := telemetry.FromTelemetryContext(bg); t != nil {
			_ = t.Events.PublishModulesRefreshed(ids)
		}
	}()
	return nil
}

func (r *LocalRuntime) rewire(ctx context.Context, ids []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, records, err := r.snapshot(ctx)
	if err != nil {
		return err
	}
	ok := r.wiring.resolvable(records, records[0].Provides)

	refreshed := make(map[int64]bool, len(ids))
	for _, id := range ids {
		refreshed[id] = true
	}

	for i, row := range rows {
		rec := records[i]
		if rec.IsBootstrap() {
			continue
		}

		next := rec.State
		switch {
		case ok[rec.ID] && rec.State == engine.ModuleStateInstalled:
			next = engine.ModuleStateResolved
		case !ok[rec.ID] && rec.State != engine.ModuleStateInstalled:
			next = engine.ModuleStateInstalled
		}

		if next != rec.State || refreshed[rec.ID] {
			if err := r.transition(ctx, row, next, row.Autostart, stores.EventActionRefresh, ""); err != nil {
				return err
			}
		}
	}

	r.logger.Debug().Interface("ids", ids).Msg("Refresh completed")
	return nil
}

// OnRefreshed registers fn for refresh completion signals.
func (r *LocalRuntime) OnRefreshed(fn func(ids []int64)) (cancel func()) {
	return r.signals.Subscribe(func(event telemetry.Event) {
		ids, _ := event.Data["ids"].([]int64)
		fn(ids)
	}, telemetry.FilterByType(telemetry.EventTypeModulesRefreshed))
}

// lookup reads a mutable module. Module 0 belongs to the runtime.
func (r *LocalRuntime) lookup(ctx context.Context, id int64) (*stores.Module, error) {
	if id == 0 {
		return nil, engine.NewPermanentError("the bootstrap module cannot be changed", nil).
			WithCode(engine.ErrCodePermissionDenied).
			WithResource("module 0")
	}
	row, err := r.store.GetModule(ctx, id)
	if errors.Is(err, stores.ErrNotFound) {
		return nil, engine.NewNotFoundError(fmt.Sprintf("module %d", id))
	}
	if err != nil {
		return nil, engine.NewTransientError("failed to read module", err)
	}
	return row, nil
}

// decode turns descriptor content into a manifest header set.
func (r *LocalRuntime) decode(location string, content []byte) (map[string]string, error) {
	desc, err := r.decoder.DecodeDescriptor(location, content)
	if err != nil {
		return nil, engine.NewPermanentError("invalid module content", err).
			WithCode(engine.ErrCodeValidation).
			WithResource(location)
	}
	headers, err := desc.Headers()
	if err != nil {
		return nil, engine.NewPermanentError("invalid module descriptor", err).
			WithCode(engine.ErrCodeValidation).
			WithResource(location)
	}
	return headers, nil
}

// transition changes state and autostart and logs the event atomically.
func (r *LocalRuntime) transition(ctx context.Context, row *stores.Module, state engine.ModuleState, autostart bool, action stores.EventAction, msg string) error {
	from := row.State
	event := &stores.Event{
		ModuleID:  row.ID,
		Module:    moduleRef(row.Name, row.Version),
		Action:    action,
		FromState: from,
		ToState:   string(state),
		Message:   msg,
	}
	if err := r.store.Transition(ctx, row.ID, string(state), autostart, event); err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return engine.NewNotFoundError(fmt.Sprintf("module %d", row.ID))
		}
		return engine.NewTransientError("failed to change module state", err)
	}
	row.State, row.Autostart = string(state), autostart

	if from != row.State {
		r.publishState(ctx, row, from, row.State)
		r.recordCounts(ctx)
	}
	r.logger.Debug().
		Int64("id", row.ID).
		Str("action", string(action)).
		Str("from", from).
		Str("to", row.State).
		Msg("Module transition")
	return nil
}

func (r *LocalRuntime) logEvent(ctx context.Context, row *stores.Module, action stores.EventAction, from, to, msg string) {
	err := r.store.AppendEvent(ctx, &stores.Event{
		ModuleID:  row.ID,
		Module:    moduleRef(row.Name, row.Version),
		Action:    action,
		FromState: from,
		ToState:   to,
		Message:   msg,
	})
	if err != nil {
		r.logger.Warn().Err(err).Int64("id", row.ID).Msg("Failed to append lifecycle event")
	}
}

func (r *LocalRuntime) publishState(ctx context.Context, row *stores.Module, from, to string) {
	ref := moduleRef(row.Name, row.Version)
	telemetry.AddModuleEvent(telemetry.SpanFromContext(ctx), ref, "state_changed", from+" -> "+to)
	if t := telemetry.FromTelemetryContext(ctx); t != nil {
		_ = t.Events.PublishModuleStateChanged(ref, from, to)
	}
}

// recordCounts updates the per-state module gauge.
func (r *LocalRuntime) recordCounts(ctx context.Context) {
	t := telemetry.FromTelemetryContext(ctx)
	if t == nil || t.Metrics == nil {
		return
	}
	rows, err := r.store.ListModules(ctx)
	if err != nil {
		return
	}
	counts := map[engine.ModuleState]float64{
		engine.ModuleStateInstalled: 0,
		engine.ModuleStateResolved:  0,
		engine.ModuleStateActive:    0,
		engine.ModuleStateStopped:   0,
	}
	for _, row := range rows {
		counts[engine.ModuleState(row.State)]++
	}
	for state, n := range counts {
		t.Metrics.SetModuleCount(string(state), n)
	}
}

func digest(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
