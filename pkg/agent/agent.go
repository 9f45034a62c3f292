package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/froyo-agent/pkg/catalog"
	"github.com/openfroyo/froyo-agent/pkg/config"
	"github.com/openfroyo/froyo-agent/pkg/engine"
	"github.com/openfroyo/froyo-agent/pkg/fetch"
	"github.com/openfroyo/froyo-agent/pkg/resolver"
	"github.com/openfroyo/froyo-agent/pkg/semver"
	"github.com/openfroyo/froyo-agent/pkg/telemetry"
)

// Cycle statuses.
const (
	StatusSucceeded = "succeeded"
	StatusPlanned   = "planned"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

// BatchFetcher downloads one location or many in parallel.
type BatchFetcher interface {
	engine.Fetcher
	FetchAll(ctx context.Context, locations []string) (map[string]*fetch.Content, error)
}

// FrameworkHandler takes over when a snapshot names a replacement runtime
// core.
type FrameworkHandler interface {
	HandleFramework(ctx context.Context, address string) error
}

// FrameworkHandlerFunc adapts a function to FrameworkHandler.
type FrameworkHandlerFunc func(ctx context.Context, address string) error

// HandleFramework calls f.
func (f FrameworkHandlerFunc) HandleFramework(ctx context.Context, address string) error {
	return f(ctx, address)
}

// Agent converges the runtime to configuration snapshots.
type Agent struct {
	cfg       Config
	runtime   engine.Runtime
	fetcher   BatchFetcher
	guard     engine.PolicyEngine
	framework FrameworkHandler

	decoder  *config.Decoder
	resolver *resolver.Resolver
	planner  *engine.Planner
	executor *engine.Executor

	// base is handed to per-cycle components, which add their own
	// component field.
	base   zerolog.Logger
	logger zerolog.Logger
}

// Option customizes an Agent.
type Option func(*Agent)

// WithFrameworkHandler replaces the default handler, which logs the
// request and skips the cycle.
func WithFrameworkHandler(h FrameworkHandler) Option {
	return func(a *Agent) { a.framework = h }
}

// WithPolicyEngine installs the plan guard. Without one every plan is
// allowed.
func WithPolicyEngine(guard engine.PolicyEngine) Option {
	return func(a *Agent) { a.guard = guard }
}

// New creates an agent driving rt.
func New(cfg Config, rt engine.Runtime, fetcher BatchFetcher, logger zerolog.Logger, opts ...Option) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rt == nil || fetcher == nil {
		return nil, engine.NewConfigurationError("agent needs a runtime and a fetcher", nil)
	}

	a := &Agent{
		cfg:      cfg,
		runtime:  rt,
		fetcher:  fetcher,
		decoder:  config.NewDecoder(),
		resolver: resolver.NewResolver(logger),
		planner:  engine.NewPlanner(),
		executor: engine.NewExecutor(rt, engine.ExecutorConfig{RefreshTimeout: cfg.RefreshTimeout}, logger),
		base:     logger,
		logger:   logger.With().Str("component", "agent").Logger(),
	}
	a.framework = FrameworkHandlerFunc(a.skipFramework)

	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Agent) skipFramework(_ context.Context, address string) error {
	a.logger.Info().Str("framework", address).Msg("Framework replacement requested, skipping reconciliation")
	return nil
}

// CycleResult describes one reconciliation cycle.
type CycleResult struct {
	ID     string `json:"id"`
	Source string `json:"source,omitempty"`
	Status string `json:"status"`
	DryRun bool   `json:"dry_run"`

	// Framework is set when the cycle was handed to the framework handler.
	Framework string `json:"framework,omitempty"`

	// Features is the feature closure in visit order.
	Features []string `json:"features,omitempty"`

	Artifacts []engine.ResolvedArtifact `json:"artifacts,omitempty"`
	Plan      *engine.Plan              `json:"plan,omitempty"`
	Policy    *engine.PolicyResult      `json:"policy,omitempty"`
	Execution *engine.ExecutionResult   `json:"execution,omitempty"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Reconcile runs one full cycle for snap.
//
// Configuration, resolution, fetch and policy failures are returned before
// the runtime is touched. An execution failure leaves the runtime for the
// next cycle to converge.
func (a *Agent) Reconcile(ctx context.Context, snap *config.Snapshot) (*CycleResult, error) {
	return a.run(ctx, snap, a.cfg.DryRun)
}

// Plan runs a cycle up to and including the plan guard without executing.
func (a *Agent) Plan(ctx context.Context, snap *config.Snapshot) (*CycleResult, error) {
	return a.run(ctx, snap, true)
}

func (a *Agent) run(ctx context.Context, snap *config.Snapshot, dryRun bool) (result *CycleResult, err error) {
	if snap == nil {
		return nil, engine.NewConfigurationError("no snapshot", nil)
	}

	result = &CycleResult{
		ID:        uuid.New().String(),
		Source:    snap.Source,
		DryRun:    dryRun,
		StartedAt: time.Now(),
	}
	logger := a.logger.With().Str("cycle_id", result.ID).Logger()

	ctx = telemetry.WithCycleContext(ctx, result.ID, snap.Keys)
	defer func() {
		result.Duration = time.Since(result.StartedAt)
		if err != nil {
			result.Status = StatusFailed
			recordError(ctx, err)
			logger.Error().Err(err).Str("error_code", engine.CodeOf(err)).Msg("Cycle failed")
		} else {
			logger.Info().Str("status", result.Status).Dur("duration", result.Duration).Msg("Cycle finished")
		}
		telemetry.EndCycleContext(ctx, result.ID, result.Status, err)
	}()

	logger.Info().
		Str("source", snap.Source).
		Int("repositories", len(snap.Repositories)).
		Int("features", len(snap.Features)).
		Int("bundles", len(snap.Bundles)).
		Bool("dry_run", dryRun).
		Msg("Cycle started")

	if snap.IsFramework() {
		result.Framework = snap.Framework
		result.Status = StatusSkipped
		return result, a.framework.HandleFramework(ctx, snap.Framework)
	}

	// Load repositories and build the catalog.
	cat, err := catalog.NewLoader(a.fetcher, a.decoder, a.base).LoadAll(ctx, snap.Repositories)
	if err != nil {
		return result, err
	}

	// Feature closure.
	features, err := catalog.Closure(cat, snap.Features)
	if err != nil {
		return result, err
	}
	for _, f := range features {
		result.Features = append(result.Features, f.String())
	}

	// Fetch every concrete address.
	req, primaries := a.request(features, snap.Bundles)
	contents, err := a.fetcher.FetchAll(ctx, addresses(req.Candidates))
	if err != nil {
		return result, err
	}
	for i := range req.Candidates {
		c := &req.Candidates[i]
		desc, err := a.decoder.DecodeDescriptor(c.Location, contents[c.Location].Data)
		if err != nil {
			return result, err
		}
		c.Descriptor = desc
	}
	for _, o := range cat.Offerings() {
		req.Index = append(req.Index, resolver.Offering{Location: o.Location, Descriptor: o.Descriptor})
	}

	if req.System, err = a.runtime.SystemCapabilities(ctx); err != nil {
		return result, err
	}

	// Resolve.
	resolved, err := a.resolver.Resolve(ctx, req)
	if err != nil {
		return result, err
	}
	result.Artifacts = resolved.Artifacts

	// Fetch offerings the resolver pulled in.
	if missing := without(resolved.Pulled, contents); len(missing) > 0 {
		pulled, err := a.fetcher.FetchAll(ctx, missing)
		if err != nil {
			return result, err
		}
		if err := a.checkPulled(resolved.Artifacts, pulled); err != nil {
			return result, err
		}
		for loc, c := range pulled {
			contents[loc] = c
		}
	}

	// Plan against the installed snapshot.
	installed, err := a.runtime.Modules(ctx)
	if err != nil {
		return result, err
	}
	plan := a.planner.ComputePlan(installed, resolved.Artifacts)
	result.Plan = plan
	if t := telemetry.FromTelemetryContext(ctx); t != nil {
		t.Metrics.RecordPlan(plan.Summary.Ignore, plan.Summary.Update, plan.Summary.Delete, plan.Summary.Install)
	}

	logger.Info().
		Str("plan_id", plan.ID).
		Int("primaries", primaries).
		Int("ignore", plan.Summary.Ignore).
		Int("update", plan.Summary.Update).
		Int("delete", plan.Summary.Delete).
		Int("install", plan.Summary.Install).
		Msg("Plan computed")

	// Plan guard.
	if a.guard != nil {
		verdict, err := a.guard.EvaluatePlan(ctx, plan)
		if err != nil {
			return result, err
		}
		result.Policy = verdict
		for _, w := range verdict.Warnings {
			logger.Warn().Str("policy", w.Policy).Str("resource", w.Resource).Msg(w.Message)
		}
		if !verdict.Allowed {
			return result, denied(verdict)
		}
	}

	if dryRun {
		result.Status = StatusPlanned
		return result, nil
	}

	// Execute.
	bodies := make(map[string][]byte, len(plan.Install)+len(plan.Update))
	for _, loc := range plan.ContentLocations() {
		c, ok := contents[loc]
		if !ok {
			return result, engine.NewFetchError(loc, errors.New("content missing after fetch"))
		}
		bodies[loc] = c.Data
	}

	exec, err := a.executor.Execute(ctx, plan, bodies)
	result.Execution = exec
	if err != nil {
		return result, err
	}

	result.Status = StatusSucceeded
	return result, nil
}

// request splits the closure's module references into fetchable
// candidates and requirement strings. Transitive-only requirement strings
// are not resolution targets and are dropped.
func (a *Agent) request(features []*catalog.Feature, bundles []string) (resolver.Request, int) {
	var (
		req       resolver.Request
		primaries int
		seen      = make(map[string]int)
	)

	add := func(location string, primary bool) {
		if i, ok := seen[location]; ok {
			if primary && !req.Candidates[i].Primary {
				req.Candidates[i].Primary = true
				primaries++
			}
			return
		}
		seen[location] = len(req.Candidates)
		req.Candidates = append(req.Candidates, resolver.Candidate{Location: location, Primary: primary})
		if primary {
			primaries++
		}
	}

	for _, ref := range catalog.ModuleRefs(features) {
		switch {
		case ref.IsAddress():
			add(ref.Location, !ref.Transitive)
		case !ref.Transitive:
			req.Requirements = append(req.Requirements, ref.Location)
		}
	}
	for _, b := range bundles {
		add(b, true)
	}
	return req, primaries
}

func addresses(candidates []resolver.Candidate) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.Location)
	}
	return out
}

func without(locations []string, have map[string]*fetch.Content) []string {
	var out []string
	for _, loc := range locations {
		if _, ok := have[loc]; !ok {
			out = append(out, loc)
		}
	}
	return out
}

// checkPulled verifies that the content fetched for each pulled offering is
// the module the repository advertised at that location.
func (a *Agent) checkPulled(artifacts []engine.ResolvedArtifact, pulled map[string]*fetch.Content) error {
	for _, art := range artifacts {
		c, ok := pulled[art.Location]
		if !ok {
			continue
		}
		desc, err := a.decoder.DecodeDescriptor(art.Location, c.Data)
		if err != nil {
			return engine.NewPermanentError("invalid module content", err).
				WithCode(engine.ErrCodeValidation).
				WithResource(art.Location)
		}
		v, err := semver.ParseVersion(desc.Version)
		if err != nil || desc.Name != art.Name || !v.Equal(art.Version) {
			return engine.NewPermanentError(
				fmt.Sprintf("content is %s@%s, repository offered %s", desc.Name, desc.Version, art), err).
				WithCode(engine.ErrCodeValidation).
				WithResource(art.Location)
		}
	}
	return nil
}

// denied turns blocking policy findings into a pre-mutation error.
func denied(verdict *engine.PolicyResult) error {
	msgs := make([]string, 0, len(verdict.Violations))
	for _, v := range verdict.Violations {
		msgs = append(msgs, fmt.Sprintf("%s: %s", v.Policy, v.Message))
	}
	return engine.NewConfigurationError("plan denied by policy: "+strings.Join(msgs, "; "), nil).
		WithCode(engine.ErrCodePolicyDenied).
		WithDetail("violations", len(verdict.Violations))
}

func recordError(ctx context.Context, err error) {
	t := telemetry.FromTelemetryContext(ctx)
	if t == nil {
		return
	}
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		t.Metrics.RecordError(string(ee.Class), ee.Code)
		return
	}
	t.Metrics.RecordError("unknown", "")
}
