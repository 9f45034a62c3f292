package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyo-agent/pkg/agent"
	"github.com/openfroyo/froyo-agent/pkg/config"
	"github.com/openfroyo/froyo-agent/pkg/fetch"
	"github.com/openfroyo/froyo-agent/pkg/policy"
	"github.com/openfroyo/froyo-agent/pkg/runtime"
	"github.com/openfroyo/froyo-agent/pkg/stores"
	"github.com/openfroyo/froyo-agent/pkg/telemetry"
)

// shutdownTimeout bounds telemetry and runtime shutdown.
const shutdownTimeout = 10 * time.Second

// environment is everything a command needs to run cycles.
type environment struct {
	settings *settings
	tel      *telemetry.Telemetry
	store    *stores.SQLiteStore
	runtime  *runtime.LocalRuntime
	router   *fetch.Router
	guard    *policy.Engine
	agent    *agent.Agent
	logger   zerolog.Logger
}

type envOptions struct {
	// metrics serves the Prometheus endpoint.
	metrics bool

	// ephemeral keeps the registry in memory, leaving the data dir untouched.
	ephemeral bool

	// dryRun forces every cycle to stop after the plan guard.
	dryRun bool
}

// openEnvironment wires telemetry, the registry, the local runtime, the
// fetch stack, the policy engine and the agent. The returned context
// carries the telemetry.
func openEnvironment(ctx context.Context, version string, opts envOptions) (*environment, context.Context, error) {
	s, err := loadSettings()
	if err != nil {
		return nil, ctx, err
	}
	if opts.dryRun {
		s.Agent.DryRun = true
	}

	env := &environment{settings: s}
	ok := false
	defer func() {
		if !ok {
			env.close()
		}
	}()

	tel, err := telemetry.NewTelemetry(s.telemetryConfig(version, opts.metrics))
	if err != nil {
		return nil, ctx, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	env.tel = tel
	env.logger = tel.Logger.Zerolog()
	ctx = tel.WithContext(ctx)

	if opts.metrics {
		if err := tel.StartMetricsServer(); err != nil {
			return nil, ctx, fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	path := stores.MemoryPath
	if !opts.ephemeral {
		if err := os.MkdirAll(s.Agent.DataDir, 0700); err != nil {
			return nil, ctx, fmt.Errorf("failed to create data directory %s: %w", s.Agent.DataDir, err)
		}
		path = runtime.RegistryPath(s.Agent.DataDir)
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, ctx, fmt.Errorf("failed to create store: %w", err)
	}
	env.store = store
	if err := store.Init(ctx); err != nil {
		return nil, ctx, fmt.Errorf("failed to initialize store: %w", err)
	}

	rt, err := runtime.Open(ctx, store, s.Runtime, env.logger)
	if err != nil {
		return nil, ctx, err
	}
	env.runtime = rt

	fetchCfg := s.fetchConfig()
	if err := fetchCfg.Validate(); err != nil {
		return nil, ctx, fmt.Errorf("invalid fetch settings: %w", err)
	}
	env.router = fetch.NewDefaultRouter(fetchCfg, env.logger)
	coord := fetch.NewCoordinator(env.router, fetchCfg, env.logger)

	guard, err := policy.NewEngine(env.logger, s.Agent.ProtectedModules)
	if err != nil {
		return nil, ctx, err
	}
	if len(s.Agent.PolicyPaths) > 0 {
		if err := guard.LoadPolicies(ctx, s.Agent.PolicyPaths); err != nil {
			return nil, ctx, err
		}
	}
	env.guard = guard

	a, err := agent.New(s.Agent, rt, coord, env.logger, agent.WithPolicyEngine(guard))
	if err != nil {
		return nil, ctx, err
	}
	env.agent = a

	ok = true
	return env, ctx, nil
}

// close releases everything in reverse order of opening.
func (e *environment) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if e.runtime != nil {
		if err := e.runtime.Close(ctx); err != nil {
			e.logger.Warn().Err(err).Msg("Runtime shutdown incomplete")
		}
	}
	if e.router != nil {
		_ = e.router.Close()
	}
	if e.store != nil {
		_ = e.store.Close()
	}
	if e.tel != nil {
		if err := e.tel.Shutdown(ctx); err != nil {
			e.logger.Warn().Err(err).Msg("Telemetry shutdown incomplete")
		}
	}
}

// loadSnapshot reads a snapshot file with the configured script timeout.
func (e *environment) loadSnapshot(ctx context.Context, path string) (*config.Snapshot, error) {
	return config.NewSnapshotLoader(e.settings.Agent.ScriptTimeout).LoadFile(ctx, path)
}
