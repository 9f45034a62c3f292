package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyo-agent/pkg/engine"
	"github.com/openfroyo/froyo-agent/pkg/semver"
)

const (
	httpLocation = "file:///srv/modules/http-1.2.0.yaml"
	appLocation  = "file:///srv/modules/app-1.0.0.yaml"
	app1Location = "file:///srv/modules/app-1.0.1.yaml"
	extLocation  = "file:///srv/modules/l10n-1.0.0.yaml"
)

const app1Descriptor = `
name: org.example.app
version: 1.0.1
requires:
  - name: http
    version: "[1.0,2.0)"
`

func desired(name, version, location string) engine.ResolvedArtifact {
	return engine.ResolvedArtifact{
		Name:     name,
		Version:  semver.MustParseVersion(version),
		Location: location,
		Primary:  true,
	}
}

// executeCycle plans the desired set against the live runtime and executes it.
func executeCycle(t *testing.T, rt *LocalRuntime, contents map[string][]byte, artifacts ...engine.ResolvedArtifact) *engine.ExecutionResult {
	t.Helper()
	ctx := context.Background()

	installed, err := rt.Modules(ctx)
	if err != nil {
		t.Fatalf("Modules() error = %v", err)
	}
	plan := engine.NewPlanner().ComputePlan(installed, artifacts)

	exec := engine.NewExecutor(rt, engine.ExecutorConfig{RefreshTimeout: 2 * time.Second}, zerolog.Nop())
	result, err := exec.Execute(ctx, plan, contents)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	return result
}

func TestExecutor_LocalRuntime_RefreshSignal(t *testing.T) {
	rt := newTestRuntime(t)
	contents := map[string][]byte{
		httpLocation: []byte(httpDescriptor),
		appLocation:  []byte(appDescriptor),
		extLocation:  []byte(extDescriptor),
		app1Location: []byte(app1Descriptor),
	}

	result := executeCycle(t, rt, contents,
		desired("org.example.http", "1.2.0", httpLocation),
		desired("org.example.app", "1.0.0", appLocation),
		desired("org.example.app.l10n", "1.0.0", extLocation),
	)
	if result.RefreshTimedOut {
		t.Fatal("expected the runtime to confirm the refresh")
	}
	if len(result.RefreshSet) != 3 {
		t.Errorf("expected 3 modules refreshed, got %v", result.RefreshSet)
	}
	if len(result.Started) != 2 {
		t.Errorf("expected http and app started, got %v", result.Started)
	}

	mods, err := rt.Modules(context.Background())
	if err != nil {
		t.Fatalf("Modules() error = %v", err)
	}
	var ext engine.ModuleRecord
	for _, m := range mods {
		if m.Name == "org.example.app.l10n" {
			ext = m
		}
	}
	if ext.State != engine.ModuleStateResolved {
		t.Errorf("expected extension resolved, got %s", ext.State)
	}

	// A patch update of the host pulls the extension into the refresh set.
	result = executeCycle(t, rt, contents,
		desired("org.example.http", "1.2.0", httpLocation),
		desired("org.example.app", "1.0.1", app1Location),
		desired("org.example.app.l10n", "1.0.0", extLocation),
	)
	if result.RefreshTimedOut {
		t.Fatal("expected the runtime to confirm the refresh")
	}
	if result.StepCounts[engine.StepUpdate] != 1 || result.StepCounts[engine.StepPropagateExtensions] != 1 {
		t.Errorf("unexpected step counts %v", result.StepCounts)
	}
	found := false
	for _, id := range result.RefreshSet {
		if id == ext.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("expected extension %d in refresh set %v", ext.ID, result.RefreshSet)
	}
}
