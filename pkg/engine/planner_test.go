package engine

import (
	"fmt"
	"testing"

	"github.com/openfroyo/froyo-agent/pkg/semver"
)

func record(id int64, name, version string) ModuleRecord {
	return ModuleRecord{
		ID:      id,
		Name:    name,
		Version: semver.MustParseVersion(version),
		State:   ModuleStateActive,
		Kind:    Standalone{},
	}
}

func artifact(name, version string) ResolvedArtifact {
	return ResolvedArtifact{
		Name:     name,
		Version:  semver.MustParseVersion(version),
		Location: fmt.Sprintf("file:///repo/%s-%s.yaml", name, version),
		Primary:  true,
	}
}

func TestPlanner_ComputePlan_ExactMatchIgnored(t *testing.T) {
	planner := NewPlanner()
	plan := planner.ComputePlan(
		[]ModuleRecord{record(1, "m", "1.0.0")},
		[]ResolvedArtifact{artifact("m", "1.0.0")},
	)

	if len(plan.Ignore) != 1 {
		t.Fatalf("expected 1 ignored, got %d", len(plan.Ignore))
	}
	if !plan.Empty() {
		t.Errorf("expected empty plan, got %+v", plan.Summary)
	}
}

func TestPlanner_ComputePlan_PatchUpdate(t *testing.T) {
	planner := NewPlanner()
	plan := planner.ComputePlan(
		[]ModuleRecord{record(1, "m", "1.2.7")},
		[]ResolvedArtifact{artifact("m", "1.2.9")},
	)

	if len(plan.Update) != 1 {
		t.Fatalf("expected 1 update, got %+v", plan.Summary)
	}
	if plan.Update[0].Installed.ID != 1 || plan.Update[0].Desired.Version.String() != "1.2.9" {
		t.Errorf("unexpected update pair: %+v", plan.Update[0])
	}
	if len(plan.Delete) != 0 || len(plan.Install) != 0 {
		t.Errorf("expected no delete or install, got %+v", plan.Summary)
	}
}

func TestPlanner_ComputePlan_SnapshotPatchUpdate(t *testing.T) {
	planner := NewPlanner()
	plan := planner.ComputePlan(
		[]ModuleRecord{record(1, "m", "1.2.7-SNAPSHOT")},
		[]ResolvedArtifact{artifact("m", "1.2.9")},
	)

	if len(plan.Update) != 1 || len(plan.Delete) != 0 || len(plan.Install) != 0 {
		t.Fatalf("expected a single update, got %+v", plan.Summary)
	}
	if plan.Update[0].Installed.ID != 1 {
		t.Errorf("unexpected update pair: %+v", plan.Update[0])
	}
}

func TestPlanner_ComputePlan_MinorBumpReinstalls(t *testing.T) {
	planner := NewPlanner()
	plan := planner.ComputePlan(
		[]ModuleRecord{record(1, "m", "1.2.7")},
		[]ResolvedArtifact{artifact("m", "1.3.0")},
	)

	if len(plan.Delete) != 1 || plan.Delete[0].ID != 1 {
		t.Fatalf("expected module 1 deleted, got %+v", plan.Delete)
	}
	if len(plan.Install) != 1 || plan.Install[0].Version.String() != "1.3.0" {
		t.Fatalf("expected 1.3.0 installed, got %+v", plan.Install)
	}
	if len(plan.Update) != 0 {
		t.Errorf("expected no update, got %d", len(plan.Update))
	}
}

func TestPlanner_ComputePlan_HighestInWindowUpdated(t *testing.T) {
	planner := NewPlanner()
	plan := planner.ComputePlan(
		[]ModuleRecord{
			record(1, "m", "1.2.1"),
			record(2, "m", "1.2.5"),
			record(3, "m", "1.1.9"),
		},
		[]ResolvedArtifact{artifact("m", "1.2.9")},
	)

	if len(plan.Update) != 1 || plan.Update[0].Installed.ID != 2 {
		t.Fatalf("expected module 2 updated, got %+v", plan.Update)
	}
	if len(plan.Delete) != 2 {
		t.Errorf("expected 2 deletes, got %d", len(plan.Delete))
	}
}

func TestPlanner_ComputePlan_BootstrapNeverClassified(t *testing.T) {
	planner := NewPlanner()
	plan := planner.ComputePlan(
		[]ModuleRecord{record(0, "system", "1.0.0")},
		[]ResolvedArtifact{artifact("system", "1.0.0")},
	)

	if len(plan.Ignore) != 0 || len(plan.Delete) != 0 {
		t.Errorf("bootstrap module must not be ignored or deleted: %+v", plan.Summary)
	}
	if len(plan.Install) != 1 {
		t.Errorf("expected the desired artifact to be installed, got %+v", plan.Summary)
	}
}

func TestPlanner_ComputePlan_Partition(t *testing.T) {
	installed := []ModuleRecord{
		record(0, "system", "1.0.0"),
		record(1, "a", "1.0.0"),
		record(2, "b", "2.1.0"),
		record(3, "c", "0.9.0"),
		record(4, "d", "3.0.0"),
		record(5, "a", "1.0.3"),
	}
	desired := []ResolvedArtifact{
		artifact("a", "1.0.0"),
		artifact("b", "2.1.4"),
		artifact("c", "1.0.0"),
		artifact("e", "1.0.0"),
	}

	plan := NewPlanner().ComputePlan(installed, desired)

	seenInstalled := make(map[int64]int)
	for _, p := range plan.Ignore {
		seenInstalled[p.Installed.ID]++
	}
	for _, p := range plan.Update {
		seenInstalled[p.Installed.ID]++
	}
	for _, m := range plan.Delete {
		seenInstalled[m.ID]++
	}
	for _, m := range installed[1:] {
		if seenInstalled[m.ID] != 1 {
			t.Errorf("installed module %d classified %d times", m.ID, seenInstalled[m.ID])
		}
	}

	seenDesired := make(map[string]int)
	for _, p := range plan.Ignore {
		seenDesired[p.Desired.String()]++
	}
	for _, p := range plan.Update {
		seenDesired[p.Desired.String()]++
	}
	for _, a := range plan.Install {
		seenDesired[a.String()]++
	}
	for _, a := range desired {
		if seenDesired[a.String()] != 1 {
			t.Errorf("desired artifact %s classified %d times", a, seenDesired[a.String()])
		}
	}

	want := PlanSummary{Ignore: 1, Update: 1, Delete: 3, Install: 2}
	if plan.Summary != want {
		t.Errorf("summary = %+v, want %+v", plan.Summary, want)
	}
}
