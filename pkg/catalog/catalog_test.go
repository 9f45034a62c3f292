package catalog

import (
	"testing"

	"github.com/openfroyo/froyo-agent/pkg/engine"
	"github.com/openfroyo/froyo-agent/pkg/semver"
)

func feature(name, version string, deps ...string) *Feature {
	f := &Feature{Name: name, Version: semver.MustParseVersion(version)}
	for _, d := range deps {
		n, r, err := ParseFeatureRequest(d)
		if err != nil {
			panic(err)
		}
		f.Dependencies = append(f.Dependencies, FeatureDependency{Name: n, Constraint: r})
	}
	return f
}

func catalogOf(features ...*Feature) *Catalog {
	return NewCatalog([]*Repository{{URI: "mem://repo", Features: features}})
}

func TestCatalog_FindFeature(t *testing.T) {
	cat := catalogOf(
		feature("demo", "1.0.0"),
		feature("demo", "1.2.0"),
		feature("demo", "2.0.0"),
	)

	tests := []struct {
		spec    string
		want    string
		wantErr bool
	}{
		{spec: "demo", want: "2.0.0"},
		{spec: "demo/", want: "2.0.0"},
		{spec: "demo/1.0", want: "2.0.0"},
		{spec: "demo/[1.0,2.0)", want: "1.2.0"},
		{spec: "demo/[1.0,1.1)", want: "1.0.0"},
		{spec: "demo/>=3.0.0", wantErr: true},
		{spec: "other", wantErr: true},
		{spec: "/1.0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			f, err := cat.FindFeature(tt.spec)
			if (err != nil) != tt.wantErr {
				t.Fatalf("FindFeature(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if f.Version.String() != tt.want {
				t.Errorf("FindFeature(%q) = %s, want %s", tt.spec, f.Version, tt.want)
			}
		})
	}
}

func TestCatalog_FindFeature_Snapshot(t *testing.T) {
	cat := catalogOf(
		feature("demo", "1.0.0"),
		feature("demo", "1.1.0-SNAPSHOT"),
	)

	f, err := cat.FindFeature("demo/1.0")
	if err != nil {
		t.Fatalf("FindFeature() error = %v", err)
	}
	if f.Version.String() != "1.1.0-SNAPSHOT" {
		t.Errorf("expected the snapshot feature, got %s", f.Version)
	}

	f, err = cat.FindFeature("demo/[1.0,1.1)")
	if err != nil {
		t.Fatalf("FindFeature() error = %v", err)
	}
	if f.Version.String() != "1.0.0" {
		t.Errorf("expected 1.0.0 below the 1.1 ceiling, got %s", f.Version)
	}
}

func TestCatalog_FindFeature_NotFoundCode(t *testing.T) {
	cat := catalogOf(feature("demo", "1.0.0"))

	_, err := cat.FindFeature("demo/2.0")
	if !engine.HasCode(err, engine.ErrCodeFeatureNotFound) {
		t.Errorf("expected feature-not-found code, got %v", err)
	}
	if !engine.IsPreMutation(err) {
		t.Error("expected pre-mutation error")
	}
}

func TestNewCatalog_FirstDefinitionWins(t *testing.T) {
	first := feature("demo", "1.0.0")
	first.Repository = "mem://first"
	second := feature("demo", "1.0.0")
	second.Repository = "mem://second"

	cat := NewCatalog([]*Repository{
		{URI: "mem://first", Features: []*Feature{first}},
		{URI: "mem://second", Features: []*Feature{second}},
	})

	f, err := cat.FindFeature("demo")
	if err != nil {
		t.Fatalf("FindFeature() error = %v", err)
	}
	if f.Repository != "mem://first" {
		t.Errorf("got feature from %s, want mem://first", f.Repository)
	}
	if cat.FeatureCount() != 1 {
		t.Errorf("FeatureCount() = %d, want 1", cat.FeatureCount())
	}
}
