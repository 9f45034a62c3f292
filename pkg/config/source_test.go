package config

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return p
}

func TestSnapshotLoader_LoadFile(t *testing.T) {
	dir := t.TempDir()
	loader := NewSnapshotLoader(5 * time.Second)

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "properties",
			file: "snapshot.properties",
			content: `# desired state
repository.main = file:///srv/repo/index.yaml
feature.a = demo/1.0
! legacy comment
bundle.tools=https://dl.example/tools-1.0.0.yaml
`,
		},
		{
			name: "yaml",
			file: "snapshot.yaml",
			content: `repository.main: file:///srv/repo/index.yaml
feature.a: demo/1.0
bundle.tools: https://dl.example/tools-1.0.0.yaml
`,
		},
		{
			name: "starlark",
			file: "snapshot.star",
			content: `
_repo = "file:///srv/repo"
properties = {
    "repository.main": _repo + "/index.yaml",
    "feature.a": "demo/1.0",
    "bundle.tools": "https://dl.example/tools-1.0.0.yaml",
}
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := writeFile(t, dir, tt.file, tt.content)

			snap, err := loader.LoadFile(context.Background(), p)
			if err != nil {
				t.Fatalf("LoadFile() error = %v", err)
			}
			if want := []string{"file:///srv/repo/index.yaml"}; !reflect.DeepEqual(snap.Repositories, want) {
				t.Errorf("Repositories = %v, want %v", snap.Repositories, want)
			}
			if want := []string{"demo/1.0"}; !reflect.DeepEqual(snap.Features, want) {
				t.Errorf("Features = %v, want %v", snap.Features, want)
			}
			if want := []string{"https://dl.example/tools-1.0.0.yaml"}; !reflect.DeepEqual(snap.Bundles, want) {
				t.Errorf("Bundles = %v, want %v", snap.Bundles, want)
			}
			if snap.Source != p {
				t.Errorf("Source = %q, want %q", snap.Source, p)
			}
		})
	}
}

func TestSnapshotLoader_BareRepositoryKey(t *testing.T) {
	values, err := parseProperties([]byte("repository.file:///srv/r.yaml\n"))
	if err != nil {
		t.Fatalf("parseProperties() error = %v", err)
	}
	snap, err := ParseSnapshot(values)
	if err != nil {
		t.Fatalf("ParseSnapshot() error = %v", err)
	}
	if want := []string{"file:///srv/r.yaml"}; !reflect.DeepEqual(snap.Repositories, want) {
		t.Errorf("Repositories = %v, want %v", snap.Repositories, want)
	}
}

func TestSnapshotLoader_Errors(t *testing.T) {
	dir := t.TempDir()
	loader := NewSnapshotLoader(time.Second)

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unknown extension", "snapshot.txt", "feature.a = demo"},
		{"nested yaml", "snapshot.yaml", "feature:\n  a: demo\n"},
		{"properties not a dict", "snapshot.star", `properties = ["feature.a"]`},
		{"non-string property", "snapshot.star", `properties = {"feature.a": 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := writeFile(t, dir, tt.file, tt.content)
			if _, err := loader.LoadFile(context.Background(), p); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSnapshotLoader_MissingFile(t *testing.T) {
	loader := NewSnapshotLoader(time.Second)
	if _, err := loader.LoadFile(context.Background(), filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
