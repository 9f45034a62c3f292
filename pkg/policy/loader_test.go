package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

const denyNothing = "package test\n\nimport rego.v1\n\ndeny contains msg if {\n\tfalse\n\tmsg := \"never\"\n}\n"

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func TestLoader_LoadFromFile_Rego(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	policyFile := filepath.Join(t.TempDir(), "pinned-billing.rego")
	content := "# Billing stays on its current version\n# severity: error\n\n" + denyNothing
	writeFile(t, policyFile, content)

	policies, err := loader.loadFromFile(policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("Expected 1 policy, got %d", len(policies))
	}

	p := policies[0]
	if p.Name != "pinned-billing" {
		t.Errorf("Expected name 'pinned-billing', got '%s'", p.Name)
	}
	if p.Rego != content {
		t.Error("Rego content doesn't match")
	}
	if p.Description != "Billing stays on its current version" {
		t.Errorf("Unexpected description %q", p.Description)
	}
	if p.Severity != SeverityError {
		t.Errorf("Expected severity error, got %s", p.Severity)
	}
	if !p.Enabled {
		t.Error("Policy should be enabled by default")
	}
	if p.Metadata["source"] != policyFile {
		t.Errorf("Expected source %s, got %v", policyFile, p.Metadata["source"])
	}
}

func TestLoader_LoadFromFile_JSON(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	policyFile := filepath.Join(t.TempDir(), "single.json")
	data, err := json.Marshal(Policy{
		Name:        "json-policy",
		Description: "A test policy",
		Rego:        denyNothing,
		Severity:    SeverityCritical,
		Enabled:     true,
	})
	if err != nil {
		t.Fatalf("Failed to marshal policy: %v", err)
	}
	writeFile(t, policyFile, string(data))

	policies, err := loader.loadFromFile(policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("Expected 1 policy, got %d", len(policies))
	}
	if policies[0].Name != "json-policy" || policies[0].Severity != SeverityCritical {
		t.Errorf("Unexpected policy %+v", policies[0])
	}
}

func TestLoader_LoadFromFile_Bundle(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	bundleFile := filepath.Join(t.TempDir(), "bundle.json")
	data, err := json.Marshal(PolicyBundle{
		Name:    "site",
		Version: "1.0.0",
		Policies: []Policy{
			{Name: "first", Rego: denyNothing, Enabled: true},
			{Name: "second", Rego: denyNothing, Severity: SeverityError, Enabled: true},
		},
	})
	if err != nil {
		t.Fatalf("Failed to marshal bundle: %v", err)
	}
	writeFile(t, bundleFile, string(data))

	policies, err := loader.loadFromFile(bundleFile)
	if err != nil {
		t.Fatalf("Failed to load bundle: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("Expected 2 policies, got %d", len(policies))
	}
	if policies[0].Severity != SeverityWarning {
		t.Errorf("Expected default severity warning, got %s", policies[0].Severity)
	}
	if policies[1].Severity != SeverityError {
		t.Errorf("Expected severity error, got %s", policies[1].Severity)
	}
}

func TestLoader_LoadFromFile_Errors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "bad.json"), "{not json")
	writeFile(t, filepath.Join(dir, "noname.json"), `{"rego": "package x"}`)
	writeFile(t, filepath.Join(dir, "norego.json"), `{"name": "x"}`)
	writeFile(t, filepath.Join(dir, "policy.txt"), "package x")

	tests := []string{"bad.json", "noname.json", "norego.json", "policy.txt", "missing.rego"}
	for _, name := range tests {
		t.Run(name, func(t *testing.T) {
			loader := NewLoader(zerolog.Nop())
			if _, err := loader.loadFromFile(filepath.Join(dir, name)); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestLoader_LoadFromDirectory_Recursive(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.rego"), denyNothing)
	writeFile(t, filepath.Join(dir, "nested", "b.rego"), denyNothing)
	writeFile(t, filepath.Join(dir, "nested", "deeper", "c.rego"), denyNothing)
	writeFile(t, filepath.Join(dir, "README.md"), "ignored")
	writeFile(t, filepath.Join(dir, "broken.json"), "{")

	policies, err := loader.loadFromDirectory(dir)
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}
	if len(policies) != 3 {
		t.Errorf("Expected 3 policies, got %d", len(policies))
	}
}

func TestLoader_LoadFromPaths(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	dir := t.TempDir()
	file := filepath.Join(t.TempDir(), "single.rego")
	writeFile(t, filepath.Join(dir, "a.rego"), denyNothing)
	writeFile(t, filepath.Join(dir, "b.rego"), denyNothing)
	writeFile(t, file, denyNothing)

	policies, err := loader.LoadFromPaths(context.Background(), []string{dir, file})
	if err != nil {
		t.Fatalf("Failed to load paths: %v", err)
	}
	if len(policies) != 3 {
		t.Errorf("Expected 3 policies, got %d", len(policies))
	}

	if _, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(dir, "missing")}); err == nil {
		t.Error("Expected error for missing path")
	}
}

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		description string
		severity    Severity
	}{
		{
			name:        "single line comment",
			content:     "# Keeps billing pinned\npackage test",
			description: "Keeps billing pinned",
			severity:    SeverityWarning,
		},
		{
			name:        "multi line comments",
			content:     "# Keeps billing\n# pinned forever\npackage test",
			description: "Keeps billing pinned forever",
			severity:    SeverityWarning,
		},
		{
			name:        "severity line",
			content:     "# Pinned\n# severity: critical\npackage test",
			description: "Pinned",
			severity:    SeverityCritical,
		},
		{
			name:        "unknown severity ignored",
			content:     "# severity: loud\npackage test",
			description: "",
			severity:    SeverityWarning,
		},
		{
			name:        "no comments",
			content:     "package test\n# not a header",
			description: "",
			severity:    SeverityWarning,
		},
		{
			name:        "stops at blank line",
			content:     "# First\n\n# Second\npackage test",
			description: "First",
			severity:    SeverityWarning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			description, severity := parseHeader(tt.content)
			if description != tt.description {
				t.Errorf("Expected description %q, got %q", tt.description, description)
			}
			if severity != tt.severity {
				t.Errorf("Expected severity %s, got %s", tt.severity, severity)
			}
		})
	}
}

func TestLoader_ClearCache(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	policyFile := filepath.Join(t.TempDir(), "test.rego")
	writeFile(t, policyFile, denyNothing)

	if _, err := loader.loadFromFile(policyFile); err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if len(loader.cache) != 1 {
		t.Fatalf("Expected 1 cache entry, got %d", len(loader.cache))
	}

	loader.ClearCache()
	if len(loader.cache) != 0 {
		t.Errorf("Expected empty cache, got %d entries", len(loader.cache))
	}
}
