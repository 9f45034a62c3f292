package commands

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openfroyo/froyo-agent/pkg/engine"
)

func resetFlags(t *testing.T) {
	t.Helper()
	configPath, dataDir = "", ""
	policyPaths, protected = nil, nil
	verbose, jsonOutput = false, false
	t.Cleanup(func() {
		configPath, dataDir = "", ""
		policyPaths, protected = nil, nil
		verbose, jsonOutput = false, false
	})
}

func TestLoadSettings_Defaults(t *testing.T) {
	resetFlags(t)

	s, err := loadSettings()
	if err != nil {
		t.Fatalf("loadSettings() error = %v", err)
	}
	if s.Agent.Parallelism != 8 {
		t.Errorf("expected default parallelism 8, got %d", s.Agent.Parallelism)
	}
	if s.Runtime.SystemName == "" {
		t.Error("expected a default system name")
	}
}

func TestLoadSettings_File(t *testing.T) {
	resetFlags(t)

	dir := t.TempDir()
	configPath = filepath.Join(dir, "agent.yaml")
	content := `
agent:
  parallelism: 4
  refresh_timeout: 2s
  protected_modules:
    - org.example.*
runtime:
  system_name: acme.runtime
  capabilities:
    - storage;version=1.2
telemetry:
  log_level: warn
sftp:
  user: deploy
  strict_host_key_checking: false
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	dataDir = filepath.Join(dir, "data")
	protected = []string{"core.*"}

	s, err := loadSettings()
	if err != nil {
		t.Fatalf("loadSettings() error = %v", err)
	}
	if s.Agent.Parallelism != 4 || s.Agent.RefreshTimeout != 2*time.Second {
		t.Errorf("agent settings not applied: %+v", s.Agent)
	}
	if s.Agent.DataDir != dataDir {
		t.Errorf("expected data dir flag to win, got %s", s.Agent.DataDir)
	}
	if len(s.Agent.ProtectedModules) != 2 {
		t.Errorf("expected file and flag patterns, got %v", s.Agent.ProtectedModules)
	}
	if s.Runtime.SystemName != "acme.runtime" || len(s.Runtime.Capabilities) != 1 {
		t.Errorf("runtime settings not applied: %+v", s.Runtime)
	}

	tc := s.telemetryConfig("1.2.3", false)
	if tc.Logging.Level != "warn" || tc.ServiceVersion != "1.2.3" || tc.Metrics.Enabled {
		t.Errorf("unexpected telemetry config %+v", tc)
	}

	fc := s.fetchConfig()
	if fc.Parallelism != 4 || fc.SFTP.User != "deploy" || fc.SFTP.StrictHostKeyChecking {
		t.Errorf("unexpected fetch config %+v", fc)
	}
}

func TestLoadSettings_Invalid(t *testing.T) {
	resetFlags(t)

	configPath = filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(configPath, []byte("agent:\n  parallelism: 0\n  data_dir: /tmp\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	_, err := loadSettings()
	if !engine.HasCode(err, engine.ErrCodeConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestTelemetryConfig_Tracing(t *testing.T) {
	resetFlags(t)
	jsonOutput = true

	s := defaultSettings()
	s.Telemetry.TracingExporter = "stdout"

	tc := s.telemetryConfig("dev", true)
	if !tc.Tracing.Enabled || tc.Tracing.Exporter != "stdout" {
		t.Errorf("expected stdout tracing, got %+v", tc.Tracing)
	}
	if tc.Logging.Format != "json" || !tc.Metrics.Enabled {
		t.Errorf("unexpected logging or metrics config %+v %+v", tc.Logging, tc.Metrics)
	}
	if err := tc.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestTelemetryConfig_Environment(t *testing.T) {
	resetFlags(t)

	s := defaultSettings()
	s.Telemetry.Environment = "production"
	s.Telemetry.TracingExporter = "none"

	tc := s.telemetryConfig("dev", false)
	if tc.Environment != "production" || tc.Logging.Format != "json" {
		t.Errorf("expected production profile, got %+v", tc.Logging)
	}
	if tc.Tracing.Enabled {
		t.Error("tracing exporter none must disable tracing")
	}
}
