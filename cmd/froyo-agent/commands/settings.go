package commands

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/froyo-agent/pkg/agent"
	"github.com/openfroyo/froyo-agent/pkg/fetch"
	"github.com/openfroyo/froyo-agent/pkg/runtime"
	"github.com/openfroyo/froyo-agent/pkg/telemetry"
	"github.com/openfroyo/froyo-agent/pkg/transports/ssh"
)

// settings is the agent configuration file.
type settings struct {
	Agent     agent.Config      `yaml:"agent"`
	Runtime   runtime.Config    `yaml:"runtime"`
	Telemetry telemetrySettings `yaml:"telemetry"`
	SFTP      sftpSettings      `yaml:"sftp"`
}

type telemetrySettings struct {
	// Environment picks the base profile: production, development or the
	// default.
	Environment     string  `yaml:"environment"`
	LogLevel        string  `yaml:"log_level"`
	LogFormat       string  `yaml:"log_format"`
	LogOutput       string  `yaml:"log_output"`
	MetricsEnabled  *bool   `yaml:"metrics_enabled"`
	MetricsAddress  string  `yaml:"metrics_address"`
	TracingExporter string  `yaml:"tracing_exporter"`
	TracingEndpoint string  `yaml:"tracing_endpoint"`
	SamplingRate    float64 `yaml:"sampling_rate"`
}

type sftpSettings struct {
	User           string        `yaml:"user"`
	AuthMethod     string        `yaml:"auth_method"`
	PrivateKeyPath string        `yaml:"private_key_path"`
	KnownHostsPath string        `yaml:"known_hosts_path"`
	StrictHostKey  *bool         `yaml:"strict_host_key_checking"`
	Timeout        time.Duration `yaml:"timeout"`
}

func defaultSettings() *settings {
	return &settings{
		Agent:   agent.DefaultConfig(),
		Runtime: runtime.DefaultConfig(),
	}
}

// loadSettings reads the configuration file, if any, over the defaults and
// applies the global flag overrides.
func loadSettings() (*settings, error) {
	s := defaultSettings()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	}

	if dataDir != "" {
		s.Agent.DataDir = dataDir
	}
	if len(policyPaths) > 0 {
		s.Agent.PolicyPaths = append(s.Agent.PolicyPaths, policyPaths...)
	}
	if len(protected) > 0 {
		s.Agent.ProtectedModules = append(s.Agent.ProtectedModules, protected...)
	}
	if verbose {
		s.Telemetry.LogLevel = "debug"
	}

	if err := s.Agent.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// telemetryConfig builds the telemetry configuration. Metrics are served
// only when serveMetrics is set.
func (s *settings) telemetryConfig(version string, serveMetrics bool) *telemetry.Config {
	t := s.Telemetry

	var cfg *telemetry.Config
	switch t.Environment {
	case "production":
		cfg = telemetry.ProductionConfig()
	case "development":
		cfg = telemetry.DevelopmentConfig()
	default:
		cfg = telemetry.DefaultConfig()
	}
	cfg.ServiceVersion = version

	if t.LogLevel != "" {
		cfg.Logging.Level = t.LogLevel
	}
	if t.LogFormat != "" {
		cfg.Logging.Format = t.LogFormat
	}
	if t.LogOutput != "" {
		cfg.Logging.Output = t.LogOutput
	}
	if jsonOutput {
		cfg.Logging.Format = "json"
	}

	cfg.Metrics.Enabled = serveMetrics
	if t.MetricsEnabled != nil {
		cfg.Metrics.Enabled = serveMetrics && *t.MetricsEnabled
	}
	if t.MetricsAddress != "" {
		cfg.Metrics.ListenAddress = t.MetricsAddress
	}

	switch t.TracingExporter {
	case "":
	case "none":
		cfg.Tracing.Enabled = false
	default:
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = t.TracingExporter
		if t.TracingEndpoint != "" {
			cfg.Tracing.Endpoint = t.TracingEndpoint
		}
		if t.SamplingRate > 0 {
			cfg.Tracing.SamplingRate = t.SamplingRate
		}
	}
	return cfg
}

// fetchConfig builds the download settings.
func (s *settings) fetchConfig() fetch.Config {
	cfg := s.Agent.FetchConfig()

	p := s.SFTP
	sftp := ssh.DefaultConfig("", "froyo")
	if p.User != "" {
		sftp.User = p.User
	}
	if p.AuthMethod != "" {
		sftp.AuthMethod = ssh.AuthMethod(p.AuthMethod)
	}
	if p.PrivateKeyPath != "" {
		sftp.PrivateKeyPath = p.PrivateKeyPath
	}
	if p.KnownHostsPath != "" {
		sftp.KnownHostsPath = p.KnownHostsPath
	}
	if p.StrictHostKey != nil {
		sftp.StrictHostKeyChecking = *p.StrictHostKey
	}
	if p.Timeout > 0 {
		sftp.ConnectionTimeout = p.Timeout
	}
	cfg.SFTP = sftp
	return cfg
}
