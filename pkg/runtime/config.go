package runtime

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/openfroyo/froyo-agent/pkg/engine"
	"github.com/openfroyo/froyo-agent/pkg/semver"
)

// Defaults for the bootstrap module.
const (
	DefaultSystemName    = "froyo.system"
	DefaultSystemVersion = "1.0.0"

	// BootstrapLocation is the location recorded for module 0.
	BootstrapLocation = "system:bootstrap"

	// RegistryFile is the registry database name inside the data directory.
	RegistryFile = "registry.db"
)

// Config configures the local runtime.
type Config struct {
	// SystemName and SystemVersion identify the bootstrap module.
	SystemName    string `yaml:"system_name"`
	SystemVersion string `yaml:"system_version"`

	// Capabilities are the offerings of the bootstrap module in
	// "kind:name;version=x;key=value" form. A missing kind means capability
	// and a missing version means the system version.
	Capabilities []string `yaml:"capabilities"`
}

// DefaultConfig returns a runtime configuration with no extra system
// capabilities.
func DefaultConfig() Config {
	return Config{
		SystemName:    DefaultSystemName,
		SystemVersion: DefaultSystemVersion,
	}
}

// RegistryPath returns the registry database path inside dataDir.
func RegistryPath(dataDir string) string {
	return filepath.Join(dataDir, RegistryFile)
}

// bootstrapHeaders renders the bootstrap module manifest.
func (c Config) bootstrapHeaders() (map[string]string, error) {
	name := c.SystemName
	if name == "" {
		name = DefaultSystemName
	}
	raw := c.SystemVersion
	if raw == "" {
		raw = DefaultSystemVersion
	}
	version, err := semver.ParseVersion(raw)
	if err != nil {
		return nil, engine.NewConfigurationError("invalid system version", err).WithResource(name)
	}

	headers := map[string]string{
		engine.HeaderModuleName:    name,
		engine.HeaderModuleVersion: version.String(),
	}

	entries := make([]string, 0, len(c.Capabilities))
	for _, raw := range c.Capabilities {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		capability, err := engine.ParseCapability(entry)
		if err != nil {
			return nil, engine.NewConfigurationError("invalid system capability", err).WithResource(raw)
		}
		if capability.Version.IsZero() {
			capability.Version = version
		}
		entries = append(entries, capability.String())
	}
	if len(entries) > 0 {
		headers[engine.HeaderProvideCapability] = strings.Join(entries, headerListSeparator)
	}
	return headers, nil
}

const headerListSeparator = "\n"

func moduleRef(name string, version string) string {
	return fmt.Sprintf("%s@%s", name, version)
}
