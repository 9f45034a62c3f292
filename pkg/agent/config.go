package agent

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/froyo-agent/pkg/engine"
	"github.com/openfroyo/froyo-agent/pkg/fetch"
)

// Defaults for agent settings.
const (
	DefaultParallelism   = 8
	DefaultDataDir       = "/var/lib/froyo"
	DefaultScriptTimeout = 5 * time.Second
)

// Config holds the agent settings.
type Config struct {
	// Parallelism bounds concurrent artifact fetches.
	Parallelism int `yaml:"parallelism" validate:"gte=1,lte=256"`

	// RefreshTimeout bounds the wait for the runtime's refresh signal.
	RefreshTimeout time.Duration `yaml:"refresh_timeout" validate:"gte=0"`

	// DryRun stops every cycle after the plan guard.
	DryRun bool `yaml:"dry_run"`

	// PolicyPaths are extra .rego or .json policy files and directories.
	PolicyPaths []string `yaml:"policy_paths" validate:"dive,required"`

	// ProtectedModules are glob patterns of module names that must never be
	// deleted.
	ProtectedModules []string `yaml:"protected_modules" validate:"dive,required"`

	// DataDir holds the local runtime registry.
	DataDir string `yaml:"data_dir" validate:"required"`

	// ScriptTimeout bounds Starlark snapshot evaluation.
	ScriptTimeout time.Duration `yaml:"script_timeout" validate:"gte=0"`
}

// DefaultConfig returns the default agent settings.
func DefaultConfig() Config {
	return Config{
		Parallelism:    DefaultParallelism,
		RefreshTimeout: engine.DefaultRefreshTimeout,
		DataDir:        DefaultDataDir,
		ScriptTimeout:  DefaultScriptTimeout,
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return engine.NewConfigurationError(fmt.Sprintf("invalid agent config: %v", err), err)
	}
	return nil
}

// FetchConfig derives the download settings.
func (c Config) FetchConfig() fetch.Config {
	cfg := fetch.DefaultConfig()
	if c.Parallelism > 0 {
		cfg.Parallelism = c.Parallelism
	}
	return cfg
}
