package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath  string
	dataDir     string
	policyPaths []string
	protected   []string
	verbose     bool
	jsonOutput  bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "froyo-agent",
		Short: "Froyo Agent - Module Runtime Provisioning",
		Long: `Froyo Agent converges a module runtime to a configuration snapshot.

Each reconciliation cycle:
  - Loads the configured repositories and expands the requested features
  - Fetches module descriptors over file, http(s) or sftp
  - Resolves requirements against the repository index
  - Plans installs, updates and deletes against the installed modules
  - Vets the plan with OPA policies
  - Applies the plan and refreshes the runtime wiring`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "agent config file path")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "directory holding the runtime registry")
	rootCmd.PersistentFlags().StringSliceVar(&policyPaths, "policy", nil, "extra policy file or directory (repeatable)")
	rootCmd.PersistentFlags().StringSliceVar(&protected, "protect", nil, "glob of module names that must never be deleted (repeatable)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newRunCommand(version))
	rootCmd.AddCommand(newApplyCommand(version))
	rootCmd.AddCommand(newPlanCommand(version))
	rootCmd.AddCommand(newValidateCommand(version))
	rootCmd.AddCommand(newModulesCommand(version))

	return rootCmd
}
