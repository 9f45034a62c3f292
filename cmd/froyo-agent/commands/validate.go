package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <snapshot>",
		Short: "Validate a snapshot",
		Long: `Validate a configuration snapshot without touching the runtime.

Validation parses the snapshot, loads every repository it names, including
referenced repositories, and computes the feature closure. The local
registry is not opened.`,
		Example: `  # Validate a snapshot
  froyo-agent validate snapshot.properties`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, ctx, err := openEnvironment(cmd.Context(), version, envOptions{ephemeral: true, dryRun: true})
			if err != nil {
				return err
			}
			defer env.close()

			snap, err := env.loadSnapshot(ctx, args[0])
			if err != nil {
				return err
			}

			v, err := env.agent.Validate(ctx, snap)
			if err != nil {
				return fmt.Errorf("snapshot %s is invalid: %w", args[0], err)
			}
			return printValidation(cmd.OutOrStdout(), v)
		},
	}

	return cmd
}
