package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newApplyCommand(version string) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "apply <snapshot>",
		Short: "Run one reconciliation cycle",
		Long: `Run a single reconciliation cycle for a configuration snapshot and exit.

The snapshot may be a properties file (.properties, .cfg), a flat YAML map
(.yaml, .yml) or a Starlark script (.star). Any failure before execution
leaves the runtime untouched.`,
		Example: `  # Converge the local runtime to a snapshot
  froyo-agent apply /etc/froyo/agent.properties

  # Compute and vet the plan without executing it
  froyo-agent apply --dry-run /etc/froyo/agent.properties`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, ctx, err := openEnvironment(cmd.Context(), version, envOptions{dryRun: dryRun})
			if err != nil {
				return err
			}
			defer env.close()

			snap, err := env.loadSnapshot(ctx, args[0])
			if err != nil {
				return err
			}

			log.Info().Str("snapshot", args[0]).Bool("dry_run", dryRun).Msg("Applying snapshot")

			result, err := env.agent.Reconcile(ctx, snap)
			if result != nil {
				if perr := printCycle(cmd.OutOrStdout(), result); perr != nil {
					return perr
				}
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "stop after the plan guard")

	return cmd
}
