package commands

import (
	"github.com/spf13/cobra"
)

func newPlanCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <snapshot>",
		Short: "Show the plan for a snapshot",
		Long: `Compute the plan a snapshot would produce against the local runtime.

The plan lists every module to install, update or delete and runs the
policy guard over it. Nothing is executed.`,
		Example: `  # Show the plan
  froyo-agent plan snapshot.yaml

  # Include unchanged modules
  froyo-agent plan -v snapshot.yaml

  # Machine-readable output
  froyo-agent plan --json snapshot.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, ctx, err := openEnvironment(cmd.Context(), version, envOptions{dryRun: true})
			if err != nil {
				return err
			}
			defer env.close()

			snap, err := env.loadSnapshot(ctx, args[0])
			if err != nil {
				return err
			}

			result, err := env.agent.Plan(ctx, snap)
			if result != nil {
				if perr := printCycle(cmd.OutOrStdout(), result); perr != nil {
					return perr
				}
			}
			return err
		},
	}

	return cmd
}
