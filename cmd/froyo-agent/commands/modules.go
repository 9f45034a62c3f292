package commands

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/openfroyo/froyo-agent/pkg/engine"
)

func newModulesCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "modules",
		Short: "List installed modules",
		Long:  `List the modules in the local runtime registry, including the bootstrap module.`,
		Example: `  # List modules
  froyo-agent modules

  # Show the lifecycle log of module 3
  froyo-agent modules events 3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, ctx, err := openEnvironment(cmd.Context(), version, envOptions{})
			if err != nil {
				return err
			}
			defer env.close()

			mods, err := env.runtime.Modules(ctx)
			if err != nil {
				return err
			}
			return printModules(cmd.OutOrStdout(), mods)
		},
	}

	cmd.AddCommand(newModuleEventsCommand(version))

	return cmd
}

func newModuleEventsCommand(version string) *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "events [module-id]",
		Short: "Show the module lifecycle log",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var moduleID *int64
			if len(args) == 1 {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return engine.NewConfigurationError("module id must be an integer", err).WithResource(args[0])
				}
				moduleID = &id
			}

			env, ctx, err := openEnvironment(cmd.Context(), version, envOptions{})
			if err != nil {
				return err
			}
			defer env.close()

			events, err := env.runtime.Events(ctx, moduleID, limit, offset)
			if err != nil {
				return err
			}
			return printEvents(cmd.OutOrStdout(), events)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of events")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of events to skip")

	return cmd
}
