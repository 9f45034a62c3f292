package commands

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/froyo-agent/pkg/config"
	"github.com/openfroyo/froyo-agent/pkg/trigger"
)

func newRunCommand(version string) *cobra.Command {
	var (
		pattern     string
		debounce    time.Duration
		skipInitial bool
		dryRun      bool
	)

	cmd := &cobra.Command{
		Use:   "run <snapshot>",
		Short: "Watch a snapshot and reconcile on every change",
		Long: `Run the agent as a long-lived process.

The agent reconciles the snapshot once at startup and again whenever a
matching file in its directory changes. Cycles run one at a time; while a
cycle is running only the newest changed snapshot is kept for the next one.
Policy files are reloaded when they change, and metrics are served on the
configured address.`,
		Example: `  # Watch a properties snapshot
  froyo-agent run /etc/froyo/agent.properties

  # React to any .star file in the directory
  froyo-agent run --pattern '*.star' /etc/froyo/agent.star

  # Plan only, never execute
  froyo-agent run --dry-run --config /etc/froyo/agent.yaml /etc/froyo/agent.properties`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, ctx, err := openEnvironment(cmd.Context(), version, envOptions{metrics: true, dryRun: dryRun})
			if err != nil {
				return err
			}
			defer env.close()

			if paths := env.settings.Agent.PolicyPaths; len(paths) > 0 {
				if err := env.guard.Watch(ctx, paths); err != nil {
					return err
				}
			}

			worker := trigger.NewWorker(trigger.ReconcileFunc(
				func(ctx context.Context, snap *config.Snapshot) error {
					_, err := env.agent.Reconcile(ctx, snap)
					return err
				}), env.logger)

			watcher, err := trigger.NewWatcher(trigger.WatcherConfig{
				Path:        args[0],
				Pattern:     pattern,
				Debounce:    debounce,
				SkipInitial: skipInitial,
			}, config.NewSnapshotLoader(env.settings.Agent.ScriptTimeout), worker, env.logger)
			if err != nil {
				return err
			}

			log.Info().
				Str("snapshot", args[0]).
				Str("data_dir", env.settings.Agent.DataDir).
				Bool("dry_run", env.settings.Agent.DryRun).
				Msg("Agent started")

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return worker.Run(gctx) })
			g.Go(func() error { return watcher.Run(gctx) })

			err = g.Wait()
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			log.Info().Msg("Agent stopped")
			return err
		},
	}

	cmd.Flags().StringVar(&pattern, "pattern", "", "glob of file names that trigger a cycle (default: the snapshot's name)")
	cmd.Flags().DurationVar(&debounce, "debounce", trigger.DefaultDebounce, "quiet period before a changed snapshot is loaded")
	cmd.Flags().BoolVar(&skipInitial, "skip-initial", false, "wait for the first change instead of reconciling at startup")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "stop every cycle after the plan guard")

	return cmd
}
