package cmds

import (
	"context"
	"fmt"
	"os"

	"github.com/go-go-golems/stackctl/pkg/migrate"
	"github.com/go-go-golems/stackctl/pkg/state"
	"github.com/go-go-golems/stackctl/pkg/supervise"
	"github.com/go-go-golems/stackctl/pkg/topology"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newUpCmd() *cobra.Command {
	var force bool
	var skipMigrate bool

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start the stack (migrate + launch services in dependency order)",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}

			if _, err := os.Stat(state.StatePath(opts.Root)); err == nil {
				if !force {
					return errors.New("state exists; run stackctl down first or use --force")
				}
				log.Info().Msg("existing state found; stopping first (--force)")
				if err := stopFromState(cmd.Context(), opts); err != nil {
					return err
				}
			}

			resolved, marker, err := resolveStack(opts)
			if err != nil {
				return err
			}

			ctx := cmd.Context()

			// When the profile carries its own one-shot migrations service
			// the pipeline runs under supervision instead of inline.
			_, hasMigrationsService := resolved.Service("migrations")
			if !skipMigrate && !hasMigrationsService {
				runner := &migrate.Runner{
					Root:    opts.Root,
					Profile: resolved.Profile,
					Marker:  marker,
					Install: resolved.Install,
					Spec:    resolved.Migrate,
					Env:     resolved.Env,
				}
				report, runErr := runner.Run(ctx)
				if report != nil {
					if err := migrate.WriteReport(state.MigrateReportPath(opts.Root), report); err != nil {
						log.Warn().Err(err).Msg("write migrate report failed")
					}
				}
				if runErr != nil {
					return runErr
				}
			}

			plan, err := topology.Build(resolved.Services)
			if err != nil {
				return err
			}

			exe, err := os.Executable()
			if err != nil {
				return errors.Wrap(err, "resolve own executable")
			}

			sup := supervise.New(supervise.Options{
				Root:         opts.Root,
				Profile:      resolved.Profile,
				Marker:       marker,
				ReadyTimeout: opts.Timeout,
				WrapperExe:   exe,
			})
			st, err := sup.Start(ctx, plan)
			if err != nil {
				return err
			}
			if err := state.Save(opts.Root, st); err != nil {
				_ = sup.Stop(context.Background(), st)
				return err
			}

			log.Info().Int("services", len(st.Services)).Str("profile", resolved.Profile).Msg("up complete")
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Stop existing state before starting")
	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "Skip the migration pipeline")
	return cmd
}

func stopFromState(ctx context.Context, opts rootOptions) error {
	st, err := state.Load(opts.Root)
	if err != nil {
		return err
	}
	sup := supervise.New(supervise.Options{Root: opts.Root})
	stopCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	_ = sup.Stop(stopCtx, st)
	return state.Remove(opts.Root)
}
