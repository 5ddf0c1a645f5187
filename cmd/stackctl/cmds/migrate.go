package cmds

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-go-golems/stackctl/pkg/migrate"
	"github.com/go-go-golems/stackctl/pkg/state"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run the migration pipeline standalone",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			resolved, marker, err := resolveStack(opts)
			if err != nil {
				return err
			}

			runner := &migrate.Runner{
				Root:    opts.Root,
				Profile: resolved.Profile,
				Marker:  marker,
				Install: resolved.Install,
				Spec:    resolved.Migrate,
				Env:     resolved.Env,
			}
			report, runErr := runner.Run(cmd.Context())
			if report != nil {
				if err := migrate.WriteReport(state.MigrateReportPath(opts.Root), report); err != nil {
					log.Warn().Err(err).Msg("write migrate report failed")
				}
				b, err := json.MarshalIndent(report, "", "  ")
				if err == nil {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(b))
				}
			}
			return runErr
		},
	}
}

// migrateReport loads the last pipeline report if one was written.
func migrateReport(root string) (*migrate.RunReport, error) {
	path := state.MigrateReportPath(root)
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return migrate.ReadReport(path)
}
