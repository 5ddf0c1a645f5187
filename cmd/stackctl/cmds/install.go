package cmds

import (
	"fmt"

	"github.com/go-go-golems/stackctl/pkg/migrate"
	"github.com/spf13/cobra"
)

func newInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Run only the dependency-install commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			resolved, marker, err := resolveStack(opts)
			if err != nil {
				return err
			}
			if len(resolved.Install) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "nothing to install")
				return nil
			}

			// Marker handling stays with the full pipeline; install alone
			// must not clear or write it.
			runner := &migrate.Runner{
				Root:    opts.Root,
				Profile: resolved.Profile,
				Marker:  marker,
				Install: resolved.Install,
				Env:     resolved.Env,
			}
			_, err = runner.RunInstallOnly(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}
