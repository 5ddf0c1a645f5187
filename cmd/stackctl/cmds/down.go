package cmds

import (
	"context"
	"fmt"

	"github.com/go-go-golems/stackctl/pkg/state"
	"github.com/go-go-golems/stackctl/pkg/supervise"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Stop all recorded services and remove state",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			st, err := state.Load(opts.Root)
			if err != nil {
				return err
			}

			sup := supervise.New(supervise.Options{Root: opts.Root})
			stopCtx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()
			if err := sup.Stop(stopCtx, st); err != nil {
				log.Warn().Err(err).Msg("some services did not stop cleanly")
			}
			if err := state.Remove(opts.Root); err != nil {
				return err
			}

			log.Info().Int("services", len(st.Services)).Msg("down complete")
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}
