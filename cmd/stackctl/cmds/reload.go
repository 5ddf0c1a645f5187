package cmds

import (
	"os"
	"time"

	"github.com/go-go-golems/stackctl/pkg/gate"
	"github.com/go-go-golems/stackctl/pkg/reload"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newReloadCmd() *cobra.Command {
	var watchPaths []string
	var debounce time.Duration
	var grace time.Duration
	var waitMarker string
	var waitInterval time.Duration
	var waitTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "reload --watch DIR [--watch DIR]... -- CMD [ARGS...]",
		Short: "Run a command and restart it when watched files change",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(watchPaths) == 0 {
				return errors.New("at least one --watch path is required")
			}

			ctx := cmd.Context()
			if waitMarker != "" {
				result, err := gate.Wait(ctx, waitMarker, gate.Options{
					Interval: waitInterval,
					Timeout:  waitTimeout,
				})
				if err != nil {
					return err
				}
				if result == gate.TimedOut {
					return errors.Errorf("timed out waiting for marker %s", waitMarker)
				}
			}

			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			sup := &reload.Supervisor{
				Command:    args,
				Dir:        cwd,
				WatchPaths: watchPaths,
				Debounce:   debounce,
				Grace:      grace,
				Stdout:     cmd.OutOrStdout(),
				Stderr:     cmd.ErrOrStderr(),
			}
			code, err := sup.Run(ctx)
			if err != nil {
				return err
			}
			log.Info().Int("exit_code", code).Int("restarts", sup.Restarts()).Msg("child exited")
			if code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&watchPaths, "watch", nil, "Directory to watch (repeatable)")
	cmd.Flags().DurationVar(&debounce, "debounce", 400*time.Millisecond, "Settle window before restarting")
	cmd.Flags().DurationVar(&grace, "grace", 3*time.Second, "SIGTERM grace before SIGKILL")
	cmd.Flags().StringVar(&waitMarker, "wait-marker", "", "Block on this marker file before the first spawn")
	cmd.Flags().DurationVar(&waitInterval, "wait-interval", 200*time.Millisecond, "Marker poll interval")
	cmd.Flags().DurationVar(&waitTimeout, "wait-timeout", 0, "Marker wait timeout (0 waits forever)")
	return cmd
}
