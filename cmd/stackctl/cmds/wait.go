package cmds

import (
	"fmt"
	"time"

	"github.com/go-go-golems/stackctl/pkg/gate"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newWaitCmd() *cobra.Command {
	var interval time.Duration
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "wait <path>",
		Short: "Block until a marker file exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := gate.Wait(cmd.Context(), args[0], gate.Options{
				Interval: interval,
				Timeout:  timeout,
			})
			if err != nil {
				return err
			}
			if result == gate.TimedOut {
				return errors.Errorf("timed out after %s waiting for %s", timeout, args[0])
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ready")
			return nil
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 200*time.Millisecond, "Poll interval")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long (0 waits forever)")
	return cmd
}
