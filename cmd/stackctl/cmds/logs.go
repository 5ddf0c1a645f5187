package cmds

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/go-go-golems/stackctl/pkg/state"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newLogsCmd() *cobra.Command {
	var stream string
	var tailLines int
	var since string

	cmd := &cobra.Command{
		Use:   "logs <service>",
		Short: "Show captured logs for a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			st, err := state.Load(opts.Root)
			if err != nil {
				return err
			}

			var rec *state.ServiceRecord
			for i := range st.Services {
				if st.Services[i].Name == args[0] {
					rec = &st.Services[i]
					break
				}
			}
			if rec == nil {
				return errors.Errorf("unknown service %q", args[0])
			}

			path := rec.StdoutLog
			if stream == "stderr" {
				path = rec.StderrLog
			} else if stream != "stdout" {
				return errors.Errorf("unknown stream %q (want stdout or stderr)", stream)
			}

			var cutoff time.Time
			if since != "" {
				cutoff, err = parseSince(since)
				if err != nil {
					return err
				}
			}

			lines, err := state.TailLines(path, tailLines, 8<<20)
			if err != nil {
				return err
			}
			w := bufio.NewWriter(cmd.OutOrStdout())
			defer func() { _ = w.Flush() }()
			for _, line := range lines {
				if !cutoff.IsZero() && !lineAfter(line, cutoff) {
					continue
				}
				_, _ = fmt.Fprintln(w, line)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&stream, "stream", "stdout", "Which stream to show (stdout or stderr)")
	cmd.Flags().IntVar(&tailLines, "tail-lines", 200, "How many lines from the end of the log")
	cmd.Flags().StringVar(&since, "since", "", "Only lines newer than this (duration like 10m, or an absolute timestamp)")
	return cmd
}

// parseSince accepts a Go duration (relative to now) or anything dateparse
// can make sense of.
func parseSince(s string) (time.Time, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return time.Now().Add(-d), nil
	}
	t, err := dateparse.ParseLocal(s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse --since %q", s)
	}
	return t, nil
}

// lineAfter keeps a log line when its leading timestamp parses and is at or
// after the cutoff. Lines without a parseable timestamp are kept; dropping
// them would hide panics and bare prints.
func lineAfter(line string, cutoff time.Time) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}
	candidate := fields[0]
	if len(fields) >= 2 {
		candidate = fields[0] + " " + fields[1]
	}
	if t, err := dateparse.ParseLocal(candidate); err == nil {
		return !t.Before(cutoff)
	}
	if t, err := dateparse.ParseLocal(fields[0]); err == nil {
		return !t.Before(cutoff)
	}
	return true
}
