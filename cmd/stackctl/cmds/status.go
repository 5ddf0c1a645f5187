package cmds

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-go-golems/stackctl/pkg/gate"
	"github.com/go-go-golems/stackctl/pkg/health"
	"github.com/go-go-golems/stackctl/pkg/proc"
	"github.com/go-go-golems/stackctl/pkg/profile"
	"github.com/go-go-golems/stackctl/pkg/state"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var tailLines int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show status of supervised services",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			st, err := state.Load(opts.Root)
			if err != nil {
				return err
			}

			type svcHealth struct {
				Type  string `json:"type"`
				OK    bool   `json:"ok"`
				Error string `json:"error,omitempty"`
			}
			type svc struct {
				Name    string          `json:"name"`
				PID     int             `json:"pid"`
				Alive   bool            `json:"alive"`
				OneShot bool            `json:"one_shot,omitempty"`
				Stdout  string          `json:"stdout_log"`
				Stderr  string          `json:"stderr_log"`
				Health  *svcHealth      `json:"health,omitempty"`
				Stats   *proc.Stats     `json:"stats,omitempty"`
				Exit    *state.ExitInfo `json:"exit,omitempty"`
			}

			tracker := proc.NewCPUTracker()
			var services []svc
			for _, s := range st.Services {
				alive := state.ProcessAlive(s.PID)

				var hc *svcHealth
				if s.HealthType != "" && alive {
					cfg := profile.HealthCheck{
						Type:    s.HealthType,
						Address: s.HealthAddress,
						URL:     s.HealthURL,
						Command: s.HealthCommand,
					}
					probeErr := health.Probe(cmd.Context(), cfg)
					hc = &svcHealth{Type: s.HealthType, OK: probeErr == nil}
					if probeErr != nil {
						hc.Error = probeErr.Error()
					}
				}

				var stats *proc.Stats
				if alive {
					stats, _ = proc.ReadStats(s.PID, tracker)
				}

				var exitInfo *state.ExitInfo
				if !alive && s.ExitInfo != "" {
					if _, err := os.Stat(s.ExitInfo); err == nil {
						ei, err := state.ReadExitInfo(s.ExitInfo)
						if err == nil {
							exitInfo = ei
							if tailLines > 0 && len(exitInfo.StderrTail) > tailLines {
								exitInfo.StderrTail = append([]string{}, exitInfo.StderrTail[len(exitInfo.StderrTail)-tailLines:]...)
							}
							if tailLines > 0 && len(exitInfo.StdoutTail) > tailLines {
								exitInfo.StdoutTail = append([]string{}, exitInfo.StdoutTail[len(exitInfo.StdoutTail)-tailLines:]...)
							}
						}
					}
				}
				if !alive && exitInfo == nil && tailLines > 0 {
					lines, err := state.TailLines(s.StderrLog, tailLines, 2<<20)
					if err == nil {
						exitInfo = &state.ExitInfo{
							Service:    s.Name,
							PID:        s.PID,
							StartedAt:  st.CreatedAt,
							ExitedAt:   time.Now(),
							Error:      "exit info unavailable; stderr tail captured at status time",
							StderrTail: lines,
						}
					}
				}

				services = append(services, svc{
					Name:    s.Name,
					PID:     s.PID,
					Alive:   alive,
					OneShot: s.OneShot,
					Stdout:  s.StdoutLog,
					Stderr:  s.StderrLog,
					Health:  hc,
					Stats:   stats,
					Exit:    exitInfo,
				})
			}

			out := map[string]any{
				"profile":        st.Profile,
				"marker":         st.Marker,
				"marker_present": gate.Exists(st.Marker),
				"services":       services,
			}
			if report, err := migrateReport(opts.Root); err == nil && report != nil {
				out["migrate_ok"] = report.OK
			}

			b, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return errors.Wrap(err, "marshal status")
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}

	cmd.Flags().IntVar(&tailLines, "tail-lines", 25, "How many log lines to include for dead services")
	return cmd
}
