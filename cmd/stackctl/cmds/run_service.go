package cmds

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-go-golems/stackctl/pkg/gate"
	"github.com/go-go-golems/stackctl/pkg/reload"
	"github.com/go-go-golems/stackctl/pkg/state"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// newRunServiceCmd is the hidden supervision wrapper `up` self-execs for
// each service: it reports startup through the ready file, optionally waits
// for the readiness marker, runs the child (reloading on watched changes),
// and records exit info for `status`.
func newRunServiceCmd() *cobra.Command {
	var serviceName string
	var cwd string
	var stdoutLog string
	var stderrLog string
	var exitInfoPath string
	var readyFile string
	var markerPath string
	var watchPaths []string
	var debounce time.Duration
	var envPairs []string
	var tailLines int

	cmd := &cobra.Command{
		Use:    "__run-service -- [cmd args...]",
		Short:  "Internal: supervision wrapper for one service",
		Hidden: true,
		Args:   cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			zerolog.SetGlobalLevel(zerolog.Disabled)
			log.Logger = zerolog.New(io.Discard)

			if serviceName == "" {
				return errors.New("missing --service")
			}
			if cwd == "" {
				return errors.New("missing --cwd")
			}
			if stdoutLog == "" || stderrLog == "" {
				return errors.New("missing --stdout-log or --stderr-log")
			}
			if exitInfoPath == "" {
				return errors.New("missing --exit-info")
			}

			for _, p := range []string{stdoutLog, stderrLog, exitInfoPath} {
				if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
					return errors.Wrap(err, "mkdir log dir")
				}
			}

			stdoutFile, err := os.OpenFile(stdoutLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return errors.Wrap(err, "open stdout log")
			}
			defer func() { _ = stdoutFile.Close() }()

			stderrFile, err := os.OpenFile(stderrLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return errors.Wrap(err, "open stderr log")
			}
			defer func() { _ = stderrFile.Close() }()

			startedAt := time.Now()

			if err := syscall.Setpgid(0, 0); err != nil {
				return errors.Wrap(err, "setpgid")
			}

			// Report in before any marker wait; a slow migration must not
			// look like a wrapper that failed to launch.
			if readyFile != "" {
				_ = os.MkdirAll(filepath.Dir(readyFile), 0o755)
				_ = os.WriteFile(readyFile, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
			}

			if markerPath != "" {
				result, err := gate.Wait(cmd.Context(), markerPath, gate.Options{})
				if err != nil {
					writeExit(exitInfoPath, serviceName, startedAt, 0, nil, errors.Wrap(err, "wait for marker").Error(), stderrLog, stdoutLog, tailLines)
					return err
				}
				if result != gate.Ready {
					err := errors.Errorf("marker %s never appeared", markerPath)
					writeExit(exitInfoPath, serviceName, startedAt, 0, nil, err.Error(), stderrLog, stdoutLog, tailLines)
					return err
				}
			}

			sup := &reload.Supervisor{
				Command:    args,
				Dir:        cwd,
				Env:        parseEnvPairs(envPairs),
				WatchPaths: watchPaths,
				Debounce:   debounce,
				Stdout:     stdoutFile,
				Stderr:     stderrFile,
			}
			code, runErr := sup.Run(cmd.Context())

			_ = stdoutFile.Sync()
			_ = stderrFile.Sync()

			errText := ""
			if runErr != nil {
				errText = runErr.Error()
			}
			writeExit(exitInfoPath, serviceName, startedAt, sup.Restarts(), &code, errText, stderrLog, stdoutLog, tailLines)

			if code != 0 {
				return errors.Errorf("service exited with code %d", code)
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&serviceName, "service", "", "Service name")
	cmd.Flags().StringVar(&cwd, "cwd", "", "Working directory")
	cmd.Flags().StringVar(&stdoutLog, "stdout-log", "", "Stdout log path")
	cmd.Flags().StringVar(&stderrLog, "stderr-log", "", "Stderr log path")
	cmd.Flags().StringVar(&exitInfoPath, "exit-info", "", "Exit info JSON path")
	cmd.Flags().StringVar(&readyFile, "ready-file", "", "Write own PID to this file once supervising")
	cmd.Flags().StringVar(&markerPath, "marker", "", "Wait for this marker before spawning the child")
	cmd.Flags().StringSliceVar(&watchPaths, "watch", nil, "Restart the child when files under this path change (repeatable)")
	cmd.Flags().DurationVar(&debounce, "debounce", 0, "Settle window before restarting")
	cmd.Flags().StringSliceVar(&envPairs, "env", nil, "Extra env (KEY=VAL), repeatable")
	cmd.Flags().IntVar(&tailLines, "tail-lines", 25, "How many log lines to record on exit")
	return cmd
}

func writeExit(path, service string, startedAt time.Time, restarts int, code *int, errText, stderrLog, stdoutLog string, tailLines int) {
	if tailLines <= 0 {
		tailLines = 25
	}
	info := state.ExitInfo{
		Service:   service,
		PID:       os.Getpid(),
		StartedAt: startedAt,
		ExitedAt:  time.Now(),
		ExitCode:  code,
		Error:     errText,
		Restarts:  restarts,
	}
	if code != nil && *code > 128 {
		info.Signal = syscall.Signal(*code - 128).String()
	}
	if lines, err := state.TailLines(stderrLog, tailLines, 2<<20); err == nil {
		info.StderrTail = lines
	}
	if lines, err := state.TailLines(stdoutLog, tailLines, 2<<20); err == nil {
		info.StdoutTail = lines
	}
	_ = state.WriteExitInfo(path, info)
}

func parseEnvPairs(pairs []string) map[string]string {
	out := map[string]string{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			continue
		}
		out[k] = v
	}
	return out
}
