package cmds

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/go-go-golems/stackctl/pkg/gate"
	"github.com/go-go-golems/stackctl/pkg/migrate"
	"github.com/go-go-golems/stackctl/pkg/profile"
	"github.com/go-go-golems/stackctl/pkg/state"
	"github.com/go-go-golems/stackctl/pkg/supervise"
	"github.com/go-go-golems/stackctl/pkg/topology"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// newSmoketestCmd runs an end-to-end self-check against a throwaway stack:
// migrate writes the marker, up honors dependency conditions, status sees
// everything alive, down leaves nothing behind.
func newSmoketestCmd() *cobra.Command {
	var timeout time.Duration
	var keep bool

	cmd := &cobra.Command{
		Use:   "smoketest",
		Short: "Smoke test: migrate, up, status and down against a temp stack",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			root, err := os.MkdirTemp("", "stackctl-smoketest-*")
			if err != nil {
				return err
			}
			if !keep {
				defer func() { _ = os.RemoveAll(root) }()
			}

			port, err := freePort()
			if err != nil {
				return err
			}

			stackBody := fmt.Sprintf(`version: 1
marker: .stackctl/migrated
migrate:
  schema:
    - name: schema
      command: ["bash", "-lc", "echo schema-applied > schema.txt"]
  fixtures:
    - name: seed
      command: ["bash", "-lc", "echo seeded"]
      tolerate: "already exists"
services:
  web:
    command: ["python3", "-m", "http.server", "%d"]
    wait_marker: true
    health:
      type: tcp
      address: "127.0.0.1:%d"
  seeder:
    command: ["bash", "-lc", "echo done > seeder.txt"]
    one_shot: true
    depends_on:
      - service: web
        condition: healthy
  worker:
    command: ["bash", "-lc", "sleep 600"]
    depends_on:
      - service: seeder
        condition: completed
`, port, port)
			stackPath := filepath.Join(root, profile.DefaultStackFilename)
			if err := os.WriteFile(stackPath, []byte(stackBody), 0o644); err != nil {
				return err
			}

			f, err := profile.LoadFromFile(stackPath)
			if err != nil {
				return err
			}
			resolved, err := f.Resolve("")
			if err != nil {
				return err
			}
			marker := filepath.Join(root, resolved.Marker)

			runner := &migrate.Runner{
				Root:    root,
				Profile: resolved.Profile,
				Marker:  marker,
				Spec:    resolved.Migrate,
			}
			report, err := runner.Run(ctx)
			if err != nil {
				return err
			}
			if !report.OK {
				return errors.New("migration report not ok")
			}
			if !gate.Exists(marker) {
				return errors.New("marker missing after migrate")
			}

			plan, err := topology.Build(resolved.Services)
			if err != nil {
				return err
			}

			exe, err := os.Executable()
			if err != nil {
				return err
			}
			sup := supervise.New(supervise.Options{
				Root:         root,
				Profile:      resolved.Profile,
				Marker:       marker,
				ReadyTimeout: timeout,
				WrapperExe:   exe,
			})
			st, err := sup.Start(ctx, plan)
			if err != nil {
				return err
			}
			defer func() { _ = sup.Stop(context.Background(), st) }()

			if err := state.Save(root, st); err != nil {
				return err
			}

			for _, name := range []string{"web", "worker"} {
				found := false
				for _, rec := range st.Services {
					if rec.Name == name {
						found = true
						if !state.ProcessAlive(rec.PID) {
							return errors.Errorf("service %q not alive after up", name)
						}
					}
				}
				if !found {
					return errors.Errorf("service %q missing from state", name)
				}
			}
			if _, err := os.Stat(filepath.Join(root, "seeder.txt")); err != nil {
				return errors.Wrap(err, "seeder artifact missing")
			}

			if err := sup.Stop(ctx, st); err != nil {
				return err
			}
			if err := state.Remove(root); err != nil {
				return err
			}
			for _, rec := range st.Services {
				if state.ProcessAlive(rec.PID) {
					return errors.Errorf("service %q still alive after down", rec.Name)
				}
			}

			b, _ := json.MarshalIndent(map[string]any{"ok": true, "root": root}, "", "  ")
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			log.Info().Msg("smoketest ok")
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "smoketest-timeout", 30*time.Second, "Overall timeout for the smoketest")
	cmd.Flags().BoolVar(&keep, "keep", false, "Keep the temp stack root for inspection")
	return cmd
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, errors.Wrap(err, "pick port")
	}
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port, nil
}
