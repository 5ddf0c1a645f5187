// Package migrate runs the one-shot migration pipeline: clear the
// readiness marker, install dependencies, probe the database, migrate the
// schema, seed fixtures, then write the marker. The marker is only ever
// present after a fully successful run.
package migrate

import (
	"context"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-go-golems/stackctl/pkg/gate"
	"github.com/go-go-golems/stackctl/pkg/profile"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Status string

const (
	StatusOK        Status = "ok"
	StatusFailed    Status = "failed"
	StatusTolerated Status = "tolerated"
	StatusSkipped   Status = "skipped"
)

// Step is one unit of the pipeline. A step with a non-empty Tolerate
// substring is allowed to fail when its output contains that substring
// (the duplicate-superuser case on re-runs); every other failure aborts
// the pipeline.
type Step struct {
	Name     string
	Tolerate string
	Run      func(ctx context.Context) (string, error)
}

type StepResult struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	DurationMs int64  `json:"duration_ms"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
}

type RunReport struct {
	Profile    string       `json:"profile"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	OK         bool         `json:"ok"`
	Steps      []StepResult `json:"steps"`
}

const outputTailBytes = 4 << 10

type Runner struct {
	// Root is the stack root; relative paths resolve against it.
	Root    string
	Profile string
	// Marker is the absolute readiness marker path.
	Marker  string
	Install []profile.CommandStep
	Spec    *profile.MigrateSpec
	Env     map[string]string
}

// Run executes the pipeline in order and returns the report. The report
// covers every step, including those skipped after an abort.
func (r *Runner) Run(ctx context.Context) (*RunReport, error) {
	if r.Root == "" {
		return nil, errors.New("missing Root")
	}
	if r.Marker == "" {
		return nil, errors.New("missing Marker")
	}

	steps := r.buildSteps()
	report := &RunReport{Profile: r.Profile, StartedAt: time.Now()}

	var abort error
	for _, step := range steps {
		if abort != nil {
			report.Steps = append(report.Steps, StepResult{Name: step.Name, Status: StatusSkipped})
			continue
		}

		start := time.Now()
		out, err := step.Run(ctx)
		res := StepResult{
			Name:       step.Name,
			DurationMs: time.Since(start).Milliseconds(),
			Output:     tail(out),
		}
		switch {
		case err == nil:
			res.Status = StatusOK
			log.Info().Str("step", step.Name).Dur("took", time.Since(start)).Msg("migration step ok")
		case step.Tolerate != "" && strings.Contains(out, step.Tolerate):
			res.Status = StatusTolerated
			res.Error = err.Error()
			log.Warn().Str("step", step.Name).Err(err).Str("tolerate", step.Tolerate).Msg("migration step tolerated")
		default:
			res.Status = StatusFailed
			res.Error = err.Error()
			log.Error().Str("step", step.Name).Err(err).Msg("migration step failed")
			abort = errors.Wrapf(err, "step %q", step.Name)
		}
		report.Steps = append(report.Steps, res)
	}

	report.FinishedAt = time.Now()
	report.OK = abort == nil
	return report, abort
}

// RunInstallOnly executes just the dependency-install commands. The marker
// is untouched; only the full pipeline may clear or write it.
func (r *Runner) RunInstallOnly(ctx context.Context) (*RunReport, error) {
	if r.Root == "" {
		return nil, errors.New("missing Root")
	}
	report := &RunReport{Profile: r.Profile, StartedAt: time.Now()}

	var abort error
	for i, inst := range r.Install {
		if abort != nil {
			report.Steps = append(report.Steps, StepResult{Name: stepName("install", inst.Name, i), Status: StatusSkipped})
			continue
		}
		start := time.Now()
		out, err := r.runCommand(ctx, inst)
		res := StepResult{
			Name:       stepName("install", inst.Name, i),
			DurationMs: time.Since(start).Milliseconds(),
			Output:     tail(out),
		}
		if err != nil {
			res.Status = StatusFailed
			res.Error = err.Error()
			abort = errors.Wrapf(err, "step %q", res.Name)
		} else {
			res.Status = StatusOK
		}
		report.Steps = append(report.Steps, res)
	}

	report.FinishedAt = time.Now()
	report.OK = abort == nil
	return report, abort
}

func (r *Runner) buildSteps() []Step {
	var steps []Step

	steps = append(steps, Step{
		Name: "clear-marker",
		Run: func(ctx context.Context) (string, error) {
			return "", gate.ClearMarker(r.Marker)
		},
	})

	for i, inst := range r.Install {
		inst := inst
		steps = append(steps, Step{
			Name: stepName("install", inst.Name, i),
			Run: func(ctx context.Context) (string, error) {
				return r.runCommand(ctx, inst)
			},
		})
	}

	if r.Spec != nil && r.Spec.Database != nil {
		db := r.Spec.Database
		steps = append(steps, Step{
			Name: "db-probe",
			Run: func(ctx context.Context) (string, error) {
				return "", probeDatabase(ctx, db)
			},
		})
	}

	if r.Spec != nil {
		for i, sch := range r.Spec.Schema {
			sch := sch
			steps = append(steps, Step{
				Name: stepName("schema", sch.Name, i),
				Run: func(ctx context.Context) (string, error) {
					return r.runCommand(ctx, sch)
				},
			})
		}
		for i, fix := range r.Spec.Fixtures {
			fix := fix
			steps = append(steps, Step{
				Name:     stepName("fixtures", fix.Name, i),
				Tolerate: fix.Tolerate,
				Run: func(ctx context.Context) (string, error) {
					return r.runCommand(ctx, fix)
				},
			})
		}
	}

	steps = append(steps, Step{
		Name: "write-marker",
		Run: func(ctx context.Context) (string, error) {
			return "", gate.WriteMarker(r.Marker)
		},
	})

	if r.Spec != nil && r.Spec.Ownership != nil {
		own := r.Spec.Ownership
		steps = append(steps, Step{
			Name: "normalize-permissions",
			Run: func(ctx context.Context) (string, error) {
				return "", r.normalizePermissions(own)
			},
		})
	}

	return steps
}

func (r *Runner) runCommand(ctx context.Context, step profile.CommandStep) (string, error) {
	if len(step.Command) == 0 {
		return "", errors.New("empty command")
	}
	cwd := r.Root
	if step.Cwd != "" {
		if filepath.IsAbs(step.Cwd) {
			cwd = step.Cwd
		} else {
			cwd = filepath.Join(r.Root, step.Cwd)
		}
	}
	// #nosec G204 -- command comes from the stack file.
	cmd := exec.CommandContext(ctx, step.Command[0], step.Command[1:]...)
	cmd.Dir = cwd
	cmd.Env = mergeEnv(os.Environ(), r.Env)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), errors.Wrapf(err, "run %q", strings.Join(step.Command, " "))
	}
	return string(out), nil
}

// probeDatabase dials the database address with exponential backoff until
// it answers or the timeout budget is spent. Unreachable means fatal; the
// schema steps never run against a dead database.
func probeDatabase(ctx context.Context, db *profile.DatabaseProbe) error {
	if db.Address == "" {
		return errors.New("database probe missing address")
	}
	timeout := db.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = timeout

	op := func() error {
		d := net.Dialer{Timeout: time.Second}
		conn, err := d.DialContext(ctx, "tcp", db.Address)
		if err != nil {
			log.Debug().Str("address", db.Address).Err(err).Msg("database not reachable yet")
			return err
		}
		_ = conn.Close()
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return errors.Wrapf(err, "database %q unreachable", db.Address)
	}
	return nil
}

// normalizePermissions applies the configured mode to the shared
// directories (and their contents) so every later writer agrees on them.
func (r *Runner) normalizePermissions(own *profile.Ownership) error {
	mode := os.FileMode(0o775)
	if own.Mode != "" {
		parsed, err := strconv.ParseUint(own.Mode, 8, 32)
		if err != nil {
			return errors.Wrapf(err, "parse mode %q", own.Mode)
		}
		mode = os.FileMode(parsed)
	}
	for _, p := range own.Paths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(r.Root, p)
		}
		if err := os.MkdirAll(p, mode); err != nil {
			return errors.Wrapf(err, "mkdir %q", p)
		}
		err := filepath.WalkDir(p, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			return os.Chmod(path, mode)
		})
		if err != nil {
			return errors.Wrapf(err, "chmod %q", p)
		}
	}
	return nil
}

func stepName(kind, name string, i int) string {
	if name != "" {
		return kind + ":" + name
	}
	return kind + ":" + strconv.Itoa(i)
}

func tail(s string) string {
	if len(s) <= outputTailBytes {
		return s
	}
	return s[len(s)-outputTailBytes:]
}

func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	out := append([]string{}, base...)
	for k, v := range extra {
		out = append(out, k+"="+v)
	}
	return out
}
