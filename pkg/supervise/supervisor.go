// Package supervise starts the resolved services in dependency order and
// stops them again. Each service's goroutine blocks on its dependencies'
// condition channels (started, healthy, completed) before spawning, so
// siblings without edges launch in parallel.
package supervise

import (
	"context"
	stderrors "errors"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/go-go-golems/stackctl/pkg/health"
	"github.com/go-go-golems/stackctl/pkg/profile"
	"github.com/go-go-golems/stackctl/pkg/state"
	"github.com/go-go-golems/stackctl/pkg/topology"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	Root            string
	Profile         string
	Marker          string
	ShutdownTimeout time.Duration
	ReadyTimeout    time.Duration
	// WrapperExe is the stackctl binary self-exec'd as the hidden
	// __run-service wrapper. Empty means services are spawned directly
	// (no marker gating, no reload).
	WrapperExe string
}

type Supervisor struct {
	opts Options
}

func New(opts Options) *Supervisor {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 3 * time.Second
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 60 * time.Second
	}
	return &Supervisor{opts: opts}
}

// conditions carries the per-service gates dependents select on.
type conditions struct {
	started   chan struct{}
	healthy   chan struct{}
	completed chan struct{}
}

func (c *conditions) chanFor(cond profile.Condition) <-chan struct{} {
	switch cond {
	case profile.ConditionHealthy:
		return c.healthy
	case profile.ConditionCompleted:
		return c.completed
	default:
		return c.started
	}
}

// Start launches the plan and blocks until every service has reached its
// advertised condition: started, healthy when it has a check, exited 0
// when one-shot. Any failure stops everything already running.
func (s *Supervisor) Start(ctx context.Context, plan *topology.Plan) (*state.State, error) {
	if s.opts.Root == "" {
		return nil, errors.New("missing Root")
	}
	if err := os.MkdirAll(state.LogsDir(s.opts.Root), 0o755); err != nil {
		return nil, errors.Wrap(err, "mkdir logs dir")
	}

	st := &state.State{
		Root:      s.opts.Root,
		Profile:   s.opts.Profile,
		Marker:    s.opts.Marker,
		CreatedAt: time.Now(),
		Services:  []state.ServiceRecord{},
	}

	conds := map[string]*conditions{}
	for _, svc := range plan.Ordered {
		conds[svc.Name] = &conditions{
			started:   make(chan struct{}),
			healthy:   make(chan struct{}),
			completed: make(chan struct{}),
		}
	}

	var mu sync.Mutex
	eg, egCtx := errgroup.WithContext(ctx)

	for order, svc := range plan.Ordered {
		svc := svc
		order := order
		eg.Go(func() error {
			for _, dep := range svc.DependsOn {
				select {
				case <-conds[dep.Service].chanFor(dep.Condition):
				case <-egCtx.Done():
					return egCtx.Err()
				}
			}

			rec, waiter, err := s.startService(egCtx, svc)
			if err != nil {
				return err
			}
			rec.StartOrder = order

			mu.Lock()
			st.Services = append(st.Services, rec)
			mu.Unlock()
			close(conds[svc.Name].started)

			if svc.Health != nil {
				readyCtx, cancel := context.WithTimeout(egCtx, s.opts.ReadyTimeout)
				err := health.WaitReady(readyCtx, svc.Name, *svc.Health)
				cancel()
				if err != nil {
					return err
				}
				close(conds[svc.Name].healthy)
			}

			if svc.OneShot {
				waitCtx, cancel := context.WithTimeout(egCtx, s.opts.ReadyTimeout)
				code, err := waiter(waitCtx)
				cancel()
				if err != nil {
					return errors.Wrapf(err, "one-shot %q", svc.Name)
				}
				if code != 0 {
					return errors.Errorf("one-shot %q exited with code %d", svc.Name, code)
				}
				log.Info().Str("service", svc.Name).Msg("one-shot completed")
				close(conds[svc.Name].completed)
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		_ = s.Stop(context.Background(), st)
		return nil, err
	}

	sort.Slice(st.Services, func(i, j int) bool {
		return st.Services[i].StartOrder < st.Services[j].StartOrder
	})
	return st, nil
}

// Stop terminates services in reverse start order: SIGTERM to the process
// group, bounded wait, SIGKILL escalation.
func (s *Supervisor) Stop(ctx context.Context, st *state.State) error {
	if st == nil {
		return nil
	}
	var lastErr error
	for i := len(st.Services) - 1; i >= 0; i-- {
		svc := st.Services[i]
		if svc.PID <= 0 {
			continue
		}
		if err := terminatePIDGroup(ctx, svc.PID, s.opts.ShutdownTimeout); err != nil {
			log.Warn().Str("service", svc.Name).Int("pid", svc.PID).Err(err).Msg("stop failed")
			lastErr = err
		}
	}
	return lastErr
}

// waiterFunc blocks until the service process has exited and returns its
// exit code. Only consulted for one-shot services.
type waiterFunc func(ctx context.Context) (int, error)

func (s *Supervisor) startService(ctx context.Context, svc profile.ServiceSpec) (state.ServiceRecord, waiterFunc, error) {
	if svc.Name == "" {
		return state.ServiceRecord{}, nil, errors.New("service name is required")
	}
	if len(svc.Command) == 0 {
		return state.ServiceRecord{}, nil, errors.Errorf("service %q missing command", svc.Name)
	}

	cwd := s.opts.Root
	if svc.Cwd != "" {
		if filepath.IsAbs(svc.Cwd) {
			cwd = svc.Cwd
		} else {
			cwd = filepath.Join(s.opts.Root, svc.Cwd)
		}
	}

	ts := time.Now().Format("20060102-150405")
	stdoutPath := filepath.Join(state.LogsDir(s.opts.Root), svc.Name+"-"+ts+".stdout.log")
	stderrPath := filepath.Join(state.LogsDir(s.opts.Root), svc.Name+"-"+ts+".stderr.log")
	exitInfoPath := filepath.Join(state.LogsDir(s.opts.Root), svc.Name+"-"+ts+".exit.json")
	readyPath := filepath.Join(state.LogsDir(s.opts.Root), svc.Name+"-"+ts+".ready")

	needsWrapper := svc.WaitMarker || len(svc.Watch) > 0
	if s.opts.WrapperExe == "" {
		if needsWrapper {
			return state.ServiceRecord{}, nil, errors.Errorf("service %q needs marker gating or reload but no wrapper executable is configured", svc.Name)
		}
		return s.startDirect(svc, cwd, stdoutPath, stderrPath)
	}

	args := []string{
		"__run-service",
		"--service", svc.Name,
		"--cwd", cwd,
		"--stdout-log", stdoutPath,
		"--stderr-log", stderrPath,
		"--exit-info", exitInfoPath,
		"--ready-file", readyPath,
	}
	if svc.WaitMarker {
		args = append(args, "--marker", s.opts.Marker)
	}
	for _, w := range svc.Watch {
		watch := w
		if !filepath.IsAbs(watch) {
			watch = filepath.Join(s.opts.Root, watch)
		}
		args = append(args, "--watch", watch)
	}
	if svc.Debounce > 0 {
		args = append(args, "--debounce", svc.Debounce.String())
	}
	for k, v := range svc.Env {
		args = append(args, "--env", k+"="+v)
	}
	args = append(args, "--")
	args = append(args, svc.Command...)

	// #nosec G204 -- wrapper executable is stackctl itself.
	cmd := exec.Command(s.opts.WrapperExe, args...)
	cmd.Dir = s.opts.Root
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return state.ServiceRecord{}, nil, errors.Wrap(err, "start wrapper")
	}

	pid := cmd.Process.Pid
	log.Info().Str("service", svc.Name).Int("pid", pid).Bool("wrapped", true).Msg("service started")
	go func() { _ = cmd.Wait() }()

	// The wrapper reports in before it begins any marker wait, so a slow
	// migration does not stall this handshake.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(readyPath); err == nil {
			break
		}
		if time.Now().After(deadline) {
			_ = terminatePIDGroup(context.Background(), pid, time.Second)
			return state.ServiceRecord{}, nil, errors.Errorf("wrapper for %q did not report startup", svc.Name)
		}
		select {
		case <-ctx.Done():
			_ = terminatePIDGroup(context.Background(), pid, time.Second)
			return state.ServiceRecord{}, nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}

	rec := recordFor(svc, pid, cwd, stdoutPath, stderrPath)
	rec.ExitInfo = exitInfoPath

	waiter := func(waitCtx context.Context) (int, error) {
		t := time.NewTicker(50 * time.Millisecond)
		defer t.Stop()
		for {
			if info, err := state.ReadExitInfo(exitInfoPath); err == nil && info.ExitCode != nil {
				return *info.ExitCode, nil
			}
			if !state.ProcessAlive(pid) {
				// One last read: the wrapper may have written exit info
				// just before exiting.
				if info, err := state.ReadExitInfo(exitInfoPath); err == nil && info.ExitCode != nil {
					return *info.ExitCode, nil
				}
				return 0, errors.Errorf("wrapper for %q exited without exit info", svc.Name)
			}
			select {
			case <-waitCtx.Done():
				return 0, errors.Wrap(waitCtx.Err(), "wait for exit")
			case <-t.C:
			}
		}
	}
	return rec, waiter, nil
}

func (s *Supervisor) startDirect(svc profile.ServiceSpec, cwd, stdoutPath, stderrPath string) (state.ServiceRecord, waiterFunc, error) {
	stdoutFile, err := os.OpenFile(stdoutPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return state.ServiceRecord{}, nil, errors.Wrap(err, "open stdout log")
	}
	stderrFile, err := os.OpenFile(stderrPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		_ = stdoutFile.Close()
		return state.ServiceRecord{}, nil, errors.Wrap(err, "open stderr log")
	}

	// #nosec G204 -- command comes from the stack file.
	cmd := exec.Command(svc.Command[0], svc.Command[1:]...)
	cmd.Dir = cwd
	cmd.Env = mergeEnv(os.Environ(), svc.Env)
	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		_ = stdoutFile.Close()
		_ = stderrFile.Close()
		return state.ServiceRecord{}, nil, errors.Wrapf(err, "start service %q", svc.Name)
	}

	pid := cmd.Process.Pid
	log.Info().Str("service", svc.Name).Int("pid", pid).Msg("service started")

	waitCh := make(chan int, 1)
	go func() {
		defer func() {
			_ = stdoutFile.Close()
			_ = stderrFile.Close()
		}()
		waitCh <- exitCodeFrom(cmd.Wait())
	}()

	rec := recordFor(svc, pid, cwd, stdoutPath, stderrPath)
	waiter := func(waitCtx context.Context) (int, error) {
		select {
		case code := <-waitCh:
			return code, nil
		case <-waitCtx.Done():
			return 0, errors.Wrap(waitCtx.Err(), "wait for exit")
		}
	}
	return rec, waiter, nil
}

func recordFor(svc profile.ServiceSpec, pid int, cwd, stdoutPath, stderrPath string) state.ServiceRecord {
	rec := state.ServiceRecord{
		Name:       svc.Name,
		PID:        pid,
		Command:    svc.Command,
		Cwd:        cwd,
		Env:        state.SanitizeEnv(svc.Env),
		StdoutLog:  stdoutPath,
		StderrLog:  stderrPath,
		StartedAt:  time.Now(),
		OneShot:    svc.OneShot,
		WaitMarker: svc.WaitMarker,
		Watch:      svc.Watch,
	}
	if svc.Health != nil {
		rec.HealthType = svc.Health.Type
		rec.HealthAddress = svc.Health.Address
		rec.HealthURL = svc.Health.URL
		rec.HealthCommand = svc.Health.Command
	}
	return rec
}

func exitCodeFrom(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if stderrors.As(err, &ee) {
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				return 128 + int(ws.Signal())
			}
			if ws.Exited() {
				return ws.ExitStatus()
			}
		}
	}
	return 1
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

func terminatePIDGroup(ctx context.Context, pid int, timeout time.Duration) error {
	if pid <= 0 {
		return nil
	}
	pgid, err := syscall.Getpgid(pid)
	if err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGTERM)
	} else {
		_ = syscall.Kill(pid, syscall.SIGTERM)
	}

	if ctxDeadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(ctxDeadline)
		if remaining < timeout {
			timeout = remaining
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	deadline := time.Now().Add(timeout)
	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()

	for {
		if !state.ProcessAlive(pid) {
			return nil
		}
		if time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}

	if err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	} else {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}

	killDeadline := time.Now().Add(2 * time.Second)
	for state.ProcessAlive(pid) && time.Now().Before(killDeadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}

	if state.ProcessAlive(pid) {
		return errors.Errorf("failed to stop pid %d", pid)
	}
	return nil
}
