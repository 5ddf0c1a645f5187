// Package reload supervises a long-running child process and restarts it
// when files under the watched trees change. Exactly one child is alive at
// any instant; the supervisor never returns while its child group is
// still running.
package reload

import (
	"context"
	stderrors "errors"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-go-golems/stackctl/pkg/state"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	defaultDebounce = 400 * time.Millisecond
	defaultGrace    = 3 * time.Second

	// exit code reported when the child had to be killed and left no
	// status of its own
	killedExitCode = 1
)

type Supervisor struct {
	Command    []string
	Dir        string
	Env        map[string]string
	WatchPaths []string
	Debounce   time.Duration
	Grace      time.Duration
	Stdout     io.Writer
	Stderr     io.Writer

	restarts int
}

// Restarts reports how many file-change respawns happened during Run.
func (s *Supervisor) Restarts() int { return s.restarts }

type childExit struct {
	code int
	err  error
}

// Run spawns the command and supervises it until the child exits on its
// own, a termination signal arrives, or ctx is cancelled. It returns the
// child's exit code. A spawn failure is fatal and returned immediately;
// it is never retried.
func (s *Supervisor) Run(ctx context.Context) (int, error) {
	if len(s.Command) == 0 {
		return killedExitCode, errors.New("missing command")
	}
	debounce := s.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	grace := s.Grace
	if grace <= 0 {
		grace = defaultGrace
	}
	stdout := s.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := s.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	var watcher *fsnotify.Watcher
	if len(s.WatchPaths) > 0 {
		var err error
		watcher, err = fsnotify.NewWatcher()
		if err != nil {
			return killedExitCode, errors.Wrap(err, "new watcher")
		}
		defer func() { _ = watcher.Close() }()
		for _, p := range s.WatchPaths {
			if err := addRecursive(watcher, p); err != nil {
				return killedExitCode, err
			}
		}
	}

	sigCh := make(chan os.Signal, 8)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	cmd, waitCh, err := s.spawn(stdout, stderr)
	if err != nil {
		return killedExitCode, err
	}

	// pending holds paths touched since the last restart; the ticker
	// flushes them once the burst has been quiet for the debounce window.
	pending := map[string]time.Time{}
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	if watcher != nil {
		events = watcher.Events
		watchErrs = watcher.Errors
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = watcher.Add(ev.Name)
				}
			}
			pending[ev.Name] = time.Now()

		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			log.Warn().Err(err).Msg("watch error")

		case <-ticker.C:
			if len(pending) == 0 {
				continue
			}
			now := time.Now()
			settled := true
			for _, when := range pending {
				if now.Sub(when) < debounce {
					settled = false
					break
				}
			}
			if !settled {
				continue
			}
			log.Info().Int("changes", len(pending)).Msg("restarting on file change")
			pending = map[string]time.Time{}

			if err := stopChild(cmd, waitCh, grace); err != nil {
				return killedExitCode, err
			}
			s.restarts++
			cmd, waitCh, err = s.spawn(stdout, stderr)
			if err != nil {
				return killedExitCode, err
			}

		case exit := <-waitCh:
			// Child exited on its own; the supervisor follows it.
			return exit.code, exit.err

		case sig := <-sigCh:
			log.Debug().Str("signal", sig.String()).Msg("forwarding signal to child")
			code := forwardAndReap(cmd, waitCh, sig, grace)
			return code, nil

		case <-ctx.Done():
			code := forwardAndReap(cmd, waitCh, syscall.SIGTERM, grace)
			return code, ctx.Err()
		}
	}
}

func (s *Supervisor) spawn(stdout, stderr io.Writer) (*exec.Cmd, chan childExit, error) {
	// #nosec G204 -- command comes from the stack file.
	cmd := exec.Command(s.Command[0], s.Command[1:]...)
	cmd.Dir = s.Dir
	cmd.Env = mergeEnv(os.Environ(), s.Env)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, nil, errors.Wrap(err, "start child")
	}
	log.Info().Int("pid", cmd.Process.Pid).Strs("command", s.Command).Msg("child started")

	waitCh := make(chan childExit, 1)
	go func() {
		err := cmd.Wait()
		waitCh <- childExit{code: exitCodeFrom(err), err: nil}
	}()
	return cmd, waitCh, nil
}

// stopChild terminates the current child group and waits for it to be
// reaped before the caller spawns a replacement.
func stopChild(cmd *exec.Cmd, waitCh chan childExit, grace time.Duration) error {
	pid := cmd.Process.Pid
	killGroup(pid, syscall.SIGTERM)

	select {
	case <-waitCh:
		return nil
	case <-time.After(grace):
	}

	killGroup(pid, syscall.SIGKILL)
	select {
	case <-waitCh:
		return nil
	case <-time.After(2 * time.Second):
		return errors.New("child did not exit after SIGKILL")
	}
}

// forwardAndReap relays an external signal to the child group and returns
// the child's exit code, escalating to SIGKILL after the grace period.
func forwardAndReap(cmd *exec.Cmd, waitCh chan childExit, sig os.Signal, grace time.Duration) int {
	pid := cmd.Process.Pid
	s, ok := sig.(syscall.Signal)
	if !ok {
		s = syscall.SIGTERM
	}
	killGroup(pid, s)

	select {
	case exit := <-waitCh:
		return exit.code
	case <-time.After(grace):
	}

	killGroup(pid, syscall.SIGKILL)
	select {
	case exit := <-waitCh:
		return exit.code
	case <-time.After(2 * time.Second):
		return killedExitCode
	}
}

func killGroup(pid int, sig syscall.Signal) {
	if pgid, err := syscall.Getpgid(pid); err == nil {
		_ = syscall.Kill(-pgid, sig)
	} else {
		_ = syscall.Kill(pid, sig)
	}
}

// GroupAlive reports whether the child's process group still has a live
// leader. Used by tests to assert no orphans remain.
func GroupAlive(pid int) bool {
	return state.ProcessAlive(pid)
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
	return killedExitCode
}

func addRecursive(watcher *fsnotify.Watcher, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return errors.Wrapf(err, "stat watch path %q", root)
	}
	if !info.IsDir() {
		return errors.Wrapf(watcher.Add(root), "watch %q", root)
	}
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := watcher.Add(path); err != nil {
				return errors.Wrapf(err, "watch %q", path)
			}
		}
		return nil
	})
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
