package reload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-go-golems/stackctl/pkg/state"
	"github.com/stretchr/testify/require"
)

// readPIDs parses the pid-per-line file the test child appends to on
// every start.
func readPIDs(t *testing.T, path string) []int {
	t.Helper()
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var pids []int
	for _, line := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		require.NoError(t, err)
		pids = append(pids, pid)
	}
	return pids
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestRun_ChildExitCodePropagates(t *testing.T) {
	s := &Supervisor{Command: []string{"bash", "-lc", "exit 7"}}
	code, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 7, code)
}

func TestRun_SpawnFailureIsFatal(t *testing.T) {
	s := &Supervisor{Command: []string{"/definitely/not/a/binary"}}
	_, err := s.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "start child")
}

func TestRun_RestartsOnFileChange_SingleChild(t *testing.T) {
	dir := t.TempDir()
	watchDir := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(watchDir, 0o755))
	pidFile := filepath.Join(dir, "pids.txt")

	s := &Supervisor{
		Command:    []string{"bash", "-lc", fmt.Sprintf("echo $$ >> %s; sleep 60", pidFile)},
		WatchPaths: []string{watchDir},
		Debounce:   100 * time.Millisecond,
		Grace:      2 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		_, _ = s.Run(ctx)
		close(done)
	}()

	waitFor(t, 5*time.Second, func() bool { return len(readPIDs(t, pidFile)) == 1 })
	first := readPIDs(t, pidFile)[0]
	require.True(t, state.ProcessAlive(first))

	// A burst of writes must collapse into a single restart.
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(watchDir, "main.py"), []byte(fmt.Sprintf("v%d", i)), 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	waitFor(t, 5*time.Second, func() bool { return len(readPIDs(t, pidFile)) == 2 })

	// Let the debounce window settle, then confirm no further respawns.
	time.Sleep(500 * time.Millisecond)
	pids := readPIDs(t, pidFile)
	require.Len(t, pids, 2)

	second := pids[1]
	require.False(t, state.ProcessAlive(first), "old child must be gone before the new one runs")
	require.True(t, state.ProcessAlive(second))
	require.Equal(t, 1, s.Restarts())

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop on context cancel")
	}
	waitFor(t, 3*time.Second, func() bool { return !state.ProcessAlive(second) })
}

func TestRun_ContextCancelLeavesNoOrphan(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "pids.txt")

	s := &Supervisor{
		Command: []string{"bash", "-lc", fmt.Sprintf("echo $$ >> %s; sleep 60", pidFile)},
		Grace:   2 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() {
		code, _ := s.Run(ctx)
		done <- code
	}()

	waitFor(t, 5*time.Second, func() bool { return len(readPIDs(t, pidFile)) == 1 })
	pid := readPIDs(t, pidFile)[0]
	require.True(t, state.ProcessAlive(pid))

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not return")
	}
	waitFor(t, 3*time.Second, func() bool { return !state.ProcessAlive(pid) })
}

func TestRun_NewSubdirectoriesAreWatched(t *testing.T) {
	dir := t.TempDir()
	watchDir := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(watchDir, 0o755))
	pidFile := filepath.Join(dir, "pids.txt")

	s := &Supervisor{
		Command:    []string{"bash", "-lc", fmt.Sprintf("echo $$ >> %s; sleep 60", pidFile)},
		WatchPaths: []string{watchDir},
		Debounce:   100 * time.Millisecond,
		Grace:      2 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _, _ = s.Run(ctx) }()

	waitFor(t, 5*time.Second, func() bool { return len(readPIDs(t, pidFile)) == 1 })

	sub := filepath.Join(watchDir, "app")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	// Give the watcher a beat to pick up the new directory, then touch a
	// file inside it.
	time.Sleep(300 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "views.py"), []byte("x"), 0o644))

	waitFor(t, 5*time.Second, func() bool { return len(readPIDs(t, pidFile)) >= 2 })
}
