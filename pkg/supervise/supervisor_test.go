package supervise

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-go-golems/stackctl/pkg/profile"
	"github.com/go-go-golems/stackctl/pkg/state"
	"github.com/go-go-golems/stackctl/pkg/topology"
	"github.com/stretchr/testify/require"
)

func mustPlan(t *testing.T, specs ...profile.ServiceSpec) *topology.Plan {
	t.Helper()
	plan, err := topology.Build(specs)
	require.NoError(t, err)
	return plan
}

func TestStartStop_Sleep(t *testing.T) {
	root := t.TempDir()
	s := New(Options{Root: root, Profile: "test", ReadyTimeout: time.Second, ShutdownTimeout: 2 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := s.Start(ctx, mustPlan(t,
		profile.ServiceSpec{Name: "sleep", Command: []string{"bash", "-lc", "sleep 10"}},
	))
	require.NoError(t, err)
	require.Len(t, st.Services, 1)
	require.True(t, state.ProcessAlive(st.Services[0].PID))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, s.Stop(stopCtx, st))

	deadline := time.Now().Add(3 * time.Second)
	for state.ProcessAlive(st.Services[0].PID) && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	require.False(t, state.ProcessAlive(st.Services[0].PID))
}

func TestStart_OneShotGatesDependent(t *testing.T) {
	root := t.TempDir()
	touched := filepath.Join(root, "migrated.txt")

	s := New(Options{Root: root, Profile: "test", ReadyTimeout: 5 * time.Second, ShutdownTimeout: 2 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// The dependent asserts the one-shot's artifact exists when it runs.
	probe := filepath.Join(root, "dependent-saw.txt")
	st, err := s.Start(ctx, mustPlan(t,
		profile.ServiceSpec{
			Name:    "migrations",
			Command: []string{"bash", "-lc", "sleep 0.3; touch " + touched},
			OneShot: true,
		},
		profile.ServiceSpec{
			Name:    "api",
			Command: []string{"bash", "-lc", fmt.Sprintf("test -f %s && touch %s; sleep 10", touched, probe)},
			DependsOn: []profile.Dependency{
				{Service: "migrations", Condition: profile.ConditionCompleted},
			},
		},
	))
	require.NoError(t, err)
	require.Len(t, st.Services, 2)
	require.Equal(t, "migrations", st.Services[0].Name)
	require.Equal(t, "api", st.Services[1].Name)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(probe); err == nil {
			break
		}
		time.Sleep(25 * time.Millisecond)
	}
	_, err = os.Stat(probe)
	require.NoError(t, err, "dependent must only run after the one-shot completed")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	_ = s.Stop(stopCtx, st)
}

func TestStart_OneShotFailureAbortsUp(t *testing.T) {
	root := t.TempDir()
	s := New(Options{Root: root, Profile: "test", ReadyTimeout: 5 * time.Second, ShutdownTimeout: 2 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pidFile := filepath.Join(root, "pid.txt")
	_, err := s.Start(ctx, mustPlan(t,
		profile.ServiceSpec{Name: "migrations", Command: []string{"bash", "-lc", "exit 3"}, OneShot: true},
		profile.ServiceSpec{
			Name:    "api",
			Command: []string{"bash", "-lc", "echo $$ > " + pidFile + "; sleep 10"},
		},
	))
	require.Error(t, err)
	require.Contains(t, err.Error(), "exited with code 3")

	// The independently started sibling must have been torn down.
	if b, readErr := os.ReadFile(pidFile); readErr == nil {
		var pid int
		_, scanErr := fmt.Sscanf(string(b), "%d", &pid)
		require.NoError(t, scanErr)
		deadline := time.Now().Add(3 * time.Second)
		for state.ProcessAlive(pid) && time.Now().Before(deadline) {
			time.Sleep(50 * time.Millisecond)
		}
		require.False(t, state.ProcessAlive(pid))
	}
}

func TestStart_HealthyConditionBlocksUntilReady(t *testing.T) {
	root := t.TempDir()
	s := New(Options{Root: root, Profile: "test", ReadyTimeout: 10 * time.Second, ShutdownTimeout: 2 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	probe := filepath.Join(root, "worker-saw-api.txt")
	st, err := s.Start(ctx, mustPlan(t,
		profile.ServiceSpec{
			Name:    "api",
			Command: []string{"bash", "-lc", "sleep 0.5; exec python3 -m http.server " + port + " --bind 127.0.0.1"},
			Health: &profile.HealthCheck{
				Type:     "tcp",
				Address:  "127.0.0.1:" + port,
				Interval: 100 * time.Millisecond,
				Retries:  50,
			},
		},
		profile.ServiceSpec{
			Name:    "worker",
			Command: []string{"bash", "-lc", "touch " + probe + "; sleep 10"},
			DependsOn: []profile.Dependency{
				{Service: "api", Condition: profile.ConditionHealthy},
			},
		},
	))
	require.NoError(t, err)

	_, statErr := os.Stat(probe)
	require.NoError(t, statErr, "worker starts only after api answered its health check")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	_ = s.Stop(stopCtx, st)
}

func TestStart_ReadinessTimeoutStopsServices(t *testing.T) {
	root := t.TempDir()
	s := New(Options{Root: root, Profile: "test", ReadyTimeout: 700 * time.Millisecond, ShutdownTimeout: 2 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	pidFile := filepath.Join(root, "pid.txt")
	_, err = s.Start(ctx, mustPlan(t,
		profile.ServiceSpec{
			Name:    "deaf",
			Command: []string{"bash", "-lc", "echo $$ > " + pidFile + "; sleep 10"},
			Health: &profile.HealthCheck{
				Type:     "tcp",
				Address:  "127.0.0.1:" + port,
				Interval: 100 * time.Millisecond,
				Retries:  100,
			},
		},
	))
	require.Error(t, err)

	b, readErr := os.ReadFile(pidFile)
	require.NoError(t, readErr)
	var pid int
	_, scanErr := fmt.Sscanf(string(b), "%d", &pid)
	require.NoError(t, scanErr)

	deadline := time.Now().Add(3 * time.Second)
	for state.ProcessAlive(pid) && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	require.False(t, state.ProcessAlive(pid))
}

func TestStart_WrapperRequiredForMarkerGating(t *testing.T) {
	root := t.TempDir()
	s := New(Options{Root: root, Profile: "test"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.Start(ctx, mustPlan(t,
		profile.ServiceSpec{Name: "api", Command: []string{"sleep", "10"}, WaitMarker: true},
	))
	require.Error(t, err)
	require.Contains(t, err.Error(), "no wrapper executable")
}
