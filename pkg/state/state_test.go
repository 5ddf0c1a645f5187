package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSaveLoadRemove(t *testing.T) {
	root := t.TempDir()

	st := &State{
		Root:      root,
		Profile:   "standalone",
		Marker:    filepath.Join(root, ".stackctl", "migrated"),
		CreatedAt: time.Now(),
		Services: []ServiceRecord{
			{Name: "api", PID: 1234, Command: []string{"run-api"}, StartOrder: 1, WaitMarker: true},
		},
	}
	require.NoError(t, Save(root, st))

	got, err := Load(root)
	require.NoError(t, err)
	require.Equal(t, "standalone", got.Profile)
	require.Len(t, got.Services, 1)
	require.Equal(t, "api", got.Services[0].Name)
	require.True(t, got.Services[0].WaitMarker)

	require.NoError(t, Remove(root))
	_, err = Load(root)
	require.Error(t, err)
	require.NoError(t, Remove(root))
}

func TestProcessAlive(t *testing.T) {
	require.True(t, ProcessAlive(os.Getpid()))
	require.False(t, ProcessAlive(-1))
	require.False(t, ProcessAlive(0))
}

func TestSanitizeEnv(t *testing.T) {
	env := map[string]string{
		"DB_HOST":     "127.0.0.1",
		"DB_PASSWORD": "hunter2",
		"API_TOKEN":   "abc",
		"PULP_DSN":    "postgres://u:p@h/db",
	}
	out := SanitizeEnv(env)
	require.Equal(t, "127.0.0.1", out["DB_HOST"])
	require.Equal(t, "[REDACTED]", out["DB_PASSWORD"])
	require.Equal(t, "[REDACTED]", out["API_TOKEN"])
	require.Equal(t, "[REDACTED]", out["PULP_DSN"])
	require.Nil(t, SanitizeEnv(nil))
}

func TestTailLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	body := "one\ntwo\nthree\nfour\nfive\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	lines, err := TailLines(path, 3, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"three", "four", "five"}, lines)

	lines, err = TailLines(path, 100, 0)
	require.NoError(t, err)
	require.Len(t, lines, 5)

	_, err = TailLines(filepath.Join(t.TempDir(), "nope"), 3, 0)
	require.Error(t, err)
}

func TestExitInfoRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exit.json")
	code := 2
	require.NoError(t, WriteExitInfo(path, ExitInfo{
		Service:  "crashy",
		PID:      42,
		ExitCode: &code,
		Restarts: 1,
	}))
	info, err := ReadExitInfo(path)
	require.NoError(t, err)
	require.Equal(t, "crashy", info.Service)
	require.NotNil(t, info.ExitCode)
	require.Equal(t, 2, *info.ExitCode)
	require.Equal(t, 1, info.Restarts)
}
