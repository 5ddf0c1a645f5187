package migrate

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-go-golems/stackctl/pkg/gate"
	"github.com/go-go-golems/stackctl/pkg/profile"
	"github.com/stretchr/testify/require"
)

func testRunner(t *testing.T) *Runner {
	t.Helper()
	root := t.TempDir()
	return &Runner{
		Root:    root,
		Profile: "standalone",
		Marker:  filepath.Join(root, ".stackctl", "migrated"),
	}
}

func listenAddr(t *testing.T) (string, net.Listener) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln.Addr().String(), ln
}

func TestRun_SuccessWritesMarker(t *testing.T) {
	r := testRunner(t)
	addr, ln := listenAddr(t)
	defer func() { _ = ln.Close() }()

	r.Install = []profile.CommandStep{{Name: "deps", Command: []string{"true"}}}
	r.Spec = &profile.MigrateSpec{
		Database: &profile.DatabaseProbe{Address: addr, Timeout: 5 * time.Second},
		Schema:   []profile.CommandStep{{Name: "migrate", Command: []string{"true"}}},
		Fixtures: []profile.CommandStep{{Name: "seed", Command: []string{"true"}}},
	}

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	require.True(t, report.OK)
	require.True(t, gate.Exists(r.Marker))

	for _, step := range report.Steps {
		require.Equal(t, StatusOK, step.Status, step.Name)
	}
}

func TestRun_SchemaFailureRemovesPreexistingMarker(t *testing.T) {
	r := testRunner(t)
	require.NoError(t, gate.WriteMarker(r.Marker))

	addr, ln := listenAddr(t)
	defer func() { _ = ln.Close() }()

	r.Spec = &profile.MigrateSpec{
		Database: &profile.DatabaseProbe{Address: addr, Timeout: 5 * time.Second},
		Schema:   []profile.CommandStep{{Name: "migrate", Command: []string{"false"}}},
	}

	report, err := r.Run(context.Background())
	require.Error(t, err)
	require.False(t, report.OK)
	require.False(t, gate.Exists(r.Marker), "marker must not survive a failed migration")

	byName := map[string]StepResult{}
	for _, s := range report.Steps {
		byName[s.Name] = s
	}
	require.Equal(t, StatusFailed, byName["schema:migrate"].Status)
	require.Equal(t, StatusSkipped, byName["write-marker"].Status)
}

func TestRun_DatabaseUnreachableIsFatal(t *testing.T) {
	r := testRunner(t)
	addr, ln := listenAddr(t)
	require.NoError(t, ln.Close())

	r.Spec = &profile.MigrateSpec{
		Database: &profile.DatabaseProbe{Address: addr, Timeout: 500 * time.Millisecond},
	}

	report, err := r.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unreachable")
	require.False(t, report.OK)
	require.False(t, gate.Exists(r.Marker))
}

func TestRun_ToleratedFixtureFailure(t *testing.T) {
	r := testRunner(t)
	r.Spec = &profile.MigrateSpec{
		Fixtures: []profile.CommandStep{{
			Name:     "superuser",
			Command:  []string{"bash", "-lc", "echo 'superuser already exists'; exit 1"},
			Tolerate: "already exists",
		}},
	}

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	require.True(t, report.OK)
	require.True(t, gate.Exists(r.Marker))
	require.Equal(t, StatusTolerated, report.Steps[1].Status)
}

func TestRun_UnmatchedFixtureFailureAborts(t *testing.T) {
	r := testRunner(t)
	r.Spec = &profile.MigrateSpec{
		Fixtures: []profile.CommandStep{{
			Name:     "superuser",
			Command:  []string{"bash", "-lc", "echo 'connection refused'; exit 1"},
			Tolerate: "already exists",
		}},
	}

	report, err := r.Run(context.Background())
	require.Error(t, err)
	require.False(t, report.OK)
	require.False(t, gate.Exists(r.Marker))
}

func TestRun_IdempotentSecondRun(t *testing.T) {
	r := testRunner(t)
	r.Spec = &profile.MigrateSpec{
		Schema: []profile.CommandStep{{Name: "migrate", Command: []string{"true"}}},
		Fixtures: []profile.CommandStep{{
			Name:     "superuser",
			Command:  []string{"bash", "-lc", "echo 'already exists'; exit 1"},
			Tolerate: "already exists",
		}},
	}

	_, err := r.Run(context.Background())
	require.NoError(t, err)
	require.True(t, gate.Exists(r.Marker))

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	require.True(t, report.OK)
	require.True(t, gate.Exists(r.Marker))
}

func TestReportRoundTrip(t *testing.T) {
	r := testRunner(t)
	report, err := r.Run(context.Background())
	require.NoError(t, err)

	path := filepath.Join(r.Root, ".stackctl", "migrate-report.json")
	require.NoError(t, WriteReport(path, report))
	got, err := ReadReport(path)
	require.NoError(t, err)
	require.Equal(t, report.OK, got.OK)
	require.Len(t, got.Steps, len(report.Steps))
}
