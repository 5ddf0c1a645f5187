package profile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const stackYAML = `
version: 1
marker: .stackctl/migrated
env:
  DB_HOST: "127.0.0.1"
  DB_PASSWORD: "secret"
install:
  - command: ["pip", "install", "-e", "."]
migrate:
  database: { address: "127.0.0.1:5432", timeout: 60s }
  schema:
    - command: ["manage", "migrate"]
  fixtures:
    - command: ["manage", "loaddata", "superuser"]
      tolerate: "already exists"
services:
  migrations:
    command: ["stackctl", "migrate"]
    one_shot: true
  api:
    command: ["run-api"]
    wait_marker: true
    watch: ["src"]
    debounce: 400ms
    depends_on:
      - service: migrations
        condition: completed
    health:
      type: http
      url: "http://127.0.0.1:8000/healthz"
      retries: 5
  worker:
    command: ["run-worker"]
    wait_marker: true
    depends_on:
      - service: api
        condition: healthy
profiles:
  standalone:
    env: { API_PREFIX: "/api/galaxy" }
    services: [migrations, api, worker]
  insights:
    env: { API_PREFIX: "/api/automation-hub", AUTH_BACKEND: "keycloak" }
    services: [migrations, api]
    overrides:
      api:
        env: { PORT: "8080" }
`

func writeStack(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultStackFilename)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestResolve_Standalone(t *testing.T) {
	f, err := LoadFromFile(writeStack(t, stackYAML))
	require.NoError(t, err)

	r, err := f.Resolve("standalone")
	require.NoError(t, err)
	require.Equal(t, ".stackctl/migrated", r.Marker)
	require.Len(t, r.Services, 3)

	api, ok := r.Service("api")
	require.True(t, ok)
	require.True(t, api.WaitMarker)
	require.Equal(t, 400*time.Millisecond, api.Debounce)
	require.Equal(t, "/api/galaxy", api.Env["API_PREFIX"])
	require.Equal(t, "127.0.0.1", api.Env["DB_HOST"])
	require.Len(t, api.DependsOn, 1)
	require.Equal(t, ConditionCompleted, api.DependsOn[0].Condition)
}

func TestResolve_InsightsOverrides(t *testing.T) {
	f, err := LoadFromFile(writeStack(t, stackYAML))
	require.NoError(t, err)

	r, err := f.Resolve("insights")
	require.NoError(t, err)
	require.Len(t, r.Services, 2)

	api, ok := r.Service("api")
	require.True(t, ok)
	require.Equal(t, "/api/automation-hub", api.Env["API_PREFIX"])
	require.Equal(t, "keycloak", api.Env["AUTH_BACKEND"])
	require.Equal(t, "8080", api.Env["PORT"])

	_, ok = r.Service("worker")
	require.False(t, ok)
}

func TestResolve_UnknownProfile(t *testing.T) {
	f, err := LoadFromFile(writeStack(t, stackYAML))
	require.NoError(t, err)
	_, err = f.Resolve("nope")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown profile")
}

func TestResolve_DefaultsConditionToStarted(t *testing.T) {
	body := `
services:
  a:
    command: ["sleep", "1"]
  b:
    command: ["sleep", "1"]
    depends_on:
      - service: a
`
	f, err := LoadFromFile(writeStack(t, body))
	require.NoError(t, err)
	r, err := f.Resolve("")
	require.NoError(t, err)
	b, ok := r.Service("b")
	require.True(t, ok)
	require.Equal(t, ConditionStarted, b.DependsOn[0].Condition)
	require.Equal(t, DefaultMarkerPath, r.Marker)
}

func TestResolve_HealthyConditionRequiresHealthCheck(t *testing.T) {
	body := `
services:
  a:
    command: ["sleep", "1"]
  b:
    command: ["sleep", "1"]
    depends_on:
      - service: a
        condition: healthy
`
	f, err := LoadFromFile(writeStack(t, body))
	require.NoError(t, err)
	_, err = f.Resolve("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no health check")
}

func TestResolve_CompletedConditionRequiresOneShot(t *testing.T) {
	body := `
services:
  a:
    command: ["sleep", "1"]
  b:
    command: ["sleep", "1"]
    depends_on:
      - service: a
        condition: completed
`
	f, err := LoadFromFile(writeStack(t, body))
	require.NoError(t, err)
	_, err = f.Resolve("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not one_shot")
}

func TestResolve_DependencyOutsideProfile(t *testing.T) {
	body := `
services:
  a:
    command: ["sleep", "1"]
  b:
    command: ["sleep", "1"]
    depends_on:
      - service: a
profiles:
  partial:
    services: [b]
`
	f, err := LoadFromFile(writeStack(t, body))
	require.NoError(t, err)
	_, err = f.Resolve("partial")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not part of profile")
}

func TestLoadOptional_MissingFile(t *testing.T) {
	f, err := LoadOptional(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Empty(t, f.Services)
}
