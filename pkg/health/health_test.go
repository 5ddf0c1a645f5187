package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-go-golems/stackctl/pkg/profile"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestProbe_TCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	require.NoError(t, Probe(context.Background(), profile.HealthCheck{
		Type:    "tcp",
		Address: ln.Addr().String(),
	}))

	require.NoError(t, ln.Close())
	require.Error(t, Probe(context.Background(), profile.HealthCheck{
		Type:    "tcp",
		Address: ln.Addr().String(),
	}))
}

func TestProbe_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	require.NoError(t, Probe(context.Background(), profile.HealthCheck{
		Type: "http",
		URL:  srv.URL + "/healthz",
	}))
	require.Error(t, Probe(context.Background(), profile.HealthCheck{
		Type: "http",
		URL:  srv.URL + "/broken",
	}))
}

func TestProbe_Exec(t *testing.T) {
	require.NoError(t, Probe(context.Background(), profile.HealthCheck{
		Type:    "exec",
		Command: []string{"true"},
		Timeout: 2 * time.Second,
	}))
	require.Error(t, Probe(context.Background(), profile.HealthCheck{
		Type:    "exec",
		Command: []string{"false"},
		Timeout: 2 * time.Second,
	}))
}

func TestWaitReady_SucceedsAfterFlapping(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := WaitReady(context.Background(), "api", profile.HealthCheck{
		Type:     "http",
		URL:      srv.URL,
		Interval: 10 * time.Millisecond,
		Retries:  10,
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestWaitReady_ExhaustsRetries(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	err = WaitReady(context.Background(), "db", profile.HealthCheck{
		Type:     "tcp",
		Address:  addr,
		Interval: 10 * time.Millisecond,
		Retries:  3,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unhealthy after 3 attempts")
}

func TestTracker_Transitions(t *testing.T) {
	tr := NewTracker(3)
	require.Equal(t, StatusUnknown, tr.Status())

	fail := errors.New("down")

	require.Equal(t, StatusUnknown, tr.Observe(fail))
	require.Equal(t, StatusUnknown, tr.Observe(fail))
	require.Equal(t, StatusUnhealthy, tr.Observe(fail))

	require.Equal(t, StatusHealthy, tr.Observe(nil))

	// A single failure after healthy only degrades.
	require.Equal(t, StatusDegraded, tr.Observe(fail))
	require.Equal(t, StatusDegraded, tr.Observe(fail))
	require.Equal(t, StatusUnhealthy, tr.Observe(fail))

	require.Equal(t, StatusHealthy, tr.Observe(nil))
	require.Equal(t, 0, tr.ConsecutiveFailures())
}
