// Package health implements the readiness probes the orchestrator polls:
// one-shot probes, a poll-until-ready loop with a retry budget, and a
// tracker that smooths individual probe results into a health status.
package health

import (
	"context"
	"net"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/go-go-golems/stackctl/pkg/profile"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	defaultInterval = 500 * time.Millisecond
	defaultTimeout  = 500 * time.Millisecond
	defaultRetries  = 10
)

// Probe runs the configured check exactly once.
func Probe(ctx context.Context, cfg profile.HealthCheck) error {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch strings.ToLower(cfg.Type) {
	case "tcp":
		if cfg.Address == "" {
			return errors.New("health tcp missing address")
		}
		d := net.Dialer{}
		conn, err := d.DialContext(probeCtx, "tcp", cfg.Address)
		if err != nil {
			return errors.Wrap(err, "tcp probe")
		}
		_ = conn.Close()
		return nil
	case "http":
		url := cfg.URL
		if url == "" {
			url = cfg.Address
		}
		if url == "" {
			return errors.New("health http missing url")
		}
		req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
		if err != nil {
			return errors.Wrap(err, "http probe request")
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return errors.Wrap(err, "http probe")
		}
		_ = resp.Body.Close()
		if resp.StatusCode >= 400 {
			return errors.Errorf("http probe: status %d", resp.StatusCode)
		}
		return nil
	case "exec":
		if len(cfg.Command) == 0 {
			return errors.New("health exec missing command")
		}
		// #nosec G204 -- command comes from the stack file.
		cmd := exec.CommandContext(probeCtx, cfg.Command[0], cfg.Command[1:]...)
		if out, err := cmd.CombinedOutput(); err != nil {
			return errors.Wrapf(err, "exec probe: %s", strings.TrimSpace(string(out)))
		}
		return nil
	default:
		return errors.Errorf("unsupported health type %q", cfg.Type)
	}
}

// WaitReady polls the check every interval until it succeeds once, the
// retry budget is exhausted, or ctx is cancelled. The retry budget counts
// consecutive failures, compose-style.
func WaitReady(ctx context.Context, name string, cfg profile.HealthCheck) error {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = defaultRetries
	}

	if cfg.InitialDelay > 0 {
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "health initial delay")
		case <-time.After(cfg.InitialDelay):
		}
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		lastErr = Probe(ctx, cfg)
		if lastErr == nil {
			log.Debug().Str("service", name).Int("attempt", attempt).Msg("health check passed")
			return nil
		}
		log.Debug().Str("service", name).Int("attempt", attempt).Err(lastErr).Msg("health check failed")
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "service %q health wait", name)
		case <-t.C:
		}
	}
	return errors.Wrapf(lastErr, "service %q unhealthy after %d attempts", name, retries)
}
