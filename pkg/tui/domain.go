package tui

import (
	"time"

	"github.com/go-go-golems/stackctl/pkg/health"
	"github.com/go-go-golems/stackctl/pkg/proc"
	"github.com/go-go-golems/stackctl/pkg/state"
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

type EventLogEntry struct {
	At     time.Time `json:"at"`
	Source string    `json:"source,omitempty"`
	Level  LogLevel  `json:"level,omitempty"`
	Text   string    `json:"text"`
}

// StateSnapshot is the watcher's periodic view of the whole stack: run
// state, per-service liveness, process stats, smoothed health, and the
// readiness marker.
type StateSnapshot struct {
	Root          string                   `json:"root"`
	At            time.Time                `json:"at"`
	Exists        bool                     `json:"exists"`
	State         *state.State             `json:"state,omitempty"`
	Alive         map[string]bool          `json:"alive,omitempty"`
	ProcessStats  map[int]*proc.Stats      `json:"process_stats,omitempty"`
	Health        map[string]ServiceHealth `json:"health,omitempty"`
	MarkerPath    string                   `json:"marker_path,omitempty"`
	MarkerPresent bool                     `json:"marker_present"`
	Error         string                   `json:"error,omitempty"`
}

type ServiceHealth struct {
	Status     health.Status `json:"status"`
	Endpoint   string        `json:"endpoint,omitempty"`
	ResponseMs int64         `json:"response_ms,omitempty"`
	Error      string        `json:"error,omitempty"`
}

type ServiceExitObserved struct {
	Name   string    `json:"name"`
	PID    int       `json:"pid"`
	When   time.Time `json:"when"`
	Reason string    `json:"reason,omitempty"`
}

type MarkerChanged struct {
	Path    string    `json:"path"`
	Present bool      `json:"present"`
	When    time.Time `json:"when"`
}

type HealthChanged struct {
	Service string        `json:"service"`
	From    health.Status `json:"from"`
	To      health.Status `json:"to"`
	When    time.Time     `json:"when"`
}
