package state

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

const (
	StateDirName          = ".stackctl"
	StateFilename         = "state.json"
	LogsDirName           = "logs"
	MigrateReportFilename = "migrate-report.json"
)

// State records one `up` run: which profile was launched, where the
// readiness marker lives, and the supervised services in start order.
type State struct {
	Root      string          `json:"root"`
	Profile   string          `json:"profile"`
	Marker    string          `json:"marker"`
	CreatedAt time.Time       `json:"created_at"`
	Services  []ServiceRecord `json:"services"`
}

type ServiceRecord struct {
	Name       string            `json:"name"`
	PID        int               `json:"pid"`
	Command    []string          `json:"command"`
	Cwd        string            `json:"cwd"`
	Env        map[string]string `json:"env,omitempty"`
	StdoutLog  string            `json:"stdout_log"`
	StderrLog  string            `json:"stderr_log"`
	ExitInfo   string            `json:"exit_info,omitempty"`
	StartedAt  time.Time         `json:"started_at,omitempty"`
	StartOrder int               `json:"start_order"`
	OneShot    bool              `json:"one_shot,omitempty"`
	WaitMarker bool              `json:"wait_marker,omitempty"`
	Watch      []string          `json:"watch,omitempty"`

	// Health check configuration (if any)
	HealthType    string   `json:"health_type,omitempty"` // "tcp"|"http"|"exec"
	HealthAddress string   `json:"health_address,omitempty"`
	HealthURL     string   `json:"health_url,omitempty"`
	HealthCommand []string `json:"health_command,omitempty"`
}

func StatePath(root string) string {
	return filepath.Join(root, StateDirName, StateFilename)
}

func LogsDir(root string) string {
	return filepath.Join(root, StateDirName, LogsDirName)
}

func MigrateReportPath(root string) string {
	return filepath.Join(root, StateDirName, MigrateReportFilename)
}

func Load(root string) (*State, error) {
	path := StatePath(root)
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read state")
	}
	var s State
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, errors.Wrap(err, "parse state json")
	}
	return &s, nil
}

func Save(root string, s *State) error {
	if s == nil {
		return errors.New("nil state")
	}
	dir := filepath.Dir(StatePath(root))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "mkdir state dir")
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal state")
	}
	if err := os.WriteFile(StatePath(root), b, 0o644); err != nil {
		return errors.Wrap(err, "write state")
	}
	return nil
}

func Remove(root string) error {
	path := StatePath(root)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "remove state")
	}
	return nil
}

func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if isZombie(pid) {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	if stderrors.Is(err, syscall.EPERM) {
		return true
	}
	return false
}

func isZombie(pid int) bool {
	path := fmt.Sprintf("/proc/%d/stat", pid)
	b, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	// Format: pid (comm) state ...
	// We want the state character after the closing ')'.
	i := bytes.LastIndexByte(b, ')')
	if i < 0 {
		return false
	}
	rest := bytes.TrimSpace(b[i+1:])
	fields := bytes.Fields(rest)
	if len(fields) < 1 || len(fields[0]) < 1 {
		return false
	}
	return fields[0][0] == 'Z'
}
