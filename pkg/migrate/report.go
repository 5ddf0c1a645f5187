package migrate

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// WriteReport persists the run report so `status` and the TUI can show
// the last migration outcome.
func WriteReport(path string, report *RunReport) error {
	if path == "" {
		return errors.New("missing path")
	}
	if report == nil {
		return errors.New("nil report")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "mkdir report dir")
	}
	b, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal report")
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return errors.Wrap(err, "write report")
	}
	return nil
}

func ReadReport(path string) (*RunReport, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read report")
	}
	var report RunReport
	if err := json.Unmarshal(b, &report); err != nil {
		return nil, errors.Wrap(err, "parse report")
	}
	return &report, nil
}
