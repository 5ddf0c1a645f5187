// Package gate implements the readiness-marker protocol: the migration
// runner is the only writer of the marker file, every other service polls
// for its existence before starting real work.
package gate

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Result int

const (
	Ready Result = iota
	TimedOut
)

func (r Result) String() string {
	if r == Ready {
		return "ready"
	}
	return "timed-out"
}

// Ticker abstracts time.Ticker so tests can drive the poll loop without
// real delays.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

type Options struct {
	// Interval between existence polls. Defaults to 200ms.
	Interval time.Duration
	// Timeout bounds the whole wait. Zero means wait forever.
	Timeout time.Duration
	// NewTicker overrides the poll ticker, used in tests.
	NewTicker func(d time.Duration) Ticker
}

// Wait blocks until path exists, the timeout elapses, or ctx is cancelled.
// The poll is a pure read; any number of processes may wait on the same
// marker concurrently.
func Wait(ctx context.Context, path string, opts Options) (Result, error) {
	if path == "" {
		return TimedOut, errors.New("missing marker path")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	newTicker := opts.NewTicker
	if newTicker == nil {
		newTicker = func(d time.Duration) Ticker { return realTicker{t: time.NewTicker(d)} }
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	t := newTicker(interval)
	defer t.Stop()

	for {
		if Exists(path) {
			return Ready, nil
		}
		select {
		case <-ctx.Done():
			if opts.Timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return TimedOut, nil
			}
			return TimedOut, errors.Wrap(ctx.Err(), "wait for marker")
		case <-t.C():
		}
	}
}

func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// WriteMarker creates the marker atomically (write to a temp file in the
// same directory, then rename). Waiters never observe a partially written
// marker.
func WriteMarker(path string) error {
	if path == "" {
		return errors.New("missing marker path")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "mkdir marker dir")
	}
	tmp, err := os.CreateTemp(dir, ".marker-*")
	if err != nil {
		return errors.Wrap(err, "create marker temp")
	}
	name := tmp.Name()
	if _, err := tmp.WriteString(time.Now().UTC().Format(time.RFC3339) + "\n"); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return errors.Wrap(err, "write marker temp")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return errors.Wrap(err, "close marker temp")
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return errors.Wrap(err, "rename marker")
	}
	log.Debug().Str("marker", path).Msg("marker written")
	return nil
}

// ClearMarker removes the marker if present. Removing an absent marker is
// not an error.
func ClearMarker(path string) error {
	if path == "" {
		return errors.New("missing marker path")
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "remove marker")
	}
	log.Debug().Str("marker", path).Msg("marker cleared")
	return nil
}
