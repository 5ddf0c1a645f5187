package tui

import (
	"context"
	"os"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/stackctl/pkg/health"
	"github.com/go-go-golems/stackctl/pkg/proc"
	"github.com/go-go-golems/stackctl/pkg/profile"
	"github.com/go-go-golems/stackctl/pkg/state"
	"github.com/pkg/errors"
)

// StateWatcher polls the persisted run state, liveness, health checks and
// the readiness marker, publishing snapshots plus edge events (service
// died, marker appeared or vanished, health flipped).
type StateWatcher struct {
	Root     string
	Marker   string
	Interval time.Duration
	Pub      message.Publisher

	lastAlive  map[string]bool
	lastExists bool
	lastMarker *bool
	trackers   map[string]*health.Tracker
	lastHealth map[string]health.Status
	cpuTracker *proc.CPUTracker
}

func (w *StateWatcher) Run(ctx context.Context) error {
	if w.Root == "" {
		return errors.New("missing Root")
	}
	if w.Pub == nil {
		return errors.New("missing Publisher")
	}
	if w.Interval <= 0 {
		w.Interval = 1 * time.Second
	}

	w.cpuTracker = proc.NewCPUTracker()
	w.trackers = map[string]*health.Tracker{}
	w.lastHealth = map[string]health.Status{}

	t := time.NewTicker(w.Interval)
	defer t.Stop()

	for {
		if err := w.emitSnapshot(ctx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

func (w *StateWatcher) emitSnapshot(ctx context.Context) error {
	markerPath, markerPresent := w.checkMarker()

	path := state.StatePath(w.Root)
	_, err := os.Stat(path)
	if err != nil {
		w.lastAlive = nil
		if os.IsNotExist(err) {
			w.lastExists = false
			return w.publishSnapshot(StateSnapshot{
				Root: w.Root, At: time.Now(), Exists: false,
				MarkerPath: markerPath, MarkerPresent: markerPresent,
			})
		}
		w.lastExists = true
		return w.publishSnapshot(StateSnapshot{
			Root: w.Root, At: time.Now(), Exists: true,
			MarkerPath: markerPath, MarkerPresent: markerPresent,
			Error: errors.Wrap(err, "stat state").Error(),
		})
	}

	st, err := state.Load(w.Root)
	if err != nil {
		w.lastAlive = nil
		w.lastExists = true
		return w.publishSnapshot(StateSnapshot{
			Root: w.Root, At: time.Now(), Exists: true,
			MarkerPath: markerPath, MarkerPresent: markerPresent,
			Error: errors.Wrap(err, "load state").Error(),
		})
	}
	if markerPath == "" && st.Marker != "" {
		markerPath = st.Marker
		markerPresent = exists(st.Marker)
	}

	alive := map[string]bool{}
	for _, s := range st.Services {
		alive[s.Name] = state.ProcessAlive(s.PID)
	}

	if w.lastExists && w.lastAlive != nil {
		for _, svc := range st.Services {
			if svc.OneShot {
				continue
			}
			if w.lastAlive[svc.Name] && !alive[svc.Name] {
				if err := w.publishEvent(DomainTypeServiceExit, ServiceExitObserved{
					Name:   svc.Name,
					PID:    svc.PID,
					When:   time.Now(),
					Reason: "process not alive",
				}); err != nil {
					return err
				}
			}
		}
	}

	w.lastAlive = alive
	w.lastExists = true

	var pids []int
	for _, svc := range st.Services {
		if alive[svc.Name] {
			pids = append(pids, svc.PID)
		}
	}
	var processStats map[int]*proc.Stats
	if len(pids) > 0 {
		processStats, _ = proc.ReadAllStats(pids, w.cpuTracker)
		w.cpuTracker.CleanupStale(pids)
	}

	healthResults, err := w.checkHealth(ctx, st.Services, alive)
	if err != nil {
		return err
	}

	return w.publishSnapshot(StateSnapshot{
		Root:          w.Root,
		At:            time.Now(),
		Exists:        true,
		State:         st,
		Alive:         alive,
		ProcessStats:  processStats,
		Health:        healthResults,
		MarkerPath:    markerPath,
		MarkerPresent: markerPresent,
	})
}

// checkMarker stats the configured marker and publishes an edge event on
// transitions.
func (w *StateWatcher) checkMarker() (string, bool) {
	if w.Marker == "" {
		return "", false
	}
	present := exists(w.Marker)
	if w.lastMarker == nil || *w.lastMarker != present {
		_ = w.publishEvent(DomainTypeMarkerChanged, MarkerChanged{
			Path:    w.Marker,
			Present: present,
			When:    time.Now(),
		})
	}
	w.lastMarker = &present
	return w.Marker, present
}

func (w *StateWatcher) checkHealth(ctx context.Context, services []state.ServiceRecord, alive map[string]bool) (map[string]ServiceHealth, error) {
	results := map[string]ServiceHealth{}

	for _, svc := range services {
		if svc.HealthType == "" {
			continue
		}

		tracker, ok := w.trackers[svc.Name]
		if !ok {
			tracker = health.NewTracker(3)
			w.trackers[svc.Name] = tracker
		}

		cfg := profile.HealthCheck{
			Type:    svc.HealthType,
			Address: svc.HealthAddress,
			URL:     svc.HealthURL,
			Command: svc.HealthCommand,
		}

		var probeErr error
		var responseMs int64
		if !alive[svc.Name] {
			probeErr = errors.New("process not running")
		} else {
			start := time.Now()
			probeErr = health.Probe(ctx, cfg)
			responseMs = time.Since(start).Milliseconds()
		}

		status := tracker.Observe(probeErr)
		res := ServiceHealth{
			Status:     status,
			ResponseMs: responseMs,
		}
		switch cfg.Type {
		case "tcp":
			res.Endpoint = cfg.Address
		case "http":
			res.Endpoint = cfg.URL
		}
		if probeErr != nil {
			res.Error = probeErr.Error()
		}
		results[svc.Name] = res

		if prev, ok := w.lastHealth[svc.Name]; ok && prev != status {
			if err := w.publishEvent(DomainTypeHealthChanged, HealthChanged{
				Service: svc.Name,
				From:    prev,
				To:      status,
				When:    time.Now(),
			}); err != nil {
				return nil, err
			}
		}
		w.lastHealth[svc.Name] = status
	}

	return results, nil
}

func (w *StateWatcher) publishSnapshot(snap StateSnapshot) error {
	return w.publishEvent(DomainTypeStateSnapshot, snap)
}

func (w *StateWatcher) publishEvent(typ string, payload any) error {
	return PublishEnvelope(w.Pub, TopicStackEvents, typ, payload)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
