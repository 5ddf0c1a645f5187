// Package proc reads per-PID runtime statistics from /proc for status
// output and the dashboard.
package proc

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Linux reports stat times in jiffies; 100 Hz is the fixed userspace ABI.
const ticksPerSecond = 100.0

type Stats struct {
	PID        int     `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	MemoryMB   int64   `json:"memory_mb"`
	MemoryRSS  int64   `json:"memory_rss"`
	VirtualMB  int64   `json:"virtual_mb"`
	State      string  `json:"state"`
	Threads    int     `json:"threads"`
	StartTime  int64   `json:"start_time"` // jiffies since boot
}

// rawStat is the subset of /proc/[pid]/stat fields we care about.
type rawStat struct {
	state     byte
	utime     uint64
	stime     uint64
	threads   int
	startTime uint64
	vsize     uint64
	rssPages  int64
}

// CPUTracker remembers the previous utime/stime sample per PID so the next
// ReadStats call can turn the delta into a percentage.
type CPUTracker struct {
	prev map[int]cpuSample
}

type cpuSample struct {
	utime uint64
	stime uint64
	at    time.Time
}

func NewCPUTracker() *CPUTracker {
	return &CPUTracker{prev: map[int]cpuSample{}}
}

// ReadStats samples one PID. CPUPercent is zero on the first sample for a
// PID; pass the same tracker across calls to get real deltas.
func ReadStats(pid int, tracker *CPUTracker) (*Stats, error) {
	if pid <= 0 {
		return nil, errors.New("invalid PID")
	}
	raw, err := parseStatFile(pid)
	if err != nil {
		return nil, err
	}

	pageSize := int64(os.Getpagesize())
	rssBytes := raw.rssPages * pageSize

	stats := &Stats{
		PID:       pid,
		MemoryRSS: rssBytes,
		MemoryMB:  rssBytes / (1024 * 1024),
		VirtualMB: int64(raw.vsize) / (1024 * 1024),
		State:     string(raw.state),
		Threads:   raw.threads,
		StartTime: int64(raw.startTime),
	}

	if tracker != nil {
		now := time.Now()
		if prev, ok := tracker.prev[pid]; ok {
			elapsed := now.Sub(prev.at).Seconds()
			if elapsed > 0 {
				usedJiffies := float64((raw.utime + raw.stime) - (prev.utime + prev.stime))
				stats.CPUPercent = (usedJiffies / ticksPerSecond / elapsed) * 100.0
			}
		}
		tracker.prev[pid] = cpuSample{utime: raw.utime, stime: raw.stime, at: now}
	}

	return stats, nil
}

// ReadAllStats samples every PID it can; PIDs that vanished between listing
// and sampling are silently skipped.
func ReadAllStats(pids []int, tracker *CPUTracker) (map[int]*Stats, error) {
	result := make(map[int]*Stats, len(pids))
	for _, pid := range pids {
		stats, err := ReadStats(pid, tracker)
		if err != nil {
			continue
		}
		result[pid] = stats
	}
	return result, nil
}

// CleanupStale drops tracker samples for PIDs not in activePIDs.
func (t *CPUTracker) CleanupStale(activePIDs []int) {
	active := make(map[int]bool, len(activePIDs))
	for _, pid := range activePIDs {
		active[pid] = true
	}
	for pid := range t.prev {
		if !active[pid] {
			delete(t.prev, pid)
		}
	}
}

func parseStatFile(pid int) (*rawStat, error) {
	path := filepath.Join("/proc", strconv.Itoa(pid), "stat")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read stat file")
	}

	// The comm field may contain spaces and parentheses; everything we want
	// comes after the last ')'.
	content := string(data)
	closeParen := strings.LastIndex(content, ")")
	if closeParen < 0 {
		return nil, errors.New("malformed stat file: no closing paren")
	}
	fields := strings.Fields(strings.TrimSpace(content[closeParen+1:]))
	if len(fields) < 22 {
		return nil, errors.Errorf("malformed stat file: expected 22+ fields, got %d", len(fields))
	}

	// Indices are 0-based after pid and comm: state=0, utime=11, stime=12,
	// num_threads=17, starttime=19, vsize=20, rss=21.
	raw := &rawStat{state: fields[0][0]}

	if raw.utime, err = strconv.ParseUint(fields[11], 10, 64); err != nil {
		return nil, errors.Wrap(err, "parse utime")
	}
	if raw.stime, err = strconv.ParseUint(fields[12], 10, 64); err != nil {
		return nil, errors.Wrap(err, "parse stime")
	}
	if raw.threads, err = strconv.Atoi(fields[17]); err != nil {
		return nil, errors.Wrap(err, "parse num_threads")
	}
	if raw.startTime, err = strconv.ParseUint(fields[19], 10, 64); err != nil {
		return nil, errors.Wrap(err, "parse starttime")
	}
	if raw.vsize, err = strconv.ParseUint(fields[20], 10, 64); err != nil {
		return nil, errors.Wrap(err, "parse vsize")
	}
	if raw.rssPages, err = strconv.ParseInt(fields[21], 10, 64); err != nil {
		return nil, errors.Wrap(err, "parse rss")
	}

	return raw, nil
}
