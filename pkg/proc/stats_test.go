package proc

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReadStatsSelf(t *testing.T) {
	tracker := NewCPUTracker()

	stats, err := ReadStats(os.Getpid(), tracker)
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), stats.PID)
	require.GreaterOrEqual(t, stats.Threads, 1)
	require.Greater(t, stats.MemoryRSS, int64(0))
	require.Equal(t, float64(0), stats.CPUPercent, "first sample has no delta")

	// Burn a little CPU so the second sample has something to report.
	deadline := time.Now().Add(50 * time.Millisecond)
	x := 0
	for time.Now().Before(deadline) {
		x++
	}
	_ = x

	stats, err = ReadStats(os.Getpid(), tracker)
	require.NoError(t, err)
	require.GreaterOrEqual(t, stats.CPUPercent, float64(0))
}

func TestReadStatsInvalidPID(t *testing.T) {
	_, err := ReadStats(0, nil)
	require.Error(t, err)

	_, err = ReadStats(1<<30, nil)
	require.Error(t, err)
}

func TestReadAllStatsSkipsDead(t *testing.T) {
	stats, err := ReadAllStats([]int{os.Getpid(), 1 << 30}, nil)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	require.Contains(t, stats, os.Getpid())
}

func TestCleanupStale(t *testing.T) {
	tracker := NewCPUTracker()
	_, err := ReadStats(os.Getpid(), tracker)
	require.NoError(t, err)
	require.Len(t, tracker.prev, 1)

	tracker.CleanupStale(nil)
	require.Empty(t, tracker.prev)
}
