package gate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeTicker lets tests drive poll iterations explicitly.
type fakeTicker struct{ ch chan time.Time }

func (f *fakeTicker) C() <-chan time.Time { return f.ch }
func (f *fakeTicker) Stop()               {}

func TestWait_ReturnsReadyWhenMarkerAppears(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, ".migrated")

	tick := &fakeTicker{ch: make(chan time.Time, 1)}
	opts := Options{
		Interval:  time.Hour,
		NewTicker: func(time.Duration) Ticker { return tick },
	}

	done := make(chan Result, 1)
	go func() {
		res, err := Wait(context.Background(), marker, opts)
		require.NoError(t, err)
		done <- res
	}()

	// Marker absent: the waiter must not return within the probe window.
	select {
	case <-done:
		t.Fatal("wait returned before marker existed")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, WriteMarker(marker))
	tick.ch <- time.Now()

	select {
	case res := <-done:
		require.Equal(t, Ready, res)
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not return after marker creation")
	}
}

func TestWait_ReadyImmediatelyWhenMarkerExists(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, ".migrated")
	require.NoError(t, WriteMarker(marker))

	res, err := Wait(context.Background(), marker, Options{Interval: time.Hour})
	require.NoError(t, err)
	require.Equal(t, Ready, res)
}

func TestWait_TimesOut(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, ".migrated")

	res, err := Wait(context.Background(), marker, Options{
		Interval: 10 * time.Millisecond,
		Timeout:  100 * time.Millisecond,
	})
	require.NoError(t, err)
	require.Equal(t, TimedOut, res)
}

func TestWait_ContextCancellation(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, ".migrated")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := Wait(ctx, marker, Options{Interval: 10 * time.Millisecond})
	require.Error(t, err)
}

func TestWriteMarker_AtomicAndIdempotentClear(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "nested", ".migrated")

	require.False(t, Exists(marker))
	require.NoError(t, WriteMarker(marker))
	require.True(t, Exists(marker))

	// No temp droppings left behind.
	entries, err := os.ReadDir(filepath.Dir(marker))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, ClearMarker(marker))
	require.False(t, Exists(marker))
	require.NoError(t, ClearMarker(marker))
}
