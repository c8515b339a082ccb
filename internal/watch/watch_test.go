package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// startWatcher runs w until the test ends
func startWatcher(t *testing.T, w *Watcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// let Run register the directory
	time.Sleep(50 * time.Millisecond)
}

func expectChange(t *testing.T, w *Watcher, within time.Duration) {
	t.Helper()
	select {
	case <-w.Changed():
	case <-time.After(within):
		t.Fatal("expected a change notification")
	}
}

func expectNoChange(t *testing.T, w *Watcher, within time.Duration) {
	t.Helper()
	select {
	case <-w.Changed():
		t.Fatal("unexpected change notification")
	case <-time.After(within):
	}
}

// ============================================================================
// Debouncer Tests
// ============================================================================

func TestDebouncerCoalesces(t *testing.T) {
	d := NewDebouncer(40 * time.Millisecond)
	var calls atomic.Int32

	for i := 0; i < 10; i++ {
		d.Trigger(func() { calls.Add(1) })
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(120 * time.Millisecond)

	if n := calls.Load(); n != 1 {
		t.Errorf("expected 1 call, got %d", n)
	}
}

func TestDebouncerCancel(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	var called atomic.Bool

	d.Trigger(func() { called.Store(true) })
	d.Cancel()
	time.Sleep(80 * time.Millisecond)

	assert.False(t, called.Load())
}

func TestDebouncerDefault(t *testing.T) {
	assert.Equal(t, DefaultDebounce, NewDebouncer(0).Duration())
}

// ============================================================================
// Watcher Tests
// ============================================================================

func TestWatcherDetectsWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "main.apbl")
	writeFile(t, path, "print(1)")

	w, err := New(path, WithDebounce(30*time.Millisecond))
	require.NoError(t, err)
	startWatcher(t, w)

	writeFile(t, path, "print(2)")
	expectChange(t, w, 2*time.Second)
}

func TestWatcherIgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.apbl")
	writeFile(t, path, "print(1)")

	w, err := New(path, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	startWatcher(t, w)

	writeFile(t, filepath.Join(dir, "other.apbl"), "x")
	expectNoChange(t, w, 150*time.Millisecond)
}

func TestWatcherDetectsRenameSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.apbl")
	writeFile(t, path, "v1")

	w, err := New(path, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	startWatcher(t, w)

	tmp := filepath.Join(dir, "main.apbl.swp")
	writeFile(t, tmp, "v2")
	require.NoError(t, os.Rename(tmp, path))

	expectChange(t, w, 2*time.Second)
}

func TestWatcherPolling(t *testing.T) {
	path := filepath.Join(t.TempDir(), "main.apbl")
	writeFile(t, path, "a")

	var errs atomic.Int32
	w, err := New(path,
		WithForcePoll(),
		WithPollInterval(20*time.Millisecond),
		WithDebounce(10*time.Millisecond),
		WithOnError(func(error) { errs.Add(1) }),
	)
	require.NoError(t, err)
	startWatcher(t, w)
	assert.True(t, w.IsPolling())

	writeFile(t, path, "abc")
	expectChange(t, w, time.Second)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool { return errs.Load() > 0 }, time.Second, 10*time.Millisecond)
}

func TestWatcherRunTwice(t *testing.T) {
	w, err := New(filepath.Join(t.TempDir(), "x"), WithForcePoll())
	require.NoError(t, err)
	startWatcher(t, w)

	assert.ErrorIs(t, w.Run(context.Background()), ErrAlreadyStarted)
}
