package watcher_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/chartbus/internal/watcher"
)

func startWatcher(t *testing.T, path string) <-chan struct{} {
	t.Helper()
	w, err := watcher.New(watcher.Config{Path: path, Debounce: 50 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	changes := make(chan struct{}, 10)
	go func() {
		defer close(done)
		_ = w.Run(ctx, func() error {
			changes <- struct{}{}
			return nil
		})
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return changes
}

func TestWatcher_DebouncesBurstOfWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chart.html")
	require.NoError(t, os.WriteFile(path, []byte("<div>"), 0o600))
	changes := startWatcher(t, path)

	for i := range 10 {
		require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("<div>%d", i)), 0o600))
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-changes:
	case <-time.After(time.Second):
		t.Fatal("expected a change notification")
	}
	select {
	case <-changes:
		t.Fatal("burst produced a second notification")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chart.html")
	other := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("<div>"), 0o600))
	require.NoError(t, os.WriteFile(other, []byte("a"), 0o600))
	changes := startWatcher(t, path)

	require.NoError(t, os.WriteFile(other, []byte("b"), 0o600))
	select {
	case <-changes:
		t.Fatal("write to another file triggered a reload")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_OnChangeErrorKeepsWatching(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chart.html")
	require.NoError(t, os.WriteFile(path, []byte("<div>"), 0o600))

	w, err := watcher.New(watcher.Config{Path: path, Debounce: 20 * time.Millisecond})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	go func() {
		_ = w.Run(ctx, func() error {
			calls.Add(1)
			return fmt.Errorf("window gone")
		})
	}()

	require.NoError(t, os.WriteFile(path, []byte("1"), 0o600))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("2"), 0o600))
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestNew_Errors(t *testing.T) {
	_, err := watcher.New(watcher.Config{})
	require.Error(t, err)
	_, err = watcher.New(watcher.Config{Path: filepath.Join(t.TempDir(), "missing", "chart.html")})
	require.Error(t, err)
}
