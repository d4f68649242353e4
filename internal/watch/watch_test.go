package watch_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaban/fxhost/internal/watch"
)

func start(t *testing.T, paths ...string) (<-chan watch.Batch, int) {
	t.Helper()
	w, err := watch.New(watch.Config{Paths: paths, Debounce: 50 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })
	ch, n, err := w.Start()
	require.NoError(t, err)
	return ch, n
}

func TestWatcher_DebounceCoalescesWrites(t *testing.T) {
	dir := t.TempDir()
	ch, n := start(t, dir)
	assert.Equal(t, 1, n)

	for i := 0; i < 10; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("p%d.fxplug.yaml", i%3)), []byte("x"), 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case b := <-ch:
		assert.Equal(t, watch.Batch{dir}, b)
	case <-time.After(time.Second):
		t.Fatal("expected a batch")
	}

	select {
	case b := <-ch:
		t.Fatalf("unexpected second batch %v", b)
	case <-time.After(150 * time.Millisecond):
	}
	t.Log("✅ Rapid writes coalesced into one batch")
}

func TestWatcher_MultipleDirsInOneBatch(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	ch, n := start(t, a, b)
	require.Equal(t, 2, n)

	require.NoError(t, os.WriteFile(filepath.Join(a, "one"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(b, "two"), nil, 0o644))

	select {
	case got := <-ch:
		assert.ElementsMatch(t, []string{a, b}, []string(got))
	case <-time.After(time.Second):
		t.Fatal("expected a batch")
	}
}

func TestWatcher_SkipsMissingPaths(t *testing.T) {
	dir := t.TempDir()
	_, n := start(t, filepath.Join(dir, "absent"), dir)
	assert.Equal(t, 1, n)
}

func TestWatcher_StopClosesChannel(t *testing.T) {
	w, err := watch.New(watch.Config{Paths: []string{t.TempDir()}})
	require.NoError(t, err)
	ch, _, err := w.Start()
	require.NoError(t, err)

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}
