package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shaban/fxhost/store"
)

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "settings.json")

	s, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Apply(ctx, []store.Op{
		store.Put("pluginListActive", "VST3:/a#1"),
		store.Put("plugin_order_VST3:/a#1", "1"),
		store.Put("plugin_state_VST3:/a#1", "AAEC"),
	}))
	require.NoError(t, s.Delete(ctx, "plugin_state_VST3:/a#1"))
	require.NoError(t, s.Close())

	_, err = os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err), "temp file renamed away")

	s2, err := Open(path, nil)
	require.NoError(t, err)
	v, ok, err := s2.Get(ctx, "plugin_order_VST3:/a#1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", v)

	keys, err := s2.Keys(ctx, "plugin_")
	require.NoError(t, err)
	require.Equal(t, []string{"plugin_order_VST3:/a#1"}, keys)
}

func TestFileStoreVersionMismatchStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":"0.1","entries":{"k":"v"}}`), 0o644))

	s, err := Open(path, nil)
	require.NoError(t, err)
	keys, err := s.Keys(context.Background(), "")
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestFileStoreCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

	_, err := Open(path, nil)
	require.Error(t, err)
}

func TestFileStoreFailedWriteKeepsView(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	s, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "a", "1"))

	// A directory squatting on the temp path makes the write fail.
	require.NoError(t, os.Mkdir(path+".tmp", 0o755))
	require.Error(t, s.Set(ctx, "a", "2"))

	v, _, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "1", v)
}

func TestFileStoreClosed(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "s.json"), nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.ErrorIs(t, s.Set(context.Background(), "k", "v"), store.ErrClosed)
}
