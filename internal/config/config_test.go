package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaban/fxhost/plugins"
)

func TestDefaultsValidate(t *testing.T) {
	d := Defaults()
	require.NoError(t, d.Validate())
	assert.Equal(t, StoreSQLite, d.Store.Driver)
	assert.Equal(t, filepath.Join(d.DataDir, "settings.db"), d.StorePath())
	assert.NotEmpty(t, d.Scan.SearchPaths)
	t.Log("✅ Defaults are valid")
}

func TestAudioResolve(t *testing.T) {
	tests := []struct {
		name string
		in   AudioConfig
		want ResolvedAudio
	}{
		{"zero", AudioConfig{}, ResolvedAudio{48000, 512, 2}},
		{"low", AudioConfig{Latency: LatencyLow}, ResolvedAudio{48000, 256, 2}},
		{"high", AudioConfig{Latency: LatencyHigh, SampleRate: 44100}, ResolvedAudio{44100, 1024, 2}},
		{"explicit block wins", AudioConfig{Latency: LatencyLow, BlockSize: 128, Channels: 1}, ResolvedAudio{48000, 128, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Resolve())
		})
	}
}

func TestValidateRejects(t *testing.T) {
	c := Defaults()
	c.Store.Driver = "postgres"
	assert.Error(t, c.Validate())

	c = Defaults()
	c.Audio.Latency = "ultra"
	assert.Error(t, c.Validate())

	c = Defaults()
	c.Scan.Formats = []string{"vst3", "DSSI"}
	assert.Error(t, c.Validate())

	c = Defaults()
	c.Log.Level = "loud"
	assert.Error(t, c.Validate())
}

func TestScanPolicy(t *testing.T) {
	s := ScanConfig{
		ProbeTimeout: 2 * time.Second,
		FormatScale:  map[string]float64{"audiounit": 3, "bogus": 9},
	}
	p := s.Policy()
	assert.Equal(t, 6*time.Second, p.For(plugins.Descriptor{Format: plugins.FormatAudioUnit}))
	assert.Equal(t, 2*time.Second, p.For(plugins.Descriptor{Format: plugins.FormatLV2}))

	s.Formats = []string{"vst3", "nope", "CLAP"}
	assert.Equal(t, []plugins.Format{plugins.FormatVST3, plugins.FormatCLAP}, s.ParsedFormats())
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /tmp/fxhost-test
store:
  driver: file
audio:
  latency: high
  channels: 1
scan:
  probe_timeout: 750ms
  formats: [vst3]
`), 0o644))

	t.Setenv("FXHOST_API_ADDR", "0.0.0.0:9999")

	cfg, used, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, used)
	assert.Equal(t, "/tmp/fxhost-test", cfg.DataDir)
	assert.Equal(t, StoreFile, cfg.Store.Driver)
	assert.Equal(t, filepath.Join("/tmp/fxhost-test", "settings.json"), cfg.StorePath())
	assert.Equal(t, ResolvedAudio{48000, 1024, 1}, cfg.Audio.Resolve())
	assert.Equal(t, 750*time.Millisecond, cfg.Scan.ProbeTimeout)
	assert.Equal(t, []string{"vst3"}, cfg.Scan.Formats)
	assert.Equal(t, "0.0.0.0:9999", cfg.API.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	t.Log("✅ File values and environment overrides applied")
}

func TestLoadExplicitMissingFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: redis\n"), 0o644))
	_, _, err := Load(path)
	assert.ErrorContains(t, err, "store driver")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Defaults()
	cfg.DataDir = "/data"
	cfg.Audio.BlockSize = 64
	cfg.Scan.Watch = true
	cfg.Scan.SearchPaths = []string{"/a", "/b"}
	require.NoError(t, Save(path, cfg))

	got, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data", got.DataDir)
	assert.Equal(t, 64, got.Audio.BlockSize)
	assert.True(t, got.Scan.Watch)
	assert.Equal(t, []string{"/a", "/b"}, got.Scan.SearchPaths)
	assert.Equal(t, cfg.Scan.ProbeTimeout, got.Scan.ProbeTimeout)
	assert.Equal(t, cfg.Scan.CacheTTL, got.Scan.CacheTTL)
}
