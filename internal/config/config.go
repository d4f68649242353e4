// Package config holds the host configuration: defaults, loading through viper,
// and saving as YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/shaban/fxhost/internal/logging"
	"github.com/shaban/fxhost/internal/tracing"
	"github.com/shaban/fxhost/plugins"
	"github.com/shaban/fxhost/probe"
)

// EnvPrefix prefixes environment overrides, e.g. FXHOST_LOG_LEVEL.
const EnvPrefix = "FXHOST"

// Store drivers.
const (
	StoreSQLite = "sqlite"
	StoreFile   = "file"
	StoreMemory = "memory"
)

// Config is the full host configuration.
type Config struct {
	DataDir string         `mapstructure:"data_dir" yaml:"data_dir"`
	Store   StoreConfig    `mapstructure:"store" yaml:"store"`
	Audio   AudioConfig    `mapstructure:"audio" yaml:"audio"`
	Scan    ScanConfig     `mapstructure:"scan" yaml:"scan"`
	API     APIConfig      `mapstructure:"api" yaml:"api"`
	Log     logging.Config `mapstructure:"log" yaml:"log"`
	Tracing tracing.Config `mapstructure:"tracing" yaml:"tracing"`
}

// StoreConfig selects where settings persist.
type StoreConfig struct {
	// Driver is sqlite, file or memory.
	Driver string `mapstructure:"driver" yaml:"driver"`
	// Path defaults to a file in DataDir.
	Path string `mapstructure:"path" yaml:"path"`
}

// ScanConfig controls discovery and probing.
type ScanConfig struct {
	// Formats limits scanning; empty means every registered format.
	Formats []string `mapstructure:"formats" yaml:"formats"`
	// SearchPaths seeds the persisted search paths on first run.
	SearchPaths  []string           `mapstructure:"search_paths" yaml:"search_paths"`
	ProbeTimeout time.Duration      `mapstructure:"probe_timeout" yaml:"probe_timeout"`
	FormatScale  map[string]float64 `mapstructure:"format_scale" yaml:"format_scale"`
	CacheTTL     time.Duration      `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	// Watch rescans search paths when files change.
	Watch    bool          `mapstructure:"watch" yaml:"watch"`
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

// APIConfig configures the HTTP API.
type APIConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Defaults returns the stock configuration.
func Defaults() Config {
	return Config{
		DataDir: DefaultDataDir(),
		Store:   StoreConfig{Driver: StoreSQLite},
		Audio: AudioConfig{
			SampleRate: DefaultSampleRate,
			Channels:   DefaultChannels,
			Latency:    LatencyMedium,
		},
		Scan: ScanConfig{
			SearchPaths:  DefaultSearchPaths(),
			ProbeTimeout: probe.DefaultBaseTimeout,
			FormatScale: map[string]float64{
				strings.ToLower(string(plugins.FormatAudioUnit)): 2.0,
				strings.ToLower(string(plugins.FormatVST3)):      1.5,
			},
			CacheTTL: 5 * time.Minute,
			Watch:    false,
			Debounce: 500 * time.Millisecond,
		},
		API:     APIConfig{Addr: "127.0.0.1:7878"},
		Log:     logging.DefaultConfig(),
		Tracing: tracing.DefaultConfig(),
	}
}

// DefaultDataDir is $XDG_CONFIG_HOME/fxhost or the platform equivalent.
func DefaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".fxhost"
	}
	return filepath.Join(dir, "fxhost")
}

// StorePath returns the configured store path or the default inside DataDir.
func (c Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	switch c.Store.Driver {
	case StoreFile:
		return filepath.Join(c.DataDir, "settings.json")
	default:
		return filepath.Join(c.DataDir, "settings.db")
	}
}

// Validate checks values viper cannot type-check.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case StoreSQLite, StoreFile, StoreMemory:
	default:
		return fmt.Errorf("invalid store driver %q", c.Store.Driver)
	}
	for _, f := range c.Scan.Formats {
		if _, err := plugins.ParseFormat(f); err != nil {
			return err
		}
	}
	for f := range c.Scan.FormatScale {
		if _, err := plugins.ParseFormat(f); err != nil {
			return fmt.Errorf("format_scale: %w", err)
		}
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return c.Audio.Validate()
}

// ParsedFormats returns the scan formats that parse; unknown names are skipped.
func (s ScanConfig) ParsedFormats() []plugins.Format {
	var out []plugins.Format
	for _, f := range s.Formats {
		if pf, err := plugins.ParseFormat(f); err == nil {
			out = append(out, pf)
		}
	}
	return out
}

// Policy returns the probe timeout policy.
func (s ScanConfig) Policy() probe.TimeoutPolicy {
	p := probe.TimeoutPolicy{Base: s.ProbeTimeout, Scale: map[plugins.Format]float64{}}
	for name, scale := range s.FormatScale {
		if f, err := plugins.ParseFormat(name); err == nil {
			p.Scale[f] = scale
		}
	}
	return p
}

// Load reads configuration from path, or from the default locations when path is
// empty. A missing default file is not an error. Environment variables with the
// FXHOST_ prefix override file values.
func Load(path string) (Config, string, error) {
	v := viper.New()
	setDefaults(v, Defaults())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultDataDir())
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, "", fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, "", fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, "", err
	}
	return cfg, v.ConfigFileUsed(), nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("audio.sample_rate", d.Audio.SampleRate)
	v.SetDefault("audio.block_size", d.Audio.BlockSize)
	v.SetDefault("audio.channels", d.Audio.Channels)
	v.SetDefault("audio.latency", string(d.Audio.Latency))
	v.SetDefault("scan.formats", d.Scan.Formats)
	v.SetDefault("scan.search_paths", d.Scan.SearchPaths)
	v.SetDefault("scan.probe_timeout", d.Scan.ProbeTimeout)
	v.SetDefault("scan.format_scale", d.Scan.FormatScale)
	v.SetDefault("scan.cache_ttl", d.Scan.CacheTTL)
	v.SetDefault("scan.watch", d.Scan.Watch)
	v.SetDefault("scan.debounce", d.Scan.Debounce)
	v.SetDefault("api.addr", d.API.Addr)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}

// Save writes cfg as YAML to path, creating parent directories.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
