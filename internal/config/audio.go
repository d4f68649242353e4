package config

import "fmt"

// Audio defaults used when a field is unset.
const (
	DefaultSampleRate = 48000
	DefaultBlockSize  = 512
	DefaultChannels   = 2
)

// LatencyClass is a coarse latency preference that maps to block sizes.
type LatencyClass string

const (
	LatencyLow    LatencyClass = "low"    // prioritize minimal latency (smaller buffers)
	LatencyMedium LatencyClass = "medium" // balanced default
	LatencyHigh   LatencyClass = "high"   // prioritize stability (larger buffers)
)

// AudioConfig is the format plugins are instantiated and prepared with.
type AudioConfig struct {
	SampleRate float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
	// BlockSize overrides Latency when > 0.
	BlockSize int          `mapstructure:"block_size" yaml:"block_size"`
	Channels  int          `mapstructure:"channels" yaml:"channels"`
	Latency   LatencyClass `mapstructure:"latency" yaml:"latency"`
}

// MapLatencyToBlock maps a LatencyClass to a block size in frames.
func MapLatencyToBlock(c LatencyClass) int {
	switch c {
	case LatencyLow:
		return 256
	case LatencyHigh:
		return 1024
	default:
		return DefaultBlockSize
	}
}

// ResolvedAudio is an AudioConfig with every default applied.
type ResolvedAudio struct {
	SampleRate float64
	BlockSize  int
	Channels   int
}

// Resolve applies defaults. An explicit BlockSize wins over the latency hint.
func (a AudioConfig) Resolve() ResolvedAudio {
	r := ResolvedAudio{SampleRate: a.SampleRate, BlockSize: a.BlockSize, Channels: a.Channels}
	if r.SampleRate <= 0 {
		r.SampleRate = DefaultSampleRate
	}
	if r.BlockSize <= 0 {
		r.BlockSize = MapLatencyToBlock(a.Latency)
	}
	if r.Channels <= 0 {
		r.Channels = DefaultChannels
	}
	return r
}

// Validate rejects unknown latency classes and negative values.
func (a AudioConfig) Validate() error {
	switch a.Latency {
	case "", LatencyLow, LatencyMedium, LatencyHigh:
	default:
		return fmt.Errorf("invalid latency class %q", a.Latency)
	}
	if a.SampleRate < 0 || a.BlockSize < 0 || a.Channels < 0 {
		return fmt.Errorf("audio values must not be negative")
	}
	return nil
}
