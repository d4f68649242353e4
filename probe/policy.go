package probe

import (
	"time"

	"github.com/shaban/fxhost/plugins"
)

// Default probe timing.
const (
	DefaultBaseTimeout = 5 * time.Second
	// MinTimeout bounds scaled timeouts from below.
	MinTimeout = 10 * time.Millisecond
)

// TimeoutPolicy derives a per-plugin timeout from a base value scaled by format.
// Formats known to initialize slowly get a larger scale.
type TimeoutPolicy struct {
	Base  time.Duration
	Scale map[plugins.Format]float64
}

// DefaultTimeoutPolicy returns the stock policy.
func DefaultTimeoutPolicy() TimeoutPolicy {
	return TimeoutPolicy{
		Base: DefaultBaseTimeout,
		Scale: map[plugins.Format]float64{
			plugins.FormatAudioUnit: 2.0,
			plugins.FormatVST3:      1.5,
		},
	}
}

// For returns the timeout for d.
func (p TimeoutPolicy) For(d plugins.Descriptor) time.Duration {
	base := p.Base
	if base <= 0 {
		base = DefaultBaseTimeout
	}
	scale, ok := p.Scale[d.Format]
	if !ok || scale <= 0 {
		scale = 1
	}
	t := time.Duration(float64(base) * scale)
	if t < MinTimeout {
		t = MinTimeout
	}
	return t
}
