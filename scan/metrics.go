package scan

import (
	"sync/atomic"
	"time"

	"github.com/shaban/fxhost/plugins"
	"github.com/shaban/fxhost/probe"
)

// MetricsHook observes scan progress. Implementers can log, aggregate or trace.
type MetricsHook interface {
	OnScanStart(scanID string, paths, formats int)
	OnScanDone(scanID string, added int, cancelled bool, duration time.Duration)

	// OnCandidate is called for every enumerated candidate; skipped names the reason
	// it was not probed, or is empty.
	OnCandidate(key plugins.Key, skipped string)
	OnProbeDone(key plugins.Key, status probe.Status, duration time.Duration)

	// Candidate-list cache signals, per search path.
	OnCacheHit(path string)
	OnCacheMiss(path string)
}

// NopMetrics ignores everything.
type NopMetrics struct{}

func (NopMetrics) OnScanStart(string, int, int)                         {}
func (NopMetrics) OnScanDone(string, int, bool, time.Duration)          {}
func (NopMetrics) OnCandidate(plugins.Key, string)                      {}
func (NopMetrics) OnProbeDone(plugins.Key, probe.Status, time.Duration) {}
func (NopMetrics) OnCacheHit(string)                                    {}
func (NopMetrics) OnCacheMiss(string)                                   {}

// Counters is a MetricsHook that keeps running totals.
type Counters struct {
	Scans       atomic.Int64
	Candidates  atomic.Int64
	Skipped     atomic.Int64
	Loaded      atomic.Int64
	Failed      atomic.Int64
	TimedOut    atomic.Int64
	CacheHits   atomic.Int64
	CacheMisses atomic.Int64
}

func (c *Counters) OnScanStart(string, int, int)                {}
func (c *Counters) OnScanDone(string, int, bool, time.Duration) { c.Scans.Add(1) }

func (c *Counters) OnCandidate(_ plugins.Key, skipped string) {
	c.Candidates.Add(1)
	if skipped != "" {
		c.Skipped.Add(1)
	}
}

func (c *Counters) OnProbeDone(_ plugins.Key, status probe.Status, _ time.Duration) {
	switch status {
	case probe.Loaded:
		c.Loaded.Add(1)
	case probe.Failed:
		c.Failed.Add(1)
	case probe.TimedOut:
		c.TimedOut.Add(1)
	}
}

func (c *Counters) OnCacheHit(string)  { c.CacheHits.Add(1) }
func (c *Counters) OnCacheMiss(string) { c.CacheMisses.Add(1) }
