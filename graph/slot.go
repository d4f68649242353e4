package graph

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const reapPoll = time.Millisecond

// Slot is the position the real-time callback reads the live graph from.
// Replace swaps atomically; the previous graph is closed on a reaper goroutine once
// its last reader has released it, so teardown never runs on the audio goroutine.
type Slot struct {
	cur    atomic.Pointer[Graph]
	swaps  atomic.Uint64
	reaper sync.WaitGroup
	logger *zap.Logger
}

// NewSlot creates an empty slot.
func NewSlot(logger *zap.Logger) *Slot {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Slot{logger: logger}
}

// Load returns the live graph without pinning it. Use it for inspection only.
func (s *Slot) Load() *Graph { return s.cur.Load() }

// Acquire returns the live graph pinned against teardown; call Release when done.
// It never blocks.
func (s *Slot) Acquire() *Graph {
	for {
		g := s.cur.Load()
		if g == nil {
			return nil
		}
		g.refs.Add(1)
		if s.cur.Load() == g {
			return g
		}
		g.refs.Add(-1)
	}
}

// Replace installs g and retires the previous graph.
func (s *Slot) Replace(g *Graph) {
	old := s.cur.Swap(g)
	s.swaps.Add(1)
	if old != nil && old != g {
		s.retire(old)
	}
}

// Swaps returns how many times Replace ran.
func (s *Slot) Swaps() uint64 { return s.swaps.Load() }

func (s *Slot) retire(g *Graph) {
	s.reaper.Add(1)
	go func() {
		defer s.reaper.Done()
		for g.refs.Load() > 0 {
			time.Sleep(reapPoll)
		}
		if err := g.Close(); err != nil {
			s.logger.Warn("closing retired graph", zap.Error(err))
		}
	}()
}

// Close empties the slot and waits for every retired graph to be closed.
func (s *Slot) Close() {
	if old := s.cur.Swap(nil); old != nil {
		s.retire(old)
	}
	s.reaper.Wait()
}
