// Package graph turns an active chain into a processing graph and hands it to the
// audio side.
//
// A Graph is always rebuilt from scratch; it is never patched. The Builder is total:
// entries that cannot be instantiated are recorded as skips and the rest of the
// chain still connects. When nothing connects, input feeds output directly.
package graph

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"

	"github.com/shaban/fxhost/loader"
	"github.com/shaban/fxhost/plugins"
)

// NodeKind classifies graph nodes.
type NodeKind int

const (
	PluginNode NodeKind = iota
	InputNode
	OutputNode
)

func (k NodeKind) String() string {
	switch k {
	case InputNode:
		return "input"
	case OutputNode:
		return "output"
	default:
		return "plugin"
	}
}

// MarshalText encodes the kind by name.
func (k NodeKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// NodeID identifies a node within one graph.
type NodeID string

// Pseudo-node IDs.
const (
	InputID  NodeID = "input"
	OutputID NodeID = "output"
)

// Node is one vertex of the graph.
type Node struct {
	ID       NodeID      `json:"id"`
	Kind     NodeKind    `json:"kind"`
	EntryID  string      `json:"entryId,omitempty"`
	Key      plugins.Key `json:"key,omitempty"`
	Name     string      `json:"name,omitempty"`
	Index    int         `json:"index"`
	Bypassed bool        `json:"bypassed,omitempty"`
	Inputs   int         `json:"inputs"`
	Outputs  int         `json:"outputs"`

	Instance loader.Instance `json:"-"`
}

// Connection routes one channel from a node's output to another node's input.
type Connection struct {
	From    NodeID `json:"from"`
	To      NodeID `json:"to"`
	Channel int    `json:"channel"`
}

// Skip records a chain entry that has no live node.
type Skip struct {
	Index   int         `json:"index"`
	EntryID string      `json:"entryId"`
	Key     plugins.Key `json:"key"`
	Reason  string      `json:"reason"`
}

// Graph is the derived processing graph. It is immutable once built.
type Graph struct {
	Input       *Node        `json:"input"`
	Output      *Node        `json:"output"`
	Nodes       []*Node      `json:"nodes"`
	Connections []Connection `json:"connections"`
	Skipped     []Skip       `json:"skipped,omitempty"`
	// Recovered lists entries whose stored state was unusable and was dropped.
	Recovered  []string `json:"recovered,omitempty"`
	SampleRate float64  `json:"sampleRate"`
	BlockSize  int      `json:"blockSize"`

	path      []*Node
	refs      atomic.Int64
	closeOnce sync.Once
	closeErr  error
}

func newGraph(channels int, sampleRate float64, blockSize int) *Graph {
	return &Graph{
		Input:      &Node{ID: InputID, Kind: InputNode, Index: -1, Outputs: channels},
		Output:     &Node{ID: OutputID, Kind: OutputNode, Index: -1, Inputs: channels},
		SampleRate: sampleRate,
		BlockSize:  blockSize,
	}
}

// connect wires from → to on every channel both sides have.
func (g *Graph) connect(from, to *Node) {
	n := min(from.Outputs, to.Inputs)
	for ch := 0; ch < n; ch++ {
		g.Connections = append(g.Connections, Connection{From: from.ID, To: to.ID, Channel: ch})
	}
}

// Path returns the connected plugin nodes in signal order.
func (g *Graph) Path() []*Node {
	out := make([]*Node, len(g.path))
	copy(out, g.path)
	return out
}

// ConnectedKeys returns the plugin keys on the signal path, in order.
func (g *Graph) ConnectedKeys() []plugins.Key {
	out := make([]plugins.Key, len(g.path))
	for i, n := range g.path {
		out[i] = n.Key
	}
	return out
}

// IsPassthrough reports whether input is wired straight to output.
func (g *Graph) IsPassthrough() bool { return len(g.path) == 0 }

// Node returns the node with id, pseudo-nodes included.
func (g *Graph) Node(id NodeID) *Node {
	switch id {
	case InputID:
		return g.Input
	case OutputID:
		return g.Output
	}
	for _, n := range g.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// NodeForEntry returns the live node built for a chain entry.
func (g *Graph) NodeForEntry(entryID string) *Node {
	for _, n := range g.Nodes {
		if n.EntryID == entryID {
			return n
		}
	}
	return nil
}

// EntryIDs returns the chain entries that have a live node.
func (g *Graph) EntryIDs() []string {
	out := make([]string, len(g.Nodes))
	for i, n := range g.Nodes {
		out[i] = n.EntryID
	}
	return out
}

// Topology renders the signal path and counts. Two graphs built from the same
// inputs have equal topologies even though their node IDs differ.
func (g *Graph) Topology() string {
	parts := []string{"in"}
	for _, n := range g.path {
		parts = append(parts, string(n.Key))
	}
	parts = append(parts, "out")
	return fmt.Sprintf("%s [nodes=%d connections=%d skipped=%d]",
		strings.Join(parts, " -> "), len(g.Nodes), len(g.Connections), len(g.Skipped))
}

// Close releases and closes every instance. It is idempotent.
func (g *Graph) Close() error {
	g.closeOnce.Do(func() {
		for _, n := range g.Nodes {
			if n.Instance == nil {
				continue
			}
			g.closeErr = multierr.Append(g.closeErr, teardown(n))
		}
	})
	return g.closeErr
}

// teardown releases and closes one instance. A panic in plugin code becomes an error.
func teardown(n *Node) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("closing %s: panic: %v", n.Key, r)
		}
	}()
	n.Instance.Release()
	return n.Instance.Close()
}

// Release ends a read started by Slot.Acquire.
func (g *Graph) Release() {
	if g != nil {
		g.refs.Add(-1)
	}
}

// Readers returns the number of outstanding Acquire calls.
func (g *Graph) Readers() int64 { return g.refs.Load() }
