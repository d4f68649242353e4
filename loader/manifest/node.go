package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrClosed is returned by operations on a closed node.
	ErrClosed = errors.New("manifest: node closed")
	// ErrBadState is wrapped by SetState for blobs that do not match the manifest.
	ErrBadState = errors.New("manifest: bad state blob")
)

// node is the live instance of a manifest plugin. Its state is the JSON object of
// parameter values.
type node struct {
	mu         sync.Mutex
	inputs     int
	outputs    int
	defaults   map[string]float64
	params     map[string]float64
	sampleRate float64
	blockSize  int
	prepared   bool
	closed     bool
}

func newNode(m *Manifest) *node {
	n := &node{
		inputs:   m.Inputs,
		outputs:  m.Outputs,
		defaults: make(map[string]float64, len(m.Parameters)),
		params:   make(map[string]float64, len(m.Parameters)),
	}
	for k, v := range m.Parameters {
		n.defaults[k] = v
		n.params[k] = v
	}
	return n
}

func (n *node) NumInputs() int  { return n.inputs }
func (n *node) NumOutputs() int { return n.outputs }

func (n *node) Prepare(sampleRate float64, blockSize int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrClosed
	}
	if sampleRate <= 0 || blockSize <= 0 {
		return fmt.Errorf("prepare: invalid format %.0f Hz / %d frames", sampleRate, blockSize)
	}
	n.sampleRate, n.blockSize, n.prepared = sampleRate, blockSize, true
	return nil
}

func (n *node) Release() {
	n.mu.Lock()
	n.prepared = false
	n.mu.Unlock()
}

func (n *node) State() ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ErrClosed
	}
	return json.Marshal(n.params)
}

// SetState applies a blob atomically: on error the previous values stay.
func (n *node) SetState(blob []byte) error {
	var next map[string]float64
	if err := json.Unmarshal(blob, &next); err != nil {
		return fmt.Errorf("%w: %v", ErrBadState, err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrClosed
	}
	for k := range next {
		if _, ok := n.defaults[k]; !ok {
			return fmt.Errorf("%w: unknown parameter %q", ErrBadState, k)
		}
	}
	for k, v := range next {
		n.params[k] = v
	}
	return nil
}

func (n *node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed, n.prepared = true, false
	return nil
}
