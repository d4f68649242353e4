// Package loader defines the format-specific collaborator the host uses to find and
// instantiate plugins, and a registry that dispatches by format.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shaban/fxhost/plugins"
)

// ErrNoLoader is returned when no loader is registered for a descriptor's format.
var ErrNoLoader = errors.New("no loader registered for format")

// Instance is one live plugin. The host treats it as an opaque processing node with
// fixed channel counts.
type Instance interface {
	NumInputs() int
	NumOutputs() int
	// Prepare readies the instance for processing at the given format.
	Prepare(sampleRate float64, blockSize int) error
	// Release undoes Prepare. It must be safe to call more than once.
	Release()
	// State returns the opaque parameter blob.
	State() ([]byte, error)
	// SetState restores a blob produced by State. A corrupt blob returns an error
	// and must leave the instance usable.
	SetState(blob []byte) error
	Close() error
}

// Loader knows one plugin format.
type Loader interface {
	Format() plugins.Format
	// FindCandidates enumerates the plugins of this format below path.
	FindCandidates(ctx context.Context, path string) ([]plugins.Descriptor, error)
	// Instantiate creates an instance. It may block or panic on misbehaving plugins;
	// callers that need bounded time go through the probe package.
	Instantiate(d plugins.Descriptor, sampleRate float64, blockSize int) (Instance, error)
}

// Registry maps formats to loaders. It is built once by the host and passed explicitly.
type Registry struct {
	mu      sync.RWMutex
	loaders map[plugins.Format]Loader
}

// NewRegistry creates a registry holding ls. Later entries replace earlier ones
// of the same format.
func NewRegistry(ls ...Loader) *Registry {
	r := &Registry{loaders: make(map[plugins.Format]Loader)}
	for _, l := range ls {
		r.Register(l)
	}
	return r
}

// Register adds or replaces the loader for l.Format().
func (r *Registry) Register(l Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[l.Format()] = l
}

// Lookup returns the loader for format.
func (r *Registry) Lookup(format plugins.Format) (Loader, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.loaders[format]
	return l, ok
}

// Formats lists the registered formats in sorted order.
func (r *Registry) Formats() []plugins.Format {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]plugins.Format, 0, len(r.loaders))
	for f := range r.loaders {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FindCandidates delegates to the loader for format.
func (r *Registry) FindCandidates(ctx context.Context, format plugins.Format, path string) ([]plugins.Descriptor, error) {
	l, ok := r.Lookup(format)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoLoader, format)
	}
	return l.FindCandidates(ctx, path)
}

// Instantiate delegates to the loader for d.Format.
func (r *Registry) Instantiate(d plugins.Descriptor, sampleRate float64, blockSize int) (Instance, error) {
	l, ok := r.Lookup(d.Format)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoLoader, d.Format)
	}
	return l.Instantiate(d, sampleRate, blockSize)
}
