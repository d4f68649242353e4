package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shaban/fxhost/loader"
	"github.com/shaban/fxhost/plugins"
)

// ErrFakeBadState is returned by SetState on instances whose behavior sets BadState.
var ErrFakeBadState = errors.New("fake: corrupt state")

// Behavior scripts how a fake plugin misbehaves.
type Behavior struct {
	// Hang blocks Instantiate until Unblock is called.
	Hang bool
	// Delay is slept inside Instantiate.
	Delay time.Duration
	// Err is returned by Instantiate.
	Err error
	// Panic makes Instantiate panic.
	Panic bool
	// PrepareErr is returned by Prepare.
	PrepareErr error
	// BadState makes SetState reject every blob.
	BadState bool
	// PanicOn names instance methods that panic: "Prepare", "State", "SetState",
	// "NumInputs" or "Close".
	PanicOn []string
}

func (b Behavior) panics(method string) bool {
	for _, m := range b.PanicOn {
		if m == method {
			return true
		}
	}
	return false
}

// FakeLoader is a scriptable loader.Loader for tests.
type FakeLoader struct {
	format plugins.Format

	mu           sync.Mutex
	candidates   map[string][]plugins.Descriptor
	findErr      map[string]error
	behaviors    map[plugins.Key]Behavior
	instantiated map[plugins.Key]int
	open         int
	findCalls    int

	unblockOnce sync.Once
	unblock     chan struct{}
}

var _ loader.Loader = (*FakeLoader)(nil)

// NewFakeLoader creates a fake loader for format.
func NewFakeLoader(format plugins.Format) *FakeLoader {
	return &FakeLoader{
		format:       format,
		candidates:   make(map[string][]plugins.Descriptor),
		findErr:      make(map[string]error),
		behaviors:    make(map[plugins.Key]Behavior),
		instantiated: make(map[plugins.Key]int),
		unblock:      make(chan struct{}),
	}
}

func (f *FakeLoader) Format() plugins.Format { return f.format }

// AddCandidate makes FindCandidates(path) return ds.
func (f *FakeLoader) AddCandidate(path string, ds ...plugins.Descriptor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates[path] = append(f.candidates[path], ds...)
}

// FailPath makes FindCandidates(path) return err.
func (f *FakeLoader) FailPath(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findErr[path] = err
}

// SetBehavior scripts the plugin with key.
func (f *FakeLoader) SetBehavior(key plugins.Key, b Behavior) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.behaviors[key] = b
}

// Unblock releases every hung Instantiate call. Safe to call more than once.
func (f *FakeLoader) Unblock() {
	f.unblockOnce.Do(func() { close(f.unblock) })
}

// Instantiations returns how often key was instantiated, hung calls included.
func (f *FakeLoader) Instantiations(key plugins.Key) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.instantiated[key]
}

// TotalInstantiations sums Instantiations over all keys.
func (f *FakeLoader) TotalInstantiations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.instantiated {
		n += c
	}
	return n
}

// OpenInstances returns the number of instances not yet closed.
func (f *FakeLoader) OpenInstances() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

// FindCalls returns how often FindCandidates ran.
func (f *FakeLoader) FindCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.findCalls
}

func (f *FakeLoader) FindCandidates(ctx context.Context, path string) ([]plugins.Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls++
	if err := f.findErr[path]; err != nil {
		return nil, err
	}
	out := make([]plugins.Descriptor, len(f.candidates[path]))
	copy(out, f.candidates[path])
	return out, nil
}

func (f *FakeLoader) Instantiate(d plugins.Descriptor, sampleRate float64, blockSize int) (loader.Instance, error) {
	key := d.Key()
	f.mu.Lock()
	f.instantiated[key]++
	b := f.behaviors[key]
	f.mu.Unlock()

	if b.Hang {
		<-f.unblock
	}
	if b.Delay > 0 {
		time.Sleep(b.Delay)
	}
	if b.Panic {
		panic(fmt.Sprintf("fake plugin %s crashed", d.Name))
	}
	if b.Err != nil {
		return nil, b.Err
	}

	f.mu.Lock()
	f.open++
	f.mu.Unlock()
	return &FakeInstance{
		loader:     f,
		Key:        key,
		inputs:     d.NumInputs,
		outputs:    d.NumOutputs,
		prepareErr: b.PrepareErr,
		badState:   b.BadState,
		behavior:   b,
	}, nil
}

// FakeInstance is the instance type produced by FakeLoader.
type FakeInstance struct {
	Key plugins.Key

	loader     *FakeLoader
	mu         sync.Mutex
	inputs     int
	outputs    int
	prepareErr error
	badState   bool
	behavior   Behavior
	state      []byte
	prepared   bool
	closed     bool
}

func (i *FakeInstance) crash(method string) {
	if i.behavior.panics(method) {
		panic(fmt.Sprintf("fake plugin %s crashed in %s", i.Key, method))
	}
}

func (i *FakeInstance) NumInputs() int {
	i.crash("NumInputs")
	return i.inputs
}

func (i *FakeInstance) NumOutputs() int { return i.outputs }

func (i *FakeInstance) Prepare(sampleRate float64, blockSize int) error {
	i.crash("Prepare")
	if i.prepareErr != nil {
		return i.prepareErr
	}
	i.mu.Lock()
	i.prepared = true
	i.mu.Unlock()
	return nil
}

func (i *FakeInstance) Release() {
	i.mu.Lock()
	i.prepared = false
	i.mu.Unlock()
}

// Prepared reports whether Prepare succeeded and Release has not run since.
func (i *FakeInstance) Prepared() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.prepared
}

func (i *FakeInstance) State() ([]byte, error) {
	i.crash("State")
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]byte(nil), i.state...), nil
}

func (i *FakeInstance) SetState(blob []byte) error {
	i.crash("SetState")
	if i.badState {
		return ErrFakeBadState
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.state = append([]byte(nil), blob...)
	return nil
}

func (i *FakeInstance) Close() error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil
	}
	i.closed = true
	i.mu.Unlock()

	i.loader.mu.Lock()
	i.loader.open--
	i.loader.mu.Unlock()
	i.crash("Close")
	return nil
}
