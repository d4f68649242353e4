// Package reconciler owns the active chain and keeps the live graph in step with it.
//
// Every operation runs on one control goroutine and follows the same sequence:
// capture live plugin state into the chain, mutate the chain, rebuild the graph,
// swap it into the slot, persist the chain, publish a change, and drop editor
// windows whose plugin is gone. Operations that change nothing skip everything
// after the mutation.
package reconciler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/shaban/fxhost/chain"
	"github.com/shaban/fxhost/editor"
	"github.com/shaban/fxhost/graph"
	"github.com/shaban/fxhost/internal/pubsub"
	"github.com/shaban/fxhost/internal/queue"
	"github.com/shaban/fxhost/persist"
	"github.com/shaban/fxhost/plugins"
)

// Config wires a Reconciler. Builder and Repository are required.
type Config struct {
	Catalog    *plugins.Catalog
	Blacklist  *plugins.Blacklist
	Builder    *graph.Builder
	Slot       *graph.Slot
	Repository *persist.Repository
	Editors    *editor.Registry
	Events     *pubsub.Broker[any]
	// Queue runs the operations. When nil the reconciler starts and owns one.
	Queue        *queue.Queue
	ErrorHandler ErrorHandler
	Logger       *zap.Logger
	Tracer       trace.Tracer
}

// EntryView is a read-only row of the chain for UIs.
type EntryView struct {
	Index     int         `json:"index"`
	ID        string      `json:"id"`
	Key       plugins.Key `json:"key"`
	Name      string      `json:"name"`
	Order     int64       `json:"order"`
	Bypass    bool        `json:"bypass"`
	HasState  bool        `json:"hasState"`
	Live      bool        `json:"live"`
	Connected bool        `json:"connected"`
	Skipped   string      `json:"skipped,omitempty"`
}

// Change is published on the broker after every applied operation.
type Change struct {
	Op       string      `json:"op"`
	Version  uint64      `json:"version"`
	Entries  []EntryView `json:"entries"`
	Topology string      `json:"topology"`
}

// Reconciler is the façade over the active chain.
type Reconciler struct {
	catalog   *plugins.Catalog
	blacklist *plugins.Blacklist
	builder   *graph.Builder
	slot      *graph.Slot
	repo      *persist.Repository
	editors   *editor.Registry
	events    *pubsub.Broker[any]
	queue     *queue.Queue
	ownQueue  bool
	errs      ErrorHandler
	logger    *zap.Logger
	tracer    trace.Tracer

	// chain is only touched on the queue goroutine.
	chain *chain.Chain

	mu      sync.RWMutex
	view    []EntryView
	version atomic.Uint64
}

// New creates a reconciler with an empty chain and installs a passthrough graph.
// Call Restore to load the persisted chain.
func New(cfg Config) (*Reconciler, error) {
	if cfg.Builder == nil {
		return nil, fmt.Errorf("reconciler: builder is required")
	}
	if cfg.Repository == nil {
		return nil, fmt.Errorf("reconciler: repository is required")
	}
	r := &Reconciler{
		catalog:   cfg.Catalog,
		blacklist: cfg.Blacklist,
		builder:   cfg.Builder,
		slot:      cfg.Slot,
		repo:      cfg.Repository,
		editors:   cfg.Editors,
		events:    cfg.Events,
		queue:     cfg.Queue,
		errs:      cfg.ErrorHandler,
		logger:    cfg.Logger,
		tracer:    cfg.Tracer,
		chain:     chain.New(),
	}
	if r.catalog == nil {
		r.catalog = plugins.NewCatalog()
	}
	if r.blacklist == nil {
		r.blacklist = plugins.NewBlacklist()
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.slot == nil {
		r.slot = graph.NewSlot(r.logger)
	}
	if r.editors == nil {
		r.editors = editor.NewRegistry()
	}
	if r.errs == nil {
		r.errs = NewLoggingErrorHandler(nil, r.logger)
	}
	if r.tracer == nil {
		r.tracer = noop.NewTracerProvider().Tracer("reconciler")
	}
	if r.queue == nil {
		r.queue = queue.New(32, queue.WithLogger(r.logger))
		r.ownQueue = true
	}
	r.queue.Start()

	g := r.builder.Rebuild(context.Background(), r.chain, r.catalog, r.blacklist)
	r.slot.Replace(g)
	r.refresh(g)
	return r, nil
}

// Close stops the reconciler's own queue. The slot is left to its owner.
func (r *Reconciler) Close() {
	if r.ownQueue {
		r.queue.Close()
	}
}

// Slot returns the slot the live graph is published in.
func (r *Reconciler) Slot() *graph.Slot { return r.slot }

// Graph returns the live graph for inspection.
func (r *Reconciler) Graph() *graph.Graph { return r.slot.Load() }

// Editors returns the editor window registry.
func (r *Reconciler) Editors() *editor.Registry { return r.editors }

// Version counts applied operations.
func (r *Reconciler) Version() uint64 { return r.version.Load() }

// Snapshot returns the chain as of the last applied operation.
func (r *Reconciler) Snapshot() []EntryView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]EntryView, len(r.view))
	copy(out, r.view)
	return out
}

// AddPlugin appends d to the chain. The same plugin may be added more than once.
func (r *Reconciler) AddPlugin(ctx context.Context, d plugins.Descriptor) (chain.Entry, error) {
	return r.AddKey(ctx, d.Key())
}

// AddKey appends the catalog descriptor stored under key.
func (r *Reconciler) AddKey(ctx context.Context, key plugins.Key) (chain.Entry, error) {
	var added chain.Entry
	err := r.do(ctx, "add", func(c *chain.Chain) (bool, error) {
		d, ok := r.catalog.Get(key)
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrUnknownPlugin, key)
		}
		if r.blacklist.Contains(key) {
			return false, fmt.Errorf("%w: %s", ErrBlacklisted, key)
		}
		if !d.ChannelCapable() {
			return false, fmt.Errorf("%w: %s", ErrNoChannels, key)
		}
		added = c.Append(key, nil)
		return true, nil
	})
	return added, err
}

// RemovePlugin removes the entry at i and returns it.
func (r *Reconciler) RemovePlugin(ctx context.Context, i int) (chain.Entry, error) {
	var removed chain.Entry
	err := r.do(ctx, "remove", func(c *chain.Chain) (bool, error) {
		e, err := c.Remove(i)
		if err != nil {
			return false, err
		}
		removed = e
		return true, nil
	})
	return removed, err
}

// MoveUp swaps entry i with its predecessor. Moving the first entry is a no-op.
func (r *Reconciler) MoveUp(ctx context.Context, i int) (bool, error) {
	return r.move(ctx, "move_up", i, (*chain.Chain).MoveUp)
}

// MoveDown swaps entry i with its successor. Moving the last entry is a no-op.
func (r *Reconciler) MoveDown(ctx context.Context, i int) (bool, error) {
	return r.move(ctx, "move_down", i, (*chain.Chain).MoveDown)
}

func (r *Reconciler) move(ctx context.Context, op string, i int, fn func(*chain.Chain, int) bool) (bool, error) {
	var moved bool
	err := r.do(ctx, op, func(c *chain.Chain) (bool, error) {
		if i < 0 || i >= c.Len() {
			return false, fmt.Errorf("%w: invalid index %d for chain of length %d", ErrIndexOutOfRange, i, c.Len())
		}
		moved = fn(c, i)
		return moved, nil
	})
	return moved, err
}

// SetBypass sets the bypass flag of entry i. Setting the current value is a no-op.
func (r *Reconciler) SetBypass(ctx context.Context, i int, bypass bool) (bool, error) {
	var changed bool
	err := r.do(ctx, "bypass", func(c *chain.Chain) (bool, error) {
		var err error
		changed, err = c.SetBypass(i, bypass)
		return changed, err
	})
	return changed, err
}

// ToggleBypass flips the bypass flag of entry i and returns the new value.
func (r *Reconciler) ToggleBypass(ctx context.Context, i int) (bool, error) {
	var now bool
	err := r.do(ctx, "toggle_bypass", func(c *chain.Chain) (bool, error) {
		e, ok := c.At(i)
		if !ok {
			return false, fmt.Errorf("%w: invalid index %d for chain of length %d", ErrIndexOutOfRange, i, c.Len())
		}
		now = !e.Bypass
		return c.SetBypass(i, now)
	})
	return now, err
}

// RestoreState replaces the state blob of entry i and rebuilds. A blob the plugin
// rejects is dropped during the rebuild and the plugin starts from defaults.
func (r *Reconciler) RestoreState(ctx context.Context, i int, blob []byte) error {
	return r.do(ctx, "restore_state", func(c *chain.Chain) (bool, error) {
		if err := c.SetState(i, blob); err != nil {
			return false, err
		}
		return true, nil
	})
}

// ClearAll removes every entry.
func (r *Reconciler) ClearAll(ctx context.Context) error {
	return r.do(ctx, "clear_all", func(c *chain.Chain) (bool, error) {
		if c.Len() == 0 {
			return false, nil
		}
		c.Clear()
		return true, nil
	})
}

// Rebuild rebuilds the graph without changing the chain, e.g. after the catalog
// or blacklist changed.
func (r *Reconciler) Rebuild(ctx context.Context) error {
	return r.do(ctx, "rebuild", func(*chain.Chain) (bool, error) { return true, nil })
}

// SetAudioFormat rebuilds every plugin for a new sample rate and block size.
func (r *Reconciler) SetAudioFormat(ctx context.Context, sampleRate float64, blockSize int) error {
	if sampleRate <= 0 || blockSize <= 0 {
		return fmt.Errorf("invalid audio format %.0f Hz / %d frames", sampleRate, blockSize)
	}
	return r.do(ctx, "set_audio_format", func(*chain.Chain) (bool, error) {
		r.builder.SetFormat(sampleRate, blockSize)
		return true, nil
	})
}

// Restore replaces the chain with the persisted one and rebuilds.
func (r *Reconciler) Restore(ctx context.Context) error {
	return r.queue.RunSync(func(context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		c, err := r.repo.LoadChain(ctx, r.catalog)
		if err != nil {
			return err
		}
		r.chain = c
		r.logger.Info("chain restored", zap.String("summary", c.Summary()))
		return r.commit(ctx, "restore")
	})
}

// Save captures live plugin state and persists the chain without rebuilding.
func (r *Reconciler) Save(ctx context.Context) error {
	return r.queue.RunSync(func(context.Context) error {
		r.capture()
		if err := r.repo.SaveChain(ctx, r.chain); err != nil {
			err = fmt.Errorf("%w: %w", ErrPersist, err)
			r.errs.HandleError(err)
			return err
		}
		r.refresh(r.slot.Load())
		return nil
	})
}

// OpenEditor returns the editor handle for entry i, opening a window if needed.
// Entries without a live plugin instance have no editor.
func (r *Reconciler) OpenEditor(ctx context.Context, i int) (editor.Handle, error) {
	var h editor.Handle
	err := r.queue.RunSync(func(context.Context) error {
		e, ok := r.chain.At(i)
		if !ok {
			return fmt.Errorf("%w: invalid index %d for chain of length %d", ErrIndexOutOfRange, i, r.chain.Len())
		}
		g := r.slot.Load()
		if g == nil || g.NodeForEntry(e.ID) == nil {
			return fmt.Errorf("entry %d (%s) has no live instance", i, e.Key)
		}
		title := string(e.Key)
		if d, ok := r.catalog.Get(e.Key); ok {
			title = d.Name
		}
		h = r.editors.Open(e.ID, e.Key, title)
		return nil
	})
	return h, err
}

// CloseEditor marks the window for disposal; it disappears after the next operation.
func (r *Reconciler) CloseEditor(h editor.Handle) bool {
	return r.editors.Close(h)
}

// Dispatch applies a tagged action.
func (r *Reconciler) Dispatch(ctx context.Context, a Action) error {
	if err := a.Validate(); err != nil {
		return err
	}
	r.logger.Debug("dispatch", zap.Stringer("action", a))
	var err error
	switch a.Kind {
	case ActionAdd:
		_, err = r.AddKey(ctx, a.Key)
	case ActionRemove:
		_, err = r.RemovePlugin(ctx, a.Index)
	case ActionMoveUp:
		_, err = r.MoveUp(ctx, a.Index)
	case ActionMoveDown:
		_, err = r.MoveDown(ctx, a.Index)
	case ActionBypass:
		_, err = r.SetBypass(ctx, a.Index, true)
	case ActionEnable:
		_, err = r.SetBypass(ctx, a.Index, false)
	case ActionToggleBypass:
		_, err = r.ToggleBypass(ctx, a.Index)
	case ActionClearAll:
		err = r.ClearAll(ctx)
	case ActionRebuild:
		err = r.Rebuild(ctx)
	}
	return err
}

// do runs one operation on the control goroutine.
func (r *Reconciler) do(ctx context.Context, op string, mutate func(*chain.Chain) (bool, error)) error {
	return r.queue.RunSync(func(context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.capture()
		changed, err := mutate(r.chain)
		if err != nil {
			return err
		}
		if !changed {
			r.logger.Debug("no-op", zap.String("op", op))
			return nil
		}
		return r.commit(ctx, op)
	})
}

// commit rebuilds, swaps, persists and publishes.
func (r *Reconciler) commit(ctx context.Context, op string) error {
	ctx, span := r.tracer.Start(ctx, "reconciler."+op)
	defer span.End()

	g := r.builder.Rebuild(ctx, r.chain, r.catalog, r.blacklist)
	r.slot.Replace(g)
	version := r.version.Add(1)
	view := r.refresh(g)
	span.SetAttributes(
		attribute.Int("chain.length", r.chain.Len()),
		attribute.Int64("reconciler.version", int64(version)),
	)

	var perr error
	if err := r.repo.SaveChain(ctx, r.chain); err != nil {
		perr = fmt.Errorf("%w: %w", ErrPersist, err)
		span.RecordError(perr)
		span.SetStatus(codes.Error, "persist failed")
		r.errs.HandleError(perr)
	}

	if r.events != nil {
		r.events.Publish(pubsub.TopicChain, Change{Op: op, Version: version, Entries: view, Topology: g.Topology()})
	}

	r.editors.RetainLive(g.EntryIDs())
	if n := r.editors.Dispose(); n > 0 {
		r.logger.Debug("editor windows disposed", zap.Int("count", n))
	}

	r.logger.Info("chain reconciled",
		zap.String("op", op),
		zap.Uint64("version", version),
		zap.String("topology", g.Topology()))
	return perr
}

// capture copies live instance state into the chain so rebuilds keep parameters.
func (r *Reconciler) capture() {
	g := r.slot.Load()
	if g == nil || r.chain.Len() == 0 {
		return
	}
	for _, n := range g.Nodes {
		i := r.chain.Index(n.EntryID)
		if i < 0 || n.Instance == nil {
			continue
		}
		blob, err := liveState(n)
		if err != nil {
			r.logger.Warn("reading plugin state failed", zap.String("plugin", string(n.Key)), zap.Error(err))
			continue
		}
		if len(blob) > 0 {
			_ = r.chain.SetState(i, blob)
		}
	}
}

// liveState reads a node's plugin state. A panic in plugin code becomes an error.
func liveState(n *graph.Node) (blob []byte, err error) {
	defer func() {
		if p := recover(); p != nil {
			blob, err = nil, fmt.Errorf("panic: %v", p)
		}
	}()
	return n.Instance.State()
}

func (r *Reconciler) refresh(g *graph.Graph) []EntryView {
	skipped := make(map[string]string)
	for _, s := range g.Skipped {
		skipped[s.EntryID] = s.Reason
	}
	entries := r.chain.Entries()
	view := make([]EntryView, len(entries))
	for i, e := range entries {
		v := EntryView{
			Index:    i,
			ID:       e.ID,
			Key:      e.Key,
			Name:     string(e.Key),
			Order:    e.Order,
			Bypass:   e.Bypass,
			HasState: len(e.State) > 0,
			Skipped:  skipped[e.ID],
		}
		if d, ok := r.catalog.Get(e.Key); ok {
			v.Name = d.Name
		}
		if n := g.NodeForEntry(e.ID); n != nil {
			v.Live = true
			v.Connected = !n.Bypassed
		}
		view[i] = v
	}
	r.mu.Lock()
	r.view = view
	r.mu.Unlock()

	out := make([]EntryView, len(view))
	copy(out, view)
	return out
}
