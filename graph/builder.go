package graph

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/shaban/fxhost/chain"
	"github.com/shaban/fxhost/loader"
	"github.com/shaban/fxhost/plugins"
)

// Skip reasons.
const (
	ReasonBlacklisted = "blacklisted"
	ReasonUnknown     = "not in catalog"
	ReasonNoChannels  = "no audio channels"
)

// Config configures a Builder.
type Config struct {
	Loaders    *loader.Registry
	SampleRate float64
	BlockSize  int
	// Channels is the width of the input and output pseudo-nodes.
	Channels int
	Logger   *zap.Logger
	Tracer   trace.Tracer
}

// Builder creates graphs. It is used from a single goroutine.
type Builder struct {
	loaders    *loader.Registry
	sampleRate float64
	blockSize  int
	channels   int
	logger     *zap.Logger
	tracer     trace.Tracer
}

// NewBuilder creates a builder.
func NewBuilder(cfg Config) *Builder {
	b := &Builder{
		loaders:    cfg.Loaders,
		sampleRate: cfg.SampleRate,
		blockSize:  cfg.BlockSize,
		channels:   cfg.Channels,
		logger:     cfg.Logger,
		tracer:     cfg.Tracer,
	}
	if b.loaders == nil {
		b.loaders = loader.NewRegistry()
	}
	if b.sampleRate <= 0 {
		b.sampleRate = 48000
	}
	if b.blockSize <= 0 {
		b.blockSize = 512
	}
	if b.channels <= 0 {
		b.channels = 2
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	if b.tracer == nil {
		b.tracer = noop.NewTracerProvider().Tracer("graph")
	}
	return b
}

// SetFormat changes the format used by the next Rebuild.
func (b *Builder) SetFormat(sampleRate float64, blockSize int) {
	if sampleRate > 0 {
		b.sampleRate = sampleRate
	}
	if blockSize > 0 {
		b.blockSize = blockSize
	}
}

// Format returns the sample rate and block size used for instantiation.
func (b *Builder) Format() (float64, int) { return b.sampleRate, b.blockSize }

// Rebuild builds a new graph for c. It never fails. It normalizes c's order keys and
// drops state blobs the plugin rejects, so callers should persist c afterwards.
// Entries that cannot be instantiated stay in c.
func (b *Builder) Rebuild(ctx context.Context, c *chain.Chain, catalog *plugins.Catalog, blacklist *plugins.Blacklist) *Graph {
	_, span := b.tracer.Start(ctx, "graph.rebuild", trace.WithAttributes(attribute.Int("chain.length", c.Len())))
	defer span.End()

	if c.Normalize() {
		b.logger.Warn("order key collision repaired")
	}

	g := newGraph(b.channels, b.sampleRate, b.blockSize)
	for i, e := range c.Entries() {
		n, reason := b.node(i, e, c, catalog, blacklist, g)
		if n == nil {
			g.Skipped = append(g.Skipped, Skip{Index: i, EntryID: e.ID, Key: e.Key, Reason: reason})
			continue
		}
		g.Nodes = append(g.Nodes, n)
		if !n.Bypassed {
			g.path = append(g.path, n)
		}
	}

	prev := g.Input
	for _, n := range g.path {
		g.connect(prev, n)
		prev = n
	}
	g.connect(prev, g.Output)

	span.SetAttributes(
		attribute.Int("graph.nodes", len(g.Nodes)),
		attribute.Int("graph.connected", len(g.path)),
		attribute.Int("graph.skipped", len(g.Skipped)),
	)
	b.logger.Debug("graph rebuilt", zap.String("topology", g.Topology()))
	return g
}

// node instantiates entry e, or returns the reason it cannot.
func (b *Builder) node(i int, e chain.Entry, c *chain.Chain, catalog *plugins.Catalog, blacklist *plugins.Blacklist, g *Graph) (*Node, string) {
	log := b.logger.With(zap.Int("index", i), zap.String("plugin", string(e.Key)))
	if blacklist != nil && blacklist.Contains(e.Key) {
		log.Info("skipping blacklisted plugin")
		return nil, ReasonBlacklisted
	}
	d, ok := catalog.Get(e.Key)
	if !ok {
		log.Warn("chain entry not in catalog")
		return nil, ReasonUnknown
	}
	if !d.ChannelCapable() {
		log.Info("skipping plugin without audio channels")
		return nil, ReasonNoChannels
	}

	inst, err := b.instantiate(d)
	if err != nil {
		log.Warn("instantiation failed, entry kept", zap.Error(err))
		return nil, err.Error()
	}

	if len(e.State) > 0 {
		if err := b.guard(d, "set state", func() error { return inst.SetState(e.State) }); err != nil {
			log.Warn("stored state rejected, using defaults", zap.Error(err))
			b.release(d, inst)
			inst, err = b.instantiate(d)
			if err != nil {
				log.Warn("instantiation failed, entry kept", zap.Error(err))
				return nil, err.Error()
			}
			_ = c.SetState(i, nil)
			g.Recovered = append(g.Recovered, e.ID)
		}
	}

	var ins, outs int
	if err := b.guard(d, "channel query", func() error {
		ins, outs = inst.NumInputs(), inst.NumOutputs()
		return nil
	}); err != nil {
		log.Warn("channel query failed, entry kept", zap.Error(err))
		b.release(d, inst)
		return nil, err.Error()
	}
	if ins <= 0 || outs <= 0 {
		log.Info("instance reports no audio channels")
		b.release(d, inst)
		return nil, ReasonNoChannels
	}

	return &Node{
		ID:       NodeID(uuid.NewString()),
		Kind:     PluginNode,
		EntryID:  e.ID,
		Key:      e.Key,
		Name:     d.Name,
		Index:    i,
		Bypassed: e.Bypass,
		Inputs:   ins,
		Outputs:  outs,
		Instance: inst,
	}, ""
}

// instantiate creates and prepares an instance. A panicking plugin is an error and
// any instance it already returned is closed.
func (b *Builder) instantiate(d plugins.Descriptor) (loader.Instance, error) {
	var inst loader.Instance
	err := b.guard(d, "instantiation", func() error {
		var err error
		inst, err = b.loaders.Instantiate(d, b.sampleRate, b.blockSize)
		if err != nil {
			return err
		}
		if err := inst.Prepare(b.sampleRate, b.blockSize); err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		return nil
	})
	if err != nil {
		if inst != nil {
			b.release(d, inst)
		}
		return nil, err
	}
	return inst, nil
}

// guard runs one call into plugin code and turns a panic into an error.
func (b *Builder) guard(d plugins.Descriptor, op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("plugin panicked",
				zap.String("plugin", string(d.Key())),
				zap.String("op", op),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// release closes an instance that never made it into a graph.
func (b *Builder) release(d plugins.Descriptor, inst loader.Instance) {
	if err := b.guard(d, "close", inst.Close); err != nil {
		b.logger.Warn("closing discarded instance failed", zap.String("plugin", string(d.Key())), zap.Error(err))
	}
}
