// Package scan discovers installed plugins and verifies each one with a bounded-time
// probe before it is offered to the user.
//
// A scan walks search paths × formats, skips candidates that are blacklisted or
// already catalogued, probes the rest, and reports progress as a finite stream of
// events. Failures are handed to a Prompter without waiting for its answer.
package scan

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/shaban/fxhost/loader"
	"github.com/shaban/fxhost/plugins"
	"github.com/shaban/fxhost/probe"
)

var (
	// ErrScanRunning is returned when a scan is requested while another is active.
	ErrScanRunning = errors.New("scan already running")
	// ErrNoFormats is returned when no requested format has a loader.
	ErrNoFormats = errors.New("no scannable formats")
)

const defaultEventBuffer = 64

// Config wires an Orchestrator to the shared catalog and blacklist.
type Config struct {
	Loaders   *loader.Registry
	Prober    *probe.Prober
	Catalog   *plugins.Catalog
	Blacklist *plugins.Blacklist
	Prompter  Prompter
	Metrics   MetricsHook
	Logger    *zap.Logger
	Tracer    trace.Tracer

	// CacheTTL bounds how long candidate lists are reused. Zero disables the cache.
	CacheTTL    time.Duration
	EventBuffer int

	// OnEvent mirrors every event, e.g. onto a broker. It must not block.
	OnEvent func(Event)
	// OnCatalogAdd runs after a probed descriptor entered the catalog.
	OnCatalogAdd func(plugins.Descriptor)
	// OnBlacklistAdd runs after a prompt answer blacklisted a key.
	OnBlacklistAdd func(plugins.Key)
}

// Request selects what to scan. Empty Formats means every registered format.
type Request struct {
	Formats     []plugins.Format
	SearchPaths []string
}

// Orchestrator runs scans. Only one scan runs at a time.
type Orchestrator struct {
	cfg     Config
	cache   *candidateCache
	running atomic.Bool
	prompts sync.WaitGroup
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.Loaders == nil {
		cfg.Loaders = loader.NewRegistry()
	}
	if cfg.Catalog == nil {
		cfg.Catalog = plugins.NewCatalog()
	}
	if cfg.Blacklist == nil {
		cfg.Blacklist = plugins.NewBlacklist()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Prober == nil {
		cfg.Prober = probe.New(probe.Config{Loaders: cfg.Loaders, Logger: cfg.Logger})
	}
	if cfg.Prompter == nil {
		cfg.Prompter = Decline
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NopMetrics{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("scan")
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	return &Orchestrator{cfg: cfg, cache: newCandidateCache(cfg.CacheTTL)}
}

// Running reports whether a scan is in progress.
func (o *Orchestrator) Running() bool { return o.running.Load() }

// Invalidate forgets cached candidate lists at or below path, or above it.
func (o *Orchestrator) Invalidate(path string) int {
	n := o.cache.invalidate(path)
	if n > 0 {
		o.cfg.Logger.Debug("candidate cache invalidated", zap.String("path", path), zap.Int("entries", n))
	}
	return n
}

// FlushCache forgets every cached candidate list.
func (o *Orchestrator) FlushCache() { o.cache.flush() }

// WaitPrompts blocks until every outstanding prompt has been answered and applied.
func (o *Orchestrator) WaitPrompts() { o.prompts.Wait() }

// Scan starts a scan in the background. The caller must drain Run.Events until it
// is closed, or cancel the run.
func (o *Orchestrator) Scan(ctx context.Context, req Request) (*Run, error) {
	formats, err := o.resolveFormats(req.Formats)
	if err != nil {
		return nil, err
	}
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrScanRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &Run{
		id:     uuid.NewString(),
		events: make(chan Event, o.cfg.EventBuffer),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	paths := append([]string(nil), req.SearchPaths...)
	go func() {
		defer close(r.done)
		defer o.running.Store(false)
		defer close(r.events)
		defer cancel()
		o.run(runCtx, r, formats, paths)
	}()
	return r, nil
}

func (o *Orchestrator) resolveFormats(requested []plugins.Format) ([]plugins.Format, error) {
	if len(requested) == 0 {
		requested = o.cfg.Loaders.Formats()
	}
	var out []plugins.Format
	for _, f := range requested {
		if _, ok := o.cfg.Loaders.Lookup(f); ok {
			out = append(out, f)
			continue
		}
		o.cfg.Logger.Warn("no loader for format, skipping", zap.Stringer("format", f))
	}
	if len(out) == 0 {
		return nil, ErrNoFormats
	}
	return out, nil
}

func (o *Orchestrator) run(ctx context.Context, r *Run, formats []plugins.Format, paths []string) {
	ctx, span := o.cfg.Tracer.Start(ctx, "scan.run", trace.WithAttributes(
		attribute.String(AttrScanID, r.id),
		attribute.Int(AttrPathCount, len(paths)),
		attribute.Int(AttrFormatCount, len(formats)),
	))
	defer span.End()

	start := time.Now()
	log := o.cfg.Logger.With(zap.String("scan", r.id))
	log.Info("scan started", zap.Strings("paths", paths), zap.Int("formats", len(formats)))
	o.cfg.Metrics.OnScanStart(r.id, len(paths), len(formats))

	added, cancelled := o.walk(ctx, r, log, formats, paths)

	r.setResult(Result{Added: added, Cancelled: cancelled, Duration: time.Since(start)})
	span.SetAttributes(attribute.Int(AttrAdded, added), attribute.Bool(AttrCancelled, cancelled))
	o.cfg.Metrics.OnScanDone(r.id, added, cancelled, time.Since(start))

	final := Event{Kind: ScanComplete, ScanID: r.id, Count: added}
	if cancelled {
		final.Kind = Cancelled
		log.Info("scan cancelled", zap.Int("added", added))
	} else {
		log.Info("scan complete", zap.Int("added", added), zap.Duration("elapsed", time.Since(start)))
	}
	o.emitFinal(ctx, r, final)
}

// walk visits every path × format and returns the number of catalogue additions.
func (o *Orchestrator) walk(ctx context.Context, r *Run, log *zap.Logger, formats []plugins.Format, paths []string) (int, bool) {
	added := 0
	for _, path := range paths {
		for _, format := range formats {
			if r.stopped(ctx) {
				return added, true
			}
			if !o.emit(ctx, r, Event{Kind: PathStarted, ScanID: r.id, Path: path, Format: format}) {
				return added, true
			}

			candidates, err := o.candidates(ctx, format, path)
			if err != nil {
				if r.stopped(ctx) {
					return added, true
				}
				log.Warn("enumerating candidates failed", zap.String("path", path), zap.Stringer("format", format), zap.Error(err))
				continue
			}

			for _, d := range candidates {
				if r.stopped(ctx) {
					return added, true
				}
				n, ok := o.testCandidate(ctx, r, log, d)
				added += n
				if !ok {
					return added, true
				}
			}
		}
	}
	return added, false
}

func (o *Orchestrator) candidates(ctx context.Context, format plugins.Format, path string) ([]plugins.Descriptor, error) {
	if ds, ok := o.cache.get(format, path); ok {
		o.cfg.Metrics.OnCacheHit(path)
		return ds, nil
	}
	o.cfg.Metrics.OnCacheMiss(path)
	ds, err := o.cfg.Loaders.FindCandidates(ctx, format, path)
	if err != nil {
		return nil, err
	}
	o.cache.put(format, path, ds)
	return ds, nil
}

// testCandidate handles one candidate. It returns the catalogue additions (0 or 1)
// and false when the run stopped while it was in progress.
func (o *Orchestrator) testCandidate(ctx context.Context, r *Run, log *zap.Logger, d plugins.Descriptor) (int, bool) {
	key := d.Key()
	if err := d.Validate(); err != nil {
		log.Warn("invalid candidate", zap.Error(err))
		o.cfg.Metrics.OnCandidate(key, "invalid")
		return 0, true
	}
	if o.cfg.Blacklist.Contains(key) {
		log.Debug("skipping blacklisted plugin", zap.String("plugin", string(key)))
		o.cfg.Metrics.OnCandidate(key, "blacklisted")
		return 0, true
	}
	if dup, ok := o.cfg.Catalog.FindDuplicate(d); ok {
		log.Debug("skipping known plugin", zap.String("plugin", string(key)), zap.String("known_as", string(dup.Key())))
		o.cfg.Metrics.OnCandidate(key, "duplicate")
		return 0, true
	}
	o.cfg.Metrics.OnCandidate(key, "")

	out := o.cfg.Prober.ProbeDefault(ctx, d)
	if r.stopped(ctx) {
		return 0, false
	}
	o.cfg.Metrics.OnProbeDone(key, out.Status, out.Elapsed)

	added := 0
	if out.OK() {
		if o.cfg.Catalog.Add(d) {
			added = 1
			if o.cfg.OnCatalogAdd != nil {
				o.cfg.OnCatalogAdd(d)
			}
		}
	} else {
		log.Warn("plugin failed probe", zap.String("plugin", string(key)), zap.Stringer("outcome", out))
	}

	desc, outcome := d, out
	if !o.emit(ctx, r, Event{Kind: PluginTested, ScanID: r.id, Descriptor: &desc, Outcome: &outcome}) {
		return added, false
	}
	if !out.OK() {
		o.ask(ctx, Prompt{ScanID: r.id, Descriptor: d, Outcome: out})
	}
	return added, true
}

// ask hands a failure to the prompter on its own goroutine.
func (o *Orchestrator) ask(ctx context.Context, p Prompt) {
	ctx = context.WithoutCancel(ctx)
	o.prompts.Add(1)
	go func() {
		defer o.prompts.Done()
		defer func() {
			if rec := recover(); rec != nil {
				o.cfg.Logger.Error("blacklist prompt panicked", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
			}
		}()
		if !o.cfg.Prompter.Ask(ctx, p) {
			o.cfg.Logger.Info("plugin left scannable", zap.String("plugin", string(p.Descriptor.Key())))
			return
		}
		key := p.Descriptor.Key()
		if o.cfg.Blacklist.Add(key) {
			o.cfg.Logger.Info("plugin blacklisted", zap.String("plugin", string(key)))
			if o.cfg.OnBlacklistAdd != nil {
				o.cfg.OnBlacklistAdd(key)
			}
		}
	}()
}

// emit delivers ev. Buffered delivery always succeeds; a full buffer waits until
// the consumer reads or the run stops.
func (o *Orchestrator) emit(ctx context.Context, r *Run, ev Event) bool {
	if o.cfg.OnEvent != nil {
		o.cfg.OnEvent(ev)
	}
	select {
	case r.events <- ev:
		return true
	default:
	}
	select {
	case r.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// emitFinal delivers the terminal event. A stopped run only gets it if there is
// buffer room, so an abandoned consumer cannot leak the scan goroutine.
func (o *Orchestrator) emitFinal(ctx context.Context, r *Run, ev Event) {
	if o.cfg.OnEvent != nil {
		o.cfg.OnEvent(ev)
	}
	if ctx.Err() == nil {
		r.events <- ev
		return
	}
	select {
	case r.events <- ev:
	default:
		o.cfg.Logger.Debug("dropped terminal scan event", zap.String("scan", r.id), zap.Stringer("kind", ev.Kind))
	}
}

// Result summarises a finished run.
type Result struct {
	Added     int
	Cancelled bool
	Duration  time.Duration
}

func (r Result) String() string {
	state := "complete"
	if r.Cancelled {
		state = "cancelled"
	}
	return fmt.Sprintf("scan %s: %d added in %s", state, r.Added, r.Duration.Round(time.Millisecond))
}

// Run is one scan in progress. Its event stream is finite and cannot be restarted.
type Run struct {
	id        string
	events    chan Event
	done      chan struct{}
	cancel    context.CancelFunc
	cancelled atomic.Bool

	mu     sync.Mutex
	result Result
}

// ID identifies the run in logs and events.
func (r *Run) ID() string { return r.id }

// Events returns the stream. It is closed after the terminal event.
func (r *Run) Events() <-chan Event { return r.events }

// Cancel asks the run to stop. The flag is checked between candidates and paths;
// a probe in flight is abandoned rather than awaited.
func (r *Run) Cancel() {
	r.cancelled.Store(true)
	r.cancel()
}

// Done is closed when the run has finished.
func (r *Run) Done() <-chan struct{} { return r.done }

// Result returns the summary; it is only meaningful after Done is closed.
func (r *Run) Result() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

func (r *Run) setResult(res Result) {
	r.mu.Lock()
	r.result = res
	r.mu.Unlock()
}

// Collect drains the stream and returns every event.
func (r *Run) Collect() []Event {
	var out []Event
	for ev := range r.events {
		out = append(out, ev)
	}
	return out
}

func (r *Run) stopped(ctx context.Context) bool {
	return r.cancelled.Load() || ctx.Err() != nil
}
