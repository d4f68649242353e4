// Package host is the single context object of the plugin host. It builds every
// component from a configuration, wires them to each other, and tears them down.
package host

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/shaban/fxhost/editor"
	"github.com/shaban/fxhost/graph"
	"github.com/shaban/fxhost/internal/config"
	"github.com/shaban/fxhost/internal/logging"
	"github.com/shaban/fxhost/internal/pubsub"
	"github.com/shaban/fxhost/internal/tracing"
	"github.com/shaban/fxhost/loader"
	"github.com/shaban/fxhost/loader/manifest"
	"github.com/shaban/fxhost/persist"
	"github.com/shaban/fxhost/plugins"
	"github.com/shaban/fxhost/probe"
	"github.com/shaban/fxhost/reconciler"
	"github.com/shaban/fxhost/scan"
	"github.com/shaban/fxhost/store"
	"github.com/shaban/fxhost/store/filestore"
	"github.com/shaban/fxhost/store/sqlitestore"
)

// Host owns every long-lived component.
type Host struct {
	cfg       config.Config
	logger    *zap.Logger
	ownLogger bool
	tracing   *tracing.Provider
	tracer    trace.Tracer

	store     store.Store
	repo      *persist.Repository
	catalog   *plugins.Catalog
	blacklist *plugins.Blacklist
	loaders   *loader.Registry
	prober    *probe.Prober
	scanner   *scan.Orchestrator
	builder   *graph.Builder
	slot      *graph.Slot
	rec       *reconciler.Reconciler
	editors   *editor.Registry
	events    *pubsub.Broker[any]

	pathsMu sync.RWMutex
	paths   []string

	watchMu sync.Mutex
	watcher *watcher

	// bg scopes work the host starts on its own, such as watch-triggered scans.
	bg     context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// New builds a host from cfg. On error everything opened so far is closed.
func New(ctx context.Context, cfg config.Config, opts ...Option) (_ *Host, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	h := &Host{cfg: cfg, logger: o.logger}
	h.bg, h.cancel = context.WithCancel(context.Background())
	defer func() {
		if err != nil {
			_ = h.Close()
		}
	}()

	if h.logger == nil {
		if h.logger, err = logging.New(cfg.Log); err != nil {
			return nil, err
		}
		h.ownLogger = true
	}

	if h.tracing, err = tracing.NewProvider(ctx, cfg.Tracing); err != nil {
		return nil, err
	}
	h.tracer = h.tracing.Tracer()

	h.store = o.store
	if h.store == nil {
		if h.store, err = openStore(ctx, cfg, h.logger); err != nil {
			return nil, err
		}
	}
	h.repo = persist.New(h.store, h.logger)

	h.catalog = plugins.NewCatalog()
	if err = h.repo.LoadCatalog(ctx, h.catalog); err != nil {
		return nil, err
	}
	h.blacklist = plugins.NewBlacklist()
	if berr := h.repo.LoadBlacklist(ctx, h.blacklist); berr != nil {
		h.logger.Warn("Blacklist not loaded, starting empty", zap.Error(berr))
	}
	if err = h.loadSearchPaths(ctx); err != nil {
		return nil, err
	}

	h.loaders = loader.NewRegistry(manifest.New(manifest.WithLogger(h.logger)))
	for _, l := range o.loaders {
		h.loaders.Register(l)
	}

	audio := cfg.Audio.Resolve()
	h.prober = probe.New(probe.Config{
		Loaders:    h.loaders,
		Policy:     cfg.Scan.Policy(),
		SampleRate: audio.SampleRate,
		BlockSize:  audio.BlockSize,
		Logger:     h.logger,
		Tracer:     h.tracer,
	})

	h.events = pubsub.NewBroker[any](0)
	h.editors = editor.NewRegistry()
	h.builder = graph.NewBuilder(graph.Config{
		Loaders:    h.loaders,
		SampleRate: audio.SampleRate,
		BlockSize:  audio.BlockSize,
		Channels:   audio.Channels,
		Logger:     h.logger,
		Tracer:     h.tracer,
	})
	h.slot = graph.NewSlot(h.logger)

	h.rec, err = reconciler.New(reconciler.Config{
		Catalog:    h.catalog,
		Blacklist:  h.blacklist,
		Builder:    h.builder,
		Slot:       h.slot,
		Repository: h.repo,
		Editors:    h.editors,
		Events:     h.events,
		Logger:     h.logger,
		Tracer:     h.tracer,
	})
	if err != nil {
		return nil, err
	}

	h.scanner = scan.New(scan.Config{
		Loaders:        h.loaders,
		Prober:         h.prober,
		Catalog:        h.catalog,
		Blacklist:      h.blacklist,
		Prompter:       o.prompter,
		Metrics:        o.metrics,
		Logger:         h.logger,
		Tracer:         h.tracer,
		CacheTTL:       cfg.Scan.CacheTTL,
		OnEvent:        func(ev scan.Event) { h.events.Publish(pubsub.TopicScan, ev) },
		OnCatalogAdd:   h.catalogAdded,
		OnBlacklistAdd: h.blacklistAdded,
	})

	if err = h.rec.Restore(ctx); err != nil {
		return nil, fmt.Errorf("restoring chain: %w", err)
	}

	if cfg.Scan.Watch {
		if err = h.startWatch(); err != nil {
			return nil, err
		}
	}

	h.logger.Info("Host ready",
		zap.String("catalog", h.catalog.Descriptors().Summary()),
		zap.Int("blacklisted", h.blacklist.Len()),
		zap.Strings("formats", formatNames(h.loaders.Formats())),
		zap.String("topology", h.rec.Graph().Topology()))
	return h, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.StoreMemory:
		return store.NewMemory(), nil
	case config.StoreFile:
		s, err := filestore.Open(cfg.StorePath(), logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StoreSQLite, "":
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		s, err := sqlitestore.Open(ctx, cfg.StorePath(), logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// Logger returns the host logger.
func (h *Host) Logger() *zap.Logger { return h.logger }

// Config returns the configuration the host was built from.
func (h *Host) Config() config.Config { return h.cfg }

// Reconciler returns the chain reconciler.
func (h *Host) Reconciler() *reconciler.Reconciler { return h.rec }

// Catalog returns the shared catalog.
func (h *Host) Catalog() *plugins.Catalog { return h.catalog }

// Blacklist returns the shared blacklist.
func (h *Host) Blacklist() *plugins.Blacklist { return h.blacklist }

// Editors returns the editor window registry.
func (h *Host) Editors() *editor.Registry { return h.editors }

// Events returns the broker carrying scan, chain, catalog and blacklist events.
func (h *Host) Events() *pubsub.Broker[any] { return h.events }

// Loaders returns the format loader registry.
func (h *Host) Loaders() *loader.Registry { return h.loaders }

// Prober returns the shared prober.
func (h *Host) Prober() *probe.Prober { return h.prober }

// Scanner returns the scan orchestrator.
func (h *Host) Scanner() *scan.Orchestrator { return h.scanner }

// Close saves the chain and releases everything. It is safe to call twice.
func (h *Host) Close() error {
	h.closeOnce.Do(func() {
		h.cancel()
		var err error
		h.watchMu.Lock()
		if h.watcher != nil {
			err = multierr.Append(err, h.watcher.stop())
			h.watcher = nil
		}
		h.watchMu.Unlock()

		if h.rec != nil {
			err = multierr.Append(err, h.rec.Save(context.Background()))
			h.rec.Close()
		}
		if h.slot != nil {
			h.slot.Close()
		}
		if h.events != nil {
			h.events.Close()
		}
		if h.store != nil {
			err = multierr.Append(err, h.store.Close())
		}
		if h.tracing != nil {
			err = multierr.Append(err, h.tracing.Shutdown(context.Background()))
		}
		if h.logger != nil {
			h.logger.Info("Host closed", zap.Error(err))
			if h.ownLogger {
				_ = h.logger.Sync()
			}
		}
		h.closeErr = err
	})
	return h.closeErr
}

func formatNames(fs []plugins.Format) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = string(f)
	}
	return out
}
