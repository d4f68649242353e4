package host

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/shaban/fxhost/internal/api"
	"github.com/shaban/fxhost/internal/pubsub"
	"github.com/shaban/fxhost/plugins"
	"github.com/shaban/fxhost/reconciler"
)

// BlacklistChange is published on TopicBlacklist when the user edits the blacklist.
type BlacklistChange struct {
	Added   []plugins.Key `json:"added,omitempty"`
	Removed []plugins.Key `json:"removed,omitempty"`
}

// CatalogChange is published on TopicCatalog when a descriptor is removed.
type CatalogChange struct {
	Removed plugins.Key `json:"removed"`
}

// AddToBlacklist blacklists key, persists the set and rebuilds the chain so a
// loaded instance is torn down.
func (h *Host) AddToBlacklist(ctx context.Context, key plugins.Key) (bool, error) {
	if !h.blacklist.Add(key) {
		return false, nil
	}
	return true, h.blacklistEdited(ctx, BlacklistChange{Added: []plugins.Key{key}})
}

// RemoveFromBlacklist makes key scannable and loadable again.
func (h *Host) RemoveFromBlacklist(ctx context.Context, key plugins.Key) (bool, error) {
	if !h.blacklist.Remove(key) {
		return false, nil
	}
	return true, h.blacklistEdited(ctx, BlacklistChange{Removed: []plugins.Key{key}})
}

// ClearBlacklist empties the blacklist.
func (h *Host) ClearBlacklist(ctx context.Context) error {
	keys := h.blacklist.Keys()
	if len(keys) == 0 {
		return nil
	}
	h.blacklist.Clear()
	return h.blacklistEdited(ctx, BlacklistChange{Removed: keys})
}

func (h *Host) blacklistEdited(ctx context.Context, change BlacklistChange) error {
	if err := h.repo.SaveBlacklist(ctx, h.blacklist); err != nil {
		return err
	}
	h.events.Publish(pubsub.TopicBlacklist, change)
	h.logger.Info("Blacklist updated",
		zap.Int("added", len(change.Added)),
		zap.Int("removed", len(change.Removed)))
	return h.rec.Rebuild(ctx)
}

// RemoveFromCatalog forgets a descriptor. Chain entries using it stay and are
// skipped until a scan finds the plugin again.
func (h *Host) RemoveFromCatalog(ctx context.Context, key plugins.Key) (bool, error) {
	if !h.catalog.Remove(key) {
		return false, nil
	}
	if err := h.repo.SaveCatalog(ctx, h.catalog); err != nil {
		return true, err
	}
	h.events.Publish(pubsub.TopicCatalog, CatalogChange{Removed: key})
	return true, h.rec.Rebuild(ctx)
}

// SearchPaths returns the persisted search paths.
func (h *Host) SearchPaths() []string {
	h.pathsMu.RLock()
	defer h.pathsMu.RUnlock()
	return append([]string(nil), h.paths...)
}

// SetSearchPaths replaces, deduplicates and persists the search paths. A running
// watcher is moved to the new set.
func (h *Host) SetSearchPaths(ctx context.Context, paths []string) error {
	clean := dedupePaths(paths)
	if err := h.repo.SaveSearchPaths(ctx, clean); err != nil {
		return err
	}
	h.pathsMu.Lock()
	h.paths = clean
	h.pathsMu.Unlock()

	h.watchMu.Lock()
	watching := h.watcher != nil
	h.watchMu.Unlock()
	if watching {
		return h.startWatch()
	}
	return nil
}

func (h *Host) loadSearchPaths(ctx context.Context) error {
	paths, ok, err := h.repo.LoadSearchPaths(ctx)
	if err != nil {
		return err
	}
	if !ok {
		paths = dedupePaths(h.cfg.Scan.SearchPaths)
		if err := h.repo.SaveSearchPaths(ctx, paths); err != nil {
			return fmt.Errorf("seeding search paths: %w", err)
		}
	}
	h.paths = paths
	return nil
}

func dedupePaths(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		p = filepath.Clean(p)
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// Chain returns the chain snapshot served by the API.
func (h *Host) Chain() api.ChainResponse {
	return api.ChainResponse{
		Version:  h.rec.Version(),
		Topology: h.rec.Graph().Topology(),
		Entries:  h.rec.Snapshot(),
	}
}

// Dispatch applies a chain action.
func (h *Host) Dispatch(ctx context.Context, a reconciler.Action) error {
	return h.rec.Dispatch(ctx, a)
}

// API adapts the host to the HTTP API backend.
func (h *Host) API() api.Backend { return apiBackend{h} }

type apiBackend struct{ h *Host }

func (b apiBackend) Chain() api.ChainResponse     { return b.h.Chain() }
func (b apiBackend) Catalog() plugins.Descriptors { return b.h.catalog.Descriptors() }
func (b apiBackend) Blacklist() []plugins.Key     { return b.h.blacklist.Keys() }
func (b apiBackend) Events() *pubsub.Broker[any]  { return b.h.events }

func (b apiBackend) RemoveFromBlacklist(ctx context.Context, key plugins.Key) (bool, error) {
	return b.h.RemoveFromBlacklist(ctx, key)
}

func (b apiBackend) Dispatch(ctx context.Context, a reconciler.Action) error {
	return b.h.Dispatch(ctx, a)
}

func (b apiBackend) StartScan(ctx context.Context) (string, error) {
	return b.h.StartScan(ctx)
}
