// Package persist maps the host's domain objects onto flat settings keys.
//
// Keys:
//   - pluginList: JSON array of descriptors.
//   - pluginListActive: escaped "|"-joined entry identities in chain order.
//   - plugin_order_<id>, plugin_bypass_<id>, plugin_state_<id>: per-entry values.
//   - pluginBlacklist: Blacklist.Serialize output.
//   - pluginSearchPaths: ";"-joined paths.
//
// Loading is lenient: a malformed value affects only the item it belongs to.
package persist

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shaban/fxhost/chain"
	"github.com/shaban/fxhost/plugins"
	"github.com/shaban/fxhost/store"
)

// Repository reads and writes host state through a store.Store.
type Repository struct {
	store  store.Store
	logger *zap.Logger
}

// New creates a repository over s.
func New(s store.Store, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{store: s, logger: logger}
}

// Store returns the underlying store.
func (r *Repository) Store() store.Store { return r.store }

// LoadCatalog replaces c with the persisted descriptors. Malformed elements are
// skipped and logged. A missing list leaves c empty.
func (r *Repository) LoadCatalog(ctx context.Context, c *plugins.Catalog) error {
	raw, ok, err := r.store.Get(ctx, KeyPluginList)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	if !ok || strings.TrimSpace(raw) == "" {
		c.Clear()
		return nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &elems); err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	ds := make(plugins.Descriptors, 0, len(elems))
	for i, elem := range elems {
		var d plugins.Descriptor
		if err := json.Unmarshal(elem, &d); err != nil {
			r.logger.Warn("skipping malformed catalog element", zap.Int("index", i), zap.Error(err))
			continue
		}
		if err := d.Validate(); err != nil {
			r.logger.Warn("skipping invalid catalog element", zap.Int("index", i), zap.Error(err))
			continue
		}
		ds = append(ds, d)
	}
	c.Replace(ds)
	r.logger.Debug("catalog loaded", zap.String("summary", ds.Summary()))
	return nil
}

// SaveCatalog writes every descriptor of c.
func (r *Repository) SaveCatalog(ctx context.Context, c *plugins.Catalog) error {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("save catalog: %w", err)
	}
	if err := r.store.Set(ctx, KeyPluginList, string(b)); err != nil {
		return fmt.Errorf("save catalog: %w", err)
	}
	return nil
}

// LoadBlacklist replaces b with the persisted set. On a decoding error b is unchanged.
func (r *Repository) LoadBlacklist(ctx context.Context, b *plugins.Blacklist) error {
	raw, _, err := r.store.Get(ctx, KeyBlacklist)
	if err != nil {
		return fmt.Errorf("load blacklist: %w", err)
	}
	if err := b.Deserialize(raw); err != nil {
		return fmt.Errorf("load blacklist: %w", err)
	}
	return nil
}

// SaveBlacklist writes b.
func (r *Repository) SaveBlacklist(ctx context.Context, b *plugins.Blacklist) error {
	if err := r.store.Set(ctx, KeyBlacklist, b.Serialize()); err != nil {
		return fmt.Errorf("save blacklist: %w", err)
	}
	return nil
}

// LoadSearchPaths returns the persisted search paths, or nil and false when none
// were ever saved.
func (r *Repository) LoadSearchPaths(ctx context.Context) ([]string, bool, error) {
	raw, ok, err := r.store.Get(ctx, KeySearchPaths)
	if err != nil {
		return nil, false, fmt.Errorf("load search paths: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	var paths []string
	for _, p := range strings.Split(raw, SearchPathSeparator) {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	return paths, true, nil
}

// SaveSearchPaths writes paths.
func (r *Repository) SaveSearchPaths(ctx context.Context, paths []string) error {
	if err := r.store.Set(ctx, KeySearchPaths, strings.Join(paths, SearchPathSeparator)); err != nil {
		return fmt.Errorf("save search paths: %w", err)
	}
	return nil
}

// LoadChain reads the active chain. Identities without an entry ID are resolved as
// plain keys, then as legacy name:version identities through catalog. Entries whose
// key is unknown are kept; the graph builder skips them.
func (r *Repository) LoadChain(ctx context.Context, catalog *plugins.Catalog) (*chain.Chain, error) {
	raw, ok, err := r.store.Get(ctx, KeyActive)
	if err != nil {
		return nil, fmt.Errorf("load chain: %w", err)
	}
	if !ok || raw == "" {
		return chain.New(), nil
	}
	ids, err := plugins.SplitEscaped(raw)
	if err != nil {
		r.logger.Warn("active list has a bad escape, splitting verbatim", zap.Error(err))
		ids = strings.Split(raw, string(plugins.BlacklistSeparator))
	}

	entries := make([]chain.Entry, 0, len(ids))
	for pos, id := range ids {
		if id == "" {
			continue
		}
		e, err := r.loadEntry(ctx, catalog, pos, id)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	c := chain.New(entries...)
	r.logger.Debug("chain loaded", zap.String("summary", c.Summary()))
	return c, nil
}

func (r *Repository) loadEntry(ctx context.Context, catalog *plugins.Catalog, pos int, id string) (chain.Entry, error) {
	log := r.logger.With(zap.String("identity", id))
	key, entryID, ok := ParseIdentity(id)
	if !ok {
		entryID = uuid.NewString()
		if catalog != nil && !catalog.Contains(key) {
			if d, found := catalog.FindLegacy(id); found {
				log.Info("resolved legacy identity", zap.String("key", string(d.Key())))
				key = d.Key()
			}
		}
	}
	e := chain.Entry{ID: entryID, Key: key, Order: int64(pos + 1)}

	if v, found, err := r.store.Get(ctx, orderKey(id)); err != nil {
		return e, fmt.Errorf("load chain: %w", err)
	} else if found {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			e.Order = n
		} else {
			log.Warn("corrupt order key, using list position", zap.String("value", v))
		}
	}

	if v, found, err := r.store.Get(ctx, bypassKey(id)); err != nil {
		return e, fmt.Errorf("load chain: %w", err)
	} else if found {
		e.Bypass = strings.TrimSpace(v) == "1"
	}

	if v, found, err := r.store.Get(ctx, stateKey(id)); err != nil {
		return e, fmt.Errorf("load chain: %w", err)
	} else if found && v != "" {
		blob, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			log.Warn("corrupt state blob discarded", zap.Error(err))
		} else {
			e.State = blob
		}
	}
	return e, nil
}

// SaveChain writes c in one batch and removes the per-entry keys of entries that are
// no longer in it.
func (r *Repository) SaveChain(ctx context.Context, c *chain.Chain) error {
	entries := c.Entries()
	ids := make([]string, len(entries))
	live := make(map[string]bool, len(entries))
	ops := make([]store.Op, 0, 1+3*len(entries))

	for i, e := range entries {
		id := Identity(e)
		ids[i] = id
		live[id] = true
		ops = append(ops,
			store.Put(orderKey(id), strconv.FormatInt(e.Order, 10)),
			store.Put(bypassKey(id), boolValue(e.Bypass)),
		)
		if len(e.State) > 0 {
			ops = append(ops, store.Put(stateKey(id), base64.StdEncoding.EncodeToString(e.State)))
		} else {
			ops = append(ops, store.Del(stateKey(id)))
		}
	}
	ops = append(ops, store.Put(KeyActive, plugins.JoinEscaped(ids)))

	for _, prefix := range entryPrefixes {
		keys, err := r.store.Keys(ctx, prefix)
		if err != nil {
			return fmt.Errorf("save chain: %w", err)
		}
		for _, k := range keys {
			if !live[strings.TrimPrefix(k, prefix)] {
				ops = append(ops, store.Del(k))
			}
		}
	}

	if err := r.store.Apply(ctx, ops); err != nil {
		return fmt.Errorf("save chain: %w", err)
	}
	return nil
}

func boolValue(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
