package scan

import (
	"path/filepath"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/shaban/fxhost/plugins"
)

const (
	// DefaultCacheTTL is how long an enumerated candidate list stays valid.
	DefaultCacheTTL = 5 * time.Minute
	cacheCleanup    = 10 * time.Minute
	cacheKeySep     = "\x00"
)

// candidateCache remembers FindCandidates results per (format, path) so repeated
// scans skip the directory walk. A zero TTL disables it.
type candidateCache struct {
	ttl   time.Duration
	cache *gocache.Cache
}

func newCandidateCache(ttl time.Duration) *candidateCache {
	if ttl <= 0 {
		return &candidateCache{}
	}
	return &candidateCache{ttl: ttl, cache: gocache.New(ttl, cacheCleanup)}
}

func cacheKey(format plugins.Format, path string) string {
	return string(format) + cacheKeySep + filepath.Clean(path)
}

func (c *candidateCache) get(format plugins.Format, path string) ([]plugins.Descriptor, bool) {
	if c.cache == nil {
		return nil, false
	}
	v, ok := c.cache.Get(cacheKey(format, path))
	if !ok {
		return nil, false
	}
	ds, ok := v.([]plugins.Descriptor)
	return ds, ok
}

func (c *candidateCache) put(format plugins.Format, path string, ds []plugins.Descriptor) {
	if c.cache == nil {
		return
	}
	c.cache.Set(cacheKey(format, path), ds, gocache.DefaultExpiration)
}

// invalidate drops every entry whose search path contains changed, or is contained
// by it. It returns the number of dropped entries.
func (c *candidateCache) invalidate(changed string) int {
	if c.cache == nil {
		return 0
	}
	changed = filepath.Clean(changed)
	n := 0
	for key := range c.cache.Items() {
		_, root, ok := strings.Cut(key, cacheKeySep)
		if !ok {
			continue
		}
		if within(changed, root) || within(root, changed) {
			c.cache.Delete(key)
			n++
		}
	}
	return n
}

func (c *candidateCache) flush() {
	if c.cache != nil {
		c.cache.Flush()
	}
}

// within reports whether path equals dir or lies below it.
func within(path, dir string) bool {
	if path == dir {
		return true
	}
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
