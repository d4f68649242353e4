package plugins

import (
	"encoding/json"
	"sync"
)

// Catalog is the set of every known descriptor, keyed by identity and kept in
// insertion order. Reads may run concurrently; writes are serialized.
type Catalog struct {
	mu    sync.RWMutex
	byKey map[Key]Descriptor
	order []Key
}

// NewCatalog creates a catalog holding the given descriptors. Duplicates are dropped.
func NewCatalog(ds ...Descriptor) *Catalog {
	c := &Catalog{byKey: make(map[Key]Descriptor)}
	for _, d := range ds {
		c.addLocked(d)
	}
	return c
}

// Add inserts d unless its key or a declared equivalent is already present.
// It reports whether the catalog changed.
func (c *Catalog) Add(d Descriptor) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addLocked(d)
}

func (c *Catalog) addLocked(d Descriptor) bool {
	if c.byKey == nil {
		c.byKey = make(map[Key]Descriptor)
	}
	if _, ok := c.findDuplicateLocked(d); ok {
		return false
	}
	k := d.Key()
	c.byKey[k] = d
	c.order = append(c.order, k)
	return true
}

// Get returns the descriptor stored under key.
func (c *Catalog) Get(key Key) (Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.byKey[key]
	return d, ok
}

// Contains reports whether key is in the catalog.
func (c *Catalog) Contains(key Key) bool {
	_, ok := c.Get(key)
	return ok
}

// FindDuplicate returns the stored descriptor that d duplicates, if any.
func (c *Catalog) FindDuplicate(d Descriptor) (Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.findDuplicateLocked(d)
}

func (c *Catalog) findDuplicateLocked(d Descriptor) (Descriptor, bool) {
	if existing, ok := c.byKey[d.Key()]; ok {
		return existing, true
	}
	for _, k := range c.order {
		if existing := c.byKey[k]; existing.IsEquivalent(d) {
			return existing, true
		}
	}
	return Descriptor{}, false
}

// FindLegacy resolves an identity written by the older format+name+version scheme.
func (c *Catalog) FindLegacy(legacy string) (Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, k := range c.order {
		if d := c.byKey[k]; d.LegacyKey() == legacy {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Remove deletes key. Only explicit user actions should call this.
func (c *Catalog) Remove(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byKey[key]; !ok {
		return false
	}
	delete(c.byKey, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

// Descriptors returns a copy of the catalog in insertion order.
func (c *Catalog) Descriptors() Descriptors {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(Descriptors, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.byKey[k])
	}
	return out
}

// Len returns the number of descriptors.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// Clear removes every descriptor.
func (c *Catalog) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKey = make(map[Key]Descriptor)
	c.order = nil
}

// Replace swaps the whole content for ds, keeping their order.
func (c *Catalog) Replace(ds Descriptors) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKey = make(map[Key]Descriptor, len(ds))
	c.order = nil
	for _, d := range ds {
		c.addLocked(d)
	}
}

// MarshalJSON encodes the catalog as an array of descriptors.
func (c *Catalog) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Descriptors())
}

// UnmarshalJSON replaces the catalog content with the decoded array.
func (c *Catalog) UnmarshalJSON(data []byte) error {
	var ds Descriptors
	if err := json.Unmarshal(data, &ds); err != nil {
		return err
	}
	c.Replace(ds)
	return nil
}
