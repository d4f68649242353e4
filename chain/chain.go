// Package chain models the ordered list of plugins in the signal path.
//
// Entries are ordered by an integer order key, not by slice position: moves swap
// keys between neighbours, appends take max+1, and Normalize repairs any collision
// left behind by an interrupted move. A Chain is not safe for concurrent use; the
// reconciler owns it on its control goroutine.
package chain

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/shaban/fxhost/plugins"
)

// ErrIndexOutOfRange is returned for positions outside the chain.
var ErrIndexOutOfRange = errors.New("chain index out of range")

// Entry is one configured slot.
type Entry struct {
	// ID is the stable identity of the slot; it survives reorders and restarts.
	ID     string      `json:"id"`
	Key    plugins.Key `json:"key"`
	Order  int64       `json:"order"`
	Bypass bool        `json:"bypass"`
	State  []byte      `json:"state,omitempty"`
}

func (e Entry) clone() Entry {
	if e.State != nil {
		e.State = append([]byte(nil), e.State...)
	}
	return e
}

// Chain is the active chain, kept sorted by order key.
type Chain struct {
	entries []Entry
}

// New builds a chain from entries in any order. Entries without an ID get one.
// Colliding order keys are kept as given until Normalize runs.
func New(entries ...Entry) *Chain {
	c := &Chain{entries: make([]Entry, 0, len(entries))}
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		c.entries = append(c.entries, e.clone())
	}
	c.sort()
	return c
}

func (c *Chain) sort() {
	sort.SliceStable(c.entries, func(i, j int) bool { return c.entries[i].Order < c.entries[j].Order })
}

// Len returns the number of entries.
func (c *Chain) Len() int { return len(c.entries) }

// Entries returns a copy of the entries in chain order.
func (c *Chain) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.clone()
	}
	return out
}

// At returns the entry at position i.
func (c *Chain) At(i int) (Entry, bool) {
	if i < 0 || i >= len(c.entries) {
		return Entry{}, false
	}
	return c.entries[i].clone(), true
}

// Index returns the position of the entry with id, or -1.
func (c *Chain) Index(id string) int {
	for i, e := range c.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// Keys returns the plugin keys in chain order.
func (c *Chain) Keys() []plugins.Key {
	out := make([]plugins.Key, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.Key
	}
	return out
}

func (c *Chain) maxOrder() int64 {
	var m int64
	for _, e := range c.entries {
		if e.Order > m {
			m = e.Order
		}
	}
	return m
}

// Append adds key at the end with order max+1 and returns the new entry.
func (c *Chain) Append(key plugins.Key, state []byte) Entry {
	e := Entry{ID: uuid.NewString(), Key: key, Order: c.maxOrder() + 1}
	if state != nil {
		e.State = append([]byte(nil), state...)
	}
	c.entries = append(c.entries, e)
	return e.clone()
}

// Remove deletes the entry at position i.
func (c *Chain) Remove(i int) (Entry, error) {
	if err := c.check(i); err != nil {
		return Entry{}, err
	}
	e := c.entries[i]
	c.entries = append(c.entries[:i], c.entries[i+1:]...)
	return e, nil
}

// MoveUp swaps the order keys of entry i and its predecessor. It reports whether
// anything moved; the first entry and out-of-range positions are no-ops.
func (c *Chain) MoveUp(i int) bool {
	if i <= 0 || i >= len(c.entries) {
		return false
	}
	c.swap(i, i-1)
	return true
}

// MoveDown swaps the order keys of entry i and its successor. It reports whether
// anything moved; the last entry and out-of-range positions are no-ops.
func (c *Chain) MoveDown(i int) bool {
	if i < 0 || i >= len(c.entries)-1 {
		return false
	}
	c.swap(i, i+1)
	return true
}

func (c *Chain) swap(i, j int) {
	c.entries[i].Order, c.entries[j].Order = c.entries[j].Order, c.entries[i].Order
	c.entries[i], c.entries[j] = c.entries[j], c.entries[i]
	// Equal keys would keep the old order after a sort; split them.
	if c.entries[i].Order == c.entries[j].Order {
		c.Normalize()
	}
}

// SetBypass sets the bypass flag at position i and reports whether it changed.
func (c *Chain) SetBypass(i int, bypass bool) (bool, error) {
	if err := c.check(i); err != nil {
		return false, err
	}
	if c.entries[i].Bypass == bypass {
		return false, nil
	}
	c.entries[i].Bypass = bypass
	return true, nil
}

// SetState replaces the state blob at position i. A nil blob means default state.
func (c *Chain) SetState(i int, state []byte) error {
	if err := c.check(i); err != nil {
		return err
	}
	if state == nil {
		c.entries[i].State = nil
		return nil
	}
	c.entries[i].State = append([]byte(nil), state...)
	return nil
}

// Clear removes every entry.
func (c *Chain) Clear() { c.entries = c.entries[:0] }

// Normalize sorts by order key, keeping the existing relative order of equal keys,
// then raises every key that is not above its predecessor to predecessor+1.
// It reports whether any key changed.
func (c *Chain) Normalize() bool {
	c.sort()
	changed := false
	for i := 1; i < len(c.entries); i++ {
		if prev := c.entries[i-1].Order; c.entries[i].Order <= prev {
			c.entries[i].Order = prev + 1
			changed = true
		}
	}
	return changed
}

// Clone returns a deep copy.
func (c *Chain) Clone() *Chain {
	return &Chain{entries: c.Entries()}
}

// Summary returns a brief summary of the chain
func (c *Chain) Summary() string {
	if len(c.entries) == 0 {
		return "chain: empty"
	}
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = string(e.Key)
		if e.Bypass {
			names[i] += " (bypassed)"
		}
	}
	return fmt.Sprintf("chain: %d plugins [%s]", len(c.entries), strings.Join(names, " -> "))
}

func (c *Chain) check(i int) error {
	if i < 0 || i >= len(c.entries) {
		return fmt.Errorf("%w: invalid index %d for chain of length %d", ErrIndexOutOfRange, i, len(c.entries))
	}
	return nil
}
