package plugins

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// BlacklistSeparator joins keys in the serialized form.
const BlacklistSeparator = '|'

const blacklistEscape = '\\'

// ErrBadEscape is returned by Deserialize for a dangling escape character.
var ErrBadEscape = errors.New("blacklist: dangling escape at end of input")

// Blacklist is the set of identity keys excluded from loading and scanning.
// It is safe for concurrent use.
type Blacklist struct {
	mu   sync.RWMutex
	keys map[Key]struct{}
}

// NewBlacklist creates a blacklist holding keys.
func NewBlacklist(keys ...Key) *Blacklist {
	b := &Blacklist{keys: make(map[Key]struct{}, len(keys))}
	for _, k := range keys {
		b.keys[k] = struct{}{}
	}
	return b
}

// Contains reports whether key is blacklisted.
func (b *Blacklist) Contains(key Key) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.keys[key]
	return ok
}

// Add inserts key. Adding a present key is a no-op; the result reports whether
// the set changed.
func (b *Blacklist) Add(key Key) bool {
	if key == "" {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.keys == nil {
		b.keys = make(map[Key]struct{})
	}
	if _, ok := b.keys[key]; ok {
		return false
	}
	b.keys[key] = struct{}{}
	return true
}

// Remove drops key from the set.
func (b *Blacklist) Remove(key Key) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.keys[key]; !ok {
		return false
	}
	delete(b.keys, key)
	return true
}

// Clear empties the set.
func (b *Blacklist) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keys = make(map[Key]struct{})
}

// Len returns the number of keys.
func (b *Blacklist) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.keys)
}

// Keys returns the keys in sorted order.
func (b *Blacklist) Keys() []Key {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Key, 0, len(b.keys))
	for k := range b.keys {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Serialize returns the keys joined by BlacklistSeparator. Keys are sorted so the
// output is deterministic; separator and escape characters inside a key are escaped.
func (b *Blacklist) Serialize() string {
	keys := b.Keys()
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = string(k)
	}
	return JoinEscaped(parts)
}

// Deserialize replaces the content with the keys encoded in s. The empty string is
// the empty set. On error the blacklist is left unchanged.
func (b *Blacklist) Deserialize(s string) error {
	keys, err := SplitEscaped(s)
	if err != nil {
		return err
	}
	next := make(map[Key]struct{}, len(keys))
	for _, k := range keys {
		if k != "" {
			next[Key(k)] = struct{}{}
		}
	}
	b.mu.Lock()
	b.keys = next
	b.mu.Unlock()
	return nil
}

// JoinEscaped joins parts with BlacklistSeparator, escaping separator and escape
// characters inside each part.
func JoinEscaped(parts []string) string {
	var sb strings.Builder
	for i, p := range parts {
		if i > 0 {
			sb.WriteByte(BlacklistSeparator)
		}
		for _, r := range p {
			if r == BlacklistSeparator || r == blacklistEscape {
				sb.WriteByte(blacklistEscape)
			}
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// SplitEscaped reverses JoinEscaped. The empty string yields no parts.
func SplitEscaped(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var (
		out     []string
		cur     strings.Builder
		escaped bool
	)
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == blacklistEscape:
			escaped = true
		case r == BlacklistSeparator:
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if escaped {
		return nil, ErrBadEscape
	}
	return append(out, cur.String()), nil
}
