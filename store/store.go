// Package store defines the flat string key/value settings store the host persists into,
// plus an in-memory implementation.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: closed")

// Op is one write in an atomic batch.
type Op struct {
	Key    string
	Value  string
	Delete bool
}

// Put returns an Op that sets key to value.
func Put(key, value string) Op { return Op{Key: key, Value: value} }

// Del returns an Op that removes key.
func Del(key string) Op { return Op{Key: key, Delete: true} }

// Store is a flat string key/value store.
type Store interface {
	// Get returns the value of key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Delete removes keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
	// Keys lists the keys starting with prefix in sorted order.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Apply runs every op or none of them.
	Apply(ctx context.Context, ops []Op) error
	Close() error
}

// Memory is a Store backed by a map.
type Memory struct {
	mu     sync.RWMutex
	data   map[string]string
	closed bool
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", false, ErrClosed
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Set(ctx context.Context, key, value string) error {
	return m.Apply(ctx, []Op{Put(key, value)})
}

func (m *Memory) Delete(ctx context.Context, keys ...string) error {
	ops := make([]Op, len(keys))
	for i, k := range keys {
		ops[i] = Del(k)
	}
	return m.Apply(ctx, ops)
}

func (m *Memory) Keys(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return MatchKeys(m.data, prefix), nil
}

func (m *Memory) Apply(ctx context.Context, ops []Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	ApplyTo(m.data, ops)
	return nil
}

// Snapshot returns a copy of every entry.
func (m *Memory) Snapshot() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ApplyTo runs ops against a map in order.
func ApplyTo(data map[string]string, ops []Op) {
	for _, op := range ops {
		if op.Delete {
			delete(data, op.Key)
			continue
		}
		data[op.Key] = op.Value
	}
}

// MatchKeys returns the sorted keys of data that start with prefix.
func MatchKeys(data map[string]string, prefix string) []string {
	out := make([]string, 0, len(data))
	for k := range data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
