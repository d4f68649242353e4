// Package filestore implements store.Store as a single versioned JSON document.
// Every write rewrites the document through a temp file and a rename, so a crash
// leaves either the old or the new document on disk.
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shaban/fxhost/store"
)

const documentVersion = "1.0-settings"

type document struct {
	Version   string            `json:"version"`
	UpdatedAt time.Time         `json:"updatedAt"`
	Entries   map[string]string `json:"entries"`
}

// Store is a store.Store persisted in one JSON file.
type Store struct {
	mu     sync.RWMutex
	path   string
	data   map[string]string
	closed bool
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Open loads the document at path. A missing file, or one written by another
// document version, starts an empty store.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("settings dir: %w", err)
	}
	data, err := load(path, logger)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, data: data, logger: logger}, nil
}

func load(path string, logger *zap.Logger) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode settings %s: %w", path, err)
	}
	if doc.Version != documentVersion || doc.Entries == nil {
		logger.Warn("settings document version mismatch, starting empty",
			zap.String("path", path), zap.String("version", doc.Version))
		return map[string]string{}, nil
	}
	return doc.Entries, nil
}

// Path returns the document path.
func (s *Store) Path() string { return s.path }

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", false, store.ErrClosed
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.Apply(ctx, []store.Op{store.Put(key, value)})
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	ops := make([]store.Op, len(keys))
	for i, k := range keys {
		ops[i] = store.Del(k)
	}
	return s.Apply(ctx, ops)
}

func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	return store.MatchKeys(s.data, prefix), nil
}

// Apply writes the whole document once with every op applied. On a write error the
// in-memory view is left as it was.
func (s *Store) Apply(ctx context.Context, ops []store.Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	next := make(map[string]string, len(s.data)+len(ops))
	for k, v := range s.data {
		next[k] = v
	}
	store.ApplyTo(next, ops)
	if err := s.write(next); err != nil {
		return err
	}
	s.data = next
	return nil
}

func (s *Store) write(entries map[string]string) error {
	b, err := json.MarshalIndent(document{
		Version:   documentVersion,
		UpdatedAt: time.Now().UTC(),
		Entries:   entries,
	}, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	s.logger.Debug("settings written", zap.String("path", s.path), zap.Int("keys", len(entries)))
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
