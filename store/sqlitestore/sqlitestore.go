// Package sqlitestore implements store.Store on a SQLite database.
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.uber.org/zap"

	"github.com/shaban/fxhost/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store is a store.Store persisted in the settings table.
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
	now    func() time.Time

	closeOnce sync.Once
	closeErr  error
}

var _ store.Store = (*Store)(nil)

// Open opens or creates the database at path and migrates it to the latest schema.
// Use ":memory:" for a private in-memory database.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("opening settings database", zap.String("path", path))
	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open settings database: %w", err)
	}
	// One connection: SQLite serializes writers anyway, and ":memory:" is per connection.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping settings database: %w", err)
	}
	if err := migrateUp(db, logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("settings database ready", zap.String("path", path))
	return &Store{db: db, path: path, logger: logger, now: time.Now}, nil
}

func migrateUp(db *sql.DB, logger *zap.Logger) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	defer src.Close()
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	// m.Close would close db; only the source is released.
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	version, dirty, err := m.Version()
	if err == nil {
		logger.Debug("settings schema", zap.Uint("version", version), zap.Bool("dirty", dirty))
	}
	return nil
}

// Path returns the database path.
func (s *Store) Path() string { return s.path }

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, s.wrap("get", err)
	}
	return value, true, nil
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
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM settings WHERE substr(key, 1, ?) = ? ORDER BY key`, len(prefix), prefix)
	if err != nil {
		return nil, s.wrap("keys", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, s.wrap("keys", err)
		}
		out = append(out, k)
	}
	return out, s.wrap("keys", rows.Err())
}

// Apply runs ops in one transaction.
func (s *Store) Apply(ctx context.Context, ops []store.Op) error {
	if len(ops) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().Unix()
	for _, op := range ops {
		if op.Delete {
			_, err = tx.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, op.Key)
		} else {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
				op.Key, op.Value, now)
		}
		if err != nil {
			return s.wrap("apply "+op.Key, err)
		}
	}
	return s.wrap("commit", tx.Commit())
}

func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

func (s *Store) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "database is closed") {
		return fmt.Errorf("settings %s: %w", op, store.ErrClosed)
	}
	return fmt.Errorf("settings %s: %w", op, err)
}
