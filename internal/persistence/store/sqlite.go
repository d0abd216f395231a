// Package store is the durable home of mount records and active-placement rows.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"simplemounts.ai/internal/mounterr"
)

// SQLite is the PersistenceStore backed by a single SQLite file. Every method is safe for
// concurrent use; the store serializes access through one connection.
type SQLite struct {
	db  *sql.DB
	now func() time.Time

	once   sync.Once
	closed atomic.Bool
}

// Option configures Open.
type Option func(*SQLite)

// WithClock overrides the time source used for created/accessed/spawned timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *SQLite) { s.now = now }
}

// ErrClosed is returned by every method after Close.
var ErrClosed = errors.New("store: closed")

// Open creates or opens the database at path, applies pragmas and runs forward
// migrations.
func Open(ctx context.Context, path string, opts ...Option) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &SQLite{db: db, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func initPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the connection. It is safe to call more than once.
func (s *SQLite) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		err = s.db.Close()
	})
	return err
}

func (s *SQLite) ready(op string) error {
	if s == nil || s.closed.Load() {
		return mounterr.Persistence(op, ErrClosed)
	}
	return nil
}

func (s *SQLite) nowMillis() int64 { return s.now().UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// GetConfig reads a value from the generic key/value table.
func (s *SQLite) GetConfig(ctx context.Context, key string) (string, bool, error) {
	const op = "store.get_config"
	if err := s.ready(op); err != nil {
		return "", false, err
	}
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config_kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, mounterr.Persistence(op, err)
	}
	return v, true, nil
}

// SetConfig writes a value to the generic key/value table.
func (s *SQLite) SetConfig(ctx context.Context, key, value string) error {
	const op = "store.set_config"
	if err := s.ready(op); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO config_kv(key, value) VALUES(?, ?)`, key, value); err != nil {
		return mounterr.Persistence(op, err)
	}
	return nil
}
