// Package dbopen opens the SQLite database that holds fouille's user
// preferences and search history, with production-safe pragmas applied via
// EXEC so the code stays driver-agnostic.
//
// Default pragmas:
//
//	foreign_keys = ON
//	journal_mode = WAL
//	busy_timeout = 10000
//	synchronous  = NORMAL
//
// Usage:
//
//	import _ "modernc.org/sqlite"
//	db, err := dbopen.Open("data/fouille.db", dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
//
// In tests:
//
//	db := dbopen.OpenMemory(t, dbopen.WithSchema(schema))
package dbopen

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

type config struct {
	busyTimeout int
	synchronous string
	mkdirAll    bool
	schemas     []string
}

func defaults() config {
	return config{
		busyTimeout: 10_000,
		synchronous: "NORMAL",
	}
}

var synchronousModes = []string{"OFF", "NORMAL", "FULL", "EXTRA"}

// Option customises Open behaviour.
type Option func(*config)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Values <= 0 keep
// the default of 10000.
func WithBusyTimeout(ms int) Option {
	return func(c *config) {
		if ms > 0 {
			c.busyTimeout = ms
		}
	}
}

// WithSynchronous sets PRAGMA synchronous (OFF, NORMAL, FULL or EXTRA, any
// case). Empty keeps the default "NORMAL".
func WithSynchronous(mode string) Option {
	return func(c *config) {
		if mode != "" {
			c.synchronous = strings.ToUpper(mode)
		}
	}
}

// WithMkdirAll creates parent directories of the database path before opening.
func WithMkdirAll() Option { return func(c *config) { c.mkdirAll = true } }

// WithSchema queues SQL to execute after pragmas are applied. Statements
// must be idempotent (CREATE ... IF NOT EXISTS).
func WithSchema(s string) Option { return func(c *config) { c.schemas = append(c.schemas, s) } }

// Open opens an SQLite database at path. The caller must blank-import the
// driver (modernc.org/sqlite registers "sqlite").
func Open(path string, opts ...Option) (*sql.DB, error) {
	cfg := defaults()
	for _, o := range opts {
		o(&cfg)
	}
	// SQLite silently maps unknown modes to a default.
	if !slices.Contains(synchronousModes, cfg.synchronous) {
		return nil, fmt.Errorf("dbopen: synchronous mode %q not one of %v", cfg.synchronous, synchronousModes)
	}

	if cfg.mkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("dbopen: open: %w", err)
	}
	if err := setup(db, &cfg); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// OpenMemory opens an in-memory database for tests. MaxOpenConns is pinned
// to 1 since every ":memory:" connection is a distinct database.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func setup(db *sql.DB, cfg *config) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout),
		"PRAGMA synchronous = " + cfg.synchronous,
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("dbopen: %s: %w", p, err)
		}
	}
	for _, s := range cfg.schemas {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("dbopen: exec schema: %w", err)
		}
	}
	if err := db.Ping(); err != nil {
		return fmt.Errorf("dbopen: ping: %w", err)
	}
	return nil
}
