// Package store implements the gateway's embedded relational store: a
// single SQLite database holding users, sessions, API tokens, hub
// configs, tool permissions, append-only request/error/log records and
// system keys. There is one writer at a time (serialized by a mutex on
// top of SQLite's own locking) and many concurrent readers.
package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
	"github.com/rs/zerolog/log"
)

// sqlxTx is a short alias used across the store's per-table files.
type sqlxTx = sqlx.Tx

// Store wraps a SQLite connection pool with a single-writer,
// many-reader serialization contract.
type Store struct {
	db      *sqlx.DB
	writeMu sync.Mutex
}

// Open creates (or attaches to) the embedded database file at path,
// enables WAL mode for reader/writer concurrency, and applies any
// pending migrations before returning.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sqlx.ConnectContext(ctx, "sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}

	db.SetMaxOpenConns(8)

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info().Str("path", path).Msg("store opened")
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// withWrite serializes a write transaction through the store's single
// writer lock, matching the "writers are serialized" invariant.
func (s *Store) withWrite(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// timeLayout is used to store timestamps as sortable, round-trippable
// TEXT values in SQLite.
const timeLayout = time.RFC3339Nano

// now returns the current UTC time truncated to millisecond precision
// so that timestamps round-trip cleanly through SQLite's text storage.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}

// translateUniqueErr maps a SQLite UNIQUE constraint violation to
// ErrConflict so callers don't need to know the underlying driver's
// error text.
func translateUniqueErr(err error) error {
	if err == nil {
		return nil
	}
	if containsUniqueViolation(err.Error()) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func containsUniqueViolation(msg string) bool {
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
