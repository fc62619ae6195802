// Package store is the relational system of record for jobs and
// settings. It opens a SQLite database, evolves its schema forward-only
// (inspect existing columns, append what's missing, never drop or
// rename), and exposes typed CRUD for jobs, settings and upload
// sidecars.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store wraps a *sql.DB opened against a single SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and runs
// the forward-only migration.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// A single writer connection avoids SQLITE_BUSY under the builds
	// queue's concurrency=1 / controls queue's concurrency=4 write load;
	// reads still interleave fine through WAL mode.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable foreign_keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// Ping is used by the readiness probe (C9's GET /readyz: broker ping
// and store SELECT 1).
func (s *Store) Ping(ctx context.Context) error {
	var one int
	return s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one)
}
