// Package store persists image metadata in a SQLite database keyed by the
// (directory, filename) composite primary key.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
	CREATE TABLE image (
		directory TEXT NOT NULL,
		filename  TEXT NOT NULL,
		hash_hex  TEXT,
		size_mib  NUMERIC,
		present   BOOLEAN,
		PRIMARY KEY (directory, filename)
	);
`

// Store is the metadata store. It is owned by a single process; the schema
// is created by Rebuild, not Open, so a fresh database file is
// distinguishable from an established store.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the metadata database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.configure(); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure metadata store: %w", err)
	}
	return s, nil
}

func (s *Store) configure() error {
	// Single writer; a pool would only add lock contention.
	s.db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Initialized reports whether the image table exists.
func (s *Store) Initialized(ctx context.Context) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='image'").Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Rebuild drops and recreates the store with the given records, all marked
// present. The drop, create and inserts run in one transaction: an observer
// sees the old store or the new one, never a partial table.
func (s *Store) Rebuild(ctx context.Context, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS image"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create image table: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO image (directory, filename, hash_hex, size_mib, present) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.Key.Directory, r.Key.Filename, r.HashHex, r.SizeMiB, true); err != nil {
			return fmt.Errorf("insert %s: %w", r.Key.Path(), err)
		}
	}

	return tx.Commit()
}

// MarkAllAbsent clears the present flag on every record. Run at the start of
// an incremental sync pass; the pass re-marks what it finds on disk.
func (s *Store) MarkAllAbsent(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "UPDATE image SET present=FALSE")
	return err
}

// Exists reports whether a record with the given key is stored.
func (s *Store) Exists(ctx context.Context, key Key) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM image WHERE directory=? AND filename=?",
		key.Directory, key.Filename).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// SetPresent marks the record with the given key present.
func (s *Store) SetPresent(ctx context.Context, key Key) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE image SET present=TRUE WHERE directory=? AND filename=?",
		key.Directory, key.Filename)
	return err
}

// Upsert inserts or replaces the record for its key.
func (s *Store) Upsert(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO image (directory, filename, hash_hex, size_mib, present) VALUES (?, ?, ?, ?, ?)",
		r.Key.Directory, r.Key.Filename, r.HashHex, r.SizeMiB, r.Present)
	return err
}

// DeleteAbsent removes every record not marked present and returns how many
// were removed.
func (s *Store) DeleteAbsent(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM image WHERE present=FALSE")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// AllEntries returns the full snapshot of index entries derivable from the
// store, present or not. The synchronizer compares this set against the
// metric index to detect drift.
func (s *Store) AllEntries(ctx context.Context) (map[Entry]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT hash_hex, directory, filename FROM image")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make(map[Entry]struct{})
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.HashHex, &e.Directory, &e.Filename); err != nil {
			return nil, err
		}
		entries[e] = struct{}{}
	}
	return entries, rows.Err()
}

// LookupHash returns the locations of every record with an exactly equal
// fingerprint. Used by exact-mode search.
func (s *Store) LookupHash(ctx context.Context, hashHex string) ([]Location, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT directory, filename FROM image WHERE hash_hex=?", hashHex)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var locs []Location
	for rows.Next() {
		var l Location
		if err := rows.Scan(&l.Directory, &l.Filename); err != nil {
			return nil, err
		}
		locs = append(locs, l)
	}
	return locs, rows.Err()
}
