// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS profiles (
  id TEXT NOT NULL PRIMARY KEY,
  document TEXT NOT NULL,
  updated_at INTEGER NOT NULL
);
`

// SQLiteStore is a Store backed by a SQLite database file.
type SQLiteStore struct {
	db      *sql.DB
	nowFunc func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLiteStore opens, and creates when missing, the database at path.
//
// Supported options: WithNow
func OpenSQLiteStore(path string, opt ...Option) (*SQLiteStore, error) {
	const op = "profile.OpenSQLiteStore"
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%s: path is empty: %w", op, ErrInvalidParameter)
	}
	opts := getStoreOpts(opt...)

	// _txlock=immediate serializes read-merge-write upserts
	dsn := "file:" + filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to open sqlite db: %w", op, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: unable to ping sqlite db: %w", op, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: unable to create schema: %w", op, err)
	}
	return &SQLiteStore{db: db, nowFunc: opts.withNowFunc}, nil
}

// Close releases the underlying database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Upsert reads, merges and writes the record for id in one transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, id string, p *Profile) (retErr error) {
	const op = "SQLiteStore.Upsert"
	if err := validateID(op, id); err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%s: profile is nil: %w", op, ErrNilParameter)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: unable to begin transaction: %w", op, err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	current, err := getProfile(ctx, tx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		current = &Profile{}
	case err != nil:
		return fmt.Errorf("%s: %w", op, err)
	}
	current.Merge(p)
	current.UpdatedAt = s.nowFunc().UTC()

	doc, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("%s: unable to encode profile: %w", op, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO profiles (id, document, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		id, string(doc), current.UpdatedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("%s: unable to write profile %q: %w", op, id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: unable to commit: %w", op, err)
	}
	return nil
}

// Get returns the record for id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Profile, error) {
	const op = "SQLiteStore.Get"
	p, err := getProfile(ctx, s.db, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func getProfile(ctx context.Context, q queryRower, id string) (*Profile, error) {
	var doc string
	err := q.QueryRowContext(ctx, `SELECT document FROM profiles WHERE id = ?`, id).Scan(&doc)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("%q: %w", id, ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("unable to read profile %q: %w", id, err)
	}
	var p Profile
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, fmt.Errorf("unable to decode profile %q: %w", id, err)
	}
	return &p, nil
}
