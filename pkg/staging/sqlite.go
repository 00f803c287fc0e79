// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-objsync.
//
// go-objsync is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package staging

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jeremyhahn/go-objsync/pkg/common"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS staging_list (
	collection TEXT NOT NULL,
	key        TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	value      BLOB NOT NULL,
	PRIMARY KEY (collection, key)
);
CREATE INDEX IF NOT EXISTS staging_list_order ON staging_list (collection, seq);
CREATE TABLE IF NOT EXISTS staging_doc (
	name  TEXT PRIMARY KEY,
	value BLOB NOT NULL
);`

// SQLite is a staging factory backed by a single SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite creates or opens the staging database at path. Use ":memory:"
// for a private in-memory database.
func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, common.ErrPathNotSet
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// List returns a handle on the named list collection.
func (s *SQLite) List(name string) (common.ListStore, error) {
	if name == "" {
		return nil, common.ErrStoreRequired
	}
	return &sqliteList{db: s.db, collection: name}, nil
}

// Singleton returns a handle on the named singleton document.
func (s *SQLite) Singleton(name string) (common.SingletonStore, error) {
	if name == "" {
		return nil, common.ErrStoreRequired
	}
	return &sqliteDoc{db: s.db, name: name}, nil
}

// DangerousClearAll deletes every staged row.
func (s *SQLite) DangerousClearAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM staging_list`); err != nil {
		return fmt.Errorf("failed to clear lists: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM staging_doc`); err != nil {
		return fmt.Errorf("failed to clear documents: %w", err)
	}
	return tx.Commit()
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

type sqliteList struct {
	db         *sql.DB
	collection string
}

func (l *sqliteList) Put(ctx context.Context, records ...common.StagingRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	row := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM staging_list WHERE collection = ?`, l.collection)
	if err := row.Scan(&seq); err != nil {
		return fmt.Errorf("failed to read sequence: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO staging_list (collection, key, seq, value) VALUES (?, ?, ?, ?)
		ON CONFLICT (collection, key) DO UPDATE SET value = excluded.value`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()
	for _, r := range records {
		if r.Key == "" {
			return fmt.Errorf("%w: empty staging key", common.ErrInvalidAction)
		}
		seq++
		if _, err := stmt.ExecContext(ctx, l.collection, r.Key, seq, []byte(r.Value)); err != nil {
			return fmt.Errorf("failed to put %s: %w", r.Key, err)
		}
	}
	return tx.Commit()
}

func (l *sqliteList) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM staging_list WHERE collection = ? AND key = ?`, l.collection, k); err != nil {
			return fmt.Errorf("failed to delete %s: %w", k, err)
		}
	}
	return tx.Commit()
}

func (l *sqliteList) Clear(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM staging_list WHERE collection = ?`, l.collection)
	return err
}

func (l *sqliteList) ToArray(ctx context.Context, limit int) ([]common.StagingRecord, error) {
	query := `SELECT key, value FROM staging_list WHERE collection = ? ORDER BY seq ASC`
	args := []any{l.collection}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []common.StagingRecord
	for rows.Next() {
		var (
			key   string
			value []byte
		)
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		out = append(out, common.StagingRecord{Key: key, Value: json.RawMessage(value)})
	}
	return out, rows.Err()
}

type sqliteDoc struct {
	db   *sql.DB
	name string
}

func (d *sqliteDoc) SetValue(ctx context.Context, value json.RawMessage) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO staging_doc (name, value) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value`, d.name, []byte(value))
	return err
}

func (d *sqliteDoc) GetValue(ctx context.Context) (json.RawMessage, error) {
	var value []byte
	err := d.db.QueryRowContext(ctx, `SELECT value FROM staging_doc WHERE name = ?`, d.name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(value), nil
}
