package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS exports (
	name          TEXT PRIMARY KEY,
	source_path   TEXT NOT NULL,
	source_mtime  TEXT NOT NULL,
	source_hash   TEXT NOT NULL,
	settings_hash TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS pages (
	export       TEXT NOT NULL REFERENCES exports(name) ON DELETE CASCADE,
	page_id      TEXT NOT NULL,
	title        TEXT NOT NULL,
	output_path  TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	converted_at TEXT NOT NULL,
	PRIMARY KEY (export, page_id)
);
`

// SQLiteStore keeps the state in a SQLite database. Save replaces the whole
// state in one transaction.
type SQLiteStore struct {
	path string
	db   *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=10000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{path: path, db: db}, nil
}

// migrate adds columns that databases created by older versions lack.
func migrate(ctx context.Context, db *sql.DB) error {
	var n int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info('exports') WHERE name = 'settings_hash'`,
	).Scan(&n); err != nil {
		return fmt.Errorf("failed to inspect schema: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := db.ExecContext(ctx, `ALTER TABLE exports ADD COLUMN settings_hash TEXT NOT NULL DEFAULT ''`); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Location() string {
	return s.path
}

func (s *SQLiteStore) Exists(ctx context.Context) bool {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM meta`).Scan(&n); err != nil {
		return false
	}
	return n > 0
}

func (s *SQLiteStore) Load(ctx context.Context) (*BuildState, error) {
	bs := New()
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return nil, fmt.Errorf("failed to load meta: %w", err)
	}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			_ = rows.Close()
			return nil, err
		}
		switch key {
		case "version":
			bs.Version = value
		case "settings_hash":
			bs.SettingsHash = value
		}
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT name, source_path, source_mtime, source_hash, settings_hash FROM exports`)
	if err != nil {
		return nil, fmt.Errorf("failed to load exports: %w", err)
	}
	for rows.Next() {
		var name, mtime string
		e := &ExportState{Pages: map[string]*PageState{}}
		if err := rows.Scan(&name, &e.SourcePath, &mtime, &e.SourceHash, &e.SettingsHash); err != nil {
			_ = rows.Close()
			return nil, err
		}
		e.SourceMtime = parseTimestamp(mtime)
		bs.Exports[name] = e
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT export, page_id, title, output_path, content_hash, converted_at FROM pages`)
	if err != nil {
		return nil, fmt.Errorf("failed to load pages: %w", err)
	}
	for rows.Next() {
		var export, id, convertedAt string
		p := &PageState{}
		if err := rows.Scan(&export, &id, &p.Title, &p.OutputPath, &p.ContentHash, &convertedAt); err != nil {
			_ = rows.Close()
			return nil, err
		}
		p.ConvertedAt = parseTimestamp(convertedAt)
		if e, ok := bs.Exports[export]; ok {
			e.Pages[id] = p
		}
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}
	return bs, nil
}

func (s *SQLiteStore) Save(ctx context.Context, bs *BuildState) error {
	return s.transaction(ctx, func(tx *sql.Tx) error {
		if err := clearTx(ctx, tx); err != nil {
			return err
		}
		return saveTx(ctx, tx, bs)
	})
}

func (s *SQLiteStore) transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func clearTx(ctx context.Context, tx *sql.Tx) error {
	for _, stmt := range []string{`DELETE FROM pages`, `DELETE FROM exports`, `DELETE FROM meta`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to clear state: %w", err)
		}
	}
	return nil
}

func saveTx(ctx context.Context, tx *sql.Tx, bs *BuildState) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES ('version', ?), ('settings_hash', ?)`, bs.Version, bs.SettingsHash); err != nil {
		return fmt.Errorf("failed to save meta: %w", err)
	}
	for name, e := range bs.Exports {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO exports (name, source_path, source_mtime, source_hash, settings_hash) VALUES (?, ?, ?, ?, ?)`,
			name, e.SourcePath, formatTime(e.SourceMtime), e.SourceHash, e.SettingsHash,
		); err != nil {
			return fmt.Errorf("failed to save export %s: %w", name, err)
		}
		for id, p := range e.Pages {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO pages (export, page_id, title, output_path, content_hash, converted_at) VALUES (?, ?, ?, ?, ?, ?)`,
				name, id, p.Title, p.OutputPath, p.ContentHash, formatTime(p.ConvertedAt),
			); err != nil {
				return fmt.Errorf("failed to save page %s: %w", id, err)
			}
		}
	}
	return nil
}

func (s *SQLiteStore) Reset(ctx context.Context) error {
	return s.transaction(ctx, func(tx *sql.Tx) error {
		return clearTx(ctx, tx)
	})
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	return rows.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
