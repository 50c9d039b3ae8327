// Package sqlite provides SQLite-based persistent storage for the
// marketplace node: the terminal-task archive, the settlement journal,
// and node metadata. Uses WAL mode for concurrent reads and crash-safe
// writes.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/state.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Connection pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		// Terminal tasks, evicted from the live store on settlement
		`CREATE TABLE IF NOT EXISTS archived_tasks (
			id           TEXT PRIMARY KEY,
			requester    TEXT NOT NULL,
			type         TEXT NOT NULL,
			status       TEXT NOT NULL,
			input_ref    TEXT NOT NULL DEFAULT '',
			output_spec  TEXT NOT NULL DEFAULT '',
			bounty       INTEGER NOT NULL,
			deadline     INTEGER NOT NULL,
			verify_mode  TEXT NOT NULL DEFAULT '',
			claimed_by   TEXT,
			output_ref   TEXT,
			output_hash  TEXT,
			compute_ms   INTEGER NOT NULL DEFAULT 0,
			created_at   INTEGER NOT NULL,
			submitted_at INTEGER,
			settled_at   INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_archived_requester ON archived_tasks(requester)`,
		`CREATE INDEX IF NOT EXISTS idx_archived_worker ON archived_tasks(claimed_by)`,
		`CREATE INDEX IF NOT EXISTS idx_archived_settled ON archived_tasks(settled_at)`,

		// Append-only record of every settlement ledger mutation
		`CREATE TABLE IF NOT EXISTS settlement_journal (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			op        TEXT NOT NULL,
			account   TEXT NOT NULL,
			peer      TEXT,
			amount    INTEGER NOT NULL,
			ref       TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_journal_account ON settlement_journal(account)`,
		`CREATE INDEX IF NOT EXISTS idx_journal_ref ON settlement_journal(ref)`,

		// Node metadata (address, first-boot time)
		`CREATE TABLE IF NOT EXISTS node_info (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Node Info ──────────────────────────────────────────────────────────────

// SetNodeInfo stores a key-value pair in node_info.
func (d *DB) SetNodeInfo(key, value string) error {
	_, err := d.db.Exec(
		`INSERT INTO node_info (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}

// GetNodeInfo retrieves a value from node_info.
func (d *DB) GetNodeInfo(key string) (string, error) {
	var value string
	err := d.db.QueryRow(`SELECT value FROM node_info WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}
