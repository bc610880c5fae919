// Package database opens the backend's SQLite store and applies schema
// migrations.
//
// Two tables survive process restarts: the durable notification queue and the
// command result cache. Everything else in the pipeline is in-memory state.
package database

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	*sql.DB
}

// migrations maps a version tag to the schema statements it applies.
// Applied versions are tracked in schema_migrations and never re-run.
var migrations = []struct {
	version string
	schema  string
}{
	{
		version: "001_initial",
		schema: `
CREATE TABLE IF NOT EXISTS notification_queue (
	id TEXT PRIMARY KEY,
	recipient TEXT NOT NULL,
	type TEXT NOT NULL,
	priority INTEGER NOT NULL,
	title TEXT NOT NULL,
	body TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	attempts INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_notification_queue_recipient
	ON notification_queue(recipient, created_at);

CREATE TABLE IF NOT EXISTS command_cache (
	workspace_id TEXT NOT NULL,
	cache_key TEXT NOT NULL,
	data TEXT NOT NULL,
	execution_time_ms INTEGER NOT NULL DEFAULT 0,
	expires_at DATETIME NOT NULL,
	PRIMARY KEY (workspace_id, cache_key)
);
CREATE INDEX IF NOT EXISTS idx_command_cache_expiry
	ON command_cache(expires_at);
`,
	},
}

// Open opens a connection to the SQLite database and runs migrations.
func Open(dbPath string) (*DB, error) {
	dsn := dbPath
	if !strings.Contains(dsn, "?") {
		dsn += "?_foreign_keys=on&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DB{db}, nil
}

// OpenInMemory opens a throwaway in-memory database, for tests.
func OpenInMemory() (*DB, error) {
	db, err := Open("file::memory:?mode=memory&cache=shared")
	if err != nil {
		return nil, err
	}
	// A second connection to a shared-cache in-memory db hits table locks.
	db.SetMaxOpenConns(1)
	return db, nil
}

func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, m := range migrations {
		var count int
		err = db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check migration status: %w", err)
		}
		if count > 0 {
			continue
		}

		if _, err := db.Exec(m.schema); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", m.version, err)
		}
		if _, err := db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", m.version, err)
		}
	}
	return nil
}
