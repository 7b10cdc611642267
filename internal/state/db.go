// Package state provides SQLite-based persistence for Convoy: the task table,
// execution log, durable pause queue, fallback decision audit, agent records,
// and persisted high-priority bus messages.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps an SQLite database connection with Convoy-specific operations.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DefaultDBPath returns the default Convoy database location.
func DefaultDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "convoy", "convoy.db")
}

// Open opens an SQLite database at the given path.
// It creates the parent directories if they don't exist.
// WAL mode is enabled for concurrent reads.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &DB{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Tasks},
		{2, migrationV2ExecutionLog},
		{3, migrationV3PauseQueue},
		{4, migrationV4FallbackDecisions},
		{5, migrationV5Agents},
		{6, migrationV6Messages},
		{7, migrationV7Plans},
		{8, migrationV8ExecLogAgentID},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Migration SQL statements
const migrationV1Tasks = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	plan_id TEXT NOT NULL,
	request_id TEXT NOT NULL,
	trace_id TEXT NOT NULL,
	work_type TEXT NOT NULL,
	parameters TEXT,
	priority INTEGER NOT NULL DEFAULT 3,
	status TEXT NOT NULL DEFAULT 'pending',
	dependencies TEXT,
	assigned_to TEXT,
	estimated_resources TEXT,
	actual_resources TEXT,
	error TEXT,
	retry_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	started_at DATETIME,
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_tasks_plan_id ON tasks(plan_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_request_id ON tasks(request_id);
`

const migrationV2ExecutionLog = `
CREATE TABLE IF NOT EXISTS execution_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT NOT NULL,
	step_number INTEGER NOT NULL,
	agent_type TEXT,
	action TEXT NOT NULL,
	status TEXT NOT NULL,
	output_summary TEXT,
	service_tag TEXT,
	timestamp DATETIME NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_execlog_task_id ON execution_log(task_id);
CREATE INDEX IF NOT EXISTS idx_execlog_status ON execution_log(status);
CREATE INDEX IF NOT EXISTS idx_execlog_timestamp ON execution_log(timestamp);
CREATE INDEX IF NOT EXISTS idx_execlog_service_tag ON execution_log(service_tag);
`

const migrationV3PauseQueue = `
CREATE TABLE IF NOT EXISTS pause_queue (
	task_id TEXT PRIMARY KEY,
	paused_at DATETIME NOT NULL,
	reason TEXT NOT NULL,
	resumed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_pause_queue_resumed ON pause_queue(resumed_at);
`

const migrationV4FallbackDecisions = `
CREATE TABLE IF NOT EXISTS fallback_decisions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT NOT NULL,
	backend TEXT NOT NULL,
	reason TEXT NOT NULL,
	quota_remaining REAL NOT NULL,
	tokens INTEGER NOT NULL DEFAULT 0,
	cost REAL NOT NULL DEFAULT 0.0,
	succeeded INTEGER NOT NULL DEFAULT 0,
	timestamp DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fallback_task_id ON fallback_decisions(task_id);
`

const migrationV5Agents = `
CREATE TABLE IF NOT EXISTS agents (
	agent_id TEXT PRIMARY KEY,
	agent_type TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'offline',
	capabilities TEXT,
	resources TEXT,
	current_task_id TEXT,
	last_heartbeat_at DATETIME,
	last_assigned_at DATETIME,
	performance_score REAL NOT NULL DEFAULT 1.0
);
`

const migrationV6Messages = `
CREATE TABLE IF NOT EXISTS messages (
	message_id TEXT PRIMARY KEY,
	channel TEXT NOT NULL,
	envelope TEXT NOT NULL,
	persisted_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel);
`

const migrationV7Plans = `
CREATE TABLE IF NOT EXISTS plans (
	id TEXT PRIMARY KEY,
	request_id TEXT NOT NULL,
	trace_id TEXT NOT NULL,
	request_text TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'draft',
	complexity TEXT NOT NULL DEFAULT 'simple',
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_plans_request_id ON plans(request_id);
CREATE INDEX IF NOT EXISTS idx_plans_status ON plans(status);
`

const migrationV8ExecLogAgentID = `
ALTER TABLE execution_log ADD COLUMN agent_id TEXT;
`

// Exec executes a query that doesn't return rows.
func (db *DB) Exec(query string, args ...any) (sql.Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Exec(query, args...)
}

// Query executes a query that returns rows.
func (db *DB) Query(query string, args ...any) (*sql.Rows, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row.
func (db *DB) QueryRow(query string, args ...any) *sql.Row {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.QueryRow(query, args...)
}

// Transaction runs the given function within a transaction.
func (db *DB) Transaction(fn func(tx *sql.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// parseNullableTime parses a nullable time string from SQLite.
func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}
