// Package persistence is the transactional embedded relational store behind
// AMPERE's tickets, threads, knowledge entries, and event log. It owns
// schema migration and connection setup; domain packages (ticket, thread,
// knowledge, bus) hold the DB handle and issue their own statements.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	schemaVersion  = 1
	schemaChecksum = "ampere-v1-coordination-core"
)

// Store wraps a single-writer sqlite database. All mutation goes through
// retryOnBusy so a concurrent writer (the retention sweep, a background
// agent) never surfaces a raw SQLITE_BUSY to a caller.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the default on-disk location for the core database.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".ampere", "ampere.db")
}

// Open creates (if needed) and migrates the sqlite database at path. An
// empty path resolves to DefaultDBPath.
func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultDBPath()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.configurePragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle to sibling repository packages
// (ticket, thread, knowledge) that issue their own statements against
// tables this package creates.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) configurePragmas(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var maxVersion int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&maxVersion); err != nil {
		return fmt.Errorf("read migration max version: %w", err)
	}
	if maxVersion > schemaVersion {
		return fmt.Errorf("db schema version %d is newer than supported %d", maxVersion, schemaVersion)
	}
	if maxVersion == schemaVersion {
		var existing string
		if err := tx.QueryRowContext(ctx, `SELECT checksum FROM schema_migrations WHERE version = ?;`, schemaVersion).Scan(&existing); err != nil {
			return fmt.Errorf("read schema checksum: %w", err)
		}
		if existing != schemaChecksum {
			return fmt.Errorf("schema checksum mismatch for version %d: got %q want %q", schemaVersion, existing, schemaChecksum)
		}
		return tx.Commit()
	}

	for _, stmt := range tableStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	for _, stmt := range indexStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply index: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO schema_migrations (version, checksum) VALUES (?, ?);
	`, schemaVersion, schemaChecksum); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	return tx.Commit()
}

var tableStatements = []string{
	`CREATE TABLE IF NOT EXISTS ticket (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		ticket_type TEXT NOT NULL,
		priority TEXT NOT NULL,
		status TEXT NOT NULL,
		assigned_agent_id TEXT,
		created_by_agent_id TEXT NOT NULL,
		thread_id TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		due_date INTEGER
	);`,
	`CREATE TABLE IF NOT EXISTS ticket_meeting (
		ticket_id TEXT NOT NULL REFERENCES ticket(id),
		meeting_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (ticket_id, meeting_id)
	);`,
	`CREATE TABLE IF NOT EXISTS knowledge_entry (
		id TEXT PRIMARY KEY,
		agent_id TEXT,
		knowledge_type TEXT NOT NULL,
		approach TEXT NOT NULL,
		learnings TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		task_type TEXT,
		complexity_level TEXT,
		source_id TEXT NOT NULL,
		idea_id TEXT,
		outcome_id TEXT,
		perception_id TEXT,
		plan_id TEXT,
		task_id TEXT
	);`,
	`CREATE TABLE IF NOT EXISTS knowledge_tag (
		knowledge_id TEXT NOT NULL REFERENCES knowledge_entry(id),
		tag TEXT NOT NULL,
		PRIMARY KEY (knowledge_id, tag)
	);`,
	`CREATE TABLE IF NOT EXISTS event_log (
		event_id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		event_class_type TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		urgency TEXT NOT NULL,
		source_kind TEXT NOT NULL,
		source_id TEXT,
		payload BLOB NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS message_thread (
		id TEXT PRIMARY KEY,
		ticket_id TEXT,
		channel TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS message (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL REFERENCES message_thread(id),
		author_id TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS thread_participant (
		thread_id TEXT NOT NULL REFERENCES message_thread(id),
		agent_id TEXT NOT NULL,
		PRIMARY KEY (thread_id, agent_id)
	);`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trace_id TEXT,
		subject TEXT,
		action TEXT,
		decision TEXT,
		reason TEXT,
		ruleset_version TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
}

var indexStatements = []string{
	`CREATE INDEX IF NOT EXISTS idx_ticket_status ON ticket(status);`,
	`CREATE INDEX IF NOT EXISTS idx_ticket_assigned ON ticket(assigned_agent_id);`,
	`CREATE INDEX IF NOT EXISTS idx_ticket_due_date ON ticket(due_date);`,
	`CREATE INDEX IF NOT EXISTS idx_knowledge_timestamp ON knowledge_entry(timestamp);`,
	`CREATE INDEX IF NOT EXISTS idx_knowledge_type ON knowledge_entry(knowledge_type);`,
	`CREATE INDEX IF NOT EXISTS idx_knowledge_task_type ON knowledge_entry(task_type);`,
	`CREATE INDEX IF NOT EXISTS idx_knowledge_tag_tag ON knowledge_tag(tag);`,
	`CREATE INDEX IF NOT EXISTS idx_event_log_timestamp ON event_log(timestamp);`,
	`CREATE INDEX IF NOT EXISTS idx_message_thread_id ON message(thread_id);`,
}

// isSQLiteBusy reports whether err is a SQLITE_BUSY or SQLITE_LOCKED error.
// Matched against the error string, not the driver type, so callers never
// need to import mattn/go-sqlite3 directly.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") ||
		strings.Contains(msg, "(6)")
}

// retryOnBusy retries f with bounded exponential backoff and jitter while it
// keeps failing with a busy/locked error. Shared by every repository package
// that writes through this Store's single connection.
func retryOnBusy(ctx context.Context, f func() error) error {
	const maxRetries = 5
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.IntN(int(delay/2) + 1))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// RetryOnBusy exports retryOnBusy for sibling repository packages.
func RetryOnBusy(ctx context.Context, f func() error) error {
	return retryOnBusy(ctx, f)
}
