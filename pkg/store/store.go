// Package store owns the core's persisted state: pending reviews, blocked
// suggestions, metadata annotations, processing logs, settings overrides, and
// job records. The DMS remains authoritative for documents and entities;
// nothing in here duplicates DMS state.
//
// One SQL database backs everything. SQLite is the zero-config default;
// PostgreSQL and MySQL are supported for multi-process installs.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/scribadev/scriba/pkg/config"

	// SQL drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Store wraps the SQL database. Concurrency is handled by database-level
// locking; SQLite additionally runs on a single connection.
type Store struct {
	db      *sql.DB
	dialect string
}

// Open connects to the configured database, applies pool settings, and
// creates the schema.
func Open(cfg *config.DatabaseConfig) (*Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}

	driverName := cfg.DriverName()

	db, err := sql.Open(driverName, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time. A single connection
	// serializes all access and prevents "database is locked" errors.
	if driverName == "sqlite3" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		if cfg.MaxConns > 0 {
			db.SetMaxOpenConns(cfg.MaxConns)
		}
		if cfg.MaxIdle > 0 {
			db.SetMaxIdleConns(cfg.MaxIdle)
		}
	}
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driverName == "sqlite3" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			slog.Warn("Failed to enable WAL mode", "error", err)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=10000"); err != nil {
			slog.Warn("Failed to set busy timeout", "error", err)
		}
	}

	return New(db, cfg.Dialect())
}

// New wraps an existing database handle. Used by tests.
func New(db *sql.DB, dialect string) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	switch dialect {
	case "postgres", "mysql", "sqlite", "sqlite3":
		if dialect == "sqlite3" {
			dialect = "sqlite"
		}
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &Store{
		db:      db,
		dialect: dialect,
	}

	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dialect returns the normalized dialect name.
func (s *Store) Dialect() string {
	return s.dialect
}

const createPendingReviewsSQL = `
CREATE TABLE IF NOT EXISTS pending_reviews (
    id VARCHAR(64) PRIMARY KEY,
    doc_id INTEGER NOT NULL DEFAULT 0,
    doc_title TEXT,
    kind VARCHAR(32) NOT NULL,
    suggestion TEXT NOT NULL,
    reasoning TEXT,
    alternatives_json TEXT,
    attempts INTEGER NOT NULL DEFAULT 0,
    last_feedback TEXT,
    next_tag VARCHAR(128),
    metadata_json TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

const createPendingReviewsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_pending_reviews_doc_kind ON pending_reviews(doc_id, kind)`

const createBlockedSuggestionsSQL = `
CREATE TABLE IF NOT EXISTS blocked_suggestions (
    id VARCHAR(64) PRIMARY KEY,
    name TEXT NOT NULL,
    normalized_name TEXT NOT NULL,
    scope VARCHAR(16) NOT NULL,
    kind VARCHAR(32),
    reason TEXT,
    category VARCHAR(64),
    doc_id INTEGER,
    created_at TIMESTAMP NOT NULL
)`

const createBlockedSuggestionsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_blocked_suggestions_name ON blocked_suggestions(normalized_name)`

const createTagMetadataSQL = `
CREATE TABLE IF NOT EXISTS tag_metadata (
    target_id INTEGER PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    description TEXT,
    category VARCHAR(64),
    exclude_from_analysis BOOLEAN NOT NULL DEFAULT FALSE,
    updated_at TIMESTAMP NOT NULL
)`

const createCustomFieldMetadataSQL = `
CREATE TABLE IF NOT EXISTS custom_field_metadata (
    target_id INTEGER PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    description TEXT,
    category VARCHAR(64),
    exclude_from_analysis BOOLEAN NOT NULL DEFAULT FALSE,
    updated_at TIMESTAMP NOT NULL
)`

const createSettingsSQL = `
CREATE TABLE IF NOT EXISTS settings (
    setting_key VARCHAR(128) PRIMARY KEY,
    setting_value TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

const createJobsSQL = `
CREATE TABLE IF NOT EXISTS jobs (
    id VARCHAR(64) PRIMARY KEY,
    status VARCHAR(32) NOT NULL,
    progress_json TEXT,
    schedule VARCHAR(128),
    updated_at TIMESTAMP NOT NULL
)`

const createProcessingLogIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_processing_log_doc ON processing_log(doc_id, seq)`

// createProcessingLogSQL needs a dialect-specific auto-increment column so
// that insert order is reconstructible.
func (s *Store) createProcessingLogSQL() string {
	switch s.dialect {
	case "postgres":
		return `
CREATE TABLE IF NOT EXISTS processing_log (
    seq BIGSERIAL PRIMARY KEY,
    id VARCHAR(64) NOT NULL UNIQUE,
    doc_id INTEGER NOT NULL,
    step VARCHAR(64),
    event_type VARCHAR(32) NOT NULL,
    payload TEXT,
    parent_id VARCHAR(64),
    created_at TIMESTAMP NOT NULL
)`
	case "mysql":
		return `
CREATE TABLE IF NOT EXISTS processing_log (
    seq BIGINT AUTO_INCREMENT PRIMARY KEY,
    id VARCHAR(64) NOT NULL UNIQUE,
    doc_id INTEGER NOT NULL,
    step VARCHAR(64),
    event_type VARCHAR(32) NOT NULL,
    payload TEXT,
    parent_id VARCHAR(64),
    created_at TIMESTAMP NOT NULL
)`
	default: // sqlite
		return `
CREATE TABLE IF NOT EXISTS processing_log (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id VARCHAR(64) NOT NULL UNIQUE,
    doc_id INTEGER NOT NULL,
    step VARCHAR(64),
    event_type VARCHAR(32) NOT NULL,
    payload TEXT,
    parent_id VARCHAR(64),
    created_at TIMESTAMP NOT NULL
)`
	}
}

// initSchema creates the required tables if they don't exist.
// Statements execute separately for SQLite compatibility.
func (s *Store) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	statements := []string{
		createPendingReviewsSQL,
		createPendingReviewsIndexSQL,
		createBlockedSuggestionsSQL,
		createBlockedSuggestionsIndexSQL,
		createTagMetadataSQL,
		createCustomFieldMetadataSQL,
		createSettingsSQL,
		createJobsSQL,
		s.createProcessingLogSQL(),
		createProcessingLogIndexSQL,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

// rebind rewrites ? placeholders to $1..$n for postgres. The non-placeholder
// dialect differences (upserts) keep explicit per-dialect query builders.
func (s *Store) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
