// Package storage provides persistent storage using SQLite.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Common storage errors.
var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateReference is returned when a (refId, direction) pair
	// already exists in the ledger. Duplicates are a conflict, never an
	// overwrite.
	ErrDuplicateReference = errors.New("duplicate reference for direction")

	// ErrDuplicateKey is returned when an idempotency key already exists.
	ErrDuplicateKey = errors.New("duplicate idempotency key")

	// ErrIdempotencyConflict is returned when a key is replayed with a
	// different request hash.
	ErrIdempotencyConflict = errors.New("idempotency conflict")
)

// Storage provides persistent storage for the integration hub.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New creates a new Storage instance.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "hub.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{
		db:     db,
		dbPath: dbPath,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// initSchema creates all database tables.
func (s *Storage) initSchema() error {
	schema := `
	-- Transaction ledger: one row per (ref_id, direction).
	-- The ledger owns business-intent status; the outboxes own delivery.
	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ref_id TEXT NOT NULL,
		player_id TEXT NOT NULL,
		amount_cents INTEGER NOT NULL,
		currency TEXT NOT NULL,
		direction TEXT NOT NULL,              -- debit|credit
		status TEXT NOT NULL,                 -- initiated|sent|rejected|failed
		reason TEXT,
		balance_cents INTEGER,
		correlation_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,

		UNIQUE(ref_id, direction)
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_correlation ON transactions(correlation_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);

	-- Idempotency keys: replay coordination point for wallet ingress.
	CREATE TABLE IF NOT EXISTS idempotency_keys (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		key TEXT UNIQUE NOT NULL,
		request_hash TEXT NOT NULL,
		response_body BLOB NOT NULL,
		created_at INTEGER NOT NULL
	);

	-- Outbox queue toward the RGS (normalized webhook delivery).
	CREATE TABLE IF NOT EXISTS rgs_webhook_outbox (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		target_url TEXT NOT NULL,
		payload BLOB NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',  -- pending|sent|failed
		attempt_count INTEGER NOT NULL DEFAULT 0,
		next_attempt_at INTEGER NOT NULL,
		last_error TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rgs_outbox_status ON rgs_webhook_outbox(status, next_attempt_at);

	-- Outbox queue toward the Operator (wallet action delivery).
	CREATE TABLE IF NOT EXISTS operator_webhook_outbox (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		target_url TEXT NOT NULL,
		payload BLOB NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',  -- pending|sent|failed
		attempt_count INTEGER NOT NULL DEFAULT 0,
		next_attempt_at INTEGER NOT NULL,
		last_error TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_operator_outbox_status ON operator_webhook_outbox(status, next_attempt_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// ClearAll wipes every table. Admin-only; used by the clear-db endpoint and
// local test environments.
func (s *Storage) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{
		"transactions",
		"idempotency_keys",
		"rgs_webhook_outbox",
		"operator_webhook_outbox",
	} {
		if _, err := s.db.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// isConstraintErr reports whether an error is a SQLite uniqueness violation.
func isConstraintErr(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
