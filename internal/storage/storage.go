// Package storage provides persistent storage using SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DBFile is the database file name inside the data directory.
const DBFile = "xrpfusion.db"

// Sealer encrypts secrets before they touch disk. *wallet.Vault implements it.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// Storage persists swaps, orders, poll progress and sealed secrets.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
	sealer Sealer
}

// Config holds storage configuration.
type Config struct {
	DataDir string
	// Sealer enables secret persistence. Without it secrets stay in memory only.
	Sealer Sealer
}

// New creates a new Storage instance.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DBFile)

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{
		db:     db,
		dbPath: dbPath,
		sealer: cfg.Sealer,
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

// Path returns the database file path.
func (s *Storage) Path() string {
	return s.dbPath
}

func (s *Storage) initSchema() error {
	schema := `
	-- Atomic swap records. The record itself is a JSON document; the columns
	-- alongside it exist for filtering.
	CREATE TABLE IF NOT EXISTS swaps (
		id TEXT PRIMARY KEY,
		direction TEXT NOT NULL,
		status TEXT NOT NULL,
		archived INTEGER NOT NULL DEFAULT 0,
		data TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_swaps_status ON swaps(status);
	CREATE INDEX IF NOT EXISTS idx_swaps_archived ON swaps(archived);

	-- Sealed swap preimages, deleted as soon as the secret is revealed.
	CREATE TABLE IF NOT EXISTS swap_secrets (
		swap_id TEXT PRIMARY KEY,
		sealed BLOB NOT NULL,
		created_at INTEGER NOT NULL
	);

	-- Cross-chain orders paired 1:1 with swaps.
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		swap_id TEXT NOT NULL,
		direction TEXT NOT NULL,
		stage TEXT NOT NULL,
		user_address TEXT NOT NULL,
		archived INTEGER NOT NULL DEFAULT 0,
		failure_reason TEXT,
		data TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_orders_stage ON orders(stage);
	CREATE INDEX IF NOT EXISTS idx_orders_swap ON orders(swap_id);

	-- Last observed execution progress per order.
	CREATE TABLE IF NOT EXISTS order_progress (
		order_id TEXT PRIMARY KEY,
		order_hash TEXT NOT NULL,
		stage TEXT NOT NULL,
		percent INTEGER NOT NULL DEFAULT 0,
		src_escrow TEXT,
		dst_escrow TEXT,
		secret_submitted INTEGER NOT NULL DEFAULT 0,
		last_update INTEGER NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0)
}
