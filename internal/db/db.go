// Package db provides the device database: connection setup and the
// embedded schema migrations for the ledger and the key-value store.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// FileName is the database file created inside the data directory.
const FileName = "facenomad.db"

// connParams are applied to every connection. Transactions take the write
// lock at BEGIN so a read-then-insert inside one cannot interleave with
// another writer.
const connParams = "_txlock=immediate&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

// DB wraps the sql.DB with face-nomad configuration.
type DB struct {
	*sql.DB
}

// Open opens the device database under dataDir with:
// - WAL mode for concurrent reads/writes
// - Foreign key constraints enabled
// - Immediate transactions on a single connection
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, FileName)
	db, err := open(dbPath + "?" + connParams)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	return db, nil
}

// OpenMemory opens a private in-memory database. Used by tests and by
// ephemeral runs that must not touch disk.
func OpenMemory() (*DB, error) {
	return open(":memory:?" + connParams)
}

func open(dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't support multiple writers, and an in-memory database
	// lives only as long as its single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &DB{db}, nil
}

// Migrate brings the schema up to the latest embedded version and verifies
// the checksums of migrations applied earlier.
func (db *DB) Migrate() error {
	m := NewMigrator(db.DB, Migrations)
	if err := m.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	if err := m.Verify(); err != nil {
		return err
	}
	return m.Up()
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
