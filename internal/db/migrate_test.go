// Package db tests for database migration management.
package db

import (
	"database/sql"
	"strings"
	"testing"
	"testing/fstest"
)

func rawMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// TestCurrentVersion verifies version tracking.
func TestCurrentVersion(t *testing.T) {
	db := rawMemory(t)
	m := NewMigrator(db, fstest.MapFS{})

	if _, err := m.CurrentVersion(); err == nil {
		t.Error("CurrentVersion() should fail before Initialize()")
	}
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	version, err := m.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion() failed: %v", err)
	}
	if version != 0 {
		t.Errorf("CurrentVersion() = %d, want 0", version)
	}
}

// TestUp_embedded verifies the shipped migrations apply in order.
func TestUp_embedded(t *testing.T) {
	db := rawMemory(t)
	m := NewMigrator(db, Migrations)
	if err := m.Initialize(); err != nil {
		t.Fatal(err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	applied, err := m.GetAppliedMigrations()
	if err != nil {
		t.Fatal(err)
	}
	if len(applied) != 2 {
		t.Fatalf("applied %d migrations, want 2", len(applied))
	}
	if applied[0].Description != "attendance_records" || applied[1].Description != "kv_store" {
		t.Errorf("unexpected descriptions: %q, %q", applied[0].Description, applied[1].Description)
	}
	for _, mig := range applied {
		if len(mig.Checksum) != 64 {
			t.Errorf("V%d checksum length = %d", mig.Version, len(mig.Checksum))
		}
	}

	if err := m.Verify(); err != nil {
		t.Errorf("Verify() after Up() = %v", err)
	}
}

// TestUp_skipsNonMigrationFiles verifies unrelated files are ignored.
func TestUp_skipsNonMigrationFiles(t *testing.T) {
	db := rawMemory(t)
	files := fstest.MapFS{
		"V1__one.up.sql":   {Data: []byte("CREATE TABLE one (id INTEGER);")},
		"V1__one.down.sql": {Data: []byte("DROP TABLE one;")},
		"README.md":        {Data: []byte("notes")},
		"Vx__bad.up.sql":   {Data: []byte("garbage")},
		"noversion.up.sql": {Data: []byte("garbage")},
	}
	m := NewMigrator(db, files)
	if err := m.Initialize(); err != nil {
		t.Fatal(err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}
	if v, _ := m.CurrentVersion(); v != 1 {
		t.Errorf("CurrentVersion() = %d, want 1", v)
	}
}

// TestVerify_checksumMismatch verifies edited migrations are detected.
func TestVerify_checksumMismatch(t *testing.T) {
	db := rawMemory(t)
	files := fstest.MapFS{
		"V1__one.up.sql": {Data: []byte("CREATE TABLE one (id INTEGER);")},
	}
	m := NewMigrator(db, files)
	if err := m.Initialize(); err != nil {
		t.Fatal(err)
	}
	if err := m.Up(); err != nil {
		t.Fatal(err)
	}

	files["V1__one.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE one (id TEXT);")}
	err := m.Verify()
	if err == nil || !strings.Contains(err.Error(), "checksum") {
		t.Errorf("Verify() = %v, want checksum mismatch", err)
	}
}

// TestDown verifies rollback of the latest migration.
func TestDown(t *testing.T) {
	db := rawMemory(t)
	m := NewMigrator(db, Migrations)
	if err := m.Initialize(); err != nil {
		t.Fatal(err)
	}
	if err := m.Up(); err != nil {
		t.Fatal(err)
	}

	if err := m.Down(); err != nil {
		t.Fatalf("Down() failed: %v", err)
	}
	if v, _ := m.CurrentVersion(); v != 1 {
		t.Errorf("CurrentVersion() after Down() = %d, want 1", v)
	}
	var name string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='kv_store'").Scan(&name)
	if err != sql.ErrNoRows {
		t.Errorf("kv_store should be dropped, got err=%v", err)
	}
}

// TestDown_noMigrations verifies rollback fails on an empty schema.
func TestDown_noMigrations(t *testing.T) {
	db := rawMemory(t)
	m := NewMigrator(db, fstest.MapFS{})
	if err := m.Initialize(); err != nil {
		t.Fatal(err)
	}
	if err := m.Down(); err == nil {
		t.Error("Down() with nothing applied should fail")
	}
}
