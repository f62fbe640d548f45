// Package db tests for database connection management and schema.
package db

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func openMigrated(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	return db
}

// TestOpen verifies database opening with proper configuration.
func TestOpen(t *testing.T) {
	tmpDir := t.TempDir()

	db, err := Open(tmpDir)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Join(tmpDir, FileName)); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}

	var walMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&walMode); err != nil {
		t.Errorf("Failed to check WAL mode: %v", err)
	}
	if walMode != "wal" {
		t.Errorf("WAL mode not enabled, got: %s", walMode)
	}

	var fkEnabled int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		t.Errorf("Failed to check foreign keys: %v", err)
	}
	if fkEnabled != 1 {
		t.Errorf("Foreign keys not enabled, got: %d", fkEnabled)
	}
}

// TestOpen_invalidDataDir verifies error when data directory cannot be created.
func TestOpen_invalidDataDir(t *testing.T) {
	if _, err := Open("/dev/null/invalid_path/that/cannot/be/created"); err == nil {
		t.Error("Open() with invalid path should return error")
	}
}

// TestDB_reopen verifies migrations persist and re-running them is a no-op.
func TestDB_reopen(t *testing.T) {
	tmpDir := t.TempDir()

	db, err := Open(tmpDir)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO kv_store (key, value, updated_at) VALUES ('k', x'01', 1)`); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	db.Close()

	db, err = Open(tmpDir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate() failed: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM kv_store").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("kv_store rows = %d, want 1", count)
	}
}

func insertRecord(t *testing.T, db *DB, workerID, typ string, ts int64) int64 {
	t.Helper()
	res, err := db.Exec(`INSERT INTO attendance_records
		(worker_id, worker_name, type, date, time, timestamp, created_at)
		VALUES (?, 'Ana', ?, '02/03/2026', '08:00:00', ?, ?)`, workerID, typ, ts, ts)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

// TestSchema_syncedFlagIsMonotone verifies the trigger rejects clearing synced.
func TestSchema_syncedFlagIsMonotone(t *testing.T) {
	db := openMigrated(t)
	id := insertRecord(t, db, "W1", "entry", 1000)

	if _, err := db.Exec("UPDATE attendance_records SET synced = 1, synced_at = 2000 WHERE id = ?", id); err != nil {
		t.Fatalf("marking synced failed: %v", err)
	}

	_, err := db.Exec("UPDATE attendance_records SET synced = 0 WHERE id = ?", id)
	if err == nil || !strings.Contains(err.Error(), "monotone") {
		t.Errorf("clearing synced should fail with monotone error, got %v", err)
	}

	_, err = db.Exec("UPDATE attendance_records SET synced_at = 3000 WHERE id = ?", id)
	if err == nil {
		t.Error("rewriting synced_at should fail")
	}
}

// TestSchema_recordsAreImmutable verifies non-sync columns cannot change.
func TestSchema_recordsAreImmutable(t *testing.T) {
	db := openMigrated(t)
	id := insertRecord(t, db, "W1", "entry", 1000)

	tests := []string{
		"UPDATE attendance_records SET type = 'exit' WHERE id = ?",
		"UPDATE attendance_records SET worker_id = 'W2' WHERE id = ?",
		"UPDATE attendance_records SET timestamp = 5 WHERE id = ?",
		"UPDATE attendance_records SET confidence = 0.5 WHERE id = ?",
	}
	for _, q := range tests {
		if _, err := db.Exec(q, id); err == nil {
			t.Errorf("%q should be rejected", q)
		}
	}
}

// TestSchema_checks verifies column constraints.
func TestSchema_checks(t *testing.T) {
	db := openMigrated(t)

	_, err := db.Exec(`INSERT INTO attendance_records
		(worker_id, worker_name, type, date, time, timestamp, created_at)
		VALUES ('W1', 'Ana', 'lunch', 'd', 't', 1, 1)`)
	if err == nil {
		t.Error("unknown type should be rejected")
	}

	_, err = db.Exec(`INSERT INTO attendance_records
		(worker_id, worker_name, type, date, time, timestamp, confidence, created_at)
		VALUES ('W1', 'Ana', 'entry', 'd', 't', 1, 1.5, 1)`)
	if err == nil {
		t.Error("confidence above 1 should be rejected")
	}
}

// TestDB_concurrentQueries verifies the single connection serializes callers.
func TestDB_concurrentQueries(t *testing.T) {
	db := openMigrated(t)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := db.Exec(`INSERT INTO attendance_records
				(worker_id, worker_name, type, date, time, timestamp, created_at)
				VALUES ('W1', 'Ana', 'entry', 'd', 't', ?, 1)`, i+1)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent insert failed: %v", err)
		}
	}
}
