package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/SrTcot/face-nomad/internal/clock"
	apperrors "github.com/SrTcot/face-nomad/internal/errors"
	"github.com/SrTcot/face-nomad/internal/models"
)

const recordColumns = `id, worker_id, worker_name, worker_photo, type, date, time,
	timestamp, confidence, synced, created_at, synced_at`

const (
	queryAll      = "SELECT " + recordColumns + " FROM attendance_records ORDER BY timestamp DESC, id DESC"
	queryByID     = "SELECT " + recordColumns + " FROM attendance_records WHERE id = ?"
	queryByWorker = "SELECT " + recordColumns + " FROM attendance_records WHERE worker_id = ? ORDER BY timestamp DESC, id DESC"
	queryNewest   = queryByWorker + " LIMIT 1"
	insertRecord  = `INSERT INTO attendance_records
		(worker_id, worker_name, worker_photo, type, date, time, timestamp, confidence, synced, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`
)

// SQLiteStore is the ledger on the attendance_records table.
type SQLiteStore struct {
	db     *sql.DB
	clock  clock.Clock
	format CaptureFormat

	// Prepared statements are created on first use and reused.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewSQLiteStore returns a ledger over a migrated device database.
func NewSQLiteStore(db *sql.DB, clk clock.Clock, format CaptureFormat) *SQLiteStore {
	return &SQLiteStore{db: db, clock: clk, format: format}
}

// prepare gets or creates a prepared statement from the cache.
func (s *SQLiteStore) prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := s.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}
	stmt, err := s.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	actual, loaded := s.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes all cached prepared statements.
func (s *SQLiteStore) Close() error {
	var firstErr error
	s.stmtCache.Range(func(_, value interface{}) bool {
		if err := value.(*sql.Stmt).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

func storageFault(op string, err error) error {
	return apperrors.Wrap(apperrors.ErrStorage, op, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.AttendanceRecord, error) {
	var (
		r          models.AttendanceRecord
		typ        string
		confidence sql.NullFloat64
		synced     int
		createdAt  int64
		syncedAt   sql.NullInt64
	)
	err := row.Scan(&r.ID, &r.WorkerID, &r.WorkerName, &r.WorkerPhoto, &typ, &r.Date, &r.Time,
		&r.Timestamp, &confidence, &synced, &createdAt, &syncedAt)
	if err != nil {
		return nil, err
	}
	r.Type = models.RecordType(typ)
	if confidence.Valid {
		c := confidence.Float64
		r.Confidence = &c
	}
	r.Synced = synced == 1
	r.CreatedAt = time.UnixMilli(createdAt).UTC()
	if syncedAt.Valid {
		t := time.UnixMilli(syncedAt.Int64).UTC()
		r.SyncedAt = &t
	}
	return &r, nil
}

func (s *SQLiteStore) list(ctx context.Context, query string, args ...any) ([]models.AttendanceRecord, error) {
	stmt, err := s.prepare(ctx, query)
	if err != nil {
		return nil, storageFault("could not read records", err)
	}
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, storageFault("could not read records", err)
	}
	defer rows.Close()

	records := []models.AttendanceRecord{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, storageFault("could not read records", err)
		}
		records = append(records, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageFault("could not read records", err)
	}
	return records, nil
}

// stamp fills the write-time fields of a new record.
func (s *SQLiteStore) stamp(rec models.NewRecord) (models.NewRecord, time.Time) {
	now := s.clock.Now()
	date, clk := s.format.render(now)
	if rec.Date == "" {
		rec.Date = date
	}
	if rec.Time == "" {
		rec.Time = clk
	}
	return rec, now
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insert(ctx context.Context, ex execer, rec models.NewRecord, now time.Time) (int64, error) {
	var confidence any
	if rec.Confidence != nil {
		confidence = *rec.Confidence
	}
	res, err := ex.ExecContext(ctx, insertRecord,
		rec.WorkerID, rec.WorkerName, rec.WorkerPhoto, string(rec.Type), rec.Date, rec.Time,
		now.UnixMilli(), confidence, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func materialize(id int64, rec models.NewRecord, now time.Time) *models.AttendanceRecord {
	return &models.AttendanceRecord{
		ID:          id,
		WorkerID:    rec.WorkerID,
		WorkerName:  rec.WorkerName,
		WorkerPhoto: rec.WorkerPhoto,
		Type:        rec.Type,
		Date:        rec.Date,
		Time:        rec.Time,
		Timestamp:   now.UnixMilli(),
		Confidence:  rec.Confidence,
		CreatedAt:   time.UnixMilli(now.UnixMilli()).UTC(),
	}
}

func (s *SQLiteStore) Append(ctx context.Context, rec models.NewRecord) (int64, error) {
	rec, now := s.stamp(rec)
	id, err := insert(ctx, s.db, rec, now)
	if err != nil {
		return 0, storageFault("could not save record locally", err)
	}
	return id, nil
}

func (s *SQLiteStore) AppendIfAlternates(ctx context.Context, rec models.NewRecord) (*models.AttendanceRecord, *models.DuplicateCheck, error) {
	// BEGIN is IMMEDIATE (see db.connParams): the write lock is held from
	// the history read through the insert.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, storageFault("could not start capture transaction", err)
	}
	defer tx.Rollback()

	last, err := scanRecord(tx.QueryRowContext(ctx, queryNewest, rec.WorkerID))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		last = nil
	case err != nil:
		return nil, nil, storageFault("could not read worker history", err)
	}

	if check := verdict(last, rec.Type); check.IsDuplicate {
		return nil, check, nil
	}

	rec, now := s.stamp(rec)
	id, err := insert(ctx, tx, rec, now)
	if err != nil {
		return nil, nil, storageFault("could not save record locally", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, storageFault("could not commit capture", err)
	}
	return materialize(id, rec, now), &models.DuplicateCheck{LastRecord: last}, nil
}

func (s *SQLiteStore) GetAll(ctx context.Context) ([]models.AttendanceRecord, error) {
	return s.list(ctx, queryAll)
}

func (s *SQLiteStore) GetByID(ctx context.Context, id int64) (*models.AttendanceRecord, error) {
	stmt, err := s.prepare(ctx, queryByID)
	if err != nil {
		return nil, storageFault("could not read record", err)
	}
	r, err := scanRecord(stmt.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "record %d not found", id)
	}
	if err != nil {
		return nil, storageFault("could not read record", err)
	}
	return r, nil
}

func (s *SQLiteStore) GetByWorker(ctx context.Context, workerID string) ([]models.AttendanceRecord, error) {
	return s.list(ctx, queryByWorker, workerID)
}

// GetPending returns the unsynced records, oldest first. It scans the whole
// table and filters in memory; synced has no index.
func (s *SQLiteStore) GetPending(ctx context.Context) ([]models.AttendanceRecord, error) {
	all, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	pending := all[:0]
	for _, r := range all {
		if !r.Synced {
			pending = append(pending, r)
		}
	}
	// Upload oldest first so a partial run acknowledges a prefix in capture order.
	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].Timestamp != pending[j].Timestamp {
			return pending[i].Timestamp < pending[j].Timestamp
		}
		return pending[i].ID < pending[j].ID
	})
	return pending, nil
}

func (s *SQLiteStore) Update(ctx context.Context, id int64, upd models.RecordUpdate) error {
	current, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if upd.Synced == nil {
		if upd.SyncedAt != nil {
			return apperrors.New(apperrors.ErrInvalid, "synced_at can only be set together with synced")
		}
		return nil
	}
	if !*upd.Synced {
		if current.Synced {
			return apperrors.Newf(apperrors.ErrInvalid, "record %d is already synced", id)
		}
		return nil
	}
	if current.Synced {
		return nil
	}

	at := s.clock.Now()
	if upd.SyncedAt != nil {
		at = *upd.SyncedAt
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE attendance_records SET synced = 1, synced_at = ? WHERE id = ? AND synced = 0",
		at.UnixMilli(), id)
	if err != nil {
		return storageFault("could not mark record synced", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) MarkSynced(ctx context.Context, id int64, at time.Time) error {
	synced := true
	return s.Update(ctx, id, models.RecordUpdate{Synced: &synced, SyncedAt: &at})
}

func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM attendance_records WHERE id = ?", id); err != nil {
		return storageFault("could not delete record", err)
	}
	return nil
}

// Restore inserts records read back from a backup, keeping their capture
// and sync fields. A record whose worker, type and timestamp already exist
// is skipped. Ids are reassigned. It returns how many were inserted.
func (s *SQLiteStore) Restore(ctx context.Context, records []models.AttendanceRecord) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageFault("could not start restore", err)
	}
	defer tx.Rollback()

	restored := 0
	for _, r := range records {
		var exists int
		err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM attendance_records WHERE worker_id = ? AND type = ? AND timestamp = ?",
			r.WorkerID, string(r.Type), r.Timestamp).Scan(&exists)
		if err != nil {
			return 0, storageFault("could not check existing record", err)
		}
		if exists > 0 {
			continue
		}

		var confidence, syncedAt any
		if r.Confidence != nil {
			confidence = *r.Confidence
		}
		synced := 0
		if r.Synced {
			synced = 1
			if r.SyncedAt != nil {
				syncedAt = r.SyncedAt.UnixMilli()
			}
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO attendance_records
			(worker_id, worker_name, worker_photo, type, date, time, timestamp, confidence, synced, created_at, synced_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.WorkerID, r.WorkerName, r.WorkerPhoto, string(r.Type), r.Date, r.Time,
			r.Timestamp, confidence, synced, r.CreatedAt.UnixMilli(), syncedAt)
		if err != nil {
			return 0, storageFault("could not restore record", err)
		}
		restored++
	}
	if err := tx.Commit(); err != nil {
		return 0, storageFault("could not commit restore", err)
	}
	return restored, nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM attendance_records"); err != nil {
		return storageFault("could not clear records", err)
	}
	return nil
}
