// Package ledger is the device's append-only attendance ledger: durable
// storage of capture events, the per-worker alternation rule and the
// maintenance operations over it.
package ledger

import (
	"context"
	"time"

	"github.com/SrTcot/face-nomad/internal/models"
)

// Reader is the read side of the ledger.
type Reader interface {
	GetAll(ctx context.Context) ([]models.AttendanceRecord, error)
	GetByID(ctx context.Context, id int64) (*models.AttendanceRecord, error)
	GetByWorker(ctx context.Context, workerID string) ([]models.AttendanceRecord, error)
	GetPending(ctx context.Context) ([]models.AttendanceRecord, error)
}

// Store is the full ledger contract. Lists are ordered newest first except
// GetPending, which returns upload order.
type Store interface {
	Reader

	// Append stores a new unsynced record and returns its id.
	Append(ctx context.Context, rec models.NewRecord) (int64, error)
	// AppendIfAlternates appends rec only when the worker's newest record
	// has the other type, atomically with that check. On a duplicate it
	// returns the verdict and no record.
	AppendIfAlternates(ctx context.Context, rec models.NewRecord) (*models.AttendanceRecord, *models.DuplicateCheck, error)
	// Update applies the sync transition. Clearing synced is rejected.
	Update(ctx context.Context, id int64, upd models.RecordUpdate) error
	// MarkSynced records remote acknowledgment at the given instant.
	MarkSynced(ctx context.Context, id int64, at time.Time) error
	// Delete removes a record. Deleting an absent id is not an error.
	Delete(ctx context.Context, id int64) error
	// Clear removes every record.
	Clear(ctx context.Context) error
}

// CaptureFormat renders the human-readable date and time stored with each
// record at write time.
type CaptureFormat struct {
	DateLayout string
	TimeLayout string
	Location   *time.Location
}

// DefaultCaptureFormat matches the day/month/year rendering operators read.
func DefaultCaptureFormat() CaptureFormat {
	return CaptureFormat{DateLayout: "2/1/2006", TimeLayout: "15:04", Location: time.Local}
}

func (f CaptureFormat) render(t time.Time) (date, clock string) {
	loc := f.Location
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	return t.Format(f.DateLayout), t.Format(f.TimeLayout)
}
