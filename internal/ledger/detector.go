package ledger

import (
	"context"

	"github.com/SrTcot/face-nomad/internal/models"
)

// Duplicate messages shown to the operator.
const (
	msgDuplicateEntry = "worker already has an entry recorded; an exit must be registered first"
	msgDuplicateExit  = "worker already has an exit recorded; an entry must be registered first"
)

func duplicateMessage(t models.RecordType) string {
	if t == models.RecordEntry {
		return msgDuplicateEntry
	}
	return msgDuplicateExit
}

// verdict applies the alternation rule to the worker's newest record.
func verdict(last *models.AttendanceRecord, intended models.RecordType) *models.DuplicateCheck {
	if last == nil {
		return &models.DuplicateCheck{}
	}
	if last.Type == intended {
		return &models.DuplicateCheck{
			IsDuplicate: true,
			LastRecord:  last,
			Message:     duplicateMessage(intended),
		}
	}
	return &models.DuplicateCheck{LastRecord: last}
}

// Detector answers whether a capture would break alternation. It only
// reads; the capture path itself goes through Store.AppendIfAlternates.
type Detector struct {
	store Reader
}

// NewDetector returns a Detector over store.
func NewDetector(store Reader) *Detector {
	return &Detector{store: store}
}

// Check reports whether recording intended for workerID now would repeat
// the worker's latest type.
func (d *Detector) Check(ctx context.Context, workerID string, intended models.RecordType) (*models.DuplicateCheck, error) {
	records, err := d.store.GetByWorker(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return verdict(nil, intended), nil
	}
	return verdict(newest(records), intended), nil
}

// newest picks the record with the greatest timestamp, id breaking ties.
func newest(records []models.AttendanceRecord) *models.AttendanceRecord {
	best := &records[0]
	for i := range records[1:] {
		r := &records[i+1]
		if r.Timestamp > best.Timestamp || (r.Timestamp == best.Timestamp && r.ID > best.ID) {
			best = r
		}
	}
	return best
}
