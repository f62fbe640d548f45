package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/SrTcot/face-nomad/internal/errors"
	"github.com/SrTcot/face-nomad/internal/logging"
	"github.com/SrTcot/face-nomad/internal/models"
	"github.com/SrTcot/face-nomad/internal/telemetry"
)

// Outcome is the result of a capture. Exactly one of Record and Duplicate
// is set.
type Outcome struct {
	Record    *models.AttendanceRecord `json:"record,omitempty"`
	Duplicate *models.DuplicateCheck   `json:"duplicate,omitempty"`
}

// Recorder is the capture path: validate, then append atomically with the
// alternation check.
type Recorder struct {
	store    Store
	validate *validator.Validate
}

// NewRecorder returns a Recorder writing to store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Record captures rec. A duplicate is reported in the Outcome, not as an
// error.
func (r *Recorder) Record(ctx context.Context, rec models.NewRecord) (*Outcome, error) {
	rec.WorkerID = strings.TrimSpace(rec.WorkerID)
	rec.WorkerName = strings.TrimSpace(rec.WorkerName)
	if err := r.validate.Struct(rec); err != nil {
		telemetry.TrackEvent(telemetry.CaptureInvalid)
		return nil, apperrors.Wrap(apperrors.ErrValidation, describe(err), err)
	}

	created, check, err := r.store.AppendIfAlternates(ctx, rec)
	if err != nil {
		logging.Error("capture failed", err, map[string]interface{}{"worker_id": rec.WorkerID})
		return nil, err
	}
	if check != nil && check.IsDuplicate {
		telemetry.TrackEvent(telemetry.CaptureDuplicate)
		logging.Info("capture rejected as duplicate", map[string]interface{}{
			"worker_id": rec.WorkerID,
			"type":      string(rec.Type),
		})
		return &Outcome{Duplicate: check}, nil
	}

	telemetry.TrackEvent(telemetry.CaptureRecorded)
	logging.Info("capture recorded", map[string]interface{}{
		"id":        created.ID,
		"worker_id": created.WorkerID,
		"type":      string(created.Type),
	})
	return &Outcome{Record: created}, nil
}

func describe(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return "invalid record"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
