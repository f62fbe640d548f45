package handlers

import (
	"net/http"

	apperrors "github.com/SrTcot/face-nomad/internal/errors"
	"github.com/SrTcot/face-nomad/internal/ledger"
	"github.com/SrTcot/face-nomad/internal/models"
)

// RecordsHandler exposes the local ledger.
type RecordsHandler struct {
	store    ledger.Store
	recorder *ledger.Recorder
}

// NewRecordsHandler creates a new RecordsHandler.
func NewRecordsHandler(store ledger.Store, recorder *ledger.Recorder) *RecordsHandler {
	return &RecordsHandler{store: store, recorder: recorder}
}

// List handles GET /api/records, optionally filtered by ?worker_id=.
func (h *RecordsHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		records []models.AttendanceRecord
		err     error
	)
	if workerID := r.URL.Query().Get("worker_id"); workerID != "" {
		records, err = h.store.GetByWorker(r.Context(), workerID)
	} else {
		records, err = h.store.GetAll(r.Context())
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"records": records, "count": len(records)})
}

// Pending handles GET /api/records/pending
func (h *RecordsHandler) Pending(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.GetPending(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"records": records, "count": len(records)})
}

// Create handles POST /api/records. A capture that repeats the worker's
// last type answers 409 with the duplicate verdict.
func (h *RecordsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var request models.NewRecord
	if err := decodeBody(r, &request); err != nil {
		writeError(w, r, err)
		return
	}

	outcome, err := h.recorder.Record(r.Context(), request)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if outcome.Duplicate != nil {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"success":     false,
			"code":        apperrors.ErrDuplicate,
			"message":     outcome.Duplicate.Message,
			"last_record": outcome.Duplicate.LastRecord,
		})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "record": outcome.Record})
}

// Delete handles DELETE /api/records/{id}
func (h *RecordsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.store.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Dedup handles POST /api/records/dedup
func (h *RecordsHandler) Dedup(w http.ResponseWriter, r *http.Request) {
	removed, err := ledger.CleanDuplicates(r.Context(), h.store)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "removed": removed})
}
