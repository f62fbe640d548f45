package handlers

import (
	"net/http"

	"github.com/SrTcot/face-nomad/internal/models"
	syncpkg "github.com/SrTcot/face-nomad/internal/sync"
	"github.com/SrTcot/face-nomad/internal/sync/scheduler"
	"github.com/SrTcot/face-nomad/internal/telemetry"
)

// SyncHandler handles the approval workflow and uploads.
type SyncHandler struct {
	workflow  *syncpkg.Workflow
	scheduler *scheduler.Scheduler
}

// NewSyncHandler creates a new SyncHandler. Manual syncs go through the
// scheduler so they never overlap a background run.
func NewSyncHandler(workflow *syncpkg.Workflow, sched *scheduler.Scheduler) *SyncHandler {
	return &SyncHandler{workflow: workflow, scheduler: sched}
}

// =====================================================
// Status Endpoints
// =====================================================

// Status handles GET /api/sync/status
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pending, err := h.workflow.PendingChanges(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var lastErr string
	if err := h.workflow.LastError(); err != nil {
		lastErr = err.Error()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       h.workflow.Status(),
		"last_sync":    h.workflow.LastSync(),
		"last_attempt": h.workflow.LastAttempt(),
		"last_error":   lastErr,
		"pending":      pending,
		"can_sync":     h.workflow.CanSync(ctx),
		"approval":     h.workflow.Approval(),
		"device_id":    h.workflow.DeviceID(),
		"scheduler":    h.scheduler.GetStatus(),
		"telemetry":    telemetry.GetSnapshot(),
	})
}

// ApprovalStatus handles GET /api/sync/approval-status
func (h *SyncHandler) ApprovalStatus(w http.ResponseWriter, r *http.Request) {
	state, err := h.workflow.ApprovalStatus(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// =====================================================
// Workflow Endpoints
// =====================================================

// RequestApproval handles POST /api/sync/request-approval
func (h *SyncHandler) RequestApproval(w http.ResponseWriter, r *http.Request) {
	req, err := h.workflow.RequestApproval(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "approval": req})
}

// Sync handles POST /api/sync
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	result, err := h.scheduler.SyncNow(r.Context())
	if err != nil {
		// A partial run still reports what was acknowledged.
		writeError(w, r, err, map[string]interface{}{"result": result})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "result": result})
}

// Download handles GET /api/sync/download
func (h *SyncHandler) Download(w http.ResponseWriter, r *http.Request) {
	records, err := h.workflow.Download(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"records": records, "count": len(records)})
}

// =====================================================
// Supervisor Endpoints
// =====================================================

// Requests handles GET /api/sync/requests
func (h *SyncHandler) Requests(w http.ResponseWriter, r *http.Request) {
	requests, err := h.workflow.ListPendingApprovalRequests(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"requests": requests, "count": len(requests)})
}

// Decide handles POST /api/sync/requests/{id}
func (h *SyncHandler) Decide(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var request struct {
		Action models.Decision `json:"action"`
	}
	if err := decodeBody(r, &request); err != nil {
		writeError(w, r, err)
		return
	}

	req, err := h.workflow.Decide(r.Context(), id, request.Action)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "approval": req})
}
