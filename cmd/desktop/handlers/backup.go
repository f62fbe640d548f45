package handlers

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/SrTcot/face-nomad/internal/export"
)

// PasswordHeader carries the archive password; absent means unencrypted.
const PasswordHeader = "X-Archive-Password"

// BackupHandler exports and imports ledger archives.
type BackupHandler struct {
	exporter *export.Service
}

// NewBackupHandler creates a new BackupHandler.
func NewBackupHandler(exporter *export.Service) *BackupHandler {
	return &BackupHandler{exporter: exporter}
}

// Export handles GET /api/records/export
func (h *BackupHandler) Export(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	result, err := h.exporter.Export(r.Context(), &buf, r.Header.Get(PasswordHeader))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="face-nomad-ledger.fnx"`)
	w.Header().Set("X-Record-Count", strconv.Itoa(result.Manifest.RecordCount))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// Import handles POST /api/records/import with the archive as the body.
func (h *BackupHandler) Import(w http.ResponseWriter, r *http.Request) {
	result, err := h.exporter.Import(r.Context(), r.Body, r.Header.Get(PasswordHeader))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
