// Package handlers provides the local REST API handlers served to the
// desktop shell.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/SrTcot/face-nomad/internal/errors"
	"github.com/SrTcot/face-nomad/internal/logging"
)

// statusFor maps error codes onto HTTP statuses.
var statusFor = map[apperrors.ErrorCode]int{
	apperrors.ErrInvalid:          http.StatusBadRequest,
	apperrors.ErrValidation:       http.StatusBadRequest,
	apperrors.ErrNotFound:         http.StatusNotFound,
	apperrors.ErrDuplicate:        http.StatusConflict,
	apperrors.ErrPermission:       http.StatusForbidden,
	apperrors.ErrSessionExpired:   http.StatusUnauthorized,
	apperrors.ErrUnauthorized:     http.StatusUnauthorized,
	apperrors.ErrApprovalRequired: http.StatusForbidden,
	apperrors.ErrApprovalPending:  http.StatusConflict,
	apperrors.ErrSyncInProgress:   http.StatusConflict,
	apperrors.ErrNetwork:          http.StatusServiceUnavailable,
	apperrors.ErrRemote:           http.StatusBadGateway,
}

// StatusFor returns the HTTP status for err.
func StatusFor(err error) int {
	if status, ok := statusFor[apperrors.CodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error("Failed to encode response", err)
	}
}

// writeError renders err as {"success": false, "code", "message"} plus any
// extra fields.
func writeError(w http.ResponseWriter, r *http.Request, err error, extra ...map[string]interface{}) {
	status := StatusFor(err)
	code := apperrors.CodeOf(err)
	message := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}

	if status >= http.StatusInternalServerError {
		logging.Error("Request failed", err, map[string]interface{}{
			"method": r.Method, "path": r.URL.Path, "code": code,
		})
	}
	body := map[string]interface{}{
		"success":   false,
		"code":      code,
		"message":   message,
		"retryable": apperrors.Retryable(err),
	}
	for _, e := range extra {
		for k, v := range e {
			body[k] = v
		}
	}
	writeJSON(w, status, body)
}

func decodeBody(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err)
	}
	return nil
}

func idParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.Newf(apperrors.ErrInvalid, "invalid id %q", chi.URLParam(r, "id"))
	}
	return id, nil
}
