package handlers

import (
	"net/http"

	"github.com/SrTcot/face-nomad/internal/session"
)

// SessionHandler handles login state.
type SessionHandler struct {
	session *session.Manager
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(mgr *session.Manager) *SessionHandler {
	return &SessionHandler{session: mgr}
}

// Login handles POST /api/session/login
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &request); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.session.Login(r.Context(), request.Username, request.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "user": user})
}

// Logout handles POST /api/session/logout
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Logout(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// Current handles GET /api/session
func (h *SessionHandler) Current(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := h.session.CurrentUser(ctx)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"authenticated": h.session.IsAuthenticated(ctx),
		"user":          user,
		"role":          user.RoleName(),
		"elevated":      user != nil && user.Role.IsElevated(),
		"token_expiry":  h.session.TokenExpiry(ctx),
	})
}
