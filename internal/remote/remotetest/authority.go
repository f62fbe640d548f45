// Package remotetest provides an in-process attendance authority for tests.
// It follows the real authority's rules: one pending approval per user,
// approvals that expire an hour after the decision, summaries capped at 50
// records and uploads deduplicated on worker and timestamp.
package remotetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/SrTcot/face-nomad/internal/models"
)

// ApprovalTTL is how long an approval stays valid after the decision.
const ApprovalTTL = time.Hour

// AccessTTL is the lifetime stamped into issued access tokens.
const AccessTTL = 15 * time.Minute

const summaryCap = 50

var signingKey = []byte("remotetest")

type account struct {
	password string
	user     models.User
}

type stored struct {
	record   models.UploadRecord
	syncedAt time.Time
}

// Authority is a fake authority. Access tokens are HS256 JWTs whose exp is
// checked against the authority's clock.
type Authority struct {
	mu sync.Mutex

	now      func() time.Time
	accounts map[string]*account
	access   map[string]int64
	refresh  map[string]int64
	revoked  map[string]bool

	approvals []*models.ApprovalRequest
	records   []stored
	nextID    int64
	calls     map[string]int
	issued    int

	// uploadFault, when set, decides the status for the n-th upload call
	// (1-based). Zero means success.
	uploadFault func(n int) int
	// refreshFails makes every refresh answer 401.
	refreshFails bool
	// logoutFails makes logout answer 500.
	logoutFails bool
}

// New returns an empty Authority using the real clock.
func New() *Authority {
	return &Authority{
		now:      time.Now,
		accounts: make(map[string]*account),
		access:   make(map[string]int64),
		refresh:  make(map[string]int64),
		revoked:  make(map[string]bool),
		calls:    make(map[string]int),
	}
}

// SetNow replaces the authority's clock.
func (a *Authority) SetNow(now func() time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.now = now
}

// AddUser registers an active user with the given role name.
func (a *Authority) AddUser(username, password, role string) models.User {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	u := models.User{
		ID:       a.nextID,
		Username: username,
		Email:    username + "@example.com",
		FullName: strings.ToUpper(username[:1]) + username[1:],
		Role: &models.Role{
			ID:          a.nextID,
			Name:        role,
			Permissions: map[string]bool{"capture": true, "sync": role != "viewer", "approve": role == models.RoleSupervisor || role == models.RoleAdmin},
		},
		IsActive: true,
	}
	a.accounts[username] = &account{password: password, user: u}
	return u
}

// ExpireAccessTokens invalidates every issued access token, as if they had
// all timed out on the authority.
func (a *Authority) ExpireAccessTokens() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.access = make(map[string]int64)
}

// FailRefresh makes refresh calls fail with 401.
func (a *Authority) FailRefresh(fail bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refreshFails = fail
}

// FailLogout makes logout calls fail with 500.
func (a *Authority) FailLogout(fail bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logoutFails = fail
}

// FailUploads installs a per-call upload status decider.
func (a *Authority) FailUploads(fault func(n int) int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.uploadFault = fault
}

// Calls returns how many times the route pattern was hit.
func (a *Authority) Calls(pattern string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[pattern]
}

// Uploaded returns the records the authority holds, in arrival order.
func (a *Authority) Uploaded() []models.UploadRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.UploadRecord, len(a.records))
	for i, s := range a.records {
		out[i] = s.record
	}
	return out
}

// Approvals returns a snapshot of all approval requests.
func (a *Authority) Approvals() []models.ApprovalRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.ApprovalRequest, len(a.approvals))
	for i, ap := range a.approvals {
		out[i] = *ap
	}
	return out
}

// Start serves the authority on an httptest server closed at test end.
func (a *Authority) Start(t testing.TB) *httptest.Server {
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return srv
}

// Handler returns the authority's routes.
func (a *Authority) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(a.count)

	r.Get("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Post("/api/auth/login", a.login)
	r.Post("/api/auth/refresh", a.refreshToken)

	r.Group(func(r chi.Router) {
		r.Use(a.authenticate)
		r.Post("/api/auth/logout", a.logout)
		r.Get("/api/auth/me", a.me)
		r.Post("/api/recognize", a.recognize)
		r.Post("/api/sync/upload", a.upload)
		r.Get("/api/sync/download", a.download)
		r.Post("/api/sync/request-approval", a.requestApproval)
		r.Get("/api/sync/approval-status", a.approvalStatus)

		r.Group(func(r chi.Router) {
			r.Use(a.elevated)
			r.Get("/api/sync/pending-requests", a.pendingRequests)
			r.Post("/api/sync/approve/{id}", a.decide)
		})
	})
	return r
}

type ctxKey struct{}

func (a *Authority) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		a.calls[r.Method+" "+r.URL.Path]++
		a.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func (a *Authority) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearer(r)
		a.mu.Lock()
		id, ok := a.access[token]
		now := a.now
		a.mu.Unlock()
		if ok {
			_, err := jwt.Parse(token, func(*jwt.Token) (any, error) { return signingKey, nil },
				jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(now))
			ok = err == nil
		}
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "token expired"})
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithUser(r, id)))
	})
}

func (a *Authority) elevated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := a.userByID(userID(r))
		if u == nil || !u.Role.IsElevated() {
			writeJSON(w, http.StatusForbidden, map[string]any{"success": false, "message": "insufficient role"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authority) userByID(id int64) *models.User {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, acc := range a.accounts {
		if acc.user.ID == id {
			u := acc.user
			return &u
		}
	}
	return nil
}

// issueAccess mints an access token. Caller holds a.mu.
func (a *Authority) issueAccess(u models.User) string {
	now := a.now()
	claims := jwt.MapClaims{
		"sub":      strconv.FormatInt(u.ID, 10),
		"username": u.Username,
		"role":     u.RoleName(),
		"iat":      now.Unix(),
		"exp":      now.Add(AccessTTL).Unix(),
		"jti":      strconv.Itoa(a.issued),
	}
	a.issued++
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	a.access[token] = u.ID
	return token
}

func (a *Authority) login(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Username == "" || in.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "username and password required"})
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	acc, ok := a.accounts[in.Username]
	if !ok || acc.password != in.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "invalid credentials"})
		return
	}
	refresh := fmt.Sprintf("refresh-%d-%d", acc.user.ID, len(a.refresh)+1)
	a.refresh[refresh] = acc.user.ID
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"access_token":  a.issueAccess(acc.user),
		"refresh_token": refresh,
		"user":          acc.user,
	})
}

func (a *Authority) refreshToken(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.refresh[bearer(r)]
	if !ok || a.refreshFails {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "refresh token invalid"})
		return
	}
	for _, acc := range a.accounts {
		if acc.user.ID == id {
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "access_token": a.issueAccess(acc.user)})
			return
		}
	}
	writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "unknown user"})
}

func (a *Authority) logout(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.logoutFails {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "message": "logout unavailable"})
		return
	}
	delete(a.access, bearer(r))
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *Authority) me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": a.userByID(userID(r))})
}

func (a *Authority) recognize(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Image string `json:"image"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Image == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "image required"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true, "recognized": true, "worker_name": in.Image,
		"confidence": 42.0, "message": "recognized", "face_detected": true,
	})
}

func (a *Authority) upload(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Records []models.UploadRecord `json:"records"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || len(in.Records) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "no records provided"})
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	n := a.calls["POST /api/sync/upload"]
	if a.uploadFault != nil {
		if status := a.uploadFault(n); status != 0 {
			writeJSON(w, status, map[string]any{"success": false, "message": "upload failed"})
			return
		}
	}

	synced := 0
	for _, rec := range in.Records {
		if _, err := models.ParseServerTime(rec.Timestamp); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "message": err.Error()})
			return
		}
		dup := false
		for _, s := range a.records {
			if s.record.WorkerID == rec.WorkerID && s.record.Timestamp == rec.Timestamp {
				dup = true
				break
			}
		}
		if !dup {
			a.records = append(a.records, stored{record: rec, syncedAt: a.now()})
			synced++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"message":      fmt.Sprintf("%d records synced", synced),
		"synced_count": synced,
	})
}

func (a *Authority) download(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := models.ParseServerTime(s)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "message": err.Error()})
			return
		}
		since = t
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	out := []map[string]any{}
	for i := len(a.records) - 1; i >= 0; i-- {
		s := a.records[i]
		if s.syncedAt.Before(since) {
			continue
		}
		out = append(out, map[string]any{
			"id":          i + 1,
			"worker_id":   s.record.WorkerID,
			"worker_name": s.record.WorkerName,
			"type":        s.record.Type,
			"timestamp":   s.record.Timestamp,
			"confidence":  s.record.Confidence,
			"synced_at":   s.syncedAt.UTC().Format("2006-01-02T15:04:05.000000"),
			"client_id":   s.record.ClientID,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "records": out, "count": len(out)})
}

func (a *Authority) requestApproval(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Records []models.RecordSummary `json:"records"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "bad request"})
		return
	}

	id := userID(r)
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ap := range a.approvals {
		if ap.RequestedBy == id && ap.Status == models.ApprovalPending {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "a sync request is already pending"})
			return
		}
	}

	summary := in.Records
	if len(summary) > summaryCap {
		summary = summary[:summaryCap]
	}
	for i := range summary {
		summary[i] = models.RecordSummary{
			ID: summary[i].ID, WorkerName: summary[i].WorkerName, Type: summary[i].Type,
			Date: summary[i].Date, Time: summary[i].Time,
		}
	}
	ap := &models.ApprovalRequest{
		ID:             int64(len(a.approvals) + 1),
		RequestedBy:    id,
		Status:         models.ApprovalPending,
		RequestedAt:    &models.ServerTime{Time: a.now().UTC()},
		Requester:      a.usernameLocked(id),
		RecordsCount:   len(in.Records),
		RecordsSummary: summary,
	}
	a.approvals = append(a.approvals, ap)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "approval": ap})
}

func (a *Authority) approvalStatus(w http.ResponseWriter, r *http.Request) {
	id := userID(r)
	a.mu.Lock()
	defer a.mu.Unlock()

	var latest *models.ApprovalRequest
	for _, ap := range a.approvals {
		if ap.RequestedBy == id {
			latest = ap
		}
	}
	if latest == nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "none", "can_sync": false})
		return
	}
	canSync := latest.Status == models.ApprovalApproved &&
		(latest.ExpiresAt == nil || latest.ExpiresAt.After(a.now()))
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"status":   latest.Status,
		"can_sync": canSync,
		"approval": latest,
	})
}

func (a *Authority) pendingRequests(w http.ResponseWriter, _ *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := []*models.ApprovalRequest{}
	for _, ap := range a.approvals {
		if ap.Status == models.ApprovalPending {
			out = append(out, ap)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "requests": out, "count": len(out)})
}

func (a *Authority) decide(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "request not found"})
		return
	}
	var in struct {
		Action string `json:"action"`
	}
	_ = json.NewDecoder(r.Body).Decode(&in)

	approver := userID(r)
	a.mu.Lock()
	defer a.mu.Unlock()
	var ap *models.ApprovalRequest
	for _, candidate := range a.approvals {
		if candidate.ID == id {
			ap = candidate
		}
	}
	if ap == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "request not found"})
		return
	}
	if ap.Status != models.ApprovalPending {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "request already processed"})
		return
	}

	now := a.now().UTC()
	ap.ApprovedBy = &approver
	ap.ApprovedAt = &models.ServerTime{Time: now}
	ap.Approver = a.usernameLocked(approver)
	if in.Action == string(models.DecisionApprove) {
		ap.Status = models.ApprovalApproved
		ap.ExpiresAt = &models.ServerTime{Time: now.Add(ApprovalTTL)}
	} else {
		ap.Status = models.ApprovalRejected
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "approval": ap})
}

func (a *Authority) usernameLocked(id int64) string {
	for _, acc := range a.accounts {
		if acc.user.ID == id {
			return acc.user.Username
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
