package sync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	gosync "sync"
	"time"

	"github.com/SrTcot/face-nomad/internal/clock"
	apperrors "github.com/SrTcot/face-nomad/internal/errors"
	"github.com/SrTcot/face-nomad/internal/ledger"
	"github.com/SrTcot/face-nomad/internal/logging"
	"github.com/SrTcot/face-nomad/internal/models"
	"github.com/SrTcot/face-nomad/internal/remote"
	"github.com/SrTcot/face-nomad/internal/session"
	"github.com/SrTcot/face-nomad/internal/storage"
	"github.com/SrTcot/face-nomad/internal/telemetry"
	"github.com/SrTcot/face-nomad/internal/uuid"
)

// Status represents the current run state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusFailed  Status = "failed"
)

// DefaultBatchSize is used when Deps.BatchSize is not positive.
const DefaultBatchSize = 50

// Authority is the subset of the remote client the workflow calls.
type Authority interface {
	Upload(ctx context.Context, token string, records []models.UploadRecord) (int, error)
	Download(ctx context.Context, token string, since *time.Time) ([]models.RemoteRecord, error)
	RequestApproval(ctx context.Context, token string, summary []models.RecordSummary) (*models.ApprovalRequest, error)
	ApprovalStatus(ctx context.Context, token string) (*remote.ApprovalStatusResult, error)
	PendingRequests(ctx context.Context, token string) ([]models.ApprovalRequest, error)
	Decide(ctx context.Context, token string, id int64, decision models.Decision) (*models.ApprovalRequest, error)
}

// Session is the subset of the session manager the workflow needs.
type Session interface {
	Authorized(ctx context.Context, call session.Call) error
	CurrentUser(ctx context.Context) *models.User
}

// Deps wires a Workflow.
type Deps struct {
	Ledger    ledger.Store
	Authority Authority
	Session   Session
	Store     storage.Store
	Clock     clock.Clock
	BatchSize int
}

// Workflow runs the approval workflow and uploads.
type Workflow struct {
	ledger    ledger.Store
	authority Authority
	session   Session
	store     storage.Store
	clock     clock.Clock
	batchSize int
	deviceID  string

	// run serializes Sync; mu guards the fields below.
	run      gosync.Mutex
	mu       gosync.Mutex
	status   Status
	approval models.ApprovalState
	record   models.SyncStatus
	lastErr  error
	handler  EventHandler
}

// NewWorkflow loads the persisted sync bookkeeping and device id, creating
// the device id on first use.
func NewWorkflow(ctx context.Context, deps Deps) (*Workflow, error) {
	if deps.BatchSize <= 0 {
		deps.BatchSize = DefaultBatchSize
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}

	w := &Workflow{
		ledger:    deps.Ledger,
		authority: deps.Authority,
		session:   deps.Session,
		store:     deps.Store,
		clock:     deps.Clock,
		batchSize: deps.BatchSize,
		status:    StatusIdle,
		approval:  models.NoApproval(),
	}

	id, err := loadDeviceID(ctx, deps.Store)
	if err != nil {
		return nil, err
	}
	w.deviceID = id

	data, err := deps.Store.Get(ctx, storage.KeySyncStatus)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, apperrors.Wrap(apperrors.ErrStorage, "could not read sync status", err)
	default:
		if err := json.Unmarshal(data, &w.record); err != nil {
			logging.Warn("discarding unreadable sync status", map[string]interface{}{"error": err.Error()})
			w.record = models.SyncStatus{}
		}
	}
	return w, nil
}

func loadDeviceID(ctx context.Context, store storage.Store) (string, error) {
	data, err := store.Get(ctx, storage.KeyDeviceID)
	switch {
	case err == nil:
		verr := uuid.ValidateDeviceID(string(data))
		if verr == nil {
			return string(data), nil
		}
		logging.Warn("replacing unusable device id", map[string]interface{}{"error": verr.Error()})
	case !errors.Is(err, storage.ErrNotFound):
		return "", apperrors.Wrap(apperrors.ErrStorage, "could not read device id", err)
	}

	id := uuid.NewDeviceID()
	if err := store.Set(ctx, storage.KeyDeviceID, []byte(id)); err != nil {
		return "", apperrors.Wrap(apperrors.ErrStorage, "could not persist device id", err)
	}
	logging.Info("device id created", map[string]interface{}{"device_id": id})
	return id, nil
}

// DeviceID returns the stable id this device stamps on uploads.
func (w *Workflow) DeviceID() string { return w.deviceID }

// Status returns the current run state.
func (w *Workflow) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// LastSync returns the time of the last successful upload.
func (w *Workflow) LastSync() *time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.record.LastSync
}

// LastAttempt returns the time of the last upload attempt.
func (w *Workflow) LastAttempt() *time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.record.LastAttempt
}

// LastError returns the error of the last failed run, or nil.
func (w *Workflow) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// PendingChanges returns the number of unsynced records.
func (w *Workflow) PendingChanges(ctx context.Context) (int, error) {
	pending, err := w.ledger.GetPending(ctx)
	if err != nil {
		return 0, err
	}
	return len(pending), nil
}

// State returns the cached approval as seen at now.
func (w *Workflow) State(now time.Time) models.ApprovalState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return effective(w.approval, now)
}

// Approval returns the cached approval as seen now.
func (w *Workflow) Approval() models.ApprovalState {
	return w.State(w.clock.Now())
}

func effective(s models.ApprovalState, now time.Time) models.ApprovalState {
	s = s.Effective(now)
	s.CanSync = s.Status == models.ApprovalApproved
	return s
}

// CanSync applies CanSyncNow to the current user and cached approval.
func (w *Workflow) CanSync(ctx context.Context) bool {
	now := w.clock.Now()
	return CanSyncNow(w.session.CurrentUser(ctx).RoleName(), w.State(now), now)
}

// ApprovalStatus polls the authority and caches the result.
func (w *Workflow) ApprovalStatus(ctx context.Context) (models.ApprovalState, error) {
	var res *remote.ApprovalStatusResult
	err := w.session.Authorized(ctx, func(ctx context.Context, token string) error {
		var err error
		res, err = w.authority.ApprovalStatus(ctx, token)
		return err
	})
	if err != nil {
		return models.ApprovalState{}, err
	}

	state := models.ApprovalState{Status: res.Status, CanSync: res.CanSync, Request: res.Approval}
	if res.Approval != nil {
		state.ExpiresAt = res.Approval.ExpiresAt.Ptr()
	}

	now := w.clock.Now()
	w.mu.Lock()
	previous := effective(w.approval, now)
	w.approval = state
	current := effective(state, now)
	w.mu.Unlock()

	if previous.Status != current.Status {
		logging.Info("approval status changed", map[string]interface{}{
			"from": previous.Status, "to": current.Status,
		})
		w.emit(Event{Type: EventApprovalChanged, Approval: &current})
	}
	return current, nil
}

// RequestApproval submits the pending records for supervisor review. It
// refuses while a request is already pending.
func (w *Workflow) RequestApproval(ctx context.Context) (*models.ApprovalRequest, error) {
	if w.State(w.clock.Now()).Status == models.ApprovalPending {
		return nil, apperrors.New(apperrors.ErrApprovalPending, "a sync request is already pending")
	}

	pending, err := w.ledger.GetPending(ctx)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, apperrors.New(apperrors.ErrValidation, "no pending records to approve")
	}
	summary := make([]models.RecordSummary, len(pending))
	for i := range pending {
		summary[i] = pending[i].Summary()
	}

	var req *models.ApprovalRequest
	err = w.session.Authorized(ctx, func(ctx context.Context, token string) error {
		var err error
		req, err = w.authority.RequestApproval(ctx, token, summary)
		return err
	})
	if remote.StatusOf(err) == http.StatusBadRequest {
		return nil, apperrors.Wrap(apperrors.ErrApprovalPending, "a sync request is already pending", err)
	}
	if err != nil {
		return nil, err
	}

	state := models.ApprovalState{Status: models.ApprovalPending, Request: req}
	w.mu.Lock()
	w.approval = state
	w.mu.Unlock()

	telemetry.TrackEvent(telemetry.ApprovalRequests)
	logging.Info("sync approval requested", map[string]interface{}{"records": len(summary)})
	w.emit(Event{Type: EventApprovalRequested, Approval: &state, Request: req})
	return req, nil
}

// Sync uploads pending records in batches, oldest first. Each acknowledged
// batch is marked synced before the next is sent; the first failing batch
// ends the run and leaves the rest pending.
func (w *Workflow) Sync(ctx context.Context) (*models.SyncResult, error) {
	if !w.run.TryLock() {
		return nil, apperrors.New(apperrors.ErrSyncInProgress, "sync already in progress")
	}
	defer w.run.Unlock()

	user := w.session.CurrentUser(ctx)
	if user == nil {
		return nil, apperrors.New(apperrors.ErrSessionExpired, "not logged in")
	}
	start := w.clock.Now()
	if !user.Role.IsElevated() && w.State(start).Status != models.ApprovalApproved {
		// The cached approval may predate this process; ask the authority once.
		if _, err := w.ApprovalStatus(ctx); err != nil {
			return nil, err
		}
		start = w.clock.Now()
	}
	if !CanSyncNow(user.RoleName(), w.State(start), start) {
		return nil, apperrors.New(apperrors.ErrApprovalRequired, "supervisor approval required to sync")
	}

	w.mu.Lock()
	w.status = StatusSyncing
	w.lastErr = nil
	w.record.LastAttempt = &start
	w.mu.Unlock()
	w.persist(ctx)
	w.emit(Event{Type: EventSyncStarted})

	result := &models.SyncResult{}
	err := w.upload(ctx, result)
	result.Duration = w.clock.Now().Sub(start)
	telemetry.TrackEvent(telemetry.SyncRuns)
	telemetry.RecordCount(telemetry.SyncUploaded, result.Uploaded)
	telemetry.RecordCount(telemetry.SyncBatches, result.Batches)
	telemetry.RecordTiming(telemetry.SyncDuration, result.Duration)

	w.mu.Lock()
	if err != nil {
		w.status = StatusFailed
		w.lastErr = err
	} else {
		w.status = StatusIdle
		if result.Uploaded > 0 {
			end := w.clock.Now()
			w.record.LastSync = &end
		}
	}
	w.mu.Unlock()
	w.persist(ctx)

	fields := map[string]interface{}{
		"uploaded": result.Uploaded, "remaining": result.Remaining, "batches": result.Batches,
	}
	if err != nil {
		telemetry.TrackEvent(telemetry.SyncFailures)
		logging.Error("sync failed", err, fields)
		w.emit(Event{Type: EventSyncFailed, Result: result, Error: err.Error()})
		return result, err
	}
	logging.Info("sync completed", fields)
	w.emit(Event{Type: EventSyncCompleted, Result: result})
	return result, nil
}

func (w *Workflow) upload(ctx context.Context, result *models.SyncResult) error {
	pending, err := w.ledger.GetPending(ctx)
	if err != nil {
		return err
	}
	result.Remaining = len(pending)

	for start := 0; start < len(pending); start += w.batchSize {
		if err := ctx.Err(); err != nil {
			return apperrors.Wrap(apperrors.ErrNetwork, "sync interrupted", err)
		}

		batch := pending[start:min(start+w.batchSize, len(pending))]
		records := make([]models.UploadRecord, len(batch))
		for i := range batch {
			records[i] = batch[i].Upload(uuid.RecordClientID(w.deviceID, batch[i].ID))
		}

		var stored int
		err := w.session.Authorized(ctx, func(ctx context.Context, token string) error {
			var err error
			stored, err = w.authority.Upload(ctx, token, records)
			return err
		})
		if err != nil {
			return err
		}

		at := w.clock.Now()
		for i := range batch {
			if err := w.ledger.MarkSynced(ctx, batch[i].ID, at); err != nil {
				return err
			}
			result.Uploaded++
			result.Remaining--
		}
		result.Batches++
		logging.Debug("batch uploaded", map[string]interface{}{
			"batch": result.Batches, "size": len(batch), "stored": stored,
		})
	}
	return nil
}

func (w *Workflow) persist(ctx context.Context) {
	w.mu.Lock()
	data, err := json.Marshal(w.record)
	w.mu.Unlock()
	if err == nil {
		err = w.store.Set(ctx, storage.KeySyncStatus, data)
	}
	if err != nil {
		logging.Error("could not persist sync status", err)
	}
}

// Download fetches the authority's records stored since the last
// successful sync. They are returned for display and never merged into the
// ledger.
func (w *Workflow) Download(ctx context.Context) ([]models.RemoteRecord, error) {
	since := w.LastSync()
	var records []models.RemoteRecord
	err := w.session.Authorized(ctx, func(ctx context.Context, token string) error {
		var err error
		records, err = w.authority.Download(ctx, token, since)
		return err
	})
	return records, err
}

// ListPendingApprovalRequests returns requests awaiting a decision.
// Elevated roles only.
func (w *Workflow) ListPendingApprovalRequests(ctx context.Context) ([]models.ApprovalRequest, error) {
	if err := w.requireElevated(ctx); err != nil {
		return nil, err
	}
	var out []models.ApprovalRequest
	err := w.session.Authorized(ctx, func(ctx context.Context, token string) error {
		var err error
		out, err = w.authority.PendingRequests(ctx, token)
		return err
	})
	return out, err
}

// Decide approves or rejects request id. Elevated roles only.
func (w *Workflow) Decide(ctx context.Context, id int64, decision models.Decision) (*models.ApprovalRequest, error) {
	if !decision.Valid() {
		return nil, apperrors.Newf(apperrors.ErrValidation, "decision must be approve or reject, got %q", decision)
	}
	if err := w.requireElevated(ctx); err != nil {
		return nil, err
	}

	var req *models.ApprovalRequest
	err := w.session.Authorized(ctx, func(ctx context.Context, token string) error {
		var err error
		req, err = w.authority.Decide(ctx, token, id, decision)
		return err
	})
	if err != nil {
		return nil, err
	}
	logging.Info("approval decided", map[string]interface{}{"id": id, "decision": decision})
	w.emit(Event{Type: EventApprovalDecided, Request: req})
	return req, nil
}

func (w *Workflow) requireElevated(ctx context.Context) error {
	u := w.session.CurrentUser(ctx)
	if u == nil {
		return apperrors.New(apperrors.ErrSessionExpired, "not logged in")
	}
	if !u.Role.IsElevated() {
		return apperrors.Newf(apperrors.ErrPermission, "role %q cannot review sync requests", u.RoleName())
	}
	return nil
}
