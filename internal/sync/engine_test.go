package sync

import (
	"context"
	"net/http"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SrTcot/face-nomad/internal/clock"
	"github.com/SrTcot/face-nomad/internal/crypto"
	"github.com/SrTcot/face-nomad/internal/db"
	apperrors "github.com/SrTcot/face-nomad/internal/errors"
	"github.com/SrTcot/face-nomad/internal/ledger"
	"github.com/SrTcot/face-nomad/internal/models"
	"github.com/SrTcot/face-nomad/internal/remote"
	"github.com/SrTcot/face-nomad/internal/remote/remotetest"
	"github.com/SrTcot/face-nomad/internal/session"
	"github.com/SrTcot/face-nomad/internal/storage"
	"github.com/SrTcot/face-nomad/internal/uuid"
)

var epoch = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type env struct {
	clk    *clock.FakeClock
	auth   *remotetest.Authority
	client *remote.Client
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clk := clock.Fake(epoch)
	auth := remotetest.New()
	auth.SetNow(clk.Now)
	auth.AddUser("ana", "secret", "operator")
	auth.AddUser("sofia", "secret", models.RoleSupervisor)
	srv := auth.Start(t)
	return &env{clk: clk, auth: auth, client: remote.New(srv.URL, 5*time.Second)}
}

type device struct {
	workflow *Workflow
	ledger   *ledger.SQLiteStore
	session  *session.Manager
	store    *storage.MemoryStore
	events   *recorder
}

type recorder struct {
	mu     gosync.Mutex
	events []Event
}

func (r *recorder) OnSyncEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// device logs username in on a fresh device with its own ledger and
// credential store.
func (e *env) device(t *testing.T, username string, batchSize int) *device {
	t.Helper()
	ctx := context.Background()

	database, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate())
	led := ledger.NewSQLiteStore(database.DB, e.clk, ledger.CaptureFormat{DateLayout: "2/1/2006", TimeLayout: "15:04", Location: time.UTC})
	t.Cleanup(func() { led.Close() })

	store := storage.NewMemoryStore()
	mgr := session.NewManager(e.client, crypto.NewVault(crypto.NewStoredKey(store)), store, e.clk)
	_, err = mgr.Login(ctx, username, "secret")
	require.NoError(t, err)

	wf, err := NewWorkflow(ctx, Deps{
		Ledger: led, Authority: e.client, Session: mgr, Store: store, Clock: e.clk, BatchSize: batchSize,
	})
	require.NoError(t, err)
	rec := &recorder{}
	wf.SetEventHandler(rec)
	return &device{workflow: wf, ledger: led, session: mgr, store: store, events: rec}
}

func (d *device) capture(t *testing.T, workers ...string) {
	t.Helper()
	for _, w := range workers {
		_, err := d.ledger.Append(context.Background(), models.NewRecord{WorkerID: w, WorkerName: "Worker " + w, Type: models.RecordEntry})
		require.NoError(t, err)
	}
}

func (d *device) pending(t *testing.T) int {
	t.Helper()
	n, err := d.workflow.PendingChanges(context.Background())
	require.NoError(t, err)
	return n
}

func TestCanSyncNow(t *testing.T) {
	expires := epoch.Add(time.Hour)
	approved := models.ApprovalState{Status: models.ApprovalApproved, CanSync: true, ExpiresAt: &expires}

	tests := []struct {
		name  string
		role  string
		state models.ApprovalState
		now   time.Time
		want  bool
	}{
		{"supervisor without approval", models.RoleSupervisor, models.NoApproval(), epoch, true},
		{"admin with rejected request", models.RoleAdmin, models.ApprovalState{Status: models.ApprovalRejected}, epoch, true},
		{"operator without approval", "operator", models.NoApproval(), epoch, false},
		{"operator pending", "operator", models.ApprovalState{Status: models.ApprovalPending}, epoch, false},
		{"operator approved inside window", "operator", approved, epoch.Add(30 * time.Minute), true},
		{"operator approved at expiry", "operator", approved, expires, false},
		{"operator approved after expiry", "operator", approved, epoch.Add(2 * time.Hour), false},
		{"operator approved without expiry", "operator", models.ApprovalState{Status: models.ApprovalApproved, CanSync: true}, epoch, false},
		{"nobody logged in", "", approved, epoch, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanSyncNow(tt.role, tt.state, tt.now))
		})
	}
}

func TestNewWorkflow_deviceIDIsStable(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	first, err := NewWorkflow(ctx, Deps{Store: store})
	require.NoError(t, err)
	assert.True(t, uuid.IsValid(first.DeviceID()))

	second, err := NewWorkflow(ctx, Deps{Store: store})
	require.NoError(t, err)
	assert.Equal(t, first.DeviceID(), second.DeviceID())
	assert.Equal(t, StatusIdle, second.Status())
	assert.Nil(t, second.LastSync())
}

func TestNewWorkflow_replacesInvalidDeviceID(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Set(ctx, storage.KeyDeviceID, []byte("facenomad-client")))

	wf, err := NewWorkflow(ctx, Deps{Store: store})
	require.NoError(t, err)
	assert.NoError(t, uuid.ValidateDeviceID(wf.DeviceID()))

	stored, err := store.Get(ctx, storage.KeyDeviceID)
	require.NoError(t, err)
	assert.Equal(t, wf.DeviceID(), string(stored))
}

func TestWorkflow_approvalScenario(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	op := e.device(t, "ana", 0)
	sup := e.device(t, "sofia", 0)

	op.capture(t, "W1", "W2", "W3")

	_, err := op.workflow.Sync(ctx)
	assert.Equal(t, apperrors.ErrApprovalRequired, apperrors.CodeOf(err))
	assert.Equal(t, 3, op.pending(t))

	req, err := op.workflow.RequestApproval(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalPending, req.Status)
	assert.Equal(t, 3, req.RecordsCount)
	assert.Equal(t, models.ApprovalPending, op.workflow.State(e.clk.Now()).Status)

	_, err = op.workflow.RequestApproval(ctx)
	assert.Equal(t, apperrors.ErrApprovalPending, apperrors.CodeOf(err))
	assert.Len(t, e.auth.Approvals(), 1, "the second request never reaches the authority")

	requests, err := sup.workflow.ListPendingApprovalRequests(ctx)
	require.NoError(t, err)
	require.Len(t, requests, 1)
	_, err = sup.workflow.Decide(ctx, requests[0].ID, models.DecisionApprove)
	require.NoError(t, err)

	// T+30m: inside the window.
	e.clk.Advance(30 * time.Minute)
	state, err := op.workflow.ApprovalStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, state.Status)
	assert.True(t, state.CanSync)
	assert.True(t, op.workflow.CanSync(ctx))

	res, err := op.workflow.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Uploaded)
	assert.Zero(t, res.Remaining)
	assert.Zero(t, op.pending(t))
	assert.Len(t, e.auth.Uploaded(), 3)

	// T+2h: the approval has lapsed.
	e.clk.Advance(90 * time.Minute)
	op.capture(t, "W4")
	assert.False(t, op.workflow.CanSync(ctx))
	_, err = op.workflow.Sync(ctx)
	assert.Equal(t, apperrors.ErrApprovalRequired, apperrors.CodeOf(err))
	assert.Equal(t, 1, op.pending(t))

	state, err = op.workflow.ApprovalStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalNone, state.Status)
	assert.False(t, state.CanSync)

	assert.Contains(t, op.events.types(), EventApprovalRequested)
	assert.Contains(t, op.events.types(), EventApprovalChanged)
	assert.Contains(t, op.events.types(), EventSyncCompleted)
	assert.Contains(t, sup.events.types(), EventApprovalDecided)
}

func TestWorkflow_rejectedRequestCanBeRepeated(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	op := e.device(t, "ana", 0)
	sup := e.device(t, "sofia", 0)
	op.capture(t, "W1")

	req, err := op.workflow.RequestApproval(ctx)
	require.NoError(t, err)
	_, err = sup.workflow.Decide(ctx, req.ID, models.DecisionReject)
	require.NoError(t, err)

	state, err := op.workflow.ApprovalStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalRejected, state.Status)
	assert.False(t, op.workflow.CanSync(ctx))

	_, err = op.workflow.RequestApproval(ctx)
	require.NoError(t, err)
	assert.Len(t, e.auth.Approvals(), 2)
}

func TestWorkflow_RequestApproval_nothingPending(t *testing.T) {
	e := newEnv(t)
	op := e.device(t, "ana", 0)

	_, err := op.workflow.RequestApproval(context.Background())
	assert.Equal(t, apperrors.ErrValidation, apperrors.CodeOf(err))
	assert.Empty(t, e.auth.Approvals())
}

func TestWorkflow_RequestApproval_pendingOnAuthority(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	op := e.device(t, "ana", 0)
	op.capture(t, "W1")

	_, err := op.workflow.RequestApproval(ctx)
	require.NoError(t, err)

	// A second device for the same user has no local pending state.
	other := e.device(t, "ana", 0)
	other.capture(t, "W2")
	_, err = other.workflow.RequestApproval(ctx)
	assert.Equal(t, apperrors.ErrApprovalPending, apperrors.CodeOf(err))
}

func TestWorkflow_elevatedSyncsWithoutApproval(t *testing.T) {
	e := newEnv(t)
	sup := e.device(t, "sofia", 0)
	sup.capture(t, "W1", "W2")

	res, err := sup.workflow.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Uploaded)
	assert.Equal(t, 1, res.Batches)
	assert.Empty(t, e.auth.Approvals())
	assert.Zero(t, e.auth.Calls("GET /api/sync/approval-status"))
	assert.Equal(t, StatusIdle, sup.workflow.Status())
	require.NotNil(t, sup.workflow.LastSync())
}

// A workflow built after the approval was granted starts with no cached
// state, as every CLI invocation does, and must still sync.
func TestWorkflow_Sync_freshWorkflowAsksAuthority(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	op := e.device(t, "ana", 0)
	sup := e.device(t, "sofia", 0)
	op.capture(t, "W1", "W2")

	req, err := op.workflow.RequestApproval(ctx)
	require.NoError(t, err)
	_, err = sup.workflow.Decide(ctx, req.ID, models.DecisionApprove)
	require.NoError(t, err)

	fresh, err := NewWorkflow(ctx, Deps{Ledger: op.ledger, Authority: e.client, Session: op.session, Store: op.store, Clock: e.clk})
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalNone, fresh.Approval().Status)

	res, err := fresh.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Uploaded)
	assert.Zero(t, op.pending(t))
	assert.Equal(t, 1, e.auth.Calls("GET /api/sync/approval-status"))
	assert.Equal(t, models.ApprovalApproved, fresh.Approval().Status)

	// Once cached, a second run inside the window makes no further poll.
	op.capture(t, "W3")
	_, err = fresh.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, e.auth.Calls("GET /api/sync/approval-status"))
}

func TestWorkflow_Sync_approvalPollFails(t *testing.T) {
	e := newEnv(t)
	op := e.device(t, "ana", 0)
	op.capture(t, "W1")
	e.auth.ExpireAccessTokens()
	e.auth.FailRefresh(true)

	_, err := op.workflow.Sync(context.Background())
	assert.Equal(t, apperrors.ErrSessionExpired, apperrors.CodeOf(err))
	assert.Equal(t, 1, op.pending(t))
	assert.Empty(t, e.auth.Uploaded())
}

func TestWorkflow_Sync_partialFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sup := e.device(t, "sofia", 2)
	sup.capture(t, "W1", "W2", "W3", "W4", "W5")

	e.auth.FailUploads(func(n int) int {
		if n == 2 {
			return http.StatusInternalServerError
		}
		return 0
	})

	res, err := sup.workflow.Sync(ctx)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrRemote, apperrors.CodeOf(err))
	assert.Equal(t, 2, res.Uploaded)
	assert.Equal(t, 3, res.Remaining)
	assert.Equal(t, 1, res.Batches)
	assert.Equal(t, 3, sup.pending(t), "records of the failed and later batches stay pending")
	assert.Equal(t, StatusFailed, sup.workflow.Status())
	assert.Equal(t, err, sup.workflow.LastError())
	assert.Nil(t, sup.workflow.LastSync())
	assert.NotNil(t, sup.workflow.LastAttempt())
	assert.Contains(t, sup.events.types(), EventSyncFailed)

	all, err := sup.ledger.GetAll(ctx)
	require.NoError(t, err)
	for _, rec := range all {
		if rec.WorkerID == "W1" || rec.WorkerID == "W2" {
			assert.True(t, rec.Synced, "acknowledged batch is never rolled back")
			assert.NotNil(t, rec.SyncedAt)
		}
	}

	e.auth.FailUploads(nil)
	res, err = sup.workflow.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Uploaded)
	assert.Equal(t, 2, res.Batches)
	assert.Zero(t, sup.pending(t))
	assert.Nil(t, sup.workflow.LastError())
	assert.Len(t, e.auth.Uploaded(), 5)
}

func TestWorkflow_Sync_clientIDs(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sup := e.device(t, "sofia", 0)
	sup.capture(t, "W1", "W2")

	all, err := sup.ledger.GetAll(ctx)
	require.NoError(t, err)
	want := map[string]bool{}
	for _, rec := range all {
		want[uuid.RecordClientID(sup.workflow.DeviceID(), rec.ID)] = true
	}

	_, err = sup.workflow.Sync(ctx)
	require.NoError(t, err)
	for _, up := range e.auth.Uploaded() {
		assert.True(t, want[up.ClientID], "unexpected client id %s", up.ClientID)
	}
}

func TestWorkflow_Sync_refreshesExpiredToken(t *testing.T) {
	e := newEnv(t)
	sup := e.device(t, "sofia", 0)
	sup.capture(t, "W1")
	e.auth.ExpireAccessTokens()

	_, err := sup.workflow.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, e.auth.Calls("POST /api/auth/refresh"))
}

func TestWorkflow_Sync_sessionExpired(t *testing.T) {
	e := newEnv(t)
	sup := e.device(t, "sofia", 0)
	sup.capture(t, "W1")
	e.auth.ExpireAccessTokens()
	e.auth.FailRefresh(true)

	_, err := sup.workflow.Sync(context.Background())
	assert.Equal(t, apperrors.ErrSessionExpired, apperrors.CodeOf(err))
	assert.Equal(t, 1, sup.pending(t))
	assert.False(t, sup.session.IsAuthenticated(context.Background()))
}

func TestWorkflow_Sync_inProgress(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sup := e.device(t, "sofia", 0)
	sup.capture(t, "W1")

	entered := make(chan struct{})
	release := make(chan struct{})
	e.auth.FailUploads(func(int) int {
		close(entered)
		<-release
		return 0
	})

	done := make(chan error, 1)
	go func() {
		_, err := sup.workflow.Sync(ctx)
		done <- err
	}()
	<-entered

	_, err := sup.workflow.Sync(ctx)
	assert.Equal(t, apperrors.ErrSyncInProgress, apperrors.CodeOf(err))
	assert.Equal(t, StatusSyncing, sup.workflow.Status())

	close(release)
	require.NoError(t, <-done)
}

func TestWorkflow_statusPersists(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sup := e.device(t, "sofia", 0)
	sup.capture(t, "W1")
	_, err := sup.workflow.Sync(ctx)
	require.NoError(t, err)

	reopened, err := NewWorkflow(ctx, Deps{Ledger: sup.ledger, Authority: e.client, Session: sup.session, Store: sup.store, Clock: e.clk})
	require.NoError(t, err)
	require.NotNil(t, reopened.LastSync())
	assert.True(t, reopened.LastSync().Equal(*sup.workflow.LastSync()))
	assert.Equal(t, sup.workflow.DeviceID(), reopened.DeviceID())
}

func TestWorkflow_Download(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sup := e.device(t, "sofia", 0)
	sup.capture(t, "W1", "W2")

	got, err := sup.workflow.Download(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = sup.workflow.Sync(ctx)
	require.NoError(t, err)

	got, err = sup.workflow.Download(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 0, sup.pending(t), "downloads are never merged into the ledger")
}

func TestWorkflow_reviewRequiresElevatedRole(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	op := e.device(t, "ana", 0)

	_, err := op.workflow.ListPendingApprovalRequests(ctx)
	assert.Equal(t, apperrors.ErrPermission, apperrors.CodeOf(err))
	_, err = op.workflow.Decide(ctx, 1, models.DecisionApprove)
	assert.Equal(t, apperrors.ErrPermission, apperrors.CodeOf(err))
	assert.Zero(t, e.auth.Calls("GET /api/sync/pending-requests"))

	sup := e.device(t, "sofia", 0)
	_, err = sup.workflow.Decide(ctx, 1, models.Decision("maybe"))
	assert.Equal(t, apperrors.ErrValidation, apperrors.CodeOf(err))
	_, err = sup.workflow.Decide(ctx, 42, models.DecisionApprove)
	assert.Equal(t, http.StatusNotFound, remote.StatusOf(err))
}
