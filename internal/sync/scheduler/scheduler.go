// Package scheduler runs the sync workflow in the background: it keeps the
// approval status fresh while the authority is reachable and uploads when
// the gate is open and records are waiting.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/SrTcot/face-nomad/internal/clock"
	"github.com/SrTcot/face-nomad/internal/errors"
	"github.com/SrTcot/face-nomad/internal/logging"
	"github.com/SrTcot/face-nomad/internal/models"
	syncpkg "github.com/SrTcot/face-nomad/internal/sync"
)

// syncTimeout bounds one background run.
const syncTimeout = 5 * time.Minute

// Pinger reports whether the authority is reachable.
type Pinger interface {
	Health(ctx context.Context) error
}

// Scheduler manages background sync operations.
type Scheduler struct {
	engine       syncpkg.Engine
	pinger       Pinger
	clock        clock.Clock
	syncInterval time.Duration
	pollInterval time.Duration
	autoSync     bool

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu             sync.RWMutex
	isRunning      bool
	isOnline       bool
	lastSyncTime   time.Time
	lastPollTime   time.Time
	syncInProgress bool
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	SyncInterval time.Duration // How often to try an upload (default: 5 minutes)
	PollInterval time.Duration // How often to probe and refresh approval (default: 30 seconds)
	AutoSync     bool          // Upload on SyncInterval without being asked
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		SyncInterval: 5 * time.Minute,
		PollInterval: 30 * time.Second,
		AutoSync:     true,
	}
}

// NewScheduler creates a new Scheduler. A nil config uses the defaults.
func NewScheduler(engine syncpkg.Engine, pinger Pinger, clk clock.Clock, config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	if clk == nil {
		clk = clock.Real()
	}

	return &Scheduler{
		engine:       engine,
		pinger:       pinger,
		clock:        clk,
		syncInterval: config.SyncInterval,
		pollInterval: config.PollInterval,
		autoSync:     config.AutoSync,
		isOnline:     true, // Assume online until a probe says otherwise
	}
}

// Start starts both loops. Tickers exist when Start returns.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	stop := make(chan struct{})
	s.stopCh = stop
	s.mu.Unlock()

	pollTicker := s.clock.NewTicker(s.pollInterval)
	syncTicker := s.clock.NewTicker(s.syncInterval)

	s.wg.Add(2)
	go s.pollLoop(ctx, pollTicker, stop)
	go s.periodicSyncLoop(ctx, syncTicker, stop)

	logging.Info("Background sync scheduler started", map[string]interface{}{
		"sync_interval": s.syncInterval.String(),
		"poll_interval": s.pollInterval.String(),
		"auto_sync":     s.autoSync,
	})
}

// Stop stops the scheduler and waits for in-flight work.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	stop := s.stopCh
	s.mu.Unlock()

	close(stop)
	s.wg.Wait()

	logging.Info("Background sync scheduler stopped")
}

// SetOnlineStatus changes the online status. While offline neither the
// approval poll nor uploads reach the authority.
func (s *Scheduler) SetOnlineStatus(isOnline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wasOnline := s.isOnline
	s.isOnline = isOnline

	if wasOnline != isOnline {
		logging.Info("Online status changed",
			map[string]interface{}{
				"was_online": wasOnline,
				"is_online":  isOnline,
			})
	}
}

// pollLoop probes the authority and refreshes the approval status.
func (s *Scheduler) pollLoop(ctx context.Context, ticker *clock.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	if s.pinger != nil {
		s.SetOnlineStatus(s.pinger.Health(ctx) == nil)
	}
	if !s.IsOnline() {
		return
	}

	state, err := s.engine.ApprovalStatus(ctx)
	if err != nil {
		if errors.Is(err, errors.ErrSessionExpired) {
			logging.Debug("Approval poll skipped, no session")
			return
		}
		logging.Warn("Approval poll failed", map[string]interface{}{"error": err.Error()})
		return
	}

	s.mu.Lock()
	s.lastPollTime = s.clock.Now()
	s.mu.Unlock()
	logging.Debug("Approval polled", map[string]interface{}{"status": state.Status})
}

// periodicSyncLoop uploads on every tick when enabled, online and allowed.
func (s *Scheduler) periodicSyncLoop(ctx context.Context, ticker *clock.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if !s.autoSync || !s.IsOnline() {
				continue
			}
			if !s.engine.CanSync(ctx) {
				logging.Debug("Sync gate closed, skipping")
				continue
			}
			if n, err := s.engine.PendingChanges(ctx); err != nil || n == 0 {
				continue
			}
			s.TriggerSync(ctx)
		}
	}
}

// runSync executes one upload. The caller has set syncInProgress.
func (s *Scheduler) runSync(ctx context.Context) (*models.SyncResult, error) {
	defer func() {
		s.mu.Lock()
		s.syncInProgress = false
		s.mu.Unlock()
	}()

	syncCtx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	result, err := s.engine.Sync(syncCtx)
	if err != nil {
		return result, err
	}

	s.mu.Lock()
	s.lastSyncTime = s.clock.Now()
	s.mu.Unlock()
	return result, nil
}

// claim marks a sync as started. It reports false when one is running.
func (s *Scheduler) claim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncInProgress {
		return false
	}
	s.syncInProgress = true
	return true
}

// TriggerSync starts an upload in the background.
// Returns true if sync was started, false if sync is already in progress.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	if !s.claim() {
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		result, err := s.runSync(ctx)
		if err != nil {
			logging.Error("Background sync failed", err,
				map[string]interface{}{"code": errors.CodeOf(err)})
			return
		}
		logging.Info("Background sync completed",
			map[string]interface{}{
				"uploaded":  result.Uploaded,
				"remaining": result.Remaining,
			})
	}()
	return true
}

// SyncNow runs an upload and waits for it.
func (s *Scheduler) SyncNow(ctx context.Context) (*models.SyncResult, error) {
	if !s.claim() {
		return nil, errors.New(errors.ErrSyncInProgress, "sync already in progress")
	}
	return s.runSync(ctx)
}

// SchedulerStatus is a snapshot of the scheduler.
type SchedulerStatus struct {
	IsRunning      bool           `json:"is_running"`
	IsOnline       bool           `json:"is_online"`
	LastSyncTime   *time.Time     `json:"last_sync_time,omitempty"`
	LastPollTime   *time.Time     `json:"last_poll_time,omitempty"`
	SyncInProgress bool           `json:"sync_in_progress"`
	EngineStatus   syncpkg.Status `json:"engine_status"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		IsRunning:      s.isRunning,
		IsOnline:       s.isOnline,
		SyncInProgress: s.syncInProgress,
		EngineStatus:   s.engine.Status(),
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	if !s.lastPollTime.IsZero() {
		t := s.lastPollTime
		status.LastPollTime = &t
	}
	return status
}

// IsOnline returns whether the scheduler is in online mode.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
