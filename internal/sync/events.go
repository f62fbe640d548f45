package sync

import (
	"time"

	"github.com/SrTcot/face-nomad/internal/models"
)

// EventType names a workflow notification. The dotted prefix groups them
// for subscribers.
type EventType string

const (
	EventSyncStarted       EventType = "sync.started"
	EventSyncCompleted     EventType = "sync.completed"
	EventSyncFailed        EventType = "sync.failed"
	EventApprovalRequested EventType = "approval.requested"
	EventApprovalChanged   EventType = "approval.changed"
	EventApprovalDecided   EventType = "approval.decided"
)

// Event is one workflow notification.
type Event struct {
	Type     EventType               `json:"type"`
	Time     time.Time               `json:"time"`
	Result   *models.SyncResult      `json:"result,omitempty"`
	Approval *models.ApprovalState   `json:"approval,omitempty"`
	Request  *models.ApprovalRequest `json:"request,omitempty"`
	Error    string                  `json:"error,omitempty"`
}

// EventHandler receives workflow events. OnSyncEvent is called on the
// workflow's goroutine and must not block.
type EventHandler interface {
	OnSyncEvent(event Event)
}

// SetEventHandler installs h, replacing any previous handler. nil disables
// notifications.
func (w *Workflow) SetEventHandler(h EventHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handler = h
}

func (w *Workflow) emit(event Event) {
	w.mu.Lock()
	h := w.handler
	w.mu.Unlock()
	if h == nil {
		return
	}
	if event.Time.IsZero() {
		event.Time = w.clock.Now()
	}
	h.OnSyncEvent(event)
}
