// Package sync gates and performs the upload of ledger records to the
// authority, including the supervisor approval workflow.
package sync

import (
	"context"
	"time"

	"github.com/SrTcot/face-nomad/internal/models"
)

// Engine is the part of the workflow the background scheduler drives.
type Engine interface {
	// Sync uploads pending records when the gate is open.
	Sync(ctx context.Context) (*models.SyncResult, error)

	// ApprovalStatus polls the authority for the current approval.
	ApprovalStatus(ctx context.Context) (models.ApprovalState, error)

	// CanSync reports whether the current user may upload right now.
	CanSync(ctx context.Context) bool

	// PendingChanges returns the number of records waiting for upload.
	PendingChanges(ctx context.Context) (int, error)

	// Status returns the current run state.
	Status() Status

	// LastSync returns the time of the last successful upload.
	LastSync() *time.Time

	// LastError returns the error of the last failed run.
	LastError() error
}

var _ Engine = (*Workflow)(nil)
