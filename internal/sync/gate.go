package sync

import (
	"time"

	"github.com/SrTcot/face-nomad/internal/models"
)

// CanSyncNow is the upload gate. Elevated roles always pass; everyone else
// needs an approval whose expiry is strictly after now.
func CanSyncNow(role string, state models.ApprovalState, now time.Time) bool {
	if (&models.Role{Name: role}).IsElevated() {
		return true
	}
	return state.Status == models.ApprovalApproved &&
		state.ExpiresAt != nil &&
		now.Before(*state.ExpiresAt)
}
