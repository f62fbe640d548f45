package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ApprovalStatus is the state of a sync approval request.
type ApprovalStatus string

const (
	ApprovalNone     ApprovalStatus = "none"
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Decision is a supervisor's answer to a pending request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Valid reports whether d is approve or reject.
func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// ApprovalRequest mirrors the authority's approval record.
type ApprovalRequest struct {
	ID             int64           `json:"id"`
	RequestedBy    int64           `json:"requested_by"`
	ApprovedBy     *int64          `json:"approved_by,omitempty"`
	Status         ApprovalStatus  `json:"status"`
	RequestedAt    *ServerTime     `json:"requested_at,omitempty"`
	ApprovedAt     *ServerTime     `json:"approved_at,omitempty"`
	ExpiresAt      *ServerTime     `json:"expires_at,omitempty"`
	Requester      string          `json:"requester,omitempty"`
	Approver       string          `json:"approver,omitempty"`
	RecordsCount   int             `json:"records_count"`
	RecordsSummary []RecordSummary `json:"records_summary,omitempty"`
}

// ApprovalState is the locally held view of the current user's approval.
type ApprovalState struct {
	Status    ApprovalStatus   `json:"status"`
	CanSync   bool             `json:"can_sync"`
	ExpiresAt *time.Time       `json:"expires_at,omitempty"`
	Request   *ApprovalRequest `json:"approval,omitempty"`
}

// NoApproval is the state before any request was made.
func NoApproval() ApprovalState {
	return ApprovalState{Status: ApprovalNone}
}

// Effective returns the state as seen at now. An approval whose expiry is
// missing or not after now reads as none.
func (s ApprovalState) Effective(now time.Time) ApprovalState {
	if s.Status == "" {
		s.Status = ApprovalNone
	}
	if s.Status != ApprovalApproved {
		s.CanSync = false
		return s
	}
	if s.ExpiresAt == nil || !now.Before(*s.ExpiresAt) {
		return ApprovalState{Status: ApprovalNone, Request: s.Request}
	}
	return s
}

// SyncStatus is the persisted bookkeeping of sync attempts.
type SyncStatus struct {
	LastSync    *time.Time `json:"lastSync,omitempty"`
	LastAttempt *time.Time `json:"lastAttempt,omitempty"`
}

// SyncResult reports the outcome of one upload run.
type SyncResult struct {
	Uploaded  int           `json:"uploaded"`
	Remaining int           `json:"remaining"`
	Batches   int           `json:"batches"`
	Duration  time.Duration `json:"duration"`
}

// ServerTime decodes the authority's timestamps, which are either RFC 3339
// or naive ISO 8601 in UTC.
type ServerTime struct {
	time.Time
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// ParseServerTime parses one authority timestamp.
func ParseServerTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *ServerTime) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseServerTime(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t ServerTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.UTC().Format(time.RFC3339Nano))
}

// Ptr returns the wrapped time or nil for a nil receiver.
func (t *ServerTime) Ptr() *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}
