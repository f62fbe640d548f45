// Package models provides data model definitions for the face-nomad core.
package models

import "time"

// RecordType is the kind of attendance event.
type RecordType string

const (
	RecordEntry RecordType = "entry"
	RecordExit  RecordType = "exit"
)

// Valid reports whether t is entry or exit.
func (t RecordType) Valid() bool {
	return t == RecordEntry || t == RecordExit
}

// Opposite returns the type that must follow t for the same worker.
func (t RecordType) Opposite() RecordType {
	if t == RecordEntry {
		return RecordExit
	}
	return RecordEntry
}

// AttendanceRecord is one captured check-in event held in the local ledger.
// Only Synced and SyncedAt ever change after creation.
type AttendanceRecord struct {
	ID          int64      `json:"id"`
	WorkerID    string     `json:"workerId"`
	WorkerName  string     `json:"workerName"`
	WorkerPhoto string     `json:"workerPhoto,omitempty"`
	Type        RecordType `json:"type"`
	Date        string     `json:"date"`
	Time        string     `json:"time"`
	Timestamp   int64      `json:"timestamp"`
	Confidence  *float64   `json:"confidence,omitempty"`
	Synced      bool       `json:"synced"`
	CreatedAt   time.Time  `json:"createdAt"`
	SyncedAt    *time.Time `json:"syncedAt,omitempty"`
}

// CapturedAt returns Timestamp as time.Time.
func (r *AttendanceRecord) CapturedAt() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// Summary returns the photo-free form sent with approval requests.
func (r *AttendanceRecord) Summary() RecordSummary {
	return RecordSummary{
		ID:         r.ID,
		WorkerID:   r.WorkerID,
		WorkerName: r.WorkerName,
		Type:       r.Type,
		Date:       r.Date,
		Time:       r.Time,
		Confidence: r.Confidence,
	}
}

// Upload returns the wire form accepted by the authority's upload endpoint.
func (r *AttendanceRecord) Upload(clientID string) UploadRecord {
	return UploadRecord{
		WorkerID:   r.WorkerID,
		WorkerName: r.WorkerName,
		Type:       r.Type,
		Timestamp:  r.CapturedAt().UTC().Format("2006-01-02T15:04:05.000"),
		Confidence: r.Confidence,
		ClientID:   clientID,
	}
}

// NewRecord is the capture input for a ledger append. Date and Time are
// filled from the capture clock when empty.
type NewRecord struct {
	WorkerID    string     `json:"workerId" validate:"required,max=100"`
	WorkerName  string     `json:"workerName" validate:"max=200"`
	WorkerPhoto string     `json:"workerPhoto,omitempty"`
	Type        RecordType `json:"type" validate:"required,oneof=entry exit"`
	Date        string     `json:"date,omitempty"`
	Time        string     `json:"time,omitempty"`
	Confidence  *float64   `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// RecordUpdate carries the only mutable fields of a record.
type RecordUpdate struct {
	Synced   *bool
	SyncedAt *time.Time
}

// DuplicateCheck is the detector's verdict for an intended capture.
type DuplicateCheck struct {
	IsDuplicate bool              `json:"isDuplicate"`
	LastRecord  *AttendanceRecord `json:"lastRecord,omitempty"`
	Message     string            `json:"message,omitempty"`
}

// RecordSummary is the minimal transmissible form of a record.
type RecordSummary struct {
	ID         int64      `json:"id"`
	WorkerID   string     `json:"workerId,omitempty"`
	WorkerName string     `json:"workerName"`
	Type       RecordType `json:"type"`
	Date       string     `json:"date"`
	Time       string     `json:"time"`
	Confidence *float64   `json:"confidence,omitempty"`
}

// UploadRecord is one element of an upload batch.
type UploadRecord struct {
	WorkerID   string     `json:"workerId"`
	WorkerName string     `json:"workerName"`
	Type       RecordType `json:"type"`
	Timestamp  string     `json:"timestamp"`
	Confidence *float64   `json:"confidence,omitempty"`
	ClientID   string     `json:"clientId"`
}

// RemoteRecord is a record as the authority returns it from download.
type RemoteRecord struct {
	ID         int64       `json:"id"`
	WorkerID   string      `json:"worker_id"`
	WorkerName string      `json:"worker_name"`
	Type       RecordType  `json:"type"`
	Timestamp  *ServerTime `json:"timestamp"`
	Confidence *float64    `json:"confidence"`
	SyncedAt   *ServerTime `json:"synced_at"`
	ClientID   string      `json:"client_id"`
}
