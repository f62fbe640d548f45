// Package models tests for record, session and approval types.
package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestRecordType_Opposite(t *testing.T) {
	if RecordEntry.Opposite() != RecordExit {
		t.Error("entry should be followed by exit")
	}
	if RecordExit.Opposite() != RecordEntry {
		t.Error("exit should be followed by entry")
	}
	if RecordType("lunch").Valid() {
		t.Error("unknown type should be invalid")
	}
}

func TestAttendanceRecord_Upload(t *testing.T) {
	conf := 0.93
	r := AttendanceRecord{
		ID:          3,
		WorkerID:    "W7",
		WorkerName:  "Ana",
		WorkerPhoto: "data:image/jpeg;base64,AAAA",
		Type:        RecordEntry,
		Timestamp:   time.Date(2026, 3, 2, 8, 15, 0, 0, time.UTC).UnixMilli(),
		Confidence:  &conf,
	}

	up := r.Upload("device-1")
	if up.Timestamp != "2026-03-02T08:15:00.000" {
		t.Errorf("Timestamp = %q", up.Timestamp)
	}
	if up.ClientID != "device-1" {
		t.Errorf("ClientID = %q", up.ClientID)
	}

	data, err := json.Marshal(r.Summary())
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if _, ok := m["workerPhoto"]; ok {
		t.Error("summary must not carry the photo")
	}
}

// TestAttendanceRecord_wireKeys verifies the JSON shape the desktop API and
// backups rely on.
func TestAttendanceRecord_wireKeys(t *testing.T) {
	data, err := json.Marshal(AttendanceRecord{ID: 1, WorkerID: "W1", Type: RecordExit})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	want := []string{"id", "workerId", "workerName", "type", "date", "time", "timestamp", "synced", "createdAt"}
	if len(m) != len(want) {
		t.Errorf("got keys %v, want %v", m, want)
	}
	for _, k := range want {
		if _, ok := m[k]; !ok {
			t.Errorf("missing key %q in %s", k, data)
		}
	}
}

func TestRole_IsElevated(t *testing.T) {
	tests := []struct {
		role *Role
		want bool
	}{
		{nil, false},
		{&Role{Name: "operator"}, false},
		{&Role{Name: RoleSupervisor}, true},
		{&Role{Name: RoleAdmin}, true},
	}
	for _, tt := range tests {
		if got := tt.role.IsElevated(); got != tt.want {
			t.Errorf("IsElevated(%+v) = %v, want %v", tt.role, got, tt.want)
		}
	}
}

func TestApprovalState_Effective(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	future := now.Add(30 * time.Minute)
	past := now.Add(-time.Minute)

	tests := []struct {
		name        string
		state       ApprovalState
		wantStatus  ApprovalStatus
		wantCanSync bool
	}{
		{"zero value", ApprovalState{}, ApprovalNone, false},
		{"pending", ApprovalState{Status: ApprovalPending, CanSync: true}, ApprovalPending, false},
		{"approved and live", ApprovalState{Status: ApprovalApproved, CanSync: true, ExpiresAt: &future}, ApprovalApproved, true},
		{"approved and expired", ApprovalState{Status: ApprovalApproved, CanSync: true, ExpiresAt: &past}, ApprovalNone, false},
		{"approved at expiry instant", ApprovalState{Status: ApprovalApproved, CanSync: true, ExpiresAt: &now}, ApprovalNone, false},
		{"approved without expiry", ApprovalState{Status: ApprovalApproved, CanSync: true}, ApprovalNone, false},
		{"rejected", ApprovalState{Status: ApprovalRejected}, ApprovalRejected, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.state.Effective(now)
			if got.Status != tt.wantStatus || got.CanSync != tt.wantCanSync {
				t.Errorf("Effective() = {%s %v}, want {%s %v}", got.Status, got.CanSync, tt.wantStatus, tt.wantCanSync)
			}
		})
	}
}

func TestServerTime_UnmarshalJSON(t *testing.T) {
	want := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	tests := []string{
		`"2026-03-02T10:00:00"`,
		`"2026-03-02T10:00:00.000000"`,
		`"2026-03-02T10:00:00Z"`,
		`"2026-03-02T11:00:00+01:00"`,
	}
	for _, in := range tests {
		var st ServerTime
		if err := json.Unmarshal([]byte(in), &st); err != nil {
			t.Errorf("Unmarshal(%s) error = %v", in, err)
			continue
		}
		if !st.Equal(want) {
			t.Errorf("Unmarshal(%s) = %v, want %v", in, st.Time, want)
		}
	}

	var st ServerTime
	if err := json.Unmarshal([]byte(`"yesterday"`), &st); err == nil {
		t.Error("expected error for unparseable timestamp")
	}
}

func TestApprovalRequest_decodesAuthorityPayload(t *testing.T) {
	payload := `{
		"id": 12, "requested_by": 4, "approved_by": null, "status": "approved",
		"requested_at": "2026-03-02T09:00:00.123456", "approved_at": null,
		"expires_at": "2026-03-02T10:00:00", "requester": "ana", "approver": null,
		"records_count": 2,
		"records_summary": [{"id": 1, "workerName": "Ana", "type": "entry", "date": "02/03/2026", "time": "08:00:00"}]
	}`
	var req ApprovalRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if req.ExpiresAt.Ptr() == nil || req.ExpiresAt.Hour() != 10 {
		t.Errorf("ExpiresAt = %v", req.ExpiresAt)
	}
	if req.ApprovedAt.Ptr() != nil {
		t.Error("null approved_at should decode to nil")
	}
	if len(req.RecordsSummary) != 1 || req.RecordsSummary[0].WorkerName != "Ana" {
		t.Errorf("RecordsSummary = %+v", req.RecordsSummary)
	}
}
