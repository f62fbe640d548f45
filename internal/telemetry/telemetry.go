// Package telemetry keeps process-local operation counters and timings.
// Nothing is transmitted: the numbers are only read back through Snapshot,
// which the local status surfaces expose.
package telemetry

import (
	"sort"
	"sync"
	"time"
)

// Counter names recorded by the core.
const (
	CaptureRecorded  = "capture.recorded"
	CaptureDuplicate = "capture.duplicate"
	CaptureInvalid   = "capture.invalid"
	SyncRuns         = "sync.runs"
	SyncFailures     = "sync.failures"
	SyncUploaded     = "sync.uploaded"
	SyncBatches      = "sync.batches"
	SessionRefreshes = "session.refreshes"
	SessionExpired   = "session.expired"
	ApprovalRequests = "approval.requests"
)

// Timing names.
const (
	SyncDuration = "sync.duration"
)

// Timing summarizes the observations recorded under one name.
type Timing struct {
	Count int64         `json:"count"`
	Last  time.Duration `json:"last"`
	Max   time.Duration `json:"max"`
	Total time.Duration `json:"total"`
}

// Snapshot is a point-in-time copy of every counter and timing.
type Snapshot struct {
	Counters map[string]int64  `json:"counters"`
	Timings  map[string]Timing `json:"timings"`
}

// Names returns the counter names in sorted order.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s.Counters))
	for name := range s.Counters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var (
	mu       sync.Mutex
	counters = map[string]int64{}
	timings  = map[string]Timing{}
)

// RecordCount adds delta to the named counter.
func RecordCount(name string, delta int) {
	if delta == 0 {
		return
	}
	mu.Lock()
	counters[name] += int64(delta)
	mu.Unlock()
}

// TrackEvent counts one occurrence of name.
func TrackEvent(name string) {
	RecordCount(name, 1)
}

// RecordTiming adds one duration observation under name.
func RecordTiming(name string, d time.Duration) {
	mu.Lock()
	defer mu.Unlock()
	t := timings[name]
	t.Count++
	t.Last = d
	t.Total += d
	if d > t.Max {
		t.Max = d
	}
	timings[name] = t
}

// Get returns the current value of one counter.
func Get(name string) int64 {
	mu.Lock()
	defer mu.Unlock()
	return counters[name]
}

// GetSnapshot copies the current state.
func GetSnapshot() Snapshot {
	mu.Lock()
	defer mu.Unlock()
	s := Snapshot{
		Counters: make(map[string]int64, len(counters)),
		Timings:  make(map[string]Timing, len(timings)),
	}
	for k, v := range counters {
		s.Counters[k] = v
	}
	for k, v := range timings {
		s.Timings[k] = v
	}
	return s
}

// Reset clears everything. Tests use it between cases.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	counters = map[string]int64{}
	timings = map[string]Timing{}
}
