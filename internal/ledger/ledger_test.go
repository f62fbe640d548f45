package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/SrTcot/face-nomad/internal/clock"
	"github.com/SrTcot/face-nomad/internal/db"
	"github.com/SrTcot/face-nomad/internal/models"
)

var epoch = time.Date(2026, 3, 2, 8, 15, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*SQLiteStore, *clock.FakeClock) {
	t.Helper()
	database, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate())

	clk := clock.Fake(epoch)
	format := CaptureFormat{DateLayout: "2/1/2006", TimeLayout: "15:04", Location: time.UTC}
	store := NewSQLiteStore(database.DB, clk, format)
	t.Cleanup(func() { store.Close() })
	return store, clk
}

func capture(workerID string, typ models.RecordType) models.NewRecord {
	return models.NewRecord{WorkerID: workerID, WorkerName: "Worker " + workerID, Type: typ}
}

func conf(v float64) *float64 { return &v }
