// Package export writes the local ledger to a portable backup archive and
// restores it. Archives are gzip-compressed JSON, optionally sealed with a
// password that is never stored.
package export

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"slices"
	"time"

	"github.com/SrTcot/face-nomad/internal/clock"
	apperrors "github.com/SrTcot/face-nomad/internal/errors"
	"github.com/SrTcot/face-nomad/internal/logging"
	"github.com/SrTcot/face-nomad/internal/models"
)

// ManifestVersion is the payload layout written by Export.
const ManifestVersion = 1

// maxArchiveSize bounds what Import will read.
const maxArchiveSize = 256 << 20

// Ledger is the part of the ledger store a backup needs.
type Ledger interface {
	GetAll(ctx context.Context) ([]models.AttendanceRecord, error)
	Restore(ctx context.Context, records []models.AttendanceRecord) (int, error)
}

// Manifest describes an archive.
type Manifest struct {
	Version     int       `json:"version"`
	DeviceID    string    `json:"device_id"`
	ExportedAt  time.Time `json:"exported_at"`
	RecordCount int       `json:"record_count"`
	Pending     int       `json:"pending"`
	Checksum    string    `json:"checksum"`
	Encrypted   bool      `json:"encrypted"`
}

type payload struct {
	Manifest Manifest                  `json:"manifest"`
	Records  []models.AttendanceRecord `json:"records"`
}

// Result reports a finished export.
type Result struct {
	Manifest  Manifest      `json:"manifest"`
	SizeBytes int64         `json:"size_bytes"`
	Duration  time.Duration `json:"duration"`
}

// ImportResult reports a finished import.
type ImportResult struct {
	Manifest      Manifest      `json:"manifest"`
	ImportedCount int           `json:"imported"`
	SkippedCount  int           `json:"skipped"`
	Duration      time.Duration `json:"duration"`
}

// Service exports and imports one device's ledger.
type Service struct {
	ledger   Ledger
	clock    clock.Clock
	deviceID string
}

// NewService creates a new Service.
func NewService(ledger Ledger, clk clock.Clock, deviceID string) *Service {
	return &Service{ledger: ledger, clock: clk, deviceID: deviceID}
}

func checksum(records []models.AttendanceRecord) (string, error) {
	raw, err := json.Marshal(records)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Export writes every record to w. An empty password writes an
// unencrypted archive.
func (s *Service) Export(ctx context.Context, w io.Writer, password string) (*Result, error) {
	start := s.clock.Now()

	records, err := s.ledger.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	sum, err := checksum(records)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "could not encode records", err)
	}

	manifest := Manifest{
		Version:     ManifestVersion,
		DeviceID:    s.deviceID,
		ExportedAt:  start.UTC(),
		RecordCount: len(records),
		Checksum:    sum,
		Encrypted:   password != "",
	}
	for _, r := range records {
		if !r.Synced {
			manifest.Pending++
		}
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := json.NewEncoder(gz).Encode(payload{Manifest: manifest, Records: records}); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "could not encode archive", err)
	}
	if err := gz.Close(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "could not compress archive", err)
	}

	sealed, err := seal(buf.Bytes(), password)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, err.Error(), err)
	}
	n, err := w.Write(sealed)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "could not write archive", err)
	}

	result := &Result{Manifest: manifest, SizeBytes: int64(n), Duration: s.clock.Now().Sub(start)}
	logging.Info("ledger exported", map[string]interface{}{
		"records": manifest.RecordCount, "pending": manifest.Pending,
		"encrypted": manifest.Encrypted, "bytes": n,
	})
	return result, nil
}

// Read opens an archive without touching the ledger.
func Read(r io.Reader, password string) (*Manifest, []models.AttendanceRecord, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxArchiveSize+1))
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.ErrStorage, "could not read archive", err)
	}
	if len(data) > maxArchiveSize {
		return nil, nil, apperrors.New(apperrors.ErrInvalid, "archive too large")
	}

	body, encrypted, err := unseal(data, password)
	switch {
	case errors.Is(err, ErrInvalidPassword):
		return nil, nil, apperrors.Wrap(apperrors.ErrCryptoFailed, "wrong password or damaged archive", err)
	case err != nil:
		return nil, nil, apperrors.Wrap(apperrors.ErrInvalid, "not a ledger archive", err)
	}

	gz, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.ErrInvalid, "archive payload is not compressed", err)
	}
	defer gz.Close()

	var p payload
	if err := json.NewDecoder(gz).Decode(&p); err != nil {
		return nil, nil, apperrors.Wrap(apperrors.ErrInvalid, "archive payload is malformed", err)
	}
	if p.Manifest.Version != ManifestVersion {
		return nil, nil, apperrors.Newf(apperrors.ErrInvalid, "unsupported archive version %d", p.Manifest.Version)
	}
	if p.Manifest.Encrypted != encrypted {
		return nil, nil, apperrors.New(apperrors.ErrInvalid, "archive manifest does not match its framing")
	}
	sum, err := checksum(p.Records)
	if err != nil || sum != p.Manifest.Checksum || len(p.Records) != p.Manifest.RecordCount {
		return nil, nil, apperrors.New(apperrors.ErrInvalid, "archive checksum mismatch")
	}
	return &p.Manifest, p.Records, nil
}

// Import restores the archive's records into the ledger. Records already
// present are skipped, so importing twice is harmless.
func (s *Service) Import(ctx context.Context, r io.Reader, password string) (*ImportResult, error) {
	start := s.clock.Now()

	manifest, records, err := Read(r, password)
	if err != nil {
		return nil, err
	}
	// Oldest first, so reassigned ids keep capture order.
	slices.Reverse(records)
	imported, err := s.ledger.Restore(ctx, records)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{
		Manifest:      *manifest,
		ImportedCount: imported,
		SkippedCount:  len(records) - imported,
		Duration:      s.clock.Now().Sub(start),
	}
	logging.Info("ledger imported", map[string]interface{}{
		"source_device": manifest.DeviceID, "imported": imported, "skipped": result.SkippedCount,
	})
	return result, nil
}
