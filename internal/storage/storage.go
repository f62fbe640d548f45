// Package storage is the key-value port through which the vault, the
// session manager and the sync workflow persist small opaque values.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("storage: key not found")

// Stable keys. The version segment changes only with an incompatible
// value format.
const (
	KeyTokens     = "facenomad.v1.tokens"
	KeyUser       = "facenomad.v1.user"
	KeyVaultKey   = "facenomad.v1.vault-key"
	KeyVaultSalt  = "facenomad.v1.vault-salt"
	KeySyncStatus = "facenomad.v1.sync-status"
	KeyDeviceID   = "facenomad.v1.device-id"
)

// Store persists opaque values under string keys.
type Store interface {
	// Get returns the value stored under key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
