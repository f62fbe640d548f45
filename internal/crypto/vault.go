package crypto

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	apperrors "github.com/SrTcot/face-nomad/internal/errors"
	"github.com/SrTcot/face-nomad/internal/logging"
	"github.com/SrTcot/face-nomad/internal/models"
)

// Vault encrypts and decrypts credential blobs under one device key. The key
// is created lazily on first Encrypt and cached in memory afterwards.
type Vault struct {
	keys KeySource

	mu  sync.Mutex
	key []byte
}

// NewVault returns a Vault drawing its key from keys.
func NewVault(keys KeySource) *Vault {
	return &Vault{keys: keys}
}

// GetOrCreateKey returns the vault key, generating and persisting it when
// none exists.
func (v *Vault) GetOrCreateKey(ctx context.Context) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loadLocked(ctx, true)
}

func (v *Vault) loadLocked(ctx context.Context, create bool) ([]byte, error) {
	if v.key != nil {
		return v.key, nil
	}

	key, err := v.keys.Load(ctx)
	if errors.Is(err, ErrNoKey) && create {
		key, err = v.keys.Create(ctx)
		if err == nil {
			logging.Info("vault key created")
		}
	}
	if err != nil {
		return nil, err
	}
	v.key = key
	return key, nil
}

// Encrypt serializes payload as JSON and seals it with a fresh nonce.
func (v *Vault) Encrypt(ctx context.Context, payload any) (*models.CredentialBlob, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "payload is not serializable", err)
	}

	key, err := v.GetOrCreateKey(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "could not obtain vault key", err)
	}

	iv, ciphertext, err := seal(key, plaintext)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCryptoFailed, "encryption failed", err)
	}
	return &models.CredentialBlob{
		Version:    models.CredentialBlobVersion,
		Ciphertext: ciphertext,
		IV:         iv,
	}, nil
}

// Decrypt opens blob into out and reports whether it succeeded. Missing key,
// unknown envelope version, tampering and malformed input all read as
// "nothing stored"; the cause is logged at debug level.
func (v *Vault) Decrypt(ctx context.Context, blob *models.CredentialBlob, out any) bool {
	if blob == nil || blob.Version != models.CredentialBlobVersion {
		return false
	}

	v.mu.Lock()
	key, err := v.loadLocked(ctx, false)
	v.mu.Unlock()
	if err != nil {
		logging.Debug("vault decrypt skipped", map[string]interface{}{"reason": err.Error()})
		return false
	}

	plaintext, err := open(key, blob.IV, blob.Ciphertext)
	if err != nil {
		logging.Debug("vault decrypt failed", map[string]interface{}{"reason": err.Error()})
		return false
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		logging.Debug("vault payload malformed", map[string]interface{}{"reason": err.Error()})
		return false
	}
	return true
}

// DestroyKey removes the key. Every blob sealed under it becomes unreadable.
func (v *Vault) DestroyKey(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.key = nil
	if err := v.keys.Destroy(ctx); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "could not destroy vault key", err)
	}
	return nil
}
