package crypto

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"

	"github.com/SrTcot/face-nomad/internal/storage"
)

// ErrNoKey is returned by KeySource.Load when no key has been created yet.
var ErrNoKey = errors.New("vault key not found")

// KeySource obtains the vault key.
type KeySource interface {
	// Load returns the existing key or ErrNoKey.
	Load(ctx context.Context) ([]byte, error)
	// Create makes and persists a new key.
	Create(ctx context.Context) ([]byte, error)
	// Destroy irreversibly removes whatever Load depends on.
	Destroy(ctx context.Context) error
}

// jwk is the exported form of a symmetric key (RFC 7517, kty "oct").
type jwk struct {
	Kty    string   `json:"kty"`
	Alg    string   `json:"alg"`
	K      string   `json:"k"`
	Ext    bool     `json:"ext"`
	KeyOps []string `json:"key_ops"`
}

// StoredKey keeps a random key as a JWK document in the same storage port
// as the ciphertext it protects. That guards against casual inspection of
// the storage medium, not against anyone who can read all of it.
type StoredKey struct {
	store storage.Store
}

// NewStoredKey returns a StoredKey persisting under storage.KeyVaultKey.
func NewStoredKey(store storage.Store) *StoredKey {
	return &StoredKey{store: store}
}

func (s *StoredKey) Load(ctx context.Context) ([]byte, error) {
	raw, err := s.store.Get(ctx, storage.KeyVaultKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoKey
	}
	if err != nil {
		return nil, err
	}

	var doc jwk
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("malformed vault key: %w", err)
	}
	if doc.Kty != "oct" || doc.Alg != "A256GCM" {
		return nil, fmt.Errorf("unsupported vault key %s/%s", doc.Kty, doc.Alg)
	}
	key, err := base64.RawURLEncoding.DecodeString(doc.K)
	if err != nil || len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	return key, nil
}

func (s *StoredKey) Create(ctx context.Context) ([]byte, error) {
	key, err := newKey()
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(jwk{
		Kty:    "oct",
		Alg:    "A256GCM",
		K:      base64.RawURLEncoding.EncodeToString(key),
		Ext:    true,
		KeyOps: []string{"encrypt", "decrypt"},
	})
	if err != nil {
		return nil, err
	}
	if err := s.store.Set(ctx, storage.KeyVaultKey, raw); err != nil {
		return nil, err
	}
	return key, nil
}

func (s *StoredKey) Destroy(ctx context.Context) error {
	return s.store.Delete(ctx, storage.KeyVaultKey)
}

// Argon2id parameters for PassphraseKey.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	saltSize     = 16
)

// PassphraseKey derives the key from an operator secret with Argon2id. Only
// the salt is persisted, so the storage medium alone does not reveal the key.
type PassphraseKey struct {
	store      storage.Store
	passphrase []byte
}

// NewPassphraseKey returns a PassphraseKey. An empty passphrase is rejected.
func NewPassphraseKey(store storage.Store, passphrase string) (*PassphraseKey, error) {
	if passphrase == "" {
		return nil, ErrInvalidKey
	}
	return &PassphraseKey{store: store, passphrase: []byte(passphrase)}, nil
}

func (p *PassphraseKey) Load(ctx context.Context) ([]byte, error) {
	salt, err := p.store.Get(ctx, storage.KeyVaultSalt)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoKey
	}
	if err != nil {
		return nil, err
	}
	if len(salt) != saltSize {
		return nil, ErrInvalidKey
	}
	return p.derive(salt), nil
}

func (p *PassphraseKey) Create(ctx context.Context) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(randReader, salt); err != nil {
		return nil, err
	}
	if err := p.store.Set(ctx, storage.KeyVaultSalt, salt); err != nil {
		return nil, err
	}
	return p.derive(salt), nil
}

func (p *PassphraseKey) Destroy(ctx context.Context) error {
	return p.store.Delete(ctx, storage.KeyVaultSalt)
}

func (p *PassphraseKey) derive(salt []byte) []byte {
	return argon2.IDKey(p.passphrase, salt, argonTime, argonMemory, argonThreads, KeySize)
}
