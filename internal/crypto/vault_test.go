package crypto

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/SrTcot/face-nomad/internal/errors"
	"github.com/SrTcot/face-nomad/internal/models"
	"github.com/SrTcot/face-nomad/internal/storage"
)

type tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

func TestVault_roundtrip(t *testing.T) {
	ctx := context.Background()
	v := NewVault(NewStoredKey(storage.NewMemoryStore()))

	blob, err := v.Encrypt(ctx, tokens{Access: "A1", Refresh: "R1"})
	require.NoError(t, err)
	assert.Equal(t, models.CredentialBlobVersion, blob.Version)
	assert.Len(t, blob.IV, NonceSize)

	var got tokens
	require.True(t, v.Decrypt(ctx, blob, &got))
	assert.Equal(t, tokens{Access: "A1", Refresh: "R1"}, got)
}

func TestVault_keyPersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	blob, err := NewVault(NewStoredKey(store)).Encrypt(ctx, "hello")
	require.NoError(t, err)

	var got string
	assert.True(t, NewVault(NewStoredKey(store)).Decrypt(ctx, blob, &got))
	assert.Equal(t, "hello", got)
}

func TestVault_storedKeyIsJWK(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	_, err := NewVault(NewStoredKey(store)).GetOrCreateKey(ctx)
	require.NoError(t, err)

	raw, err := store.Get(ctx, storage.KeyVaultKey)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "oct", doc["kty"])
	assert.Equal(t, "A256GCM", doc["alg"])
	assert.NotEmpty(t, doc["k"])
}

func TestVault_decryptReturnsNothing(t *testing.T) {
	ctx := context.Background()
	v := NewVault(NewStoredKey(storage.NewMemoryStore()))
	blob, err := v.Encrypt(ctx, tokens{Access: "A1"})
	require.NoError(t, err)

	tampered := *blob
	tampered.Ciphertext = append([]byte(nil), blob.Ciphertext...)
	tampered.Ciphertext[len(tampered.Ciphertext)-1] ^= 0xff

	tamperedIV := *blob
	tamperedIV.IV = bytes.Repeat([]byte{0}, NonceSize)

	future := *blob
	future.Version = 2

	tests := []struct {
		name string
		blob *models.CredentialBlob
	}{
		{"nil blob", nil},
		{"tampered ciphertext", &tampered},
		{"tampered iv", &tamperedIV},
		{"unknown version", &future},
		{"empty blob", &models.CredentialBlob{Version: models.CredentialBlobVersion}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out tokens
			assert.False(t, v.Decrypt(ctx, tt.blob, &out))
			assert.Empty(t, out.Access)
		})
	}
}

func TestVault_decryptWithoutKeyDoesNotCreateOne(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	v := NewVault(NewStoredKey(store))

	var out tokens
	assert.False(t, v.Decrypt(ctx, &models.CredentialBlob{Version: 1, IV: make([]byte, NonceSize), Ciphertext: make([]byte, 32)}, &out))

	_, err := store.Get(ctx, storage.KeyVaultKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestVault_destroyKeyMakesBlobsUnreadable(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	v := NewVault(NewStoredKey(store))

	blob, err := v.Encrypt(ctx, tokens{Access: "A1"})
	require.NoError(t, err)
	require.NoError(t, v.DestroyKey(ctx))

	_, err = store.Get(ctx, storage.KeyVaultKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	var out tokens
	assert.False(t, v.Decrypt(ctx, blob, &out))

	// A new key is minted on the next Encrypt and cannot open old blobs.
	_, err = v.Encrypt(ctx, "new")
	require.NoError(t, err)
	assert.False(t, v.Decrypt(ctx, blob, &out))
}

func TestVault_encryptUnserializable(t *testing.T) {
	v := NewVault(NewStoredKey(storage.NewMemoryStore()))
	_, err := v.Encrypt(context.Background(), make(chan int))
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))
}

func TestVault_encryptNoRandomness(t *testing.T) {
	ctx := context.Background()
	v := NewVault(NewStoredKey(storage.NewMemoryStore()))
	_, err := v.GetOrCreateKey(ctx)
	require.NoError(t, err)

	orig := randReader
	randReader = bytes.NewReader(nil)
	defer func() { randReader = orig }()

	_, err = v.Encrypt(ctx, "x")
	assert.True(t, apperrors.Is(err, apperrors.ErrCryptoFailed), "got %v", err)
}

func TestPassphraseKey(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	keys, err := NewPassphraseKey(store, "correct horse")
	require.NoError(t, err)
	blob, err := NewVault(keys).Encrypt(ctx, "secret")
	require.NoError(t, err)

	_, err = store.Get(ctx, storage.KeyVaultKey)
	assert.ErrorIs(t, err, storage.ErrNotFound, "passphrase mode must not persist the key")

	same, _ := NewPassphraseKey(store, "correct horse")
	var got string
	assert.True(t, NewVault(same).Decrypt(ctx, blob, &got))
	assert.Equal(t, "secret", got)

	wrong, _ := NewPassphraseKey(store, "battery staple")
	assert.False(t, NewVault(wrong).Decrypt(ctx, blob, &got))

	_, err = NewPassphraseKey(store, "")
	assert.ErrorIs(t, err, ErrInvalidKey)
}
