package export

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

var (
	// ErrInvalidPassword is returned when the archive does not open with
	// the given password.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrInvalidArchive is returned when the archive framing is malformed.
	ErrInvalidArchive = errors.New("invalid archive format")
)

const (
	// PasswordMinLength is the minimum length of an archive password.
	PasswordMinLength = 8

	archiveMagic   = "FNXARC"
	archiveVersion = 1
	algAESGCM      = "AES-256-GCM"
	algNone        = "none"

	saltLength  = 16
	nonceLength = 12

	// Argon2id cost for archive keys.
	kdfTime    = 1
	kdfMemory  = 64 * 1024
	kdfThreads = 4
	keyLength  = 32
)

// archiveHeader frames the payload. The password never appears in it; the
// whole header is bound to the ciphertext as associated data.
type archiveHeader struct {
	Version   uint8
	Algorithm string
	Nonce     []byte
	Salt      []byte
}

// ValidatePassword checks the minimum length of an archive password.
func ValidatePassword(password string) error {
	if len(password) < PasswordMinLength {
		return fmt.Errorf("password must be at least %d characters", PasswordMinLength)
	}
	return nil
}

func deriveKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, kdfTime, kdfMemory, kdfThreads, keyLength)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// seal frames payload. An empty password writes it unencrypted.
func seal(payload []byte, password string) ([]byte, error) {
	if password == "" {
		header, err := encodeHeader(archiveHeader{Version: archiveVersion, Algorithm: algNone})
		if err != nil {
			return nil, err
		}
		return append(header, payload...), nil
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	h := archiveHeader{
		Version:   archiveVersion,
		Algorithm: algAESGCM,
		Nonce:     make([]byte, nonceLength),
		Salt:      make([]byte, saltLength),
	}
	if _, err := io.ReadFull(rand.Reader, h.Salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if _, err := io.ReadFull(rand.Reader, h.Nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	gcm, err := newGCM(deriveKey(password, h.Salt))
	if err != nil {
		return nil, err
	}
	header, err := encodeHeader(h)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(header), len(header)+len(payload)+gcm.Overhead())
	copy(out, header)
	return gcm.Seal(out, h.Nonce, payload, header), nil
}

// unseal reverses seal. It reports whether the archive was encrypted.
func unseal(data []byte, password string) ([]byte, bool, error) {
	h, body, err := decodeHeader(data)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	if h.Version != archiveVersion {
		return nil, false, fmt.Errorf("%w: unsupported version %d", ErrInvalidArchive, h.Version)
	}

	switch h.Algorithm {
	case algNone:
		return body, false, nil
	case algAESGCM:
	default:
		return nil, false, fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidArchive, h.Algorithm)
	}

	if password == "" {
		return nil, true, fmt.Errorf("%w: archive is encrypted", ErrInvalidPassword)
	}
	if len(h.Nonce) != nonceLength || len(h.Salt) != saltLength {
		return nil, true, fmt.Errorf("%w: bad nonce or salt length", ErrInvalidArchive)
	}
	gcm, err := newGCM(deriveKey(password, h.Salt))
	if err != nil {
		return nil, true, err
	}
	header := data[:len(data)-len(body)]
	plaintext, err := gcm.Open(nil, h.Nonce, body, header)
	if err != nil {
		return nil, true, ErrInvalidPassword
	}
	return plaintext, true, nil
}

// encodeHeader writes magic, version, then the length-prefixed algorithm,
// nonce and salt.
func encodeHeader(h archiveHeader) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(archiveMagic)
	buf.WriteByte(h.Version)
	for _, field := range [][]byte{[]byte(h.Algorithm), h.Nonce, h.Salt} {
		if len(field) > 255 {
			return nil, errors.New("header field too long")
		}
		buf.WriteByte(byte(len(field)))
		buf.Write(field)
	}
	return buf.Bytes(), nil
}

func decodeHeader(data []byte) (archiveHeader, []byte, error) {
	var h archiveHeader
	r := bytes.NewReader(data)

	magic := make([]byte, len(archiveMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != archiveMagic {
		return h, nil, errors.New("missing archive magic")
	}
	version, err := r.ReadByte()
	if err != nil {
		return h, nil, fmt.Errorf("failed to read version: %w", err)
	}
	h.Version = version

	fields := make([][]byte, 3)
	for i := range fields {
		n, err := r.ReadByte()
		if err != nil {
			return h, nil, fmt.Errorf("failed to read field length: %w", err)
		}
		fields[i] = make([]byte, n)
		if _, err := io.ReadFull(r, fields[i]); err != nil {
			return h, nil, fmt.Errorf("failed to read field: %w", err)
		}
	}
	h.Algorithm = string(fields[0])
	if len(fields[1]) > 0 {
		h.Nonce = fields[1]
	}
	if len(fields[2]) > 0 {
		h.Salt = fields[2]
	}

	return h, data[len(data)-r.Len():], nil
}
