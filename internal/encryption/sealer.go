// Package encryption seals documents and tenant search mappings at rest.
package encryption

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the required length of the master key in bytes.
const KeySize = chacha20poly1305.KeySize

// blobVersion prefixes every ciphertext and is bound as additional data.
const blobVersion byte = 0x01

var (
	ErrInvalidKey        = errors.New("encryption: key must be 32 bytes")
	ErrMalformedBlob     = errors.New("encryption: malformed ciphertext")
	ErrUnsupportedFormat = errors.New("encryption: unsupported ciphertext version")
)

// Sealer encrypts and decrypts with XChaCha20-Poly1305.
//
// Blob layout: [version 1B][nonce 24B][ciphertext+tag].
type Sealer struct {
	key []byte
}

// NewSealer builds a sealer from a raw 32-byte key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &Sealer{key: k}, nil
}

// NewSealerFromBase64 builds a sealer from a base64 (std encoding) key, the
// format used by the ENCRYPTION_KEY setting.
func NewSealerFromBase64(encoded string) (*Sealer, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("encryption: decode key: %w", err)
	}
	return NewSealer(key)
}

// Encrypt seals plaintext.
func (s *Sealer) Encrypt(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, fmt.Errorf("encryption: init cipher: %w", err)
	}
	out := make([]byte, 1+chacha20poly1305.NonceSizeX, 1+chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	out[0] = blobVersion
	nonce := out[1 : 1+chacha20poly1305.NonceSizeX]
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("encryption: generate nonce: %w", err)
	}
	return aead.Seal(out, nonce, plaintext, out[:1]), nil
}

// Decrypt opens a blob produced by Encrypt.
func (s *Sealer) Decrypt(blob []byte) ([]byte, error) {
	if len(blob) < 1+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, ErrMalformedBlob
	}
	if blob[0] != blobVersion {
		return nil, ErrUnsupportedFormat
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, fmt.Errorf("encryption: init cipher: %w", err)
	}
	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	plaintext, err := aead.Open(nil, nonce, blob[1+chacha20poly1305.NonceSizeX:], blob[:1])
	if err != nil {
		return nil, fmt.Errorf("encryption: open: %w", err)
	}
	return plaintext, nil
}

// EncryptString seals a string and returns base64 text suitable for a TEXT column.
func (s *Sealer) EncryptString(plaintext string) (string, error) {
	blob, err := s.Encrypt([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(blob), nil
}

// DecryptString reverses EncryptString.
func (s *Sealer) DecryptString(ciphertext string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedBlob, err)
	}
	plaintext, err := s.Decrypt(blob)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
