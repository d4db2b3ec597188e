// Package crypto encrypts GitHub access tokens at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// sealedPrefix tags values produced by Encrypt so plaintext rows are recognisable.
const sealedPrefix = "v1:"

var (
	// ErrInvalidKey is returned for an empty key.
	ErrInvalidKey = errors.New("credentials key must not be empty")
	// ErrDecryptionFailed covers malformed input and values sealed with another key.
	ErrDecryptionFailed = errors.New("failed to decrypt credential")
)

// CredentialEncryptor seals short secrets with AES-256-GCM.
type CredentialEncryptor struct {
	aead cipher.AEAD
}

// NewCredentialEncryptor derives the AES key from key. A base64 string that decodes
// to 32 bytes is used as-is; anything else is treated as a passphrase and hashed.
func NewCredentialEncryptor(key string) (*CredentialEncryptor, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}

	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil || len(raw) != 32 {
		sum := sha256.Sum256([]byte(key))
		raw = sum[:]
	}

	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return &CredentialEncryptor{aead: aead}, nil
}

// Encrypt returns "v1:" + base64(nonce|ciphertext). Empty input stays empty.
func (e *CredentialEncryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Empty input stays empty.
func (e *CredentialEncryptor) Decrypt(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	if !IsEncrypted(sealed) {
		return "", fmt.Errorf("%w: missing version prefix", ErrDecryptionFailed)
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: bad encoding", ErrDecryptionFailed)
	}
	n := e.aead.NonceSize()
	if len(data) < n+e.aead.Overhead() {
		return "", fmt.Errorf("%w: too short", ErrDecryptionFailed)
	}

	plaintext, err := e.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: wrong key or tampered value", ErrDecryptionFailed)
	}
	return string(plaintext), nil
}

// IsEncrypted reports whether value carries the Encrypt prefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, sealedPrefix)
}
