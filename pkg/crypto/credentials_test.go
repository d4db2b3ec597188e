package crypto

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCredentialEncryptor_EmptyKey(t *testing.T) {
	_, err := NewCredentialEncryptor("")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	keys := map[string]string{
		"passphrase": "local dev secret",
		"base64 key": base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef")),
		"short b64":  base64.StdEncoding.EncodeToString([]byte("short")),
	}

	for name, key := range keys {
		t.Run(name, func(t *testing.T) {
			enc, err := NewCredentialEncryptor(key)
			require.NoError(t, err)

			sealed, err := enc.Encrypt("gho_exampletoken")
			require.NoError(t, err)
			assert.True(t, IsEncrypted(sealed))
			assert.NotContains(t, sealed, "gho_exampletoken")

			plain, err := enc.Decrypt(sealed)
			require.NoError(t, err)
			assert.Equal(t, "gho_exampletoken", plain)
		})
	}
}

func TestEncrypt_Empty(t *testing.T) {
	enc, err := NewCredentialEncryptor("k")
	require.NoError(t, err)

	sealed, err := enc.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, sealed)

	plain, err := enc.Decrypt("")
	require.NoError(t, err)
	assert.Empty(t, plain)
}

func TestEncrypt_UniqueNonces(t *testing.T) {
	enc, err := NewCredentialEncryptor("k")
	require.NoError(t, err)

	a, err := enc.Encrypt("same")
	require.NoError(t, err)
	b, err := enc.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecrypt_WrongKey(t *testing.T) {
	a, err := NewCredentialEncryptor("key-a")
	require.NoError(t, err)
	b, err := NewCredentialEncryptor("key-b")
	require.NoError(t, err)

	sealed, err := a.Encrypt("token")
	require.NoError(t, err)

	_, err = b.Decrypt(sealed)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecrypt_Malformed(t *testing.T) {
	enc, err := NewCredentialEncryptor("k")
	require.NoError(t, err)

	for _, in := range []string{"plaintext", "v1:not base64!", "v1:" + base64.StdEncoding.EncodeToString([]byte("x"))} {
		_, err := enc.Decrypt(in)
		assert.ErrorIs(t, err, ErrDecryptionFailed, in)
	}

	sealed, err := enc.Encrypt("token")
	require.NoError(t, err)
	tampered := sealed[:len(sealed)-4] + strings.Repeat("A", 4)
	_, err = enc.Decrypt(tampered)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}
