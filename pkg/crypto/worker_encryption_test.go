package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptor_RoundTrip(t *testing.T) {
	enc, err := NewEncryptor([]byte("short key is stretched"))
	require.NoError(t, err)

	sealed, err := enc.Encrypt("app-password")
	require.NoError(t, err)
	assert.NotEqual(t, "app-password", sealed)
	assert.True(t, IsEncrypted(sealed))

	plain, err := enc.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "app-password", plain)

	empty, err := enc.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestEncryptor_WrongKeyFails(t *testing.T) {
	a, _ := NewEncryptor([]byte("key-a"))
	b, _ := NewEncryptor([]byte("key-b"))

	sealed, err := a.Seal([]byte(`{"api_key":"x"}`))
	require.NoError(t, err)

	_, err = b.Open(sealed)
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = b.Open([]byte("tiny"))
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestNewEncryptor_RequiresKey(t *testing.T) {
	_, err := NewEncryptor(nil)
	assert.ErrorIs(t, err, ErrMissingKey)
	assert.False(t, IsEncrypted("plain-token"))
}
