package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashContent(t *testing.T) {
	t.Run("DeterministicHexDigest", func(t *testing.T) {
		h1 := HashContent("the sky is blue")
		h2 := HashContent("the sky is blue")
		assert.Equal(t, h1, h2)
		assert.Len(t, h1, 64)
		assert.Equal(t, strings.ToLower(h1), h1)
	})

	t.Run("DistinctContentDistinctHash", func(t *testing.T) {
		assert.NotEqual(t, HashContent("a"), HashContent("b"))
	})
}

func TestCipher(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	c, err := NewCipher(key)
	require.NoError(t, err)

	t.Run("EncryptDecrypt", func(t *testing.T) {
		plaintext := []byte("meeting notes: project alpha ships in june")
		encrypted, err := c.Encrypt(plaintext)
		require.NoError(t, err)
		decrypted, err := c.Decrypt(encrypted)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	})

	t.Run("NonceVariesPerMessage", func(t *testing.T) {
		e1, err := c.Encrypt([]byte("same input"))
		require.NoError(t, err)
		e2, err := c.Encrypt([]byte("same input"))
		require.NoError(t, err)
		assert.NotEqual(t, e1, e2)
	})

	t.Run("TamperedCiphertextFails", func(t *testing.T) {
		encrypted, err := c.Encrypt([]byte("sensitive"))
		require.NoError(t, err)
		encrypted[len(encrypted)-1] ^= 0xFF
		_, err = c.Decrypt(encrypted)
		assert.ErrorIs(t, err, ErrDecryption)
	})

	t.Run("WrongKeyFails", func(t *testing.T) {
		otherKey, err := GenerateKey()
		require.NoError(t, err)
		other, err := NewCipher(otherKey)
		require.NoError(t, err)

		encrypted, err := c.Encrypt([]byte("sensitive"))
		require.NoError(t, err)
		_, err = other.Decrypt(encrypted)
		assert.ErrorIs(t, err, ErrDecryption)
	})

	t.Run("TruncatedInputFails", func(t *testing.T) {
		_, err := c.Decrypt([]byte("short"))
		assert.ErrorIs(t, err, ErrDecryption)
	})

	t.Run("StringRoundTripBase64", func(t *testing.T) {
		encoded, err := c.EncryptString("hello")
		require.NoError(t, err)
		assert.NotContains(t, encoded, "hello")
		decoded, err := c.DecryptString(encoded)
		require.NoError(t, err)
		assert.Equal(t, "hello", decoded)
	})

	t.Run("RejectsShortKey", func(t *testing.T) {
		_, err := NewCipher([]byte("too short"))
		assert.ErrorIs(t, err, ErrInvalidKeySize)
	})
}

func TestKeyring(t *testing.T) {
	masterKey, err := GenerateKey()
	require.NoError(t, err)
	kr, err := NewKeyring(masterKey)
	require.NoError(t, err)

	t.Run("WrapUnwrapRoundTrip", func(t *testing.T) {
		key, wrapped, err := kr.NewUserKey()
		require.NoError(t, err)
		unwrapped, err := kr.UnwrapKey(wrapped)
		require.NoError(t, err)
		assert.Equal(t, key, unwrapped)
	})

	t.Run("WrongMasterFailsUnwrap", func(t *testing.T) {
		_, wrapped, err := kr.NewUserKey()
		require.NoError(t, err)

		otherMaster, err := GenerateKey()
		require.NoError(t, err)
		other, err := NewKeyring(otherMaster)
		require.NoError(t, err)

		_, err = other.UnwrapKey(wrapped)
		assert.ErrorIs(t, err, ErrDecryption)
	})
}

func TestDeriveKey(t *testing.T) {
	salt := []byte("per-install-salt")
	k1 := DeriveKey("master-secret", salt, 1000)
	k2 := DeriveKey("master-secret", salt, 1000)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, KeySize)
	assert.NotEqual(t, k1, DeriveKey("other-secret", salt, 1000))
}

func TestPasswords(t *testing.T) {
	t.Run("VerifyMatches", func(t *testing.T) {
		hash, err := HashPassword("hunter2")
		require.NoError(t, err)
		assert.True(t, VerifyPassword("hunter2", hash))
		assert.False(t, VerifyPassword("hunter3", hash))
	})

	t.Run("SaltVariesPerHash", func(t *testing.T) {
		h1, err := HashPassword("hunter2")
		require.NoError(t, err)
		h2, err := HashPassword("hunter2")
		require.NoError(t, err)
		assert.NotEqual(t, h1, h2)
	})

	t.Run("MalformedStoredHashRejected", func(t *testing.T) {
		assert.False(t, VerifyPassword("x", "not-a-hash"))
		assert.False(t, VerifyPassword("x", "!!!:???"))
	})
}
