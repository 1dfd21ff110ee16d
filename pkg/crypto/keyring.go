package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// DefaultKeyIterations is the PBKDF2 iteration count for derived keys.
const DefaultKeyIterations = 100000

// DeriveKey stretches a secret into a 256-bit AEAD key using
// PBKDF2-HMAC-SHA256.
func DeriveKey(secret string, salt []byte, iterations int) []byte {
	if iterations <= 0 {
		iterations = DefaultKeyIterations
	}
	return pbkdf2.Key([]byte(secret), salt, iterations, KeySize, sha256.New)
}

// Keyring wraps per-user data keys under a master key using the same
// AEAD as content encryption.
type Keyring struct {
	master *Cipher
}

// NewKeyring creates a keyring over a 256-bit master key.
func NewKeyring(masterKey []byte) (*Keyring, error) {
	master, err := NewCipher(masterKey)
	if err != nil {
		return nil, err
	}
	return &Keyring{master: master}, nil
}

// NewUserKey generates a fresh data key and returns it alongside its
// wrapped (master-encrypted, base64) form for storage.
func (k *Keyring) NewUserKey() (key []byte, wrapped string, err error) {
	key, err = GenerateKey()
	if err != nil {
		return nil, "", err
	}
	wrapped, err = k.WrapKey(key)
	if err != nil {
		return nil, "", err
	}
	return key, wrapped, nil
}

// WrapKey encrypts a data key under the master key.
func (k *Keyring) WrapKey(key []byte) (string, error) {
	if len(key) != KeySize {
		return "", ErrInvalidKeySize
	}
	encrypted, err := k.master.Encrypt(key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(encrypted), nil
}

// UnwrapKey decrypts a wrapped data key.
func (k *Keyring) UnwrapKey(wrapped string) ([]byte, error) {
	encrypted, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return nil, fmt.Errorf("failed to decode wrapped key: %w", err)
	}
	key, err := k.master.Decrypt(encrypted)
	if err != nil {
		return nil, err
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	return key, nil
}

// HashPassword creates a PBKDF2 hash with a random per-user salt,
// encoded as base64(salt):base64(key).
func HashPassword(password string) (string, error) {
	salt, err := GenerateKey()
	if err != nil {
		return "", err
	}
	key := pbkdf2.Key([]byte(password), salt, DefaultKeyIterations, 32, sha256.New)
	return base64.StdEncoding.EncodeToString(salt) + ":" + base64.StdEncoding.EncodeToString(key), nil
}

// VerifyPassword checks a password against a stored hash in constant time.
func VerifyPassword(password, stored string) bool {
	parts := strings.SplitN(stored, ":", 2)
	if len(parts) != 2 {
		return false
	}
	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}
	expected, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}
	key := pbkdf2.Key([]byte(password), salt, DefaultKeyIterations, len(expected), sha256.New)
	return subtle.ConstantTimeCompare(key, expected) == 1
}
