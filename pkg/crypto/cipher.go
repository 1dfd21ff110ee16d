package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	// ErrDecryption is returned when ciphertext fails authentication:
	// wrong key, truncated input, or tampered content.
	ErrDecryption = errors.New("decryption failed: ciphertext authentication error")

	// ErrInvalidKeySize is returned when a key is not 32 bytes.
	ErrInvalidKeySize = errors.New("invalid key size: expected 32 bytes")
)

// KeySize is the required key length in bytes for the AEAD.
const KeySize = chacha20poly1305.KeySize

// Cipher encrypts and decrypts with ChaCha20-Poly1305. The wire format
// is nonce || ciphertext || tag with a fresh random 96-bit nonce per
// message.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a Cipher from a 256-bit key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// NewCipherFromBase64 creates a Cipher from a base64-encoded 256-bit key.
func NewCipherFromBase64(encoded string) (*Cipher, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	return NewCipher(key)
}

// GenerateKey returns a fresh random 256-bit key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext and returns nonce || ciphertext || tag.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	// Seal appends ciphertext+tag after the nonce prefix
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens nonce || ciphertext || tag. Any authentication failure
// returns ErrDecryption.
func (c *Cipher) Decrypt(encrypted []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	if len(encrypted) < nonceSize+c.aead.Overhead() {
		return nil, ErrDecryption
	}
	nonce, ciphertext := encrypted[:nonceSize], encrypted[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}

// EncryptString seals a string and base64-encodes the result for
// storage in text columns.
func (c *Cipher) EncryptString(plaintext string) (string, error) {
	encrypted, err := c.Encrypt([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(encrypted), nil
}

// DecryptString reverses EncryptString.
func (c *Cipher) DecryptString(encoded string) (string, error) {
	encrypted, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	plaintext, err := c.Decrypt(encrypted)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
