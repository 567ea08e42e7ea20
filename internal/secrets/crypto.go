// Package secrets encrypts and decrypts webhook signing secrets at rest.
//
// Secrets are stored as base64(nonce || AES-256-GCM ciphertext). The AES key
// is derived from the configured encryption key via SHA-256, so operators can
// supply a passphrase of any length.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrDecrypt is returned when a stored ciphertext cannot be decrypted.
var ErrDecrypt = errors.New("secrets: unable to decrypt stored value")

// Decryptor recovers plaintext secret material at dispatch time.
// The notification dispatcher consumes this capability; it never sees
// ciphertext handling details.
type Decryptor interface {
	Decrypt(ciphertext string) (string, error)
}

// Crypto implements symmetric secret encryption.
type Crypto struct {
	aead cipher.AEAD
}

// New creates a Crypto from a raw key string. The key must be non-empty.
func New(rawKey string) (*Crypto, error) {
	if rawKey == "" {
		return nil, errors.New("secrets: encryption key is required")
	}
	sum := sha256.Sum256([]byte(rawKey))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, fmt.Errorf("secrets: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets: init gcm: %w", err)
	}
	return &Crypto{aead: aead}, nil
}

// Encrypt returns the ciphertext for plaintext. Empty input stays empty so
// "no secret configured" round-trips without a sentinel.
func (c *Crypto) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secrets: nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Empty input stays empty.
func (c *Crypto) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecrypt
	}
	if len(raw) < c.aead.NonceSize() {
		return "", ErrDecrypt
	}
	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

// Compile-time check that Crypto implements Decryptor.
var _ Decryptor = (*Crypto)(nil)
