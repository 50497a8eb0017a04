package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/enku/gbp/internal/gbp"
)

// ErrUnauthorized is returned for every mutation-auth failure; the spec
// requires that missing, wrong and expired credentials are not
// distinguished to the caller.
var ErrUnauthorized = errors.New("auth: unauthorized")

// KeyCipher encrypts and decrypts ApiKey.Key at rest using AES-GCM with the
// symmetric key derived from API_KEY_KEY.
type KeyCipher struct {
	aead cipher.AEAD
}

// NewKeyCipher builds a KeyCipher from the raw symmetric key bytes
// (API_KEY_KEY, base64-decoded by internal/settings). The key must be a
// valid AES key length (16, 24 or 32 bytes).
func NewKeyCipher(key []byte) (*KeyCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("auth: build cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("auth: build AEAD: %w", err)
	}
	return &KeyCipher{aead: aead}, nil
}

// Seal encrypts plaintext key bytes for storage, prefixing a fresh nonce.
func (c *KeyCipher) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("auth: generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts bytes previously produced by Seal.
func (c *KeyCipher) Open(ciphertext []byte) ([]byte, error) {
	n := c.aead.NonceSize()
	if len(ciphertext) < n {
		return nil, fmt.Errorf("auth: ciphertext too short")
	}
	nonce, data := ciphertext[:n], ciphertext[n:]
	plaintext, err := c.aead.Open(nil, nonce, data, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: decrypt: %w", err)
	}
	return plaintext, nil
}

// GenerateApiKey produces a new, unsealed ApiKey with a random key of the
// configured length. Callers persist the sealed form via KeyCipher.Seal.
func GenerateApiKey(name string, length int) (gbp.ApiKey, error) {
	if err := gbp.ValidateApiKeyName(name); err != nil {
		return gbp.ApiKey{}, err
	}
	raw := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return gbp.ApiKey{}, fmt.Errorf("auth: generate key: %w", err)
	}
	return gbp.ApiKey{Name: name, Key: raw}, nil
}

// ParseBasicAuth extracts name/key from the request's HTTP Basic
// Authorization header, per spec.md's "name:key" wire format.
func ParseBasicAuth(req *http.Request) (name, key string, ok bool) {
	return req.BasicAuth()
}

// CheckApiKey compares a presented key (base64 or raw, as agreed by the
// caller) against the stored key using constant-time comparison, wrapping
// every failure mode -- unknown name, wrong key -- into the single
// ErrUnauthorized the spec requires.
func CheckApiKey(stored gbp.ApiKey, presented string) error {
	want := stored.Key
	got := decodeKey(presented)
	if len(want) == 0 || subtle.ConstantTimeCompare(want, got) != 1 {
		return ErrUnauthorized
	}
	return nil
}

func decodeKey(s string) []byte {
	if decoded, err := base64.StdEncoding.DecodeString(s); err == nil {
		return decoded
	}
	return []byte(strings.TrimSpace(s))
}
