package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

// ErrIntegrity is returned when ciphertext fails authenticated
// decryption — either corrupted at rest or encrypted under a
// different key. Callers must treat it as fatal for that credential,
// never attempt a silent fallback.
var ErrIntegrity = errors.New("crypto: ciphertext failed authentication")

const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32 // AES-256
	gcmNonceLen  = 12
)

// HubTokenCipher encrypts and decrypts hub credentials at rest using
// AES-256-GCM with a key derived from a SystemKey value via scrypt.
// One cipher is built per active SystemKey; callers rebuild it after
// a key rotation.
type HubTokenCipher struct {
	aead cipher.AEAD
}

// NewHubTokenCipher derives an AES-256 key from keyMaterial and salt
// via scrypt and builds the GCM AEAD used for hub token encryption.
// salt is expected to be a stable per-install value (e.g. the
// SystemKey's id) so the same keyMaterial always derives the same key.
func NewHubTokenCipher(keyMaterial, salt string) (*HubTokenCipher, error) {
	key, err := scrypt.Key([]byte(keyMaterial), []byte(salt), scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("derive hub token key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("build aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("build gcm: %w", err)
	}
	return &HubTokenCipher{aead: aead}, nil
}

// Encrypt seals plaintext under a random nonce and returns
// base64-encoded (nonce || ciphertext || tag).
func (c *HubTokenCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, gcmNonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt, returning ErrIntegrity if authentication
// fails (wrong key, truncated or tampered ciphertext).
func (c *HubTokenCipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	if len(raw) < gcmNonceLen {
		return "", ErrIntegrity
	}
	nonce, ciphertext := raw[:gcmNonceLen], raw[gcmNonceLen:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrIntegrity
	}
	return string(plaintext), nil
}
