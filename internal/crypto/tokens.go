package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// apiTokenPrefix is prepended to every opaque API token so tokens are
// visually distinguishable from JWTs in logs and client config.
const apiTokenPrefix = "tb_"

// apiTokenRandBytes is the number of random bytes base64-encoded into
// the token body; URL-safe base64 with no padding turns 24 bytes into
// 32 characters.
const apiTokenRandBytes = 24

// displayPrefixLen is how many characters of the token body are kept
// in clear (after the tb_ prefix) for display in token-listing UIs.
const displayPrefixLen = 8

// GenerateApiToken returns a new opaque API token: the plaintext to
// hand to the caller exactly once, its SHA-256 hash for storage, and a
// short display prefix for token-listing UIs.
func GenerateApiToken() (plaintext, hash, displayPrefix string, err error) {
	buf := make([]byte, apiTokenRandBytes)
	if _, err = rand.Read(buf); err != nil {
		return "", "", "", fmt.Errorf("generate api token: %w", err)
	}
	body := base64.RawURLEncoding.EncodeToString(buf)
	plaintext = apiTokenPrefix + body
	hash = HashApiToken(plaintext)
	displayPrefix = apiTokenPrefix + body[:displayPrefixLen]
	return plaintext, hash, displayPrefix, nil
}

// HashApiToken returns the hex-encoded SHA-256 hash of a plaintext API
// token, used both at issuance and at lookup time.
func HashApiToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// GenerateRefreshToken returns a new 32-byte random refresh token
// (plaintext) and its SHA-256 hash for storage; the plaintext is never
// persisted.
func GenerateRefreshToken() (plaintext, hash string, err error) {
	buf := make([]byte, 32)
	if _, err = rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate refresh token: %w", err)
	}
	plaintext = base64.RawURLEncoding.EncodeToString(buf)
	hash = HashApiToken(plaintext)
	return plaintext, hash, nil
}
