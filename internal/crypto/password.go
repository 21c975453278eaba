// Package crypto implements the gateway's cryptographic primitives:
// password hashing, hub-credential encryption at rest, JWT signing and
// verification, and opaque API token generation.
package crypto

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// PasswordCost is the bcrypt cost factor used for all password hashes.
// bcrypt's work factor is exponential in this value; 12 is well above
// the iteration floor required for a KDF of this class.
const PasswordCost = 12

// ErrPasswordMismatch is returned by VerifyPassword when the candidate
// password does not match the stored hash.
var ErrPasswordMismatch = errors.New("crypto: password mismatch")

// HashPassword produces a bcrypt hash suitable for storage in
// User.PasswordHash.
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), PasswordCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares a plaintext candidate against a stored
// bcrypt hash, returning ErrPasswordMismatch on any mismatch.
func VerifyPassword(hash, candidate string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return err
	}
	return nil
}
