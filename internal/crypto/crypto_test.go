package crypto

import (
	"strings"
	"testing"
	"time"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if err := VerifyPassword(hash, "correct horse battery staple"); err != nil {
		t.Errorf("VerifyPassword() with correct password error = %v", err)
	}
	if err := VerifyPassword(hash, "wrong password"); err != ErrPasswordMismatch {
		t.Errorf("VerifyPassword() with wrong password error = %v, want ErrPasswordMismatch", err)
	}
}

func TestHubTokenCipherRoundTrip(t *testing.T) {
	c, err := NewHubTokenCipher("a-system-key-value", "install-salt-1")
	if err != nil {
		t.Fatalf("NewHubTokenCipher() error = %v", err)
	}

	ciphertext, err := c.Encrypt("super-secret-hub-token")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	plaintext, err := c.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if plaintext != "super-secret-hub-token" {
		t.Errorf("Decrypt() = %q, want %q", plaintext, "super-secret-hub-token")
	}
}

func TestHubTokenCipherRejectsWrongKey(t *testing.T) {
	c1, _ := NewHubTokenCipher("key-one", "salt")
	c2, _ := NewHubTokenCipher("key-two", "salt")

	ciphertext, err := c1.Encrypt("hub-token")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if _, err := c2.Decrypt(ciphertext); err != ErrIntegrity {
		t.Errorf("Decrypt() with wrong key error = %v, want ErrIntegrity", err)
	}
}

func TestHubTokenCipherRejectsTamperedCiphertext(t *testing.T) {
	c, _ := NewHubTokenCipher("key", "salt")
	ciphertext, err := c.Encrypt("hub-token")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	tampered := ciphertext[:len(ciphertext)-2] + "xy"
	if _, err := c.Decrypt(tampered); err != ErrIntegrity {
		t.Errorf("Decrypt(tampered) error = %v, want ErrIntegrity", err)
	}
}

func TestJWTSignerIssueAndVerify(t *testing.T) {
	signer := NewJWTSigner("hmac-secret", "mcp-gateway")

	token, err := signer.IssueAccessToken(42, "jti-1", true, time.Hour)
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}

	claims, err := signer.VerifyAccessToken(token)
	if err != nil {
		t.Fatalf("VerifyAccessToken() error = %v", err)
	}
	if claims.Subject != "42" {
		t.Errorf("Subject = %q, want 42", claims.Subject)
	}
	if !claims.IsAdmin {
		t.Errorf("IsAdmin = false, want true")
	}
}

func TestJWTSignerRejectsExpiredToken(t *testing.T) {
	signer := NewJWTSigner("hmac-secret", "mcp-gateway")
	token, err := signer.IssueAccessToken(1, "jti-2", false, -time.Minute)
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}
	if _, err := signer.VerifyAccessToken(token); err != ErrTokenInvalid {
		t.Errorf("VerifyAccessToken(expired) error = %v, want ErrTokenInvalid", err)
	}
}

func TestJWTSignerRejectsWrongSecret(t *testing.T) {
	signer := NewJWTSigner("secret-a", "mcp-gateway")
	token, err := signer.IssueAccessToken(1, "jti-3", false, time.Hour)
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}
	other := NewJWTSigner("secret-b", "mcp-gateway")
	if _, err := other.VerifyAccessToken(token); err != ErrTokenInvalid {
		t.Errorf("VerifyAccessToken() with wrong secret error = %v, want ErrTokenInvalid", err)
	}
}

func TestGenerateApiTokenShapeAndHash(t *testing.T) {
	plaintext, hash, prefix, err := GenerateApiToken()
	if err != nil {
		t.Fatalf("GenerateApiToken() error = %v", err)
	}
	if !strings.HasPrefix(plaintext, "tb_") {
		t.Errorf("plaintext = %q, want tb_ prefix", plaintext)
	}
	if !strings.HasPrefix(prefix, "tb_") {
		t.Errorf("displayPrefix = %q, want tb_ prefix", prefix)
	}
	if hash != HashApiToken(plaintext) {
		t.Errorf("hash does not match HashApiToken(plaintext)")
	}

	plaintext2, _, _, err := GenerateApiToken()
	if err != nil {
		t.Fatalf("GenerateApiToken() second call error = %v", err)
	}
	if plaintext == plaintext2 {
		t.Errorf("expected distinct tokens across calls")
	}
}

func TestGenerateRefreshToken(t *testing.T) {
	plaintext, hash, err := GenerateRefreshToken()
	if err != nil {
		t.Fatalf("GenerateRefreshToken() error = %v", err)
	}
	if hash != HashApiToken(plaintext) {
		t.Errorf("hash does not match HashApiToken(plaintext)")
	}
}
