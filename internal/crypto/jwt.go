package crypto

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenInvalid wraps any JWT parse/verify failure (bad signature,
// expired, malformed claims) into a single sentinel the auth pipeline
// can branch on without inspecting the underlying library's error tree.
var ErrTokenInvalid = errors.New("crypto: invalid token")

// AccessClaims is the claim set carried by gateway-issued access
// tokens: {sub, jti, iat, exp, is_admin}.
type AccessClaims struct {
	jwt.RegisteredClaims
	IsAdmin bool `json:"is_admin"`
}

// JWTSigner signs and verifies HS256 access tokens using the active
// jwt_signing SystemKey as the HMAC secret.
type JWTSigner struct {
	secret []byte
	issuer string
}

// NewJWTSigner builds a signer around the given HMAC secret.
func NewJWTSigner(secret, issuer string) *JWTSigner {
	return &JWTSigner{secret: []byte(secret), issuer: issuer}
}

// IssueAccessToken mints a signed access token for userID, valid for ttl
// (capped at 24h).
func (s *JWTSigner) IssueAccessToken(userID int64, jti string, isAdmin bool, ttl time.Duration) (string, error) {
	if ttl > 24*time.Hour {
		ttl = 24 * time.Hour
	}
	now := time.Now().UTC()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", userID),
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    s.issuer,
		},
		IsAdmin: isAdmin,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// VerifyAccessToken parses and validates a signed access token,
// returning its claims. Any failure (bad signature, expiry, wrong
// algorithm) collapses to ErrTokenInvalid.
func (s *JWTSigner) VerifyAccessToken(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
