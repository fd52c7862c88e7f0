package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// UserVerifier decides whether a (uid, sig) pair was issued by the trusted
// user-identity authority.
type UserVerifier interface {
	Verify(uid, sig string) bool
}

// JWTVerifier accepts signatures that are HS256 JWTs whose subject is the uid.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier sharing secret with the issuing authority
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

// Sign issues a signature for uid, valid for ttl. The authority normally does
// this; the server only needs it for tooling and tests.
func (v *JWTVerifier) Sign(uid string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   uid,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign user token: %w", err)
	}
	return signed, nil
}

// Verify parses sig and checks that it is valid and bound to uid
func (v *JWTVerifier) Verify(uid, sig string) bool {
	if uid == "" || sig == "" {
		return false
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(sig, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return false
	}
	return constantTimeCompare(claims.Subject, uid)
}
