package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const maxJWTLen = 16 * 1024

// JWTVerifier accepts HS256 tokens signed with a shared secret. Tokens must
// carry an expiry.
type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), now: time.Now}
}

func (v *JWTVerifier) Verify(token string) error {
	_, err := v.Subject(token)
	return err
}

// Subject verifies token and returns its sub claim, which may be empty.
func (v *JWTVerifier) Subject(token string) (string, error) {
	if token == "" || len(token) > maxJWTLen || len(v.secret) == 0 {
		return "", ErrInvalidCredentials
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	return claims.Subject, nil
}
