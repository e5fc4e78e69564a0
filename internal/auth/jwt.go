// Package auth validates bearer tokens as a pure function from token string
// to user id. It issues no tokens in production; token issuance lives with
// whatever external identity provider signs them. The dev token generator
// command uses Mint to produce compatible tokens for local testing.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any unparsable, unsigned, or expired token.
var ErrInvalidToken = errors.New("invalid or expired token")

// claims is the token body this service expects: a subject claim carrying
// the user id, plus the standard registered claims for expiry checking.
type claims struct {
	jwt.RegisteredClaims
}

// Validator verifies bearer tokens and extracts the caller's user id. It
// holds no per-request state and is safe for concurrent use.
type Validator struct {
	secret []byte
}

// NewValidator builds a Validator from the shared signing secret.
func NewValidator(secret string) *Validator {
	return &Validator{secret: []byte(secret)}
}

// Validate parses and verifies tokenString, returning the embedded user id.
// It is a pure function of its input and the configured secret: no I/O, no
// side effects, matching the external authenticator boundary this service
// treats as a black box.
func (v *Validator) Validate(tokenString string) (string, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrInvalidToken, t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || c.Subject == "" {
		return "", ErrInvalidToken
	}
	return c.Subject, nil
}

// Mint issues a bearer token for userID, valid for ttl. Used only by the dev
// token-generator command; production tokens come from the external issuer.
func Mint(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString([]byte(secret))
}
