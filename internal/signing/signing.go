// Package signing issues and validates the opaque tokens behind mobile QR
// codes. Tokens are HS256 JWTs carrying only a random id and an expiry; the
// encounter they belong to lives server side.
package signing

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrExpired = errors.New("token expired")
	ErrInvalid = errors.New("token invalid")
)

// Token is an issued credential.
type Token struct {
	Value     string
	ID        string
	ExpiresAt time.Time
}

// Signer issues and validates tokens with one shared secret.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret, now: time.Now}
}

// Issue mints a token valid for ttl.
func (s *Signer) Issue(ttl time.Duration) (Token, error) {
	if ttl <= 0 {
		return Token{}, fmt.Errorf("issue token: ttl must be positive")
	}
	now := s.now()
	// uuid.NewString gives a random (v4) id; it is the only thing the token
	// identifies, so the session row is looked up by it.
	id := uuid.NewString()
	exp := now.Add(ttl)
	// RegisteredClaims covers the standard jti/iat/exp fields, so no custom
	// claims struct is needed.
	claims := jwt.RegisteredClaims{
		ID:        id,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	// SignedString takes the HMAC key as a []byte for HS256.
	value, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	// JWT expiry has whole-second precision; truncating keeps ExpiresAt equal
	// to what Validate will enforce.
	return Token{Value: value, ID: id, ExpiresAt: exp.Truncate(time.Second)}, nil
}

// Validate checks the signature and expiry and returns the token id.
func (s *Signer) Validate(value string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(value, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		// Pinning the method rejects tokens re-signed with "none" or RS256.
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	// errors.Is walks the wrapped chain, so the jwt sentinel is found even
	// inside its validation error.
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", ErrExpired
	case err != nil:
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	case claims.ID == "":
		return "", fmt.Errorf("%w: missing id", ErrInvalid)
	}
	return claims.ID, nil
}
