package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenCodec issues and verifies HS256 bearer tokens carrying the actor's
// identity. Tokens cannot be revoked; they stay valid until they expire.
type TokenCodec struct {
	Secret []byte
	TTL    time.Duration
	Issuer string
	Now    func() time.Time
}

func NewTokenCodec(secret string, ttl time.Duration, issuer string) (TokenCodec, error) {
	if strings.TrimSpace(secret) == "" {
		return TokenCodec{}, errors.New("jwt secret not configured")
	}
	if ttl <= 0 {
		return TokenCodec{}, fmt.Errorf("token ttl must be positive, got %s", ttl)
	}
	return TokenCodec{Secret: []byte(secret), TTL: ttl, Issuer: issuer, Now: time.Now}, nil
}

func (c TokenCodec) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Issue signs a token for subject valid for the configured TTL.
func (c TokenCodec) Issue(subject string) (string, error) {
	if subject == "" {
		return "", errors.New("subject required")
	}
	now := c.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    c.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.TTL)),
		ID:        uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.Secret)
}

// Verify checks signature and expiry and returns the embedded subject.
func (c TokenCodec) Verify(token string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.Issuer))
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return c.Secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: subject claim required", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// ExpiresAt reports when a token issued now would expire.
func (c TokenCodec) ExpiresAt() time.Time {
	return c.now().Add(c.TTL)
}
