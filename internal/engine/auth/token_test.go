package auth_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tasktrail/internal/engine/auth"
)

func newCodec(t *testing.T, now time.Time) auth.TokenCodec {
	t.Helper()
	c, err := auth.NewTokenCodec("test-secret", time.Hour, "tasktrail")
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	c.Now = func() time.Time { return now }
	return c
}

func TestTokenRoundTrip(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := newCodec(t, now)
	token, err := c.Issue("member@task.local")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	sub, err := c.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if sub != "member@task.local" {
		t.Fatalf("subject = %q", sub)
	}
}

func TestTokenExpired(t *testing.T) {
	issuedAt := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := newCodec(t, issuedAt)
	token, err := c.Issue("member@task.local")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	cases := map[string]time.Time{
		"exactly at expiry": issuedAt.Add(time.Hour),
		"after expiry":      issuedAt.Add(2 * time.Hour),
	}
	for name, at := range cases {
		t.Run(name, func(t *testing.T) {
			later := newCodec(t, at)
			if _, err := later.Verify(token); !errors.Is(err, auth.ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
	justBefore := newCodec(t, issuedAt.Add(time.Hour-time.Second))
	if _, err := justBefore.Verify(token); err != nil {
		t.Fatalf("token should still be valid: %v", err)
	}
}

func TestTokenRejectsTampering(t *testing.T) {
	now := time.Now()
	c := newCodec(t, now)
	token, err := c.Issue("admin@task.local")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	other, err := auth.NewTokenCodec("another-secret", time.Hour, "tasktrail")
	if err != nil {
		t.Fatal(err)
	}
	other.Now = c.Now
	forged, err := other.Issue("admin@task.local")
	if err != nil {
		t.Fatal(err)
	}

	parts := strings.Split(token, ".")
	badSig := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "admin@task.local",
		Issuer:    "tasktrail",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}

	for name, tok := range map[string]string{
		"wrong secret":  forged,
		"bad signature": badSig,
		"alg none":      unsigned,
		"malformed":     "not-a-token",
		"empty":         "",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := c.Verify(tok); !errors.Is(err, auth.ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestTokenWithoutExpiryRejected(t *testing.T) {
	c := newCodec(t, time.Now())
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "admin@task.local",
		Issuer:  "tasktrail",
	}).SignedString(c.Secret)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Verify(tok); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestNewTokenCodecValidation(t *testing.T) {
	if _, err := auth.NewTokenCodec(" ", time.Hour, ""); err == nil {
		t.Fatal("expected error for blank secret")
	}
	if _, err := auth.NewTokenCodec("s", 0, ""); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}
