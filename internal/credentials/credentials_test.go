package credentials

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHashVerify(t *testing.T) {
	h := Bcrypt{Cost: bcrypt.MinCost}
	hash, err := h.Hash("password123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "password123" {
		t.Fatal("hash must not equal plaintext")
	}
	if !h.Verify("password123", hash) {
		t.Fatal("expected password to verify")
	}
	if h.Verify("password124", hash) {
		t.Fatal("wrong password verified")
	}
	if h.Verify("password123", "not-a-hash") {
		t.Fatal("garbage hash verified")
	}
}

func TestBcryptRejectsBadPasswords(t *testing.T) {
	h := Bcrypt{Cost: bcrypt.MinCost}
	if _, err := h.Hash("short"); err == nil {
		t.Fatal("expected short password error")
	}
	if _, err := h.Hash(strings.Repeat("x", 100)); err == nil {
		t.Fatal("expected too long password error")
	}
}
