package security_test

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/freieslabor/prepaid-mate/internal/security"
)

func TestHashAndVerify(t *testing.T) {
	h, err := security.NewHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	hash, err := h.Hash("bar")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(hash, "bar") {
		t.Fatal("hash must not contain the plaintext password")
	}

	ok, err := h.Verify(hash, "bar")
	if err != nil || !ok {
		t.Fatalf("expected password to verify, got ok=%v err=%v", ok, err)
	}

	ok, err = h.Verify(hash, "bar2")
	if err != nil {
		t.Fatalf("unexpected error on mismatch: %v", err)
	}
	if ok {
		t.Fatal("expected wrong password to be rejected")
	}
}

func TestHashIsSalted(t *testing.T) {
	h, _ := security.NewHasher(bcrypt.MinCost)
	first, _ := h.Hash("same")
	second, _ := h.Hash("same")
	if first == second {
		t.Fatal("expected two hashes of the same password to differ")
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	h, _ := security.NewHasher(bcrypt.MinCost)
	if _, err := h.Verify("not-a-hash", "bar"); err == nil {
		t.Fatal("expected error for malformed hash")
	}
}

func TestHashRejectsLongPassword(t *testing.T) {
	h, _ := security.NewHasher(bcrypt.MinCost)
	long := strings.Repeat("x", security.MaxPasswordLength+1)
	if _, err := h.Hash(long); !errors.Is(err, security.ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}

	hash, err := h.Hash(long[:security.MaxPasswordLength])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ok, err := h.Verify(hash, long)
	if err != nil || ok {
		t.Fatalf("expected plain mismatch, got ok=%v err=%v", ok, err)
	}
}

func TestNewHasherRejectsBadCost(t *testing.T) {
	if _, err := security.NewHasher(bcrypt.MaxCost + 1); err == nil {
		t.Fatal("expected error for cost above bcrypt.MaxCost")
	}
}

func TestSecretEqual(t *testing.T) {
	if !security.SecretEqual("s3cret", "s3cret") {
		t.Fatal("expected equal secrets to match")
	}
	if security.SecretEqual("s3cret", "s3cre") {
		t.Fatal("expected different secrets not to match")
	}
}
