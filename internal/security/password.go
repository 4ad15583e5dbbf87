package security

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt only looks at the first 72 bytes of a password.
const MaxPasswordLength = 72

// ErrPasswordTooLong is returned by Hash for passwords bcrypt cannot hash.
var ErrPasswordTooLong = errors.New("password exceeds 72 bytes")

// Hasher creates and checks salted bcrypt password hashes.
type Hasher struct {
	cost int
}

// NewHasher returns a Hasher using cost, or bcrypt.DefaultCost when cost is 0.
func NewHasher(cost int) (*Hasher, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &Hasher{cost: cost}, nil
}

// Hash returns the bcrypt hash of password.
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) > MaxPasswordLength {
		return "", ErrPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether password matches hash. A malformed hash is an error,
// a plain mismatch is not.
func (h *Hasher) Verify(hash, password string) (bool, error) {
	// Hash never stores such a password
	if len(password) > MaxPasswordLength {
		return false, nil
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, fmt.Errorf("failed to verify password: %w", err)
}

// SecretEqual compares two shared secrets in constant time.
func SecretEqual(provided, expected string) bool {
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}
