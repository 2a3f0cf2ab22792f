package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MinCost is the lowest work factor accepted outside tests.
const MinCost = 10

// MaxPasswordBytes is the bcrypt input limit. Longer inputs are rejected
// rather than silently truncated.
const MaxPasswordBytes = 72

var (
	// ErrPasswordMismatch is returned by Verify when the plaintext does not
	// match the stored hash.
	ErrPasswordMismatch = errors.New("auth: invalid password")

	// ErrPasswordTooLong is returned by Hash for inputs over MaxPasswordBytes.
	ErrPasswordTooLong = fmt.Errorf("auth: password must be %d bytes or fewer", MaxPasswordBytes)
)

// PasswordService provides bcrypt hashing and verification.
//
// The cost is a field so tests can run at bcrypt's minimum (4).
type PasswordService struct {
	cost int
}

// NewPasswordServiceWithCost validates cost against MinCost and bcrypt's
// upper bound.
func NewPasswordServiceWithCost(cost int) (*PasswordService, error) {
	if cost < MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("auth: bcrypt cost must be between %d and %d, got %d", MinCost, bcrypt.MaxCost, cost)
	}
	return &PasswordService{cost: cost}, nil
}

// NewPasswordServiceForTest creates a PasswordService with an arbitrary
// cost, typically bcrypt.MinCost (4).
//
// Do NOT use in production.
func NewPasswordServiceForTest(cost int) *PasswordService {
	return &PasswordService{cost: cost}
}

// Hash hashes plaintext with a fresh random salt. The result embeds the
// algorithm version, cost and salt, e.g.
//
//	$2a$12$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}

	return string(hashed), nil
}

// Verify returns nil when plaintext matches hash, ErrPasswordMismatch when
// it does not, and a wrapped error when hash is not a bcrypt digest.
func (p *PasswordService) Verify(hash, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}
