package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/captured-thinkings/internal/apperror"
)

const (
	// defaultCost is the bcrypt work factor: roughly 250ms per hash on a
	// modern server.
	defaultCost = 12

	// MinPasswordLength matches the hosted backend's default policy.
	MinPasswordLength = 6

	// bcrypt silently truncates input past 72 bytes.
	maxPasswordBytes = 72
)

// PasswordService hashes and verifies account passwords with bcrypt.
// The cost is a field so tests can use the minimum (4).
type PasswordService struct {
	cost int
}

func NewPasswordService() *PasswordService {
	return &PasswordService{cost: defaultCost}
}

// NewPasswordServiceForTest creates a PasswordService with a custom cost.
// Do NOT use in production.
func NewPasswordServiceForTest(cost int) *PasswordService {
	return &PasswordService{cost: cost}
}

// Hash validates the password policy and returns the bcrypt hash.
// Policy violations are apperror.ErrValidation on field "password".
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) < MinPasswordLength {
		return "", apperror.ValidationFailed("password",
			fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	if len(plaintext) > maxPasswordBytes {
		return "", apperror.ValidationFailed("password",
			fmt.Sprintf("password must be %d bytes or fewer", maxPasswordBytes))
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify returns apperror.InvalidCredentials when plaintext does not match hash.
// bcrypt compares in constant time.
func (p *PasswordService) Verify(hash, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return apperror.InvalidCredentials()
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}
