// Package password provides password hashing and validation utilities.
package password

import (
	"crypto/rand"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"

	"github.com/studiotrack/auth-service/internal/domain/shared"
)

// Length of the reset token in bytes before hex encoding.
const resetTokenLength = 32

// Hash creates a bcrypt hash of the password.
func Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify checks if a password matches the stored hash. An empty hash
// never matches: LDAP and no-password accounts carry no local password.
func Verify(password, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Validate checks a new password against the minimum length and its
// confirmation.
func Validate(newPassword, confirmation string, minLength int) error {
	if len(newPassword) < minLength {
		return shared.ErrPasswordTooShort
	}
	if newPassword != confirmation {
		return shared.ErrPasswordsNoMatch
	}
	return nil
}

// GenerateResetToken returns a random token for password recovery
// links.
func GenerateResetToken() (string, error) {
	b := make([]byte, resetTokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
