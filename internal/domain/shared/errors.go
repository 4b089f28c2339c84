// Package shared provides common domain types used across all auth domain packages.
package shared

import (
	"errors"
	"fmt"
)

// Common domain errors.
var (
	// Entity errors
	ErrEmptyID       = errors.New("id cannot be empty")
	ErrEmptyEmail    = errors.New("email cannot be empty")
	ErrAlreadyExists = errors.New("entity already exists")

	// Not found errors
	ErrNotFound = errors.New("entity not found")

	// Authentication errors
	ErrWrongUser            = errors.New("no user found for given email")
	ErrUnactiveUser         = errors.New("user is unactive")
	ErrWrongPassword        = errors.New("wrong password")
	ErrTooManyFailedLogins  = errors.New("too many failed login attempts")
	ErrNoFallback           = errors.New("user cannot connect, no fallback strategy available")
	ErrNoAuthStrategy       = errors.New("no authentication strategy configured")
	ErrUnauthorized         = errors.New("unauthorized access")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrDefaultPasswordInUse = errors.New("default password must be changed")

	// Token errors
	ErrInvalidToken = errors.New("token is invalid")
	ErrTokenRevoked = errors.New("token has been revoked")
	ErrTokenExpired = errors.New("token has expired")

	// Second-factor errors
	ErrWrongOTP               = errors.New("wrong OTP code")
	ErrTOTPAlreadyEnabled     = errors.New("TOTP is already enabled")
	ErrTOTPNotEnabled         = errors.New("TOTP is not enabled")
	ErrEmailOTPAlreadyEnabled = errors.New("email OTP is already enabled")
	ErrEmailOTPNotEnabled     = errors.New("email OTP is not enabled")
	ErrFIDONoPreregistration  = errors.New("no FIDO preregistration found")
	ErrFIDONotEnabled         = errors.New("no FIDO device registered")
	ErrTwoFactorNotEnabled    = errors.New("two factor authentication is not enabled")

	// Password policy errors
	ErrPasswordTooShort    = errors.New("password is too short")
	ErrPasswordsNoMatch    = errors.New("confirmation password does not match")
	ErrWrongOrExpiredToken = errors.New("wrong or expired reset token")
)

// DomainError wraps domain-specific errors with additional context.
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError.
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error with field details.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
