package auth

import (
	"fmt"

	"github.com/studiotrack/auth-service/internal/domain/person"
)

// MissingOTPError is raised when a second factor is required but none
// was supplied. It carries the person's preferred method and the list
// of enabled methods so the caller can prompt correctly.
type MissingOTPError struct {
	Preferred person.Factor
	Enabled   []person.Factor
}

func (e *MissingOTPError) Error() string {
	return fmt.Sprintf("missing OTP, preferred method is %s", e.Preferred)
}

// DefaultPasswordError is raised when a person logs in with the studio
// default password and must change it before receiving tokens. It
// carries the reset token issued for that purpose.
type DefaultPasswordError struct {
	Token string
}

func (e *DefaultPasswordError) Error() string {
	return "default password in use, a password change is required"
}
