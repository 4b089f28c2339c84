// Package auth provides authentication domain logic.
package auth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/studiotrack/auth-service/internal/domain/audit"
	"github.com/studiotrack/auth-service/internal/domain/person"
)

// Origin values recorded on login logs.
const (
	OriginWeb    = "web"
	OriginScript = "script"
)

// Service defines the authentication service interface.
type Service interface {
	// CheckAuth runs the full credential and second-factor check and
	// returns the sanitized person record on success.
	CheckAuth(ctx context.Context, input CheckAuthInput) (*UserInfo, error)

	// Login wraps CheckAuth with token issuance, token registration and
	// login logging.
	Login(ctx context.Context, input LoginInput) (*LoginResult, error)

	// Logout best-effort revokes the token behind the given jti. It
	// never fails visibly.
	Logout(ctx context.Context, jti string, expiresAt time.Time)

	// RefreshToken issues a fresh access token from a valid refresh
	// token, re-evaluating the restricted-token policy.
	RefreshToken(ctx context.Context, refreshToken string) (*RefreshResult, error)

	// RevokeTokens marks the given jti revoked for the access token
	// lifetime.
	RevokeTokens(ctx context.Context, jti string) error

	// IsRevoked reports whether the jti has been revoked. Store errors
	// report as revoked.
	IsRevoked(ctx context.Context, jti string) (bool, error)

	// TOTP lifecycle.
	PreEnableTOTP(ctx context.Context, personID uuid.UUID) (*TOTPEnrollment, error)
	EnableTOTP(ctx context.Context, personID uuid.UUID, code string) ([]string, error)
	DisableTOTP(ctx context.Context, personID uuid.UUID) error

	// Email OTP lifecycle. SendEmailOTP serves both enrollment
	// confirmation and login challenges, so it identifies the person by
	// email or desktop login instead of a session.
	SendEmailOTP(ctx context.Context, login string) error
	PreEnableEmailOTP(ctx context.Context, personID uuid.UUID) error
	EnableEmailOTP(ctx context.Context, personID uuid.UUID, code string) ([]string, error)
	DisableEmailOTP(ctx context.Context, personID uuid.UUID) error

	// FIDO lifecycle. Options and responses are opaque WebAuthn JSON.
	// BeginFIDOLogin is the unauthenticated pre-login challenge and
	// identifies the person by email or desktop login.
	BeginFIDORegistration(ctx context.Context, personID uuid.UUID) (json.RawMessage, error)
	FinishFIDORegistration(ctx context.Context, personID uuid.UUID, response json.RawMessage, deviceName string) ([]string, error)
	UnregisterFIDO(ctx context.Context, personID uuid.UUID, deviceName string) error
	BeginFIDOLogin(ctx context.Context, login string) (json.RawMessage, error)

	// GenerateNewRecoveryCodes replaces the whole recovery code set.
	GenerateNewRecoveryCodes(ctx context.Context, personID uuid.UUID) ([]string, error)

	// DisableTwoFactorAuthentication clears every factor
	// unconditionally. Admin override.
	DisableTwoFactorAuthentication(ctx context.Context, personID uuid.UUID) error

	// VerifyTwoFactor checks a live second-factor proof. Destructive
	// 2FA routes call it before acting.
	VerifyTwoFactor(ctx context.Context, personID uuid.UUID, proof TwoFactorProof) error

	// Password management.
	UpdatePassword(ctx context.Context, personID uuid.UUID, currentPassword, newPassword, confirmation string) error
	SendResetPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email, token, newPassword, confirmation string) error

	// IssueAPIToken issues a long-lived access token for a bot person.
	IssueAPIToken(ctx context.Context, personID uuid.UUID, daysDuration int) (*APITokenResult, error)

	// LatestLoginLogs returns the most recent login logs for a person.
	LatestLoginLogs(ctx context.Context, personID uuid.UUID, limit int) ([]*audit.LoginLog, error)
}

// CheckAuthInput carries the credentials of one authentication attempt.
type CheckAuthInput struct {
	Email        string
	Password     string
	TOTP         string
	EmailOTP     string
	RecoveryCode string
	// FIDOAuthenticationResponse is the raw WebAuthn assertion response.
	FIDOAuthenticationResponse json.RawMessage
	// NoOTP skips the second-factor check. Reserved for callers that
	// already verified the person through another channel.
	NoOTP bool
}

// LoginInput contains the login request parameters.
type LoginInput struct {
	CheckAuthInput
	IPAddress string
	Origin    string
}

// LoginResult contains the login response data.
type LoginResult struct {
	User         *UserInfo
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	// TwoFactorAuthenticationRequired marks a restricted token pair:
	// the person must enroll a second factor before reaching anything
	// beyond the enrollment routes.
	TwoFactorAuthenticationRequired bool
}

// RefreshResult contains the token refresh response data.
type RefreshResult struct {
	AccessToken                     string
	ExpiresIn                       int64
	TwoFactorAuthenticationRequired bool
}

// UserInfo is the sanitized person view returned to callers. It never
// carries password hashes or factor secrets.
type UserInfo struct {
	ID                             uuid.UUID
	Email                          string
	FirstName                      string
	LastName                       string
	FullName                       string
	Role                           string
	DesktopLogin                   string
	Active                         bool
	PreferredTwoFactor             person.Factor
	TwoFactorAuthenticationEnabled []person.Factor
	FIDODevices                    []string
}

// NewUserInfo strips a person record down to its public view.
func NewUserInfo(p *person.Person) *UserInfo {
	return &UserInfo{
		ID:                             p.ID(),
		Email:                          p.Email(),
		FirstName:                      p.FirstName(),
		LastName:                       p.LastName(),
		FullName:                       p.FullName(),
		Role:                           p.Role(),
		DesktopLogin:                   p.DesktopLogin(),
		Active:                         p.Active(),
		PreferredTwoFactor:             p.PreferredTwoFactor(),
		TwoFactorAuthenticationEnabled: p.EnabledFactors(),
		FIDODevices:                    p.FIDODeviceNames(),
	}
}

// TOTPEnrollment is returned by PreEnableTOTP.
type TOTPEnrollment struct {
	Secret          string
	ProvisioningURI string
}

// TwoFactorProof carries one live second-factor input.
type TwoFactorProof struct {
	TOTP                       string
	EmailOTP                   string
	RecoveryCode               string
	FIDOAuthenticationResponse json.RawMessage
}

// Empty reports whether no proof was supplied at all.
func (p TwoFactorProof) Empty() bool {
	return p.TOTP == "" && p.EmailOTP == "" && p.RecoveryCode == "" && len(p.FIDOAuthenticationResponse) == 0
}

// APITokenResult contains a freshly issued API token.
type APITokenResult struct {
	AccessToken string
	ExpiresAt   time.Time
}
