// Package person provides domain logic for person credential records.
package person

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/studiotrack/auth-service/internal/domain/shared"
)

// Domain-specific errors for person package.
var (
	ErrInvalidEmail      = errors.New("invalid email format")
	ErrNoPendingSecret   = errors.New("no pending second-factor secret, pre-enable first")
	ErrCredentialUnknown = errors.New("no FIDO credential registered under this device name")
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// NormalizeEmail lowers and trims an email so lookups and writes agree.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Role values carried by person records.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleUser    = "user"
)

// FIDOCredential is a registered WebAuthn credential. The credential
// payload is kept opaque at the domain level; the webauthn
// infrastructure marshals it.
type FIDOCredential struct {
	DeviceName string          `json:"device_name"`
	Credential json.RawMessage `json:"credential"`
}

// Person is the aggregate root for a person credential record.
type Person struct {
	id                  uuid.UUID
	firstName           string
	lastName            string
	email               string
	passwordHash        string
	role                string
	active              bool
	isBot               bool
	desktopLogin        string
	isGeneratedFromLDAP bool

	loginFailedAttempts int
	lastLoginFailed     *time.Time

	totpSecret      string
	totpEnabled     bool
	emailOTPSecret  string
	emailOTPEnabled bool
	fidoCredentials []FIDOCredential
	fidoEnabled     bool
	recoveryCodes   []string
	preferredFactor Factor

	expirationDate *time.Time
	createdAt      time.Time
	updatedAt      *time.Time
}

// NewPerson creates a new Person with validation. The password hash may
// be empty for no-password and LDAP-sourced accounts.
func NewPerson(firstName, lastName, email, passwordHash, role string) (*Person, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, shared.ErrEmptyEmail
	}
	if !emailRegex.MatchString(email) {
		return nil, ErrInvalidEmail
	}
	if role == "" {
		role = RoleUser
	}

	return &Person{
		id:           uuid.New(),
		firstName:    firstName,
		lastName:     lastName,
		email:        email,
		passwordHash: passwordHash,
		role:         role,
		active:       true,
		createdAt:    time.Now(),
	}, nil
}

// ReconstructPerson reconstructs a Person from persistence data.
func ReconstructPerson(
	id uuid.UUID,
	firstName, lastName, email, passwordHash, role string,
	active, isBot bool,
	desktopLogin string,
	isGeneratedFromLDAP bool,
	loginFailedAttempts int,
	lastLoginFailed *time.Time,
	totpSecret string, totpEnabled bool,
	emailOTPSecret string, emailOTPEnabled bool,
	fidoCredentials []FIDOCredential, fidoEnabled bool,
	recoveryCodes []string,
	preferredFactor Factor,
	expirationDate *time.Time,
	createdAt time.Time,
	updatedAt *time.Time,
) *Person {
	return &Person{
		id:                  id,
		firstName:           firstName,
		lastName:            lastName,
		email:               email,
		passwordHash:        passwordHash,
		role:                role,
		active:              active,
		isBot:               isBot,
		desktopLogin:        desktopLogin,
		isGeneratedFromLDAP: isGeneratedFromLDAP,
		loginFailedAttempts: loginFailedAttempts,
		lastLoginFailed:     lastLoginFailed,
		totpSecret:          totpSecret,
		totpEnabled:         totpEnabled,
		emailOTPSecret:      emailOTPSecret,
		emailOTPEnabled:     emailOTPEnabled,
		fidoCredentials:     fidoCredentials,
		fidoEnabled:         fidoEnabled,
		recoveryCodes:       recoveryCodes,
		preferredFactor:     preferredFactor,
		expirationDate:      expirationDate,
		createdAt:           createdAt,
		updatedAt:           updatedAt,
	}
}

// ID returns the person identifier.
func (p *Person) ID() uuid.UUID { return p.id }

// FirstName returns the first name.
func (p *Person) FirstName() string { return p.firstName }

// LastName returns the last name.
func (p *Person) LastName() string { return p.lastName }

// FullName returns first and last name joined for display and LDAP DNs.
func (p *Person) FullName() string {
	return strings.TrimSpace(p.firstName + " " + p.lastName)
}

// Email returns the email address.
func (p *Person) Email() string { return p.email }

// PasswordHash returns the bcrypt password hash, empty when unset.
func (p *Person) PasswordHash() string { return p.passwordHash }

// Role returns the role.
func (p *Person) Role() string { return p.role }

// IsAdmin returns whether the person has the admin role.
func (p *Person) IsAdmin() bool { return p.role == RoleAdmin }

// Active returns whether the person may authenticate.
func (p *Person) Active() bool { return p.active }

// IsBot returns whether the record is an API service account.
func (p *Person) IsBot() bool { return p.isBot }

// DesktopLogin returns the workstation login used by directory binds.
func (p *Person) DesktopLogin() string { return p.desktopLogin }

// IsGeneratedFromLDAP returns whether the record was provisioned from a
// directory server.
func (p *Person) IsGeneratedFromLDAP() bool { return p.isGeneratedFromLDAP }

// LoginFailedAttempts returns the consecutive failed login count.
func (p *Person) LoginFailedAttempts() int { return p.loginFailedAttempts }

// LastLoginFailed returns the time of the last failed login, nil if none.
func (p *Person) LastLoginFailed() *time.Time { return p.lastLoginFailed }

// TOTPSecret returns the TOTP secret, empty when unset.
func (p *Person) TOTPSecret() string { return p.totpSecret }

// TOTPEnabled returns whether TOTP is a confirmed second factor.
func (p *Person) TOTPEnabled() bool { return p.totpEnabled }

// EmailOTPSecret returns the email OTP secret, empty when unset.
func (p *Person) EmailOTPSecret() string { return p.emailOTPSecret }

// EmailOTPEnabled returns whether email OTP is a confirmed second factor.
func (p *Person) EmailOTPEnabled() bool { return p.emailOTPEnabled }

// FIDOCredentials returns the registered WebAuthn credentials.
func (p *Person) FIDOCredentials() []FIDOCredential { return p.fidoCredentials }

// FIDOEnabled returns whether at least one FIDO device is registered.
func (p *Person) FIDOEnabled() bool { return p.fidoEnabled }

// FIDODeviceNames returns the device names of registered credentials.
func (p *Person) FIDODeviceNames() []string {
	names := make([]string, 0, len(p.fidoCredentials))
	for _, c := range p.fidoCredentials {
		names = append(names, c.DeviceName)
	}
	return names
}

// RecoveryCodes returns the bcrypt-hashed recovery codes.
func (p *Person) RecoveryCodes() []string { return p.recoveryCodes }

// PreferredTwoFactor returns the preferred second factor, empty when no
// factor is enabled.
func (p *Person) PreferredTwoFactor() Factor { return p.preferredFactor }

// ExpirationDate returns the expiry of an API service account, nil for
// regular persons.
func (p *Person) ExpirationDate() *time.Time { return p.expirationDate }

// IsExpired reports whether the account's expiration date has passed.
// Accounts without one never expire.
func (p *Person) IsExpired(now time.Time) bool {
	return p.expirationDate != nil && now.After(*p.expirationDate)
}

// CreatedAt returns the creation time.
func (p *Person) CreatedAt() time.Time { return p.createdAt }

// UpdatedAt returns the last update time, nil if never updated.
func (p *Person) UpdatedAt() *time.Time { return p.updatedAt }

// =============================================================================
// Login throttle behavior
// =============================================================================

// IsLockedOut reports whether the throttle window still blocks this
// person: at least maxAttempts consecutive failures and the last one
// less than window ago.
func (p *Person) IsLockedOut(now time.Time, maxAttempts int, window time.Duration) bool {
	if p.loginFailedAttempts < maxAttempts {
		return false
	}
	if p.lastLoginFailed == nil {
		return false
	}
	return now.Before(p.lastLoginFailed.Add(window))
}

// RecordLoginFailure increments the failure counter and stamps the
// failure time.
func (p *Person) RecordLoginFailure(now time.Time) {
	p.loginFailedAttempts++
	p.lastLoginFailed = &now
	p.touch(now)
}

// RecordLoginSuccess resets the failure counter.
func (p *Person) RecordLoginSuccess(now time.Time) {
	p.loginFailedAttempts = 0
	p.lastLoginFailed = nil
	p.touch(now)
}

// =============================================================================
// Second-factor lifecycle behavior
// =============================================================================

// EnabledFactors returns the factors currently confirmed, in dispatch
// order.
func (p *Person) EnabledFactors() []Factor {
	var enabled []Factor
	if p.totpEnabled {
		enabled = append(enabled, FactorTOTP)
	}
	if p.emailOTPEnabled {
		enabled = append(enabled, FactorEmailOTP)
	}
	if p.fidoEnabled {
		enabled = append(enabled, FactorFIDO)
	}
	if len(p.recoveryCodes) > 0 {
		enabled = append(enabled, FactorRecoveryCode)
	}
	return enabled
}

// HasTwoFactorEnabled returns whether any confirmed factor exists.
func (p *Person) HasTwoFactorEnabled() bool {
	return p.totpEnabled || p.emailOTPEnabled || p.fidoEnabled
}

// SetPendingTOTPSecret stores a fresh TOTP secret awaiting confirmation.
func (p *Person) SetPendingTOTPSecret(secret string) error {
	if p.totpEnabled {
		return shared.ErrTOTPAlreadyEnabled
	}
	p.totpSecret = secret
	p.touch(time.Now())
	return nil
}

// EnableTOTP confirms the pending TOTP secret. Code verification is the
// caller's responsibility.
func (p *Person) EnableTOTP() error {
	if p.totpEnabled {
		return shared.ErrTOTPAlreadyEnabled
	}
	if p.totpSecret == "" {
		return ErrNoPendingSecret
	}
	p.totpEnabled = true
	if p.preferredFactor == "" {
		p.preferredFactor = FactorTOTP
	}
	p.touch(time.Now())
	return nil
}

// DisableTOTP clears the TOTP secret and flag, then re-evaluates the
// preferred factor and recovery codes.
func (p *Person) DisableTOTP() error {
	if !p.totpEnabled {
		return shared.ErrTOTPNotEnabled
	}
	p.totpEnabled = false
	p.totpSecret = ""
	p.afterFactorDisabled(FactorTOTP)
	return nil
}

// SetPendingEmailOTPSecret stores a fresh email OTP secret awaiting
// confirmation.
func (p *Person) SetPendingEmailOTPSecret(secret string) error {
	if p.emailOTPEnabled {
		return shared.ErrEmailOTPAlreadyEnabled
	}
	p.emailOTPSecret = secret
	p.touch(time.Now())
	return nil
}

// EnableEmailOTP confirms the pending email OTP secret.
func (p *Person) EnableEmailOTP() error {
	if p.emailOTPEnabled {
		return shared.ErrEmailOTPAlreadyEnabled
	}
	if p.emailOTPSecret == "" {
		return ErrNoPendingSecret
	}
	p.emailOTPEnabled = true
	if p.preferredFactor == "" {
		p.preferredFactor = FactorEmailOTP
	}
	p.touch(time.Now())
	return nil
}

// DisableEmailOTP clears the email OTP secret and flag, then
// re-evaluates the preferred factor and recovery codes.
func (p *Person) DisableEmailOTP() error {
	if !p.emailOTPEnabled {
		return shared.ErrEmailOTPNotEnabled
	}
	p.emailOTPEnabled = false
	p.emailOTPSecret = ""
	p.afterFactorDisabled(FactorEmailOTP)
	return nil
}

// AddFIDOCredential appends a registered credential and marks FIDO
// enabled.
func (p *Person) AddFIDOCredential(cred FIDOCredential) {
	p.fidoCredentials = append(p.fidoCredentials, cred)
	p.fidoEnabled = true
	if p.preferredFactor == "" {
		p.preferredFactor = FactorFIDO
	}
	p.touch(time.Now())
}

// UpdateFIDOCredential replaces the stored credential payload for a
// device, keeping authenticator state such as sign counters current.
func (p *Person) UpdateFIDOCredential(deviceName string, credential json.RawMessage) error {
	for i, c := range p.fidoCredentials {
		if c.DeviceName == deviceName {
			p.fidoCredentials[i].Credential = credential
			p.touch(time.Now())
			return nil
		}
	}
	return ErrCredentialUnknown
}

// RemoveFIDOCredential removes the credential registered under the
// given device name. Removing the last one disables FIDO and
// re-evaluates the preferred factor and recovery codes.
func (p *Person) RemoveFIDOCredential(deviceName string) error {
	if !p.fidoEnabled {
		return shared.ErrFIDONotEnabled
	}
	kept := p.fidoCredentials[:0]
	found := false
	for _, c := range p.fidoCredentials {
		if c.DeviceName == deviceName && !found {
			found = true
			continue
		}
		kept = append(kept, c)
	}
	if !found {
		return ErrCredentialUnknown
	}
	p.fidoCredentials = kept
	if len(p.fidoCredentials) == 0 {
		p.fidoCredentials = nil
		p.fidoEnabled = false
		p.afterFactorDisabled(FactorFIDO)
		return nil
	}
	p.touch(time.Now())
	return nil
}

// SetRecoveryCodes replaces the stored recovery code hashes.
func (p *Person) SetRecoveryCodes(hashes []string) {
	p.recoveryCodes = hashes
	p.touch(time.Now())
}

// ConsumeRecoveryCode removes the hash at the given index, one-time use.
func (p *Person) ConsumeRecoveryCode(index int) {
	if index < 0 || index >= len(p.recoveryCodes) {
		return
	}
	p.recoveryCodes = append(p.recoveryCodes[:index], p.recoveryCodes[index+1:]...)
	if len(p.recoveryCodes) == 0 {
		p.recoveryCodes = nil
	}
	p.touch(time.Now())
}

// DisableAllTwoFactor unconditionally clears every factor, the recovery
// codes and the preferred method. Admin override.
func (p *Person) DisableAllTwoFactor() {
	p.totpEnabled = false
	p.totpSecret = ""
	p.emailOTPEnabled = false
	p.emailOTPSecret = ""
	p.fidoEnabled = false
	p.fidoCredentials = nil
	p.recoveryCodes = nil
	p.preferredFactor = ""
	p.touch(time.Now())
}

// afterFactorDisabled keeps the preferred factor and recovery codes
// consistent after a factor went away: no factor left clears both,
// otherwise a disabled preferred factor is reassigned along the fixed
// promotion order.
func (p *Person) afterFactorDisabled(disabled Factor) {
	if !p.HasTwoFactorEnabled() {
		p.recoveryCodes = nil
		p.preferredFactor = ""
	} else if p.preferredFactor == disabled {
		var confirmed []Factor
		if p.totpEnabled {
			confirmed = append(confirmed, FactorTOTP)
		}
		if p.emailOTPEnabled {
			confirmed = append(confirmed, FactorEmailOTP)
		}
		if p.fidoEnabled {
			confirmed = append(confirmed, FactorFIDO)
		}
		p.preferredFactor = ReassignPreferredFactor(confirmed)
	}
	p.touch(time.Now())
}

// =============================================================================
// Account behavior
// =============================================================================

// UpdatePassword replaces the password hash.
func (p *Person) UpdatePassword(newPasswordHash string) {
	p.passwordHash = newPasswordHash
	p.touch(time.Now())
}

// SetActive toggles whether the person may authenticate.
func (p *Person) SetActive(active bool) {
	p.active = active
	p.touch(time.Now())
}

// MarkAsBot flags the record as an API service account expiring at the
// given date.
func (p *Person) MarkAsBot(expirationDate time.Time) {
	p.isBot = true
	p.expirationDate = &expirationDate
	p.touch(time.Now())
}

// SetDesktopLogin sets the workstation login used for directory binds.
func (p *Person) SetDesktopLogin(login string) {
	p.desktopLogin = login
	p.touch(time.Now())
}

// MarkGeneratedFromLDAP flags the record as directory-provisioned.
func (p *Person) MarkGeneratedFromLDAP() {
	p.isGeneratedFromLDAP = true
	p.touch(time.Now())
}

func (p *Person) touch(now time.Time) {
	p.updatedAt = &now
}
