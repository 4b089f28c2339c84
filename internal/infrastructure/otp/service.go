// Package otp provides the one-time-password primitives behind the
// second factors: TOTP enrollment and validation, HOTP email codes and
// recovery codes.
package otp

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"github.com/studiotrack/auth-service/internal/infrastructure/config"
)

// Recovery code format shown to the person once, stored bcrypt-hashed.
const (
	recoveryCodeCount  = 16
	recoveryCodeLength = 10
	recoveryCodeChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Service provides TOTP, email OTP and recovery code operations.
type Service struct {
	issuer string
	digits otp.Digits
	period uint
}

// NewService creates a new OTP service.
func NewService(cfg *config.TOTPConfig) *Service {
	return &Service{
		issuer: cfg.Issuer,
		digits: otp.Digits(cfg.Digits),
		period: cfg.Period,
	}
}

// Key carries a freshly generated shared secret together with the
// otpauth provisioning URI authenticator apps scan.
type Key struct {
	Secret          string
	ProvisioningURI string
}

// GenerateTOTPKey generates a new TOTP secret for an account.
func (s *Service) GenerateTOTPKey(accountName string) (*Key, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: accountName,
		Algorithm:   otp.AlgorithmSHA1,
		Digits:      s.digits,
		Period:      s.period,
	})
	if err != nil {
		return nil, err
	}
	return &Key{Secret: key.Secret(), ProvisioningURI: key.URL()}, nil
}

// ValidateTOTP checks a TOTP code against a secret, tolerating one
// period of clock skew either way.
func (s *Service) ValidateTOTP(code, secret string) bool {
	valid, err := totp.ValidateCustom(code, secret, time.Now(), totp.ValidateOpts{
		Period:    s.period,
		Skew:      1,
		Digits:    s.digits,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && valid
}

// GenerateEmailOTPSecret generates a new HOTP secret for email codes.
func (s *Service) GenerateEmailOTPSecret(accountName string) (string, error) {
	key, err := hotp.Generate(hotp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: accountName,
		Digits:      s.digits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", err
	}
	return key.Secret(), nil
}

// RandomCounter returns an HOTP counter in [0, 2^31) so consecutive
// sends never land on a predictable window.
func RandomCounter() (uint64, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return uint64(binary.BigEndian.Uint32(b[:]) & 0x7fffffff), nil
}

// EmailOTPAt computes the email code for a counter. The send path
// generates the code, the verify path recomputes it from the stored
// counter.
func (s *Service) EmailOTPAt(secret string, counter uint64) (string, error) {
	return hotp.GenerateCodeCustom(secret, counter, hotp.ValidateOpts{
		Digits:    s.digits,
		Algorithm: otp.AlgorithmSHA1,
	})
}

// ValidateEmailOTP checks an email code against the secret at the
// stored counter.
func (s *Service) ValidateEmailOTP(code, secret string, counter uint64) bool {
	valid, err := hotp.ValidateCustom(code, counter, secret, hotp.ValidateOpts{
		Digits:    s.digits,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && valid
}

// GenerateRecoveryCodes returns the clear codes to show the person once
// and the bcrypt hashes to persist.
func GenerateRecoveryCodes() (clear []string, hashed []string, err error) {
	clear = make([]string, 0, recoveryCodeCount)
	hashed = make([]string, 0, recoveryCodeCount)
	for i := 0; i < recoveryCodeCount; i++ {
		b := make([]byte, recoveryCodeLength)
		if _, err := rand.Read(b); err != nil {
			return nil, nil, err
		}
		for j := range b {
			b[j] = recoveryCodeChars[int(b[j])%len(recoveryCodeChars)]
		}
		code := string(b)
		hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			return nil, nil, err
		}
		clear = append(clear, code)
		hashed = append(hashed, string(hash))
	}
	return clear, hashed, nil
}

// MatchRecoveryCode returns the index of the stored hash matching the
// provided code, -1 when none match. The caller removes the matched
// hash so each code works once.
func MatchRecoveryCode(hashedCodes []string, code string) int {
	for i, h := range hashedCodes {
		if bcrypt.CompareHashAndPassword([]byte(h), []byte(code)) == nil {
			return i
		}
	}
	return -1
}
