package auth

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	domainAuth "github.com/studiotrack/auth-service/internal/domain/auth"
	"github.com/studiotrack/auth-service/internal/domain/person"
	"github.com/studiotrack/auth-service/internal/domain/shared"
	"github.com/studiotrack/auth-service/internal/infrastructure/otp"
)

// verifySecondFactor dispatches on the first supplied factor the person
// actually has enabled: TOTP, then email OTP, then FIDO, then a
// recovery code. No usable factor in the input raises MissingOTPError
// so the caller can prompt with the person's enabled methods.
func (s *Service) verifySecondFactor(ctx context.Context, p *person.Person, input domainAuth.CheckAuthInput) error {
	switch {
	case input.TOTP != "" && p.TOTPEnabled():
		return s.verifyTOTP(p, input.TOTP)
	case input.EmailOTP != "" && p.EmailOTPEnabled():
		return s.checkEmailOTP(ctx, p, input.EmailOTP)
	case len(input.FIDOAuthenticationResponse) > 0 && p.FIDOEnabled():
		return s.verifyFIDO(ctx, p, input.FIDOAuthenticationResponse)
	case input.RecoveryCode != "" && len(p.RecoveryCodes()) > 0:
		return s.verifyRecoveryCode(ctx, p, input.RecoveryCode)
	default:
		return &domainAuth.MissingOTPError{
			Preferred: p.PreferredTwoFactor(),
			Enabled:   p.EnabledFactors(),
		}
	}
}

func (s *Service) verifyTOTP(p *person.Person, code string) error {
	if !s.otpService.ValidateTOTP(code, p.TOTPSecret()) {
		return shared.ErrWrongOTP
	}
	return nil
}

// checkEmailOTP validates a code against the stored counter. The
// counter is deleted on success so each emailed code works once.
func (s *Service) checkEmailOTP(ctx context.Context, p *person.Person, code string) error {
	counter, ok, err := s.tokenStore.GetEmailOTPCounter(ctx, p.Email())
	if err != nil {
		return fmt.Errorf("failed to read email OTP counter: %w", err)
	}
	if !ok {
		return shared.ErrWrongOTP
	}
	if !s.otpService.ValidateEmailOTP(code, p.EmailOTPSecret(), counter) {
		return shared.ErrWrongOTP
	}
	if err := s.tokenStore.DeleteEmailOTPCounter(ctx, p.Email()); err != nil {
		log.Warn().Err(err).Msg("failed to delete email OTP counter")
	}
	return nil
}

func (s *Service) verifyFIDO(ctx context.Context, p *person.Person, response json.RawMessage) error {
	state, ok, err := s.tokenStore.PopFIDOState(ctx, p.ID().String())
	if err != nil {
		return fmt.Errorf("failed to read FIDO state: %w", err)
	}
	if !ok {
		return shared.ErrFIDONoPreregistration
	}

	deviceName, updated, err := s.fidoService.FinishLogin(p, state, response)
	if err != nil {
		log.Warn().Err(err).Msg("FIDO assertion verification failed")
		return shared.ErrWrongOTP
	}

	// Keep the authenticator sign counter current. Losing it is not
	// worth failing an otherwise valid login.
	if deviceName != "" && len(updated) > 0 {
		if err := p.UpdateFIDOCredential(deviceName, updated); err != nil {
			log.Warn().Err(err).Str("device_name", deviceName).Msg("failed to refresh FIDO credential")
		} else if err := s.personRepo.Update(ctx, p); err != nil {
			log.Warn().Err(err).Msg("failed to persist FIDO sign counter")
		}
	}
	return nil
}

func (s *Service) verifyRecoveryCode(ctx context.Context, p *person.Person, code string) error {
	index := otp.MatchRecoveryCode(p.RecoveryCodes(), code)
	if index < 0 {
		return shared.ErrWrongOTP
	}
	p.ConsumeRecoveryCode(index)
	if err := s.personRepo.Update(ctx, p); err != nil {
		return fmt.Errorf("failed to consume recovery code: %w", err)
	}
	return nil
}

// PreEnableTOTP generates a pending TOTP secret and its provisioning
// URI for the authenticator app.
func (s *Service) PreEnableTOTP(ctx context.Context, personID uuid.UUID) (*domainAuth.TOTPEnrollment, error) {
	p, err := s.getPerson(ctx, personID)
	if err != nil {
		return nil, err
	}

	key, err := s.otpService.GenerateTOTPKey(p.Email())
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}
	if err := p.SetPendingTOTPSecret(key.Secret); err != nil {
		return nil, err
	}
	if err := s.personRepo.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to update person: %w", err)
	}

	return &domainAuth.TOTPEnrollment{
		Secret:          key.Secret,
		ProvisioningURI: key.ProvisioningURI,
	}, nil
}

// EnableTOTP confirms the pending secret with a live code. Enabling the
// first factor also returns freshly generated recovery codes.
func (s *Service) EnableTOTP(ctx context.Context, personID uuid.UUID, code string) ([]string, error) {
	p, err := s.getPerson(ctx, personID)
	if err != nil {
		return nil, err
	}
	if p.TOTPEnabled() {
		return nil, shared.ErrTOTPAlreadyEnabled
	}
	if p.TOTPSecret() == "" {
		return nil, person.ErrNoPendingSecret
	}
	if !s.otpService.ValidateTOTP(code, p.TOTPSecret()) {
		return nil, shared.ErrWrongOTP
	}
	if err := p.EnableTOTP(); err != nil {
		return nil, err
	}

	codes, err := s.ensureRecoveryCodes(p)
	if err != nil {
		return nil, err
	}
	if err := s.personRepo.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to update person: %w", err)
	}
	return codes, nil
}

// DisableTOTP drops the TOTP factor.
func (s *Service) DisableTOTP(ctx context.Context, personID uuid.UUID) error {
	p, err := s.getPerson(ctx, personID)
	if err != nil {
		return err
	}
	if err := p.DisableTOTP(); err != nil {
		return err
	}
	if err := s.personRepo.Update(ctx, p); err != nil {
		return fmt.Errorf("failed to update person: %w", err)
	}
	return nil
}

// SendEmailOTP emails a fresh one-time code. It serves both the
// pre-login challenge and the enrollment confirmation, so the person is
// identified by email or desktop login.
func (s *Service) SendEmailOTP(ctx context.Context, login string) error {
	p, err := s.getPersonByLogin(ctx, login)
	if err != nil {
		return err
	}
	if p.EmailOTPSecret() == "" {
		return shared.ErrEmailOTPNotEnabled
	}

	counter, err := otp.RandomCounter()
	if err != nil {
		return fmt.Errorf("failed to pick OTP counter: %w", err)
	}
	code, err := s.otpService.EmailOTPAt(p.EmailOTPSecret(), counter)
	if err != nil {
		return fmt.Errorf("failed to compute email OTP: %w", err)
	}
	if err := s.tokenStore.SetEmailOTPCounter(ctx, p.Email(), counter, s.cfg.EmailOTP.CounterTTL); err != nil {
		return fmt.Errorf("failed to store email OTP counter: %w", err)
	}
	if err := s.mailer.SendEmailOTP(ctx, p.Email(), code); err != nil {
		return fmt.Errorf("failed to send email OTP: %w", err)
	}
	return nil
}

// PreEnableEmailOTP generates a pending email OTP secret. The person
// confirms it with a code requested through SendEmailOTP.
func (s *Service) PreEnableEmailOTP(ctx context.Context, personID uuid.UUID) error {
	p, err := s.getPerson(ctx, personID)
	if err != nil {
		return err
	}

	secret, err := s.otpService.GenerateEmailOTPSecret(p.Email())
	if err != nil {
		return fmt.Errorf("failed to generate email OTP secret: %w", err)
	}
	if err := p.SetPendingEmailOTPSecret(secret); err != nil {
		return err
	}
	if err := s.personRepo.Update(ctx, p); err != nil {
		return fmt.Errorf("failed to update person: %w", err)
	}
	return nil
}

// EnableEmailOTP confirms the pending secret with an emailed code.
// Enabling the first factor also returns freshly generated recovery
// codes.
func (s *Service) EnableEmailOTP(ctx context.Context, personID uuid.UUID, code string) ([]string, error) {
	p, err := s.getPerson(ctx, personID)
	if err != nil {
		return nil, err
	}
	if p.EmailOTPEnabled() {
		return nil, shared.ErrEmailOTPAlreadyEnabled
	}
	if p.EmailOTPSecret() == "" {
		return nil, person.ErrNoPendingSecret
	}
	if err := s.checkEmailOTP(ctx, p, code); err != nil {
		return nil, err
	}
	if err := p.EnableEmailOTP(); err != nil {
		return nil, err
	}

	codes, err := s.ensureRecoveryCodes(p)
	if err != nil {
		return nil, err
	}
	if err := s.personRepo.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to update person: %w", err)
	}
	return codes, nil
}

// DisableEmailOTP drops the email OTP factor.
func (s *Service) DisableEmailOTP(ctx context.Context, personID uuid.UUID) error {
	p, err := s.getPerson(ctx, personID)
	if err != nil {
		return err
	}
	if err := p.DisableEmailOTP(); err != nil {
		return err
	}
	if err := s.personRepo.Update(ctx, p); err != nil {
		return fmt.Errorf("failed to update person: %w", err)
	}
	return nil
}

// BeginFIDORegistration starts a WebAuthn registration ceremony and
// parks its state in the token store until the response comes back.
func (s *Service) BeginFIDORegistration(ctx context.Context, personID uuid.UUID) (json.RawMessage, error) {
	p, err := s.getPerson(ctx, personID)
	if err != nil {
		return nil, err
	}

	options, state, err := s.fidoService.BeginRegistration(p)
	if err != nil {
		return nil, fmt.Errorf("failed to begin FIDO registration: %w", err)
	}
	if err := s.tokenStore.SetFIDOState(ctx, p.ID().String(), state, s.cfg.WebAuthn.SessionTTL); err != nil {
		return nil, fmt.Errorf("failed to store FIDO state: %w", err)
	}
	return options, nil
}

// FinishFIDORegistration verifies the attestation response and stores
// the new credential under the given device name. Registering the first
// factor also returns freshly generated recovery codes.
func (s *Service) FinishFIDORegistration(ctx context.Context, personID uuid.UUID, response json.RawMessage, deviceName string) ([]string, error) {
	p, err := s.getPerson(ctx, personID)
	if err != nil {
		return nil, err
	}

	state, ok, err := s.tokenStore.PopFIDOState(ctx, p.ID().String())
	if err != nil {
		return nil, fmt.Errorf("failed to read FIDO state: %w", err)
	}
	if !ok {
		return nil, shared.ErrFIDONoPreregistration
	}

	credential, err := s.fidoService.FinishRegistration(p, state, response)
	if err != nil {
		log.Warn().Err(err).Msg("FIDO registration verification failed")
		return nil, shared.ErrWrongOTP
	}

	if deviceName == "" {
		deviceName = "Unknown device"
	}
	p.AddFIDOCredential(person.FIDOCredential{DeviceName: deviceName, Credential: credential})

	codes, err := s.ensureRecoveryCodes(p)
	if err != nil {
		return nil, err
	}
	if err := s.personRepo.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to update person: %w", err)
	}
	return codes, nil
}

// UnregisterFIDO removes the credential registered under the device
// name. Removing the last one disables the FIDO factor.
func (s *Service) UnregisterFIDO(ctx context.Context, personID uuid.UUID, deviceName string) error {
	p, err := s.getPerson(ctx, personID)
	if err != nil {
		return err
	}
	if err := p.RemoveFIDOCredential(deviceName); err != nil {
		return err
	}
	if err := s.personRepo.Update(ctx, p); err != nil {
		return fmt.Errorf("failed to update person: %w", err)
	}
	return nil
}

// BeginFIDOLogin starts the pre-login WebAuthn assertion ceremony for a
// person identified by email or desktop login.
func (s *Service) BeginFIDOLogin(ctx context.Context, login string) (json.RawMessage, error) {
	p, err := s.getPersonByLogin(ctx, login)
	if err != nil {
		return nil, err
	}
	if !p.FIDOEnabled() {
		return nil, shared.ErrFIDONotEnabled
	}

	options, state, err := s.fidoService.BeginLogin(p)
	if err != nil {
		return nil, fmt.Errorf("failed to begin FIDO login: %w", err)
	}
	if err := s.tokenStore.SetFIDOState(ctx, p.ID().String(), state, s.cfg.WebAuthn.SessionTTL); err != nil {
		return nil, fmt.Errorf("failed to store FIDO state: %w", err)
	}
	return options, nil
}

// GenerateNewRecoveryCodes replaces the whole recovery code set and
// returns the new cleartext codes.
func (s *Service) GenerateNewRecoveryCodes(ctx context.Context, personID uuid.UUID) ([]string, error) {
	p, err := s.getPerson(ctx, personID)
	if err != nil {
		return nil, err
	}
	if !p.HasTwoFactorEnabled() {
		return nil, shared.ErrTwoFactorNotEnabled
	}

	codes, hashes, err := otp.GenerateRecoveryCodes()
	if err != nil {
		return nil, fmt.Errorf("failed to generate recovery codes: %w", err)
	}
	p.SetRecoveryCodes(hashes)
	if err := s.personRepo.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to update person: %w", err)
	}
	return codes, nil
}

// DisableTwoFactorAuthentication clears every factor unconditionally
// and notifies the person by email. Admin override for lost devices.
func (s *Service) DisableTwoFactorAuthentication(ctx context.Context, personID uuid.UUID) error {
	p, err := s.getPerson(ctx, personID)
	if err != nil {
		return err
	}
	if !p.HasTwoFactorEnabled() {
		return shared.ErrTwoFactorNotEnabled
	}

	p.DisableAllTwoFactor()
	if err := s.personRepo.Update(ctx, p); err != nil {
		return fmt.Errorf("failed to update person: %w", err)
	}

	if err := s.mailer.SendTwoFactorDisabled(ctx, p.Email()); err != nil {
		log.Warn().Err(err).Msg("failed to send two factor disabled email")
	}
	return nil
}

// VerifyTwoFactor checks a live second-factor proof outside of a login,
// guarding destructive operations such as disabling a factor.
func (s *Service) VerifyTwoFactor(ctx context.Context, personID uuid.UUID, proof domainAuth.TwoFactorProof) error {
	p, err := s.getPerson(ctx, personID)
	if err != nil {
		return err
	}
	if !p.HasTwoFactorEnabled() {
		return shared.ErrTwoFactorNotEnabled
	}

	return s.verifySecondFactor(ctx, p, domainAuth.CheckAuthInput{
		TOTP:                       proof.TOTP,
		EmailOTP:                   proof.EmailOTP,
		RecoveryCode:               proof.RecoveryCode,
		FIDOAuthenticationResponse: proof.FIDOAuthenticationResponse,
	})
}

// ensureRecoveryCodes backfills recovery codes when the first factor
// gets enabled. The cleartext codes are returned exactly once.
func (s *Service) ensureRecoveryCodes(p *person.Person) ([]string, error) {
	if len(p.RecoveryCodes()) > 0 {
		return nil, nil
	}
	codes, hashes, err := otp.GenerateRecoveryCodes()
	if err != nil {
		return nil, fmt.Errorf("failed to generate recovery codes: %w", err)
	}
	p.SetRecoveryCodes(hashes)
	return codes, nil
}
