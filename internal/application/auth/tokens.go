package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/studiotrack/auth-service/internal/domain/audit"
	domainAuth "github.com/studiotrack/auth-service/internal/domain/auth"
	"github.com/studiotrack/auth-service/internal/domain/person"
	"github.com/studiotrack/auth-service/internal/domain/shared"
	"github.com/studiotrack/auth-service/internal/infrastructure/config"
	"github.com/studiotrack/auth-service/internal/infrastructure/jwt"
	"github.com/studiotrack/auth-service/internal/infrastructure/password"
)

const defaultLoginLogLimit = 100

// Login authenticates a person and returns a registered token pair.
// Persons still using the studio default password receive a reset token
// instead of credentials.
func (s *Service) Login(ctx context.Context, input domainAuth.LoginInput) (*domainAuth.LoginResult, error) {
	info, err := s.CheckAuth(ctx, input.CheckAuthInput)
	if err != nil {
		return nil, err
	}

	if s.usesDefaultPassword(input.Password) {
		token, err := s.issueResetToken(ctx, info.Email)
		if err != nil {
			return nil, err
		}
		log.Info().Str("email", info.Email).Msg("person must change the default password")
		return nil, &domainAuth.DefaultPasswordError{Token: token}
	}

	restricted := s.requiresEnrollment(info.Email, hasSecondFactor(info))
	pair, err := s.jwtService.GenerateTokenPair(info.ID, info.Email, restricted)
	if err != nil {
		return nil, fmt.Errorf("failed to generate tokens: %w", err)
	}
	if err := s.registerTokenPair(ctx, pair); err != nil {
		return nil, err
	}

	s.recordLoginLog(ctx, info.ID, input.IPAddress, input.Origin)

	return &domainAuth.LoginResult{
		User:                            info,
		AccessToken:                     pair.Access.Token,
		RefreshToken:                    pair.Refresh.Token,
		ExpiresIn:                       s.jwtService.GetAccessTTLSeconds(),
		TwoFactorAuthenticationRequired: restricted,
	}, nil
}

// Logout revokes the presented access token for its remaining lifetime.
// Revocation is best effort: a dead store must not block leaving.
func (s *Service) Logout(ctx context.Context, jti string, expiresAt time.Time) {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return
	}
	if err := s.tokenStore.RevokeToken(ctx, jti, ttl); err != nil {
		log.Warn().Err(err).Msg("failed to revoke token on logout")
	}
}

// RefreshToken rotates the access token behind a valid refresh token.
// The refresh token itself stays untouched, and the restricted-token
// policy is re-evaluated against the person's current factors.
func (s *Service) RefreshToken(ctx context.Context, refreshToken string) (*domainAuth.RefreshResult, error) {
	claims, err := s.jwtService.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, shared.ErrInvalidToken
	}

	revoked, err := s.tokenStore.IsRevoked(ctx, claims.ID)
	if err != nil || revoked {
		return nil, shared.ErrTokenRevoked
	}

	personID, err := claims.PersonID()
	if err != nil {
		return nil, shared.ErrInvalidToken
	}
	p, err := s.getPerson(ctx, personID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrWrongUser
		}
		return nil, err
	}
	if !p.Active() {
		return nil, shared.ErrUnactiveUser
	}

	restricted := s.requiresEnrollment(p.Email(), p.HasTwoFactorEnabled())
	issued, err := s.jwtService.GenerateAccessToken(p.ID(), p.Email(), restricted)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}
	if err := s.tokenStore.RegisterToken(ctx, issued.TokenID, s.jwtService.AccessTTL()); err != nil {
		return nil, fmt.Errorf("failed to register access token: %w", err)
	}

	return &domainAuth.RefreshResult{
		AccessToken:                     issued.Token,
		ExpiresIn:                       s.jwtService.GetAccessTTLSeconds(),
		TwoFactorAuthenticationRequired: restricted,
	}, nil
}

// RevokeTokens marks the jti revoked for a full access token lifetime.
func (s *Service) RevokeTokens(ctx context.Context, jti string) error {
	if err := s.tokenStore.RevokeToken(ctx, jti, s.jwtService.AccessTTL()); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// IsRevoked reports whether the jti has been revoked. Store errors
// report as revoked so an unreachable store never lets tokens through.
func (s *Service) IsRevoked(ctx context.Context, jti string) (bool, error) {
	return s.tokenStore.IsRevoked(ctx, jti)
}

// IssueAPIToken issues a registered long-lived access token, meant for
// script and bot accounts.
func (s *Service) IssueAPIToken(ctx context.Context, personID uuid.UUID, daysDuration int) (*domainAuth.APITokenResult, error) {
	if daysDuration <= 0 {
		return nil, shared.NewValidationError("days", "must be positive")
	}

	p, err := s.getPerson(ctx, personID)
	if err != nil {
		return nil, err
	}
	if !p.Active() || p.IsExpired(time.Now()) {
		return nil, shared.ErrUnactiveUser
	}

	issued, err := s.jwtService.GenerateAPIToken(p.ID(), p.Email(), daysDuration)
	if err != nil {
		return nil, fmt.Errorf("failed to generate API token: %w", err)
	}
	if err := s.tokenStore.RegisterToken(ctx, issued.TokenID, time.Until(issued.ExpiresAt)); err != nil {
		return nil, fmt.Errorf("failed to register API token: %w", err)
	}

	return &domainAuth.APITokenResult{
		AccessToken: issued.Token,
		ExpiresAt:   issued.ExpiresAt,
	}, nil
}

// UpdatePassword changes the password of a person who can prove their
// current one. The current password is checked without a fresh OTP
// since the caller already holds an authenticated session.
func (s *Service) UpdatePassword(ctx context.Context, personID uuid.UUID, currentPassword, newPassword, confirmation string) error {
	p, err := s.getPerson(ctx, personID)
	if err != nil {
		return err
	}

	if _, err := s.CheckAuth(ctx, domainAuth.CheckAuthInput{
		Email:    p.Email(),
		Password: currentPassword,
		NoOTP:    true,
	}); err != nil {
		return err
	}

	if err := password.Validate(newPassword, confirmation, s.cfg.Password.MinLength); err != nil {
		return err
	}

	hash, err := password.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.personRepo.UpdatePassword(ctx, p.ID(), hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	if err := s.mailer.SendPasswordChanged(ctx, p.Email()); err != nil {
		log.Warn().Err(err).Msg("failed to send password changed email")
	}
	return nil
}

// SendResetPassword mails a password recovery link to the person.
func (s *Service) SendResetPassword(ctx context.Context, email string) error {
	normalized := person.NormalizeEmail(email)
	p, err := s.personRepo.GetByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.ErrWrongUser
		}
		return fmt.Errorf("failed to get person: %w", err)
	}

	token, err := s.issueResetToken(ctx, p.Email())
	if err != nil {
		return err
	}
	if err := s.mailer.SendResetPassword(ctx, p.Email(), token); err != nil {
		return fmt.Errorf("failed to send reset password email: %w", err)
	}
	return nil
}

// ResetPassword consumes a reset token and sets the new password. The
// stored token is deleted on every attempt, matching or not.
func (s *Service) ResetPassword(ctx context.Context, email, token, newPassword, confirmation string) error {
	normalized := person.NormalizeEmail(email)

	stored, err := s.tokenStore.PopResetToken(ctx, normalized)
	if err != nil {
		return fmt.Errorf("failed to read reset token: %w", err)
	}
	if stored == "" || stored != token {
		return shared.ErrWrongOrExpiredToken
	}

	if err := password.Validate(newPassword, confirmation, s.cfg.Password.MinLength); err != nil {
		return err
	}

	p, err := s.personRepo.GetByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.ErrWrongUser
		}
		return fmt.Errorf("failed to get person: %w", err)
	}

	hash, err := password.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.personRepo.UpdatePassword(ctx, p.ID(), hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

// LatestLoginLogs returns the most recent login log entries for a
// person, newest first.
func (s *Service) LatestLoginLogs(ctx context.Context, personID uuid.UUID, limit int) ([]*audit.LoginLog, error) {
	if limit <= 0 {
		limit = defaultLoginLogLimit
	}
	logs, err := s.auditRepo.LatestForPerson(ctx, personID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get login logs: %w", err)
	}
	return logs, nil
}

// Helper functions

func (s *Service) usesDefaultPassword(plain string) bool {
	return s.cfg.Auth.ForceDefaultPasswordChange &&
		s.cfg.Auth.DefaultPassword != "" &&
		s.cfg.Auth.Strategy != config.StrategyLocalNoPassword &&
		plain == s.cfg.Auth.DefaultPassword
}

func (s *Service) issueResetToken(ctx context.Context, email string) (string, error) {
	token, err := password.GenerateResetToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate reset token: %w", err)
	}
	if err := s.tokenStore.SetResetToken(ctx, email, token, s.cfg.Auth.ResetTokenTTL); err != nil {
		return "", fmt.Errorf("failed to store reset token: %w", err)
	}
	return token, nil
}

// requiresEnrollment applies the restricted-token policy: when
// two-factor authentication is enforced, persons without a configured
// factor only receive tokens scoped to the enrollment routes.
func (s *Service) requiresEnrollment(email string, secondFactorEnabled bool) bool {
	return s.cfg.Auth.EnforceTwoFactor &&
		!s.cfg.Auth.IsTwoFactorExempt(email) &&
		!secondFactorEnabled
}

func (s *Service) registerTokenPair(ctx context.Context, pair *jwt.TokenPair) error {
	if err := s.tokenStore.RegisterToken(ctx, pair.Access.TokenID, s.jwtService.AccessTTL()); err != nil {
		return fmt.Errorf("failed to register access token: %w", err)
	}
	if err := s.tokenStore.RegisterToken(ctx, pair.Refresh.TokenID, s.jwtService.RefreshTTL()); err != nil {
		return fmt.Errorf("failed to register refresh token: %w", err)
	}
	return nil
}

func (s *Service) recordLoginLog(ctx context.Context, personID uuid.UUID, ipAddress, origin string) {
	if origin == "" {
		origin = domainAuth.OriginWeb
	}
	entry := audit.NewLoginLog(personID, ipAddress, origin)
	if err := s.auditRepo.Create(ctx, entry); err != nil {
		log.Warn().Err(err).Msg("failed to record login log")
	}
}

// hasSecondFactor reports whether the person has a live second factor.
// Leftover recovery codes alone do not count.
func hasSecondFactor(info *domainAuth.UserInfo) bool {
	for _, f := range info.TwoFactorAuthenticationEnabled {
		if f != person.FactorRecoveryCode {
			return true
		}
	}
	return false
}
