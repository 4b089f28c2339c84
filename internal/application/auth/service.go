// Package auth provides authentication application services.
package auth

import (
	"context"
	"encoding/json"
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
	"github.com/studiotrack/auth-service/internal/infrastructure/ldap"
	"github.com/studiotrack/auth-service/internal/infrastructure/otp"
)

// TokenStore is the shared token-state backend holding token
// revocations, email OTP counters, FIDO challenge states and password
// reset tokens. The redis store satisfies it.
type TokenStore interface {
	RegisterToken(ctx context.Context, jti string, ttl time.Duration) error
	RevokeToken(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	SetEmailOTPCounter(ctx context.Context, email string, counter uint64, ttl time.Duration) error
	GetEmailOTPCounter(ctx context.Context, email string) (uint64, bool, error)
	DeleteEmailOTPCounter(ctx context.Context, email string) error
	SetFIDOState(ctx context.Context, personID string, state []byte, ttl time.Duration) error
	PopFIDOState(ctx context.Context, personID string) ([]byte, bool, error)
	SetResetToken(ctx context.Context, email, token string, ttl time.Duration) error
	PopResetToken(ctx context.Context, email string) (string, error)
}

// Mailer sends the authentication emails.
type Mailer interface {
	SendEmailOTP(ctx context.Context, email, code string) error
	SendResetPassword(ctx context.Context, email, token string) error
	SendPasswordChanged(ctx context.Context, email string) error
	SendTwoFactorDisabled(ctx context.Context, email string) error
}

// Directory authenticates passwords against the studio directory
// server.
type Directory interface {
	Authenticate(identity ldap.Identity, password string) error
}

// FIDOServer drives the WebAuthn registration and login ceremonies.
type FIDOServer interface {
	BeginRegistration(p *person.Person) (options json.RawMessage, state []byte, err error)
	FinishRegistration(p *person.Person, state []byte, response json.RawMessage) (json.RawMessage, error)
	BeginLogin(p *person.Person) (options json.RawMessage, state []byte, err error)
	FinishLogin(p *person.Person, state []byte, response json.RawMessage) (deviceName string, updated json.RawMessage, err error)
}

// Service implements domainAuth.Service.
type Service struct {
	personRepo  person.Repository
	auditRepo   audit.Repository
	tokenStore  TokenStore
	jwtService  *jwt.Service
	otpService  *otp.Service
	fidoService FIDOServer
	directory   Directory
	mailer      Mailer
	cfg         *config.Config
}

// NewService creates a new auth service.
func NewService(
	personRepo person.Repository,
	auditRepo audit.Repository,
	tokenStore TokenStore,
	jwtService *jwt.Service,
	otpService *otp.Service,
	fidoService FIDOServer,
	directory Directory,
	mailer Mailer,
	cfg *config.Config,
) *Service {
	return &Service{
		personRepo:  personRepo,
		auditRepo:   auditRepo,
		tokenStore:  tokenStore,
		jwtService:  jwtService,
		otpService:  otpService,
		fidoService: fidoService,
		directory:   directory,
		mailer:      mailer,
		cfg:         cfg,
	}
}

// CheckAuth runs the full credential check for a person: account
// lookup, active flag, failed-attempt throttle, password strategy and,
// when enabled, the second factor. Wrong passwords and wrong OTP codes
// both count against the throttle.
func (s *Service) CheckAuth(ctx context.Context, input domainAuth.CheckAuthInput) (*domainAuth.UserInfo, error) {
	p, err := s.getPersonByLogin(ctx, input.Email)
	if err != nil {
		return nil, err
	}

	if !p.Active() {
		return nil, shared.ErrUnactiveUser
	}

	now := time.Now()
	if p.IsLockedOut(now, s.cfg.Auth.MaxLoginAttempts, s.cfg.Auth.LockoutDuration) {
		return nil, shared.ErrTooManyFailedLogins
	}

	if err := s.verifyPassword(p, input.Password); err != nil {
		if errors.Is(err, shared.ErrWrongPassword) {
			s.recordLoginFailure(ctx, p, now)
		}
		return nil, err
	}

	if p.HasTwoFactorEnabled() && !input.NoOTP {
		if err := s.verifySecondFactor(ctx, p, input); err != nil {
			if errors.Is(err, shared.ErrWrongOTP) {
				s.recordLoginFailure(ctx, p, now)
			}
			return nil, err
		}
	}

	p.RecordLoginSuccess(now)
	if err := s.personRepo.UpdateLoginFailure(ctx, p); err != nil {
		log.Warn().Err(err).Msg("failed to reset login failure counters")
	}

	return domainAuth.NewUserInfo(p), nil
}

// Helper functions

func (s *Service) getPerson(ctx context.Context, personID uuid.UUID) (*person.Person, error) {
	p, err := s.personRepo.GetByID(ctx, personID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get person: %w", err)
	}
	return p, nil
}

func (s *Service) getPersonByLogin(ctx context.Context, login string) (*person.Person, error) {
	p, err := s.personRepo.GetByEmailOrDesktopLogin(ctx, login)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrWrongUser
		}
		return nil, fmt.Errorf("failed to get person: %w", err)
	}
	return p, nil
}

func (s *Service) recordLoginFailure(ctx context.Context, p *person.Person, now time.Time) {
	p.RecordLoginFailure(now)
	if err := s.personRepo.UpdateLoginFailure(ctx, p); err != nil {
		log.Warn().Err(err).Msg("failed to record login failure")
	}
}
