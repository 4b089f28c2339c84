// Package auth_test provides unit tests for the auth application
// service.
package auth_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	appauth "github.com/studiotrack/auth-service/internal/application/auth"
	"github.com/studiotrack/auth-service/internal/domain/audit"
	"github.com/studiotrack/auth-service/internal/domain/person"
	"github.com/studiotrack/auth-service/internal/infrastructure/config"
	"github.com/studiotrack/auth-service/internal/infrastructure/jwt"
	"github.com/studiotrack/auth-service/internal/infrastructure/ldap"
	"github.com/studiotrack/auth-service/internal/infrastructure/otp"
	"github.com/studiotrack/auth-service/internal/infrastructure/password"
)

// =============================================================================
// Mocks
// =============================================================================

// MockPersonRepo is a mock implementation of person.Repository.
type MockPersonRepo struct {
	mock.Mock
}

func (m *MockPersonRepo) Create(ctx context.Context, p *person.Person) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockPersonRepo) GetByID(ctx context.Context, id uuid.UUID) (*person.Person, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*person.Person), args.Error(1)
}

func (m *MockPersonRepo) GetByEmail(ctx context.Context, email string) (*person.Person, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*person.Person), args.Error(1)
}

func (m *MockPersonRepo) GetByEmailOrDesktopLogin(ctx context.Context, login string) (*person.Person, error) {
	args := m.Called(ctx, login)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*person.Person), args.Error(1)
}

func (m *MockPersonRepo) Update(ctx context.Context, p *person.Person) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockPersonRepo) UpdateLoginFailure(ctx context.Context, p *person.Person) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockPersonRepo) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	args := m.Called(ctx, id, passwordHash)
	return args.Error(0)
}

func (m *MockPersonRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}

// MockAuditRepo is a mock implementation of audit.Repository.
type MockAuditRepo struct {
	mock.Mock
}

func (m *MockAuditRepo) Create(ctx context.Context, entry *audit.LoginLog) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockAuditRepo) LatestForPerson(ctx context.Context, personID uuid.UUID, limit int) ([]*audit.LoginLog, error) {
	args := m.Called(ctx, personID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*audit.LoginLog), args.Error(1)
}

// MockTokenStore is a mock implementation of appauth.TokenStore.
type MockTokenStore struct {
	mock.Mock
}

func (m *MockTokenStore) RegisterToken(ctx context.Context, jti string, ttl time.Duration) error {
	args := m.Called(ctx, jti, ttl)
	return args.Error(0)
}

func (m *MockTokenStore) RevokeToken(ctx context.Context, jti string, ttl time.Duration) error {
	args := m.Called(ctx, jti, ttl)
	return args.Error(0)
}

func (m *MockTokenStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	args := m.Called(ctx, jti)
	return args.Bool(0), args.Error(1)
}

func (m *MockTokenStore) SetEmailOTPCounter(ctx context.Context, email string, counter uint64, ttl time.Duration) error {
	args := m.Called(ctx, email, counter, ttl)
	return args.Error(0)
}

func (m *MockTokenStore) GetEmailOTPCounter(ctx context.Context, email string) (uint64, bool, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(uint64), args.Bool(1), args.Error(2)
}

func (m *MockTokenStore) DeleteEmailOTPCounter(ctx context.Context, email string) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

func (m *MockTokenStore) SetFIDOState(ctx context.Context, personID string, state []byte, ttl time.Duration) error {
	args := m.Called(ctx, personID, state, ttl)
	return args.Error(0)
}

func (m *MockTokenStore) PopFIDOState(ctx context.Context, personID string) ([]byte, bool, error) {
	args := m.Called(ctx, personID)
	var state []byte
	if args.Get(0) != nil {
		state = args.Get(0).([]byte)
	}
	return state, args.Bool(1), args.Error(2)
}

func (m *MockTokenStore) SetResetToken(ctx context.Context, email, token string, ttl time.Duration) error {
	args := m.Called(ctx, email, token, ttl)
	return args.Error(0)
}

func (m *MockTokenStore) PopResetToken(ctx context.Context, email string) (string, error) {
	args := m.Called(ctx, email)
	return args.String(0), args.Error(1)
}

// MockMailer is a mock implementation of appauth.Mailer.
type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) SendEmailOTP(ctx context.Context, email, code string) error {
	args := m.Called(ctx, email, code)
	return args.Error(0)
}

func (m *MockMailer) SendResetPassword(ctx context.Context, email, token string) error {
	args := m.Called(ctx, email, token)
	return args.Error(0)
}

func (m *MockMailer) SendPasswordChanged(ctx context.Context, email string) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

func (m *MockMailer) SendTwoFactorDisabled(ctx context.Context, email string) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

// MockDirectory is a mock implementation of appauth.Directory.
type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) Authenticate(identity ldap.Identity, password string) error {
	args := m.Called(identity, password)
	return args.Error(0)
}

// MockFIDOServer is a mock implementation of appauth.FIDOServer.
type MockFIDOServer struct {
	mock.Mock
}

func (m *MockFIDOServer) BeginRegistration(p *person.Person) (json.RawMessage, []byte, error) {
	args := m.Called(p)
	return rawMessageArg(args, 0), bytesArg(args, 1), args.Error(2)
}

func (m *MockFIDOServer) FinishRegistration(p *person.Person, state []byte, response json.RawMessage) (json.RawMessage, error) {
	args := m.Called(p, state, response)
	return rawMessageArg(args, 0), args.Error(1)
}

func (m *MockFIDOServer) BeginLogin(p *person.Person) (json.RawMessage, []byte, error) {
	args := m.Called(p)
	return rawMessageArg(args, 0), bytesArg(args, 1), args.Error(2)
}

func (m *MockFIDOServer) FinishLogin(p *person.Person, state []byte, response json.RawMessage) (string, json.RawMessage, error) {
	args := m.Called(p, state, response)
	return args.String(0), rawMessageArg(args, 1), args.Error(2)
}

func rawMessageArg(args mock.Arguments, index int) json.RawMessage {
	if args.Get(index) == nil {
		return nil
	}
	return args.Get(index).(json.RawMessage)
}

func bytesArg(args mock.Arguments, index int) []byte {
	if args.Get(index) == nil {
		return nil
	}
	return args.Get(index).([]byte)
}

// =============================================================================
// Helpers
// =============================================================================

const (
	testPassword   = "secret-password-123"
	testTOTPSecret = "JBSWY3DPEHPK3PXP"
)

type serviceMocks struct {
	personRepo *MockPersonRepo
	auditRepo  *MockAuditRepo
	tokenStore *MockTokenStore
	mailer     *MockMailer
	directory  *MockDirectory
	fido       *MockFIDOServer
	jwt        *jwt.Service
	otp        *otp.Service
	cfg        *config.Config
}

func (m *serviceMocks) assertExpectations(t *testing.T) {
	t.Helper()
	m.personRepo.AssertExpectations(t)
	m.auditRepo.AssertExpectations(t)
	m.tokenStore.AssertExpectations(t)
	m.mailer.AssertExpectations(t)
	m.directory.AssertExpectations(t)
	m.fido.AssertExpectations(t)
}

func testConfig() *config.Config {
	return &config.Config{
		JWT: config.JWTConfig{
			Secret:          "test-secret",
			AccessTokenTTL:  time.Hour,
			RefreshTokenTTL: 24 * time.Hour,
			Issuer:          "studiotrack-test",
		},
		Auth: config.AuthConfig{
			Strategy:         config.StrategyLocalClassic,
			MaxLoginAttempts: 5,
			LockoutDuration:  time.Minute,
			ResetTokenTTL:    2 * time.Hour,
		},
		TOTP: config.TOTPConfig{
			Issuer: "StudioTrack Test",
			Digits: 6,
			Period: 30,
		},
		EmailOTP: config.EmailOTPConfig{CounterTTL: 5 * time.Minute},
		WebAuthn: config.WebAuthnConfig{SessionTTL: 10 * time.Minute},
		Password: config.PasswordConfig{MinLength: 6},
	}
}

func newTestService(cfg *config.Config) (*appauth.Service, *serviceMocks) {
	m := &serviceMocks{
		personRepo: new(MockPersonRepo),
		auditRepo:  new(MockAuditRepo),
		tokenStore: new(MockTokenStore),
		mailer:     new(MockMailer),
		directory:  new(MockDirectory),
		fido:       new(MockFIDOServer),
		jwt:        jwt.NewService(&cfg.JWT),
		otp:        otp.NewService(&cfg.TOTP),
		cfg:        cfg,
	}
	svc := appauth.NewService(
		m.personRepo, m.auditRepo, m.tokenStore,
		m.jwt, m.otp, m.fido, m.directory, m.mailer, cfg,
	)
	return svc, m
}

// dummyPerson creates an active person knowing testPassword.
func dummyPerson(t *testing.T, email string) *person.Person {
	t.Helper()
	hash, err := password.Hash(testPassword)
	require.NoError(t, err)
	p, err := person.NewPerson("John", "Doe", email, hash, person.RoleUser)
	require.NoError(t, err)
	return p
}

// personWithTOTP enables the TOTP factor with testTOTPSecret.
func personWithTOTP(t *testing.T, email string) *person.Person {
	t.Helper()
	p := dummyPerson(t, email)
	require.NoError(t, p.SetPendingTOTPSecret(testTOTPSecret))
	require.NoError(t, p.EnableTOTP())
	return p
}

// personWithEmailOTP enables the email OTP factor with testTOTPSecret.
func personWithEmailOTP(t *testing.T, email string) *person.Person {
	t.Helper()
	p := dummyPerson(t, email)
	require.NoError(t, p.SetPendingEmailOTPSecret(testTOTPSecret))
	require.NoError(t, p.EnableEmailOTP())
	return p
}

// personWithFIDO registers one FIDO credential under deviceName.
func personWithFIDO(t *testing.T, email, deviceName string) *person.Person {
	t.Helper()
	p := dummyPerson(t, email)
	p.AddFIDOCredential(person.FIDOCredential{
		DeviceName: deviceName,
		Credential: json.RawMessage(`{"id":"Y3JlZC1pZA"}`),
	})
	return p
}
