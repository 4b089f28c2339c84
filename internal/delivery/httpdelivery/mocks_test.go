package httpdelivery

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/studiotrack/auth-service/internal/domain/audit"
	domainAuth "github.com/studiotrack/auth-service/internal/domain/auth"
	"github.com/studiotrack/auth-service/internal/domain/person"
	"github.com/studiotrack/auth-service/internal/infrastructure/config"
	"github.com/studiotrack/auth-service/internal/infrastructure/jwt"
)

// =============================================================================
// Mocks
// =============================================================================

// MockAuthService is a mock implementation of the domain auth service.
type MockAuthService struct {
	mock.Mock
}

func (m *MockAuthService) CheckAuth(ctx context.Context, input domainAuth.CheckAuthInput) (*domainAuth.UserInfo, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domainAuth.UserInfo), args.Error(1)
}

func (m *MockAuthService) Login(ctx context.Context, input domainAuth.LoginInput) (*domainAuth.LoginResult, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domainAuth.LoginResult), args.Error(1)
}

func (m *MockAuthService) Logout(ctx context.Context, jti string, expiresAt time.Time) {
	m.Called(ctx, jti, expiresAt)
}

func (m *MockAuthService) RefreshToken(ctx context.Context, refreshToken string) (*domainAuth.RefreshResult, error) {
	args := m.Called(ctx, refreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domainAuth.RefreshResult), args.Error(1)
}

func (m *MockAuthService) RevokeTokens(ctx context.Context, jti string) error {
	args := m.Called(ctx, jti)
	return args.Error(0)
}

func (m *MockAuthService) IsRevoked(ctx context.Context, jti string) (bool, error) {
	args := m.Called(ctx, jti)
	return args.Bool(0), args.Error(1)
}

func (m *MockAuthService) PreEnableTOTP(ctx context.Context, personID uuid.UUID) (*domainAuth.TOTPEnrollment, error) {
	args := m.Called(ctx, personID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domainAuth.TOTPEnrollment), args.Error(1)
}

func (m *MockAuthService) EnableTOTP(ctx context.Context, personID uuid.UUID, code string) ([]string, error) {
	args := m.Called(ctx, personID, code)
	return stringsArg(args, 0), args.Error(1)
}

func (m *MockAuthService) DisableTOTP(ctx context.Context, personID uuid.UUID) error {
	args := m.Called(ctx, personID)
	return args.Error(0)
}

func (m *MockAuthService) SendEmailOTP(ctx context.Context, login string) error {
	args := m.Called(ctx, login)
	return args.Error(0)
}

func (m *MockAuthService) PreEnableEmailOTP(ctx context.Context, personID uuid.UUID) error {
	args := m.Called(ctx, personID)
	return args.Error(0)
}

func (m *MockAuthService) EnableEmailOTP(ctx context.Context, personID uuid.UUID, code string) ([]string, error) {
	args := m.Called(ctx, personID, code)
	return stringsArg(args, 0), args.Error(1)
}

func (m *MockAuthService) DisableEmailOTP(ctx context.Context, personID uuid.UUID) error {
	args := m.Called(ctx, personID)
	return args.Error(0)
}

func (m *MockAuthService) BeginFIDORegistration(ctx context.Context, personID uuid.UUID) (json.RawMessage, error) {
	args := m.Called(ctx, personID)
	return rawMessageArg(args, 0), args.Error(1)
}

func (m *MockAuthService) FinishFIDORegistration(ctx context.Context, personID uuid.UUID, response json.RawMessage, deviceName string) ([]string, error) {
	args := m.Called(ctx, personID, response, deviceName)
	return stringsArg(args, 0), args.Error(1)
}

func (m *MockAuthService) UnregisterFIDO(ctx context.Context, personID uuid.UUID, deviceName string) error {
	args := m.Called(ctx, personID, deviceName)
	return args.Error(0)
}

func (m *MockAuthService) BeginFIDOLogin(ctx context.Context, login string) (json.RawMessage, error) {
	args := m.Called(ctx, login)
	return rawMessageArg(args, 0), args.Error(1)
}

func (m *MockAuthService) GenerateNewRecoveryCodes(ctx context.Context, personID uuid.UUID) ([]string, error) {
	args := m.Called(ctx, personID)
	return stringsArg(args, 0), args.Error(1)
}

func (m *MockAuthService) DisableTwoFactorAuthentication(ctx context.Context, personID uuid.UUID) error {
	args := m.Called(ctx, personID)
	return args.Error(0)
}

func (m *MockAuthService) VerifyTwoFactor(ctx context.Context, personID uuid.UUID, proof domainAuth.TwoFactorProof) error {
	args := m.Called(ctx, personID, proof)
	return args.Error(0)
}

func (m *MockAuthService) UpdatePassword(ctx context.Context, personID uuid.UUID, currentPassword, newPassword, confirmation string) error {
	args := m.Called(ctx, personID, currentPassword, newPassword, confirmation)
	return args.Error(0)
}

func (m *MockAuthService) SendResetPassword(ctx context.Context, email string) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

func (m *MockAuthService) ResetPassword(ctx context.Context, email, token, newPassword, confirmation string) error {
	args := m.Called(ctx, email, token, newPassword, confirmation)
	return args.Error(0)
}

func (m *MockAuthService) IssueAPIToken(ctx context.Context, personID uuid.UUID, daysDuration int) (*domainAuth.APITokenResult, error) {
	args := m.Called(ctx, personID, daysDuration)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domainAuth.APITokenResult), args.Error(1)
}

func (m *MockAuthService) LatestLoginLogs(ctx context.Context, personID uuid.UUID, limit int) ([]*audit.LoginLog, error) {
	args := m.Called(ctx, personID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*audit.LoginLog), args.Error(1)
}

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

func stringsArg(args mock.Arguments, index int) []string {
	if args.Get(index) == nil {
		return nil
	}
	return args.Get(index).([]string)
}

func rawMessageArg(args mock.Arguments, index int) json.RawMessage {
	if args.Get(index) == nil {
		return nil
	}
	return args.Get(index).(json.RawMessage)
}

// =============================================================================
// Fixtures
// =============================================================================

const testJWTSecret = "test-secret-for-unit-tests-only"

func newTestJWTService() *jwt.Service {
	return jwt.NewService(&config.JWTConfig{
		Secret:          testJWTSecret,
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 24 * time.Hour,
		Issuer:          "studiotrack-test",
	})
}

type testServer struct {
	handler     http.Handler
	jwtService  *jwt.Service
	authService *MockAuthService
	personRepo  *MockPersonRepo
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	jwtService := newTestJWTService()
	authService := &MockAuthService{}
	personRepo := &MockPersonRepo{}

	srv := NewServer(
		&config.ServerConfig{Host: "127.0.0.1", Port: 0},
		NewAuthHandler(authService, personRepo),
		NewAuthMiddleware(jwtService, authService, personRepo),
		NewRateLimiter(1000),
	)

	return &testServer{
		handler:     srv.Handler(),
		jwtService:  jwtService,
		authService: authService,
		personRepo:  personRepo,
	}
}

// tokenPairFor issues a real token pair and stubs the revocation check
// so the access token passes middleware.
func (ts *testServer) tokenPairFor(t *testing.T, p *person.Person, restricted bool) *jwt.TokenPair {
	t.Helper()
	pair, err := ts.jwtService.GenerateTokenPair(p.ID(), p.Email(), restricted)
	require.NoError(t, err)
	ts.authService.On("IsRevoked", mock.Anything, pair.Access.TokenID).Return(false, nil)
	return pair
}

func (ts *testServer) accessTokenFor(t *testing.T, p *person.Person, restricted bool) string {
	t.Helper()
	return ts.tokenPairFor(t, p, restricted).Access.Token
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func testPerson(t *testing.T) *person.Person {
	t.Helper()
	p, err := person.NewPerson("John", "Doe", "john.doe@studio.test", "$2a$10$unused-hash", person.RoleUser)
	require.NoError(t, err)
	return p
}

func testAdmin(t *testing.T) *person.Person {
	t.Helper()
	p, err := person.NewPerson("Ada", "Root", "ada.root@studio.test", "$2a$10$unused-hash", person.RoleAdmin)
	require.NoError(t, err)
	return p
}
