package httpdelivery

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	domainAuth "github.com/studiotrack/auth-service/internal/domain/auth"
	"github.com/studiotrack/auth-service/internal/domain/person"
	"github.com/studiotrack/auth-service/internal/domain/shared"
)

var testRecoveryCodes = []string{"AAAAAAAAAA", "BBBBBBBBBB", "CCCCCCCCCC"}

// =============================================================================
// TOTP
// =============================================================================

func TestTOTPRoute_PreEnable(t *testing.T) {
	ts := newTestServer(t)
	p := testPerson(t)
	token := ts.accessTokenFor(t, p, false)

	ts.authService.On("PreEnableTOTP", mock.Anything, p.ID()).Return(&domainAuth.TOTPEnrollment{
		Secret:          "JBSWY3DPEHPK3PXP",
		ProvisioningURI: "otpauth://totp/StudioTrack:john.doe@studio.test?secret=JBSWY3DPEHPK3PXP",
	}, nil)

	rec := ts.do(t, http.MethodPut, "/auth/totp", token, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", body["otp_secret"])
	assert.Contains(t, body["totp_provisionning_uri"], "otpauth://totp/")
}

func TestTOTPRoute_PreEnableAlreadyEnabled(t *testing.T) {
	ts := newTestServer(t)
	p := testPerson(t)
	token := ts.accessTokenFor(t, p, false)

	ts.authService.On("PreEnableTOTP", mock.Anything, p.ID()).Return(nil, shared.ErrTOTPAlreadyEnabled)

	rec := ts.do(t, http.MethodPut, "/auth/totp", token, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "TOTP already enabled.", decodeBody(t, rec)["message"])
}

func TestTOTPRoute_Enable(t *testing.T) {
	ts := newTestServer(t)
	p := testPerson(t)
	token := ts.accessTokenFor(t, p, false)

	ts.authService.On("EnableTOTP", mock.Anything, p.ID(), "123456").Return(testRecoveryCodes, nil)

	rec := ts.do(t, http.MethodPost, "/auth/totp", token, map[string]string{"totp": "123456"})

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	codes, ok := body["otp_recovery_codes"].([]any)
	require.True(t, ok)
	assert.Len(t, codes, len(testRecoveryCodes))
}

func TestTOTPRoute_EnableAsSecondFactor(t *testing.T) {
	ts := newTestServer(t)
	p := testPerson(t)
	token := ts.accessTokenFor(t, p, false)

	// No fresh recovery codes when a factor already exists.
	ts.authService.On("EnableTOTP", mock.Anything, p.ID(), "123456").Return(nil, nil)

	rec := ts.do(t, http.MethodPost, "/auth/totp", token, map[string]string{"totp": "123456"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["success"])
}

func TestTOTPRoute_EnableWrongCode(t *testing.T) {
	ts := newTestServer(t)
	p := testPerson(t)
	token := ts.accessTokenFor(t, p, false)

	ts.authService.On("EnableTOTP", mock.Anything, p.ID(), "000000").Return(nil, shared.ErrWrongOTP)

	rec := ts.do(t, http.MethodPost, "/auth/totp", token, map[string]string{"totp": "000000"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "TOTP verification failed.", body["message"])
	assert.Equal(t, true, body["wrong_OTP"])
}

func TestTOTPRoute_EnableWithoutPreEnable(t *testing.T) {
	ts := newTestServer(t)
	p := testPerson(t)
	token := ts.accessTokenFor(t, p, false)

	ts.authService.On("EnableTOTP", mock.Anything, p.ID(), mock.Anything).Return(nil, person.ErrNoPendingSecret)

	rec := ts.do(t, http.MethodPost, "/auth/totp", token, map[string]string{"totp": "123456"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "TOTP not pre-enabled.", decodeBody(t, rec)["message"])
}

func TestTOTPRoute_Disable(t *testing.T) {
	ts := newTestServer(t)
	p := testPerson(t)
	token := ts.accessTokenFor(t, p, false)

	ts.authService.On("VerifyTwoFactor", mock.Anything, p.ID(), mock.MatchedBy(func(proof domainAuth.TwoFactorProof) bool {
		return proof.TOTP == "123456"
	})).Return(nil)
	ts.authService.On("DisableTOTP", mock.Anything, p.ID()).Return(nil)

	rec := ts.do(t, http.MethodDelete, "/auth/totp", token, map[string]string{"totp": "123456"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["success"])
}

func TestTOTPRoute_DisableWrongProof(t *testing.T) {
	ts := newTestServer(t)
	p := testPerson(t)
	token := ts.accessTokenFor(t, p, false)

	ts.authService.On("VerifyTwoFactor", mock.Anything, p.ID(), mock.Anything).Return(shared.ErrWrongOTP)

	rec := ts.do(t, http.MethodDelete, "/auth/totp", token, map[string]string{"totp": "000000"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "OTP verification failed.", body["message"])
	assert.Equal(t, true, body["wrong_OTP"])
	ts.authService.AssertNotCalled(t, "DisableTOTP", mock.Anything, mock.Anything)
}

func TestTOTPRoute_DisableMissingProof(t *testing.T) {
	ts := newTestServer(t)
	p := testPerson(t)
	token := ts.accessTokenFor(t, p, false)

	ts.authService.On("VerifyTwoFactor", mock.Anything, p.ID(), mock.Anything).Return(&domainAuth.MissingOTPError{
		Preferred: person.FactorTOTP,
		Enabled:   []person.Factor{person.FactorTOTP},
	})

	rec := ts.do(t, http.MethodDelete, "/auth/totp", token, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["wrong_OTP"])
}

func TestTOTPRoute_DisableNotEnabled(t *testing.T) {
	ts := newTestServer(t)
	p := testPerson(t)
	token := ts.accessTokenFor(t, p, false)

	ts.authService.On("VerifyTwoFactor", mock.Anything, p.ID(), mock.Anything).Return(nil)
	ts.authService.On("DisableTOTP", mock.Anything, p.ID()).Return(shared.ErrTOTPNotEnabled)

	rec := ts.do(t, http.MethodDelete, "/auth/totp", token, map[string]string{"email_otp": "654321"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "TOTP not enabled.", decodeBody(t, rec)["message"])
}

// =============================================================================
// Email OTP
// =============================================================================

func TestEmailOTPRoute_SendChallenge(t *testing.T) {
	ts := newTestServer(t)

	ts.authService.On("SendEmailOTP", mock.Anything, "john.doe@studio.test").Return(nil)

	rec := ts.do(t, http.MethodGet, "/auth/email-otp?email=john.doe@studio.test", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["success"])
}

func TestEmailOTPRoute_SendChallengeNotEnabled(t *testing.T) {
	ts := newTestServer(t)

	ts.authService.On("SendEmailOTP", mock.Anything, mock.Anything).Return(shared.ErrEmailOTPNotEnabled)

	rec := ts.do(t, http.MethodGet, "/auth/email-otp?email=john.doe@studio.test", "", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "OTP by email not enabled.", decodeBody(t, rec)["message"])
}

func TestEmailOTPRoute_SendChallengeUnknownPerson(t *testing.T) {
	ts := newTestServer(t)

	ts.authService.On("SendEmailOTP", mock.Anything, mock.Anything).Return(shared.ErrWrongUser)

	rec := ts.do(t, http.MethodGet, "/auth/email-otp?email=nobody@studio.test", "", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "User not found.", decodeBody(t, rec)["message"])
}

func TestEmailOTPRoute_SendChallengeMissingEmail(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/auth/email-otp", "", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "User email is missing.", decodeBody(t, rec)["message"])
	ts.authService.AssertNotCalled(t, "SendEmailOTP", mock.Anything, mock.Anything)
}

func TestEmailOTPRoute_PreEnable(t *testing.T) {
	ts := newTestServer(t)
	p := testPerson(t)
	token := ts.accessTokenFor(t, p, false)

	ts.authService.On("PreEnableEmailOTP", mock.Anything, p.ID()).Return(nil)

	rec := ts.do(t, http.MethodPut, "/auth/email-otp", token, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["success"])
}

func TestEmailOTPRoute_PreEnableAlreadyEnabled(t *testing.T) {
	ts := newTestServer(t)
	p := testPerson(t)
	token := ts.accessTokenFor(t, p, false)

	ts.authService.On("PreEnableEmailOTP", mock.Anything, p.ID()).Return(shared.ErrEmailOTPAlreadyEnabled)

	rec := ts.do(t, http.MethodPut, "/auth/email-otp", token, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "OTP by email already enabled.", decodeBody(t, rec)["message"])
}

func TestEmailOTPRoute_Enable(t *testing.T) {
	ts := newTestServer(t)
	p := testPerson(t)
	token := ts.accessTokenFor(t, p, false)

	ts.authService.On("EnableEmailOTP", mock.Anything, p.ID(), "654321").Return(testRecoveryCodes, nil)

	rec := ts.do(t, http.MethodPost, "/auth/email-otp", token, map[string]string{"email_otp": "654321"})

	assert.Equal(t, http.StatusOK, rec.Code)
	codes, ok := decodeBody(t, rec)["otp_recovery_codes"].([]any)
	require.True(t, ok)
	assert.Len(t, codes, len(testRecoveryCodes))
}

func TestEmailOTPRoute_EnableWrongCode(t *testing.T) {
	ts := newTestServer(t)
	p := testPerson(t)
	token := ts.accessTokenFor(t, p, false)

	ts.authService.On("EnableEmailOTP", mock.Anything, p.ID(), "000000").Return(nil, shared.ErrWrongOTP)

	rec := ts.do(t, http.MethodPost, "/auth/email-otp", token, map[string]string{"email_otp": "000000"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "OTP by email verification failed.", body["message"])
	assert.Equal(t, true, body["wrong_OTP"])
}

func TestEmailOTPRoute_Disable(t *testing.T) {
	ts := newTestServer(t)
	p := testPerson(t)
	token := ts.accessTokenFor(t, p, false)

	ts.authService.On("VerifyTwoFactor", mock.Anything, p.ID(), mock.Anything).Return(nil)
	ts.authService.On("DisableEmailOTP", mock.Anything, p.ID()).Return(nil)

	rec := ts.do(t, http.MethodDelete, "/auth/email-otp", token, map[string]string{"email_otp": "654321"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["success"])
}

func TestEmailOTPRoute_DisableNotEnabled(t *testing.T) {
	ts := newTestServer(t)
	p := testPerson(t)
	token := ts.accessTokenFor(t, p, false)

	ts.authService.On("VerifyTwoFactor", mock.Anything, p.ID(), mock.Anything).Return(nil)
	ts.authService.On("DisableEmailOTP", mock.Anything, p.ID()).Return(shared.ErrEmailOTPNotEnabled)

	rec := ts.do(t, http.MethodDelete, "/auth/email-otp", token, map[string]string{"totp": "123456"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "OTP by email not enabled.", decodeBody(t, rec)["message"])
}

// =============================================================================
// FIDO
// =============================================================================

func TestFIDORoute_BeginRegistration(t *testing.T) {
	ts := newTestServer(t)
	p := testPerson(t)
	token := ts.accessTokenFor(t, p, false)

	options := json.RawMessage(`{"publicKey":{"challenge":"abc"}}`)
	ts.authService.On("BeginFIDORegistration", mock.Anything, p.ID()).Return(options, nil)

	rec := ts.do(t, http.MethodPut, "/auth/fido", token, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, string(options), rec.Body.String())
}

func TestFIDORoute_FinishRegistration(t *testing.T) {
	ts := newTestServer(t)
	p := testPerson(t)
	token := ts.accessTokenFor(t, p, false)

	response := json.RawMessage(`{"id":"cred-id"}`)
	ts.authService.On("FinishFIDORegistration", mock.Anything, p.ID(), response, "Work key").Return(testRecoveryCodes, nil)

	rec := ts.do(t, http.MethodPost, "/auth/fido", token, map[string]any{
		"registration_response": response,
		"device_name":           "Work key",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	codes, ok := decodeBody(t, rec)["otp_recovery_codes"].([]any)
	require.True(t, ok)
	assert.Len(t, codes, len(testRecoveryCodes))
}

func TestFIDORoute_FinishRegistrationNoCeremony(t *testing.T) {
	ts := newTestServer(t)
	p := testPerson(t)
	token := ts.accessTokenFor(t, p, false)

	ts.authService.On("FinishFIDORegistration", mock.Anything, p.ID(), mock.Anything, mock.Anything).
		Return(nil, shared.ErrFIDONoPreregistration)

	rec := ts.do(t, http.MethodPost, "/auth/fido", token, map[string]any{
		"registration_response": json.RawMessage(`{"id":"cred-id"}`),
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No FIDO registration in progress.", decodeBody(t, rec)["message"])
}

func TestFIDORoute_FinishRegistrationRejected(t *testing.T) {
	ts := newTestServer(t)
	p := testPerson(t)
	token := ts.accessTokenFor(t, p, false)

	ts.authService.On("FinishFIDORegistration", mock.Anything, p.ID(), mock.Anything, mock.Anything).
		Return(nil, shared.ErrWrongOTP)

	rec := ts.do(t, http.MethodPost, "/auth/fido", token, map[string]any{
		"registration_response": json.RawMessage(`{"id":"forged"}`),
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "FIDO verification failed.", body["message"])
	assert.Equal(t, true, body["wrong_OTP"])
}

func TestFIDORoute_Unregister(t *testing.T) {
	ts := newTestServer(t)
	p := testPerson(t)
	token := ts.accessTokenFor(t, p, false)

	ts.authService.On("VerifyTwoFactor", mock.Anything, p.ID(), mock.MatchedBy(func(proof domainAuth.TwoFactorProof) bool {
		return proof.TOTP == "123456"
	})).Return(nil)
	ts.authService.On("UnregisterFIDO", mock.Anything, p.ID(), "Work key").Return(nil)

	rec := ts.do(t, http.MethodDelete, "/auth/fido", token, map[string]string{
		"device_name": "Work key",
		"totp":        "123456",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["success"])
}

func TestFIDORoute_UnregisterUnknownDevice(t *testing.T) {
	ts := newTestServer(t)
	p := testPerson(t)
	token := ts.accessTokenFor(t, p, false)

	ts.authService.On("VerifyTwoFactor", mock.Anything, p.ID(), mock.Anything).Return(nil)
	ts.authService.On("UnregisterFIDO", mock.Anything, p.ID(), "Home key").Return(person.ErrCredentialUnknown)

	rec := ts.do(t, http.MethodDelete, "/auth/fido", token, map[string]string{
		"device_name": "Home key",
		"totp":        "123456",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "FIDO device not found.", decodeBody(t, rec)["message"])
}

func TestFIDORoute_BeginLogin(t *testing.T) {
	ts := newTestServer(t)

	options := json.RawMessage(`{"publicKey":{"challenge":"xyz"}}`)
	ts.authService.On("BeginFIDOLogin", mock.Anything, "john.doe@studio.test").Return(options, nil)

	rec := ts.do(t, http.MethodGet, "/auth/fido?email=john.doe@studio.test", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, string(options), rec.Body.String())
}

func TestFIDORoute_BeginLoginNotEnabled(t *testing.T) {
	ts := newTestServer(t)

	ts.authService.On("BeginFIDOLogin", mock.Anything, mock.Anything).Return(nil, shared.ErrFIDONotEnabled)

	rec := ts.do(t, http.MethodGet, "/auth/fido?email=john.doe@studio.test", "", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "FIDO not enabled.", decodeBody(t, rec)["message"])
}

// =============================================================================
// Recovery codes
// =============================================================================

func TestRecoveryCodesRoute_Regenerate(t *testing.T) {
	ts := newTestServer(t)
	p := testPerson(t)
	token := ts.accessTokenFor(t, p, false)

	ts.authService.On("VerifyTwoFactor", mock.Anything, p.ID(), mock.Anything).Return(nil)
	ts.authService.On("GenerateNewRecoveryCodes", mock.Anything, p.ID()).Return(testRecoveryCodes, nil)

	rec := ts.do(t, http.MethodPut, "/auth/recovery-codes", token, map[string]string{"totp": "123456"})

	assert.Equal(t, http.StatusOK, rec.Code)
	codes, ok := decodeBody(t, rec)["otp_recovery_codes"].([]any)
	require.True(t, ok)
	assert.Len(t, codes, len(testRecoveryCodes))
}

func TestRecoveryCodesRoute_NoFactorEnabled(t *testing.T) {
	ts := newTestServer(t)
	p := testPerson(t)
	token := ts.accessTokenFor(t, p, false)

	ts.authService.On("VerifyTwoFactor", mock.Anything, p.ID(), mock.Anything).Return(shared.ErrTwoFactorNotEnabled)

	rec := ts.do(t, http.MethodPut, "/auth/recovery-codes", token, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No two factor authentication enabled.", decodeBody(t, rec)["message"])
}

// =============================================================================
// Admin routes
// =============================================================================

func TestAdminDisableTwoFactorRoute_Success(t *testing.T) {
	ts := newTestServer(t)
	admin := testAdmin(t)
	target := testPerson(t)
	token := ts.accessTokenFor(t, admin, false)

	ts.personRepo.On("GetByID", mock.Anything, admin.ID()).Return(admin, nil)
	ts.authService.On("DisableTwoFactorAuthentication", mock.Anything, target.ID()).Return(nil)

	rec := ts.do(t, http.MethodDelete, "/auth/person/"+target.ID().String()+"/two-factor", token, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["success"])
}

func TestAdminDisableTwoFactorRoute_NonAdmin(t *testing.T) {
	ts := newTestServer(t)
	p := testPerson(t)
	target := testPerson(t)
	token := ts.accessTokenFor(t, p, false)

	ts.personRepo.On("GetByID", mock.Anything, p.ID()).Return(p, nil)

	rec := ts.do(t, http.MethodDelete, "/auth/person/"+target.ID().String()+"/two-factor", token, nil)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Permission denied.", decodeBody(t, rec)["message"])
	ts.authService.AssertNotCalled(t, "DisableTwoFactorAuthentication", mock.Anything, mock.Anything)
}

func TestAdminDisableTwoFactorRoute_InvalidID(t *testing.T) {
	ts := newTestServer(t)
	admin := testAdmin(t)
	token := ts.accessTokenFor(t, admin, false)

	ts.personRepo.On("GetByID", mock.Anything, admin.ID()).Return(admin, nil)

	rec := ts.do(t, http.MethodDelete, "/auth/person/not-a-uuid/two-factor", token, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid person id.", decodeBody(t, rec)["message"])
}

func TestAPITokenRoute_Success(t *testing.T) {
	ts := newTestServer(t)
	admin := testAdmin(t)
	bot := testPerson(t)
	token := ts.accessTokenFor(t, admin, false)

	expiresAt := time.Now().Add(30 * 24 * time.Hour).UTC().Truncate(time.Second)
	ts.personRepo.On("GetByID", mock.Anything, admin.ID()).Return(admin, nil)
	ts.authService.On("IssueAPIToken", mock.Anything, bot.ID(), 30).Return(&domainAuth.APITokenResult{
		AccessToken: "api-token",
		ExpiresAt:   expiresAt,
	}, nil)

	rec := ts.do(t, http.MethodPost, "/auth/api-token", token, map[string]any{
		"person_id":     bot.ID().String(),
		"days_duration": 30,
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "api-token", body["access_token"])
	assert.NotEmpty(t, body["expires_at"])
}

func TestAPITokenRoute_InvalidDuration(t *testing.T) {
	ts := newTestServer(t)
	admin := testAdmin(t)
	bot := testPerson(t)
	token := ts.accessTokenFor(t, admin, false)

	ts.personRepo.On("GetByID", mock.Anything, admin.ID()).Return(admin, nil)
	ts.authService.On("IssueAPIToken", mock.Anything, bot.ID(), 0).
		Return(nil, shared.NewValidationError("days_duration", "must be a positive number of days"))

	rec := ts.do(t, http.MethodPost, "/auth/api-token", token, map[string]any{
		"person_id": bot.ID().String(),
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "must be a positive number of days", decodeBody(t, rec)["message"])
}

func TestAPITokenRoute_UnactiveBot(t *testing.T) {
	ts := newTestServer(t)
	admin := testAdmin(t)
	token := ts.accessTokenFor(t, admin, false)
	botID := uuid.New()

	ts.personRepo.On("GetByID", mock.Anything, admin.ID()).Return(admin, nil)
	ts.authService.On("IssueAPIToken", mock.Anything, botID, 30).Return(nil, shared.ErrUnactiveUser)

	rec := ts.do(t, http.MethodPost, "/auth/api-token", token, map[string]any{
		"person_id":     botID.String(),
		"days_duration": 30,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "User is unactive.", decodeBody(t, rec)["message"])
}
