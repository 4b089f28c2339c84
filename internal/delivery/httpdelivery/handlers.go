package httpdelivery

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/studiotrack/auth-service/internal/domain/audit"
	domainAuth "github.com/studiotrack/auth-service/internal/domain/auth"
	"github.com/studiotrack/auth-service/internal/domain/person"
	"github.com/studiotrack/auth-service/internal/domain/shared"
)

// AuthHandler serves the /auth routes.
type AuthHandler struct {
	authService domainAuth.Service
	personRepo  person.Repository
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authService domainAuth.Service, personRepo person.Repository) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		personRepo:  personRepo,
	}
}

type loginRequest struct {
	Email                      string          `json:"email"`
	Password                   string          `json:"password"`
	TOTP                       string          `json:"totp"`
	EmailOTP                   string          `json:"email_otp"`
	RecoveryCode               string          `json:"recovery_code"`
	FIDOAuthenticationResponse json.RawMessage `json:"fido_authentication_response"`
}

type loginResponse struct {
	Login                           bool         `json:"login"`
	User                            *userPayload `json:"user"`
	AccessToken                     string       `json:"access_token"`
	RefreshToken                    string       `json:"refresh_token"`
	ExpiresIn                       int64        `json:"expires_in"`
	TwoFactorAuthenticationRequired bool         `json:"two_factor_authentication_required,omitempty"`
}

// Login authenticates a person and returns a registered token pair.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "User email is missing.")
		return
	}

	result, err := h.authService.Login(r.Context(), domainAuth.LoginInput{
		CheckAuthInput: domainAuth.CheckAuthInput{
			Email:                      req.Email,
			Password:                   req.Password,
			TOTP:                       req.TOTP,
			EmailOTP:                   req.EmailOTP,
			RecoveryCode:               req.RecoveryCode,
			FIDOAuthenticationResponse: req.FIDOAuthenticationResponse,
		},
		IPAddress: clientIP(r),
		Origin:    requestOrigin(r),
	})
	if err != nil {
		RecordAuthOperation("login", false)
		writeLoginError(w, err)
		return
	}

	RecordAuthOperation("login", true)
	writeJSON(w, http.StatusOK, loginResponse{
		Login:                           true,
		User:                            newUserPayload(result.User),
		AccessToken:                     result.AccessToken,
		RefreshToken:                    result.RefreshToken,
		ExpiresIn:                       result.ExpiresIn,
		TwoFactorAuthenticationRequired: result.TwoFactorAuthenticationRequired,
	})
}

// writeLoginError maps login failures onto the flag envelopes desktop
// and web clients key their retry flows on.
func writeLoginError(w http.ResponseWriter, err error) {
	var missingOTP *domainAuth.MissingOTPError
	var defaultPassword *domainAuth.DefaultPasswordError

	switch {
	case errors.As(err, &missingOTP):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":                               true,
			"login":                               false,
			"missing_OTP":                         true,
			"preferred_two_factor_authentication": string(missingOTP.Preferred),
			"two_factor_authentication_enabled":   factorNames(missingOTP.Enabled),
		})
	case errors.As(err, &defaultPassword):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"login":            false,
			"default_password": true,
			"token":            defaultPassword.Token,
		})
	case errors.Is(err, shared.ErrWrongOTP):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":     true,
			"login":     false,
			"wrong_OTP": true,
		})
	case errors.Is(err, shared.ErrTooManyFailedLogins):
		// The misspelled key is the wire format clients already parse.
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":                         true,
			"login":                         false,
			"too_many_failed_login_attemps": true,
		})
	case errors.Is(err, shared.ErrUnactiveUser):
		writeJSON(w, http.StatusUnauthorized, map[string]bool{"login": false})
	case errors.Is(err, shared.ErrNoAuthStrategy):
		writeJSON(w, http.StatusConflict, map[string]bool{"login": false})
	case errors.Is(err, shared.ErrWrongUser),
		errors.Is(err, shared.ErrWrongPassword),
		errors.Is(err, shared.ErrNoFallback):
		writeJSON(w, http.StatusBadRequest, map[string]bool{"login": false})
	default:
		log.Error().Err(err).Msg("Login failed unexpectedly")
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   true,
			"login":   false,
			"message": err.Error(),
		})
	}
}

// Logout best-effort revokes the current token. It always reports
// success to the caller.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required.")
		return
	}

	expiresAt := time.Now()
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	h.authService.Logout(r.Context(), claims.ID, expiresAt)

	RecordAuthOperation("logout", true)
	writeJSON(w, http.StatusOK, map[string]bool{"logout": true})
}

// Authenticated reports whether the current token still belongs to an
// active person. Frontends poll it to decide when to redirect to the
// login page.
func (h *AuthHandler) Authenticated(w http.ResponseWriter, r *http.Request) {
	p, err := h.currentPerson(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Person not found.")
		return
	}
	if !p.Active() {
		writeError(w, http.StatusUnauthorized, "Person not found.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"user":          newUserPayload(domainAuth.NewUserInfo(p)),
	})
}

type refreshResponse struct {
	AccessToken                     string `json:"access_token"`
	ExpiresIn                       int64  `json:"expires_in"`
	TwoFactorAuthenticationRequired bool   `json:"two_factor_authentication_required,omitempty"`
}

// RefreshToken exchanges a valid refresh token for a fresh access
// token.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	token, err := extractBearerToken(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Authentication required.")
		return
	}

	result, err := h.authService.RefreshToken(r.Context(), token)
	if err != nil {
		RecordAuthOperation("refresh_token", false)
		switch {
		case errors.Is(err, shared.ErrUnactiveUser):
			writeError(w, http.StatusUnauthorized, "User is unactive.")
		case errors.Is(err, shared.ErrInvalidToken),
			errors.Is(err, shared.ErrTokenRevoked),
			errors.Is(err, shared.ErrWrongUser),
			errors.Is(err, shared.ErrNotFound):
			writeError(w, http.StatusUnauthorized, "Invalid or expired token.")
		default:
			writeUnexpectedError(w, r, err)
		}
		return
	}

	RecordAuthOperation("refresh_token", true)
	writeJSON(w, http.StatusOK, refreshResponse{
		AccessToken:                     result.AccessToken,
		ExpiresIn:                       result.ExpiresIn,
		TwoFactorAuthenticationRequired: result.TwoFactorAuthenticationRequired,
	})
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	Password    string `json:"password"`
	Password2   string `json:"password_2"`
}

// ChangePassword updates the current person's password after checking
// the old one.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	personID, ok := currentPersonID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required.")
		return
	}

	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	err := h.authService.UpdatePassword(r.Context(), personID, req.OldPassword, req.Password, req.Password2)
	if err != nil {
		RecordAuthOperation("change_password", false)
		switch {
		case errors.Is(err, shared.ErrWrongPassword):
			writeError(w, http.StatusBadRequest, "Old password is wrong.")
		case errors.Is(err, shared.ErrUnactiveUser):
			writeError(w, http.StatusBadRequest, "User is unactive.")
		default:
			writePasswordPolicyError(w, r, err)
		}
		return
	}

	RecordAuthOperation("change_password", true)
	writeSuccess(w)
}

type resetPasswordRequest struct {
	Email     string `json:"email"`
	Token     string `json:"token"`
	Password  string `json:"password"`
	Password2 string `json:"password2"`
}

// SendResetPassword emails a reset token to the given address.
func (h *AuthHandler) SendResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "User email is missing.")
		return
	}

	if err := h.authService.SendResetPassword(r.Context(), req.Email); err != nil {
		if errors.Is(err, shared.ErrWrongUser) || errors.Is(err, shared.ErrNotFound) {
			writeError(w, http.StatusBadRequest, "Email not listed in database.")
			return
		}
		writeUnexpectedError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"success": "Reset token sent"})
}

// ResetPassword applies a mailed reset token. The token burns on every
// attempt, valid or not.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	err := h.authService.ResetPassword(r.Context(), req.Email, req.Token, req.Password, req.Password2)
	if err != nil {
		RecordAuthOperation("reset_password", false)
		if errors.Is(err, shared.ErrWrongOrExpiredToken) {
			writeError(w, http.StatusBadRequest, "Wrong or expired token.")
			return
		}
		writePasswordPolicyError(w, r, err)
		return
	}

	RecordAuthOperation("reset_password", true)
	writeSuccess(w)
}

// PreEnableTOTP generates a pending TOTP secret and its provisioning
// URI for the enrollment QR code.
func (h *AuthHandler) PreEnableTOTP(w http.ResponseWriter, r *http.Request) {
	personID, ok := currentPersonID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required.")
		return
	}

	enrollment, err := h.authService.PreEnableTOTP(r.Context(), personID)
	if err != nil {
		if errors.Is(err, shared.ErrTOTPAlreadyEnabled) {
			writeError(w, http.StatusBadRequest, "TOTP already enabled.")
			return
		}
		writeUnexpectedError(w, r, err)
		return
	}

	// The double-n spelling is the wire key existing clients parse.
	writeJSON(w, http.StatusOK, map[string]string{
		"totp_provisionning_uri": enrollment.ProvisioningURI,
		"otp_secret":             enrollment.Secret,
	})
}

type enableTOTPRequest struct {
	TOTP string `json:"totp"`
}

// EnableTOTP confirms the pending TOTP secret with a live code.
func (h *AuthHandler) EnableTOTP(w http.ResponseWriter, r *http.Request) {
	personID, ok := currentPersonID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required.")
		return
	}

	var req enableTOTPRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	codes, err := h.authService.EnableTOTP(r.Context(), personID, req.TOTP)
	if err != nil {
		RecordAuthOperation("enable_totp", false)
		switch {
		case errors.Is(err, shared.ErrTOTPAlreadyEnabled):
			writeError(w, http.StatusBadRequest, "TOTP already enabled.")
		case errors.Is(err, person.ErrNoPendingSecret):
			writeError(w, http.StatusBadRequest, "TOTP not pre-enabled.")
		case errors.Is(err, shared.ErrWrongOTP):
			writeWrongOTP(w, "TOTP verification failed.")
		default:
			writeUnexpectedError(w, r, err)
		}
		return
	}

	RecordAuthOperation("enable_totp", true)
	writeRecoveryCodes(w, codes)
}

// DisableTOTP drops the TOTP factor after a live second-factor proof.
func (h *AuthHandler) DisableTOTP(w http.ResponseWriter, r *http.Request) {
	personID, ok := h.verifiedTwoFactorRequest(w, r)
	if !ok {
		return
	}

	if err := h.authService.DisableTOTP(r.Context(), personID); err != nil {
		if errors.Is(err, shared.ErrTOTPNotEnabled) {
			writeError(w, http.StatusBadRequest, "TOTP not enabled.")
			return
		}
		writeUnexpectedError(w, r, err)
		return
	}

	RecordAuthOperation("disable_totp", true)
	writeSuccess(w)
}

// SendEmailOTP mails a one-time code. It is unauthenticated because
// the login flow needs it before any token exists.
func (h *AuthHandler) SendEmailOTP(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		writeError(w, http.StatusBadRequest, "User email is missing.")
		return
	}

	if err := h.authService.SendEmailOTP(r.Context(), email); err != nil {
		switch {
		case errors.Is(err, shared.ErrEmailOTPNotEnabled):
			writeError(w, http.StatusBadRequest, "OTP by email not enabled.")
		case errors.Is(err, shared.ErrWrongUser), errors.Is(err, shared.ErrNotFound):
			writeError(w, http.StatusNotFound, "User not found.")
		default:
			writeUnexpectedError(w, r, err)
		}
		return
	}

	writeSuccess(w)
}

// PreEnableEmailOTP generates a pending email OTP secret.
func (h *AuthHandler) PreEnableEmailOTP(w http.ResponseWriter, r *http.Request) {
	personID, ok := currentPersonID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required.")
		return
	}

	if err := h.authService.PreEnableEmailOTP(r.Context(), personID); err != nil {
		if errors.Is(err, shared.ErrEmailOTPAlreadyEnabled) {
			writeError(w, http.StatusBadRequest, "OTP by email already enabled.")
			return
		}
		writeUnexpectedError(w, r, err)
		return
	}

	writeSuccess(w)
}

type enableEmailOTPRequest struct {
	EmailOTP string `json:"email_otp"`
}

// EnableEmailOTP confirms the pending email OTP secret with a mailed
// code.
func (h *AuthHandler) EnableEmailOTP(w http.ResponseWriter, r *http.Request) {
	personID, ok := currentPersonID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required.")
		return
	}

	var req enableEmailOTPRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	codes, err := h.authService.EnableEmailOTP(r.Context(), personID, req.EmailOTP)
	if err != nil {
		RecordAuthOperation("enable_email_otp", false)
		switch {
		case errors.Is(err, shared.ErrEmailOTPAlreadyEnabled):
			writeError(w, http.StatusBadRequest, "OTP by email already enabled.")
		case errors.Is(err, person.ErrNoPendingSecret):
			writeError(w, http.StatusBadRequest, "OTP by email not pre-enabled.")
		case errors.Is(err, shared.ErrWrongOTP):
			writeWrongOTP(w, "OTP by email verification failed.")
		default:
			writeUnexpectedError(w, r, err)
		}
		return
	}

	RecordAuthOperation("enable_email_otp", true)
	writeRecoveryCodes(w, codes)
}

// DisableEmailOTP drops the email OTP factor after a live
// second-factor proof.
func (h *AuthHandler) DisableEmailOTP(w http.ResponseWriter, r *http.Request) {
	personID, ok := h.verifiedTwoFactorRequest(w, r)
	if !ok {
		return
	}

	if err := h.authService.DisableEmailOTP(r.Context(), personID); err != nil {
		if errors.Is(err, shared.ErrEmailOTPNotEnabled) {
			writeError(w, http.StatusBadRequest, "OTP by email not enabled.")
			return
		}
		writeUnexpectedError(w, r, err)
		return
	}

	RecordAuthOperation("disable_email_otp", true)
	writeSuccess(w)
}

// BeginFIDORegistration starts a WebAuthn registration ceremony and
// returns the credential creation options.
func (h *AuthHandler) BeginFIDORegistration(w http.ResponseWriter, r *http.Request) {
	personID, ok := currentPersonID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required.")
		return
	}

	options, err := h.authService.BeginFIDORegistration(r.Context(), personID)
	if err != nil {
		writeUnexpectedError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, options)
}

type finishFIDORequest struct {
	RegistrationResponse json.RawMessage `json:"registration_response"`
	DeviceName           string          `json:"device_name"`
}

// FinishFIDORegistration completes a WebAuthn registration ceremony.
func (h *AuthHandler) FinishFIDORegistration(w http.ResponseWriter, r *http.Request) {
	personID, ok := currentPersonID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required.")
		return
	}

	var req finishFIDORequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	codes, err := h.authService.FinishFIDORegistration(r.Context(), personID, req.RegistrationResponse, req.DeviceName)
	if err != nil {
		RecordAuthOperation("enable_fido", false)
		switch {
		case errors.Is(err, shared.ErrFIDONoPreregistration):
			writeError(w, http.StatusBadRequest, "No FIDO registration in progress.")
		case errors.Is(err, shared.ErrWrongOTP):
			writeWrongOTP(w, "FIDO verification failed.")
		default:
			writeUnexpectedError(w, r, err)
		}
		return
	}

	RecordAuthOperation("enable_fido", true)
	writeRecoveryCodes(w, codes)
}

type unregisterFIDORequest struct {
	twoFactorBody
	DeviceName string `json:"device_name"`
}

// UnregisterFIDO removes one FIDO device after a live second-factor
// proof.
func (h *AuthHandler) UnregisterFIDO(w http.ResponseWriter, r *http.Request) {
	personID, ok := currentPersonID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required.")
		return
	}

	var req unregisterFIDORequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	if err := h.authService.VerifyTwoFactor(r.Context(), personID, req.proof()); err != nil {
		writeTwoFactorProofError(w, r, err)
		return
	}

	if err := h.authService.UnregisterFIDO(r.Context(), personID, req.DeviceName); err != nil {
		switch {
		case errors.Is(err, person.ErrCredentialUnknown):
			writeError(w, http.StatusBadRequest, "FIDO device not found.")
		case errors.Is(err, shared.ErrFIDONotEnabled):
			writeError(w, http.StatusBadRequest, "FIDO not enabled.")
		default:
			writeUnexpectedError(w, r, err)
		}
		return
	}

	RecordAuthOperation("disable_fido", true)
	writeSuccess(w)
}

// BeginFIDOLogin returns assertion options for the pre-login WebAuthn
// challenge. It is unauthenticated for the same reason SendEmailOTP
// is.
func (h *AuthHandler) BeginFIDOLogin(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		writeError(w, http.StatusBadRequest, "User email is missing.")
		return
	}

	options, err := h.authService.BeginFIDOLogin(r.Context(), email)
	if err != nil {
		switch {
		case errors.Is(err, shared.ErrFIDONotEnabled):
			writeError(w, http.StatusBadRequest, "FIDO not enabled.")
		case errors.Is(err, shared.ErrWrongUser), errors.Is(err, shared.ErrNotFound):
			writeError(w, http.StatusNotFound, "User not found.")
		default:
			writeUnexpectedError(w, r, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, options)
}

// GenerateRecoveryCodes replaces the recovery code set after a live
// second-factor proof.
func (h *AuthHandler) GenerateRecoveryCodes(w http.ResponseWriter, r *http.Request) {
	personID, ok := h.verifiedTwoFactorRequest(w, r)
	if !ok {
		return
	}

	codes, err := h.authService.GenerateNewRecoveryCodes(r.Context(), personID)
	if err != nil {
		if errors.Is(err, shared.ErrTwoFactorNotEnabled) {
			writeError(w, http.StatusBadRequest, "No two factor authentication enabled.")
			return
		}
		writeUnexpectedError(w, r, err)
		return
	}

	writeRecoveryCodes(w, codes)
}

// DisablePersonTwoFactor is the admin override clearing every factor
// of a locked-out person.
func (h *AuthHandler) DisablePersonTwoFactor(w http.ResponseWriter, r *http.Request) {
	personID, err := uuid.Parse(r.PathValue("person_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid person id.")
		return
	}

	if err := h.authService.DisableTwoFactorAuthentication(r.Context(), personID); err != nil {
		if errors.Is(err, shared.ErrTwoFactorNotEnabled) {
			writeError(w, http.StatusBadRequest, "No two factor authentication enabled.")
			return
		}
		writeUnexpectedError(w, r, err)
		return
	}

	RecordAuthOperation("admin_disable_two_factor", true)
	writeSuccess(w)
}

type apiTokenRequest struct {
	PersonID     string `json:"person_id"`
	DaysDuration int    `json:"days_duration"`
}

type apiTokenResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// IssueAPIToken issues a long-lived token for a bot person. Admin
// only.
func (h *AuthHandler) IssueAPIToken(w http.ResponseWriter, r *http.Request) {
	var req apiTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	personID, err := uuid.Parse(req.PersonID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid person id.")
		return
	}

	result, err := h.authService.IssueAPIToken(r.Context(), personID, req.DaysDuration)
	if err != nil {
		if errors.Is(err, shared.ErrUnactiveUser) {
			writeError(w, http.StatusBadRequest, "User is unactive.")
			return
		}
		writeUnexpectedError(w, r, err)
		return
	}

	RecordAuthOperation("issue_api_token", true)
	writeJSON(w, http.StatusOK, apiTokenResponse{
		AccessToken: result.AccessToken,
		ExpiresAt:   result.ExpiresAt,
	})
}

type loginLogPayload struct {
	ID        string    `json:"id"`
	PersonID  string    `json:"person_id"`
	IPAddress string    `json:"ip_address"`
	Origin    string    `json:"origin"`
	CreatedAt time.Time `json:"created_at"`
}

// LoginLogs returns the most recent login logs of the current person.
func (h *AuthHandler) LoginLogs(w http.ResponseWriter, r *http.Request) {
	personID, ok := currentPersonID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required.")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid limit.")
			return
		}
		limit = parsed
	}

	logs, err := h.authService.LatestLoginLogs(r.Context(), personID, limit)
	if err != nil {
		writeUnexpectedError(w, r, err)
		return
	}

	payload := make([]loginLogPayload, 0, len(logs))
	for _, entry := range logs {
		payload = append(payload, newLoginLogPayload(entry))
	}
	writeJSON(w, http.StatusOK, payload)
}

func newLoginLogPayload(entry *audit.LoginLog) loginLogPayload {
	return loginLogPayload{
		ID:        entry.ID().String(),
		PersonID:  entry.PersonID().String(),
		IPAddress: entry.IPAddress(),
		Origin:    entry.Origin(),
		CreatedAt: entry.CreatedAt(),
	}
}

// twoFactorBody carries the live proof destructive two-factor routes
// require.
type twoFactorBody struct {
	TOTP                       string          `json:"totp"`
	EmailOTP                   string          `json:"email_otp"`
	RecoveryCode               string          `json:"recovery_code"`
	FIDOAuthenticationResponse json.RawMessage `json:"fido_authentication_response"`
}

func (b twoFactorBody) proof() domainAuth.TwoFactorProof {
	return domainAuth.TwoFactorProof{
		TOTP:                       b.TOTP,
		EmailOTP:                   b.EmailOTP,
		RecoveryCode:               b.RecoveryCode,
		FIDOAuthenticationResponse: b.FIDOAuthenticationResponse,
	}
}

// verifiedTwoFactorRequest authenticates the request, parses the proof
// body and verifies it. It writes the error response itself when the
// proof does not hold.
func (h *AuthHandler) verifiedTwoFactorRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	personID, ok := currentPersonID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required.")
		return uuid.Nil, false
	}

	var body twoFactorBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return uuid.Nil, false
	}

	if err := h.authService.VerifyTwoFactor(r.Context(), personID, body.proof()); err != nil {
		writeTwoFactorProofError(w, r, err)
		return uuid.Nil, false
	}

	return personID, true
}

// writeTwoFactorProofError maps proof failures on destructive
// two-factor routes.
func writeTwoFactorProofError(w http.ResponseWriter, r *http.Request, err error) {
	var missingOTP *domainAuth.MissingOTPError
	switch {
	case errors.Is(err, shared.ErrWrongOTP), errors.As(err, &missingOTP):
		writeWrongOTP(w, "OTP verification failed.")
	case errors.Is(err, shared.ErrTwoFactorNotEnabled):
		writeError(w, http.StatusBadRequest, "No two factor authentication enabled.")
	default:
		writeUnexpectedError(w, r, err)
	}
}

// currentPerson loads the person behind the request's claims.
func (h *AuthHandler) currentPerson(r *http.Request) (*person.Person, error) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		return nil, shared.ErrUnauthorized
	}
	personID, err := claims.PersonID()
	if err != nil {
		return nil, shared.ErrUnauthorized
	}
	return h.personRepo.GetByID(r.Context(), personID)
}

// currentPersonID extracts the person id from the request's claims.
func currentPersonID(r *http.Request) (uuid.UUID, bool) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		return uuid.Nil, false
	}
	personID, err := claims.PersonID()
	if err != nil {
		return uuid.Nil, false
	}
	return personID, true
}

// clientIP extracts the caller address, honoring the proxy header when
// present.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requestOrigin classifies the client for the login log. Browsers send
// Mozilla-prefixed agents, pipeline scripts and desktop tools do not.
func requestOrigin(r *http.Request) string {
	if strings.HasPrefix(r.UserAgent(), "Mozilla") {
		return domainAuth.OriginWeb
	}
	return domainAuth.OriginScript
}
