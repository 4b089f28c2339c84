// Package httpdelivery provides the HTTP REST delivery layer for the
// authentication service.
package httpdelivery

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	domainAuth "github.com/studiotrack/auth-service/internal/domain/auth"
	"github.com/studiotrack/auth-service/internal/domain/person"
	"github.com/studiotrack/auth-service/internal/domain/shared"
)

// errorBody is the generic error envelope. WrongOTP and
// TwoFactorRequired are flags clients key redirects on, so they are
// only emitted when set.
type errorBody struct {
	Error             bool   `json:"error"`
	Message           string `json:"message,omitempty"`
	WrongOTP          bool   `json:"wrong_OTP,omitempty"`
	TwoFactorRequired bool   `json:"two_factor_authentication_required,omitempty"`
}

// userPayload is the sanitized person view returned on login and on
// the authenticated check. Secrets and hashes never reach it.
type userPayload struct {
	ID                 string   `json:"id"`
	Email              string   `json:"email"`
	FirstName          string   `json:"first_name"`
	LastName           string   `json:"last_name"`
	FullName           string   `json:"full_name"`
	Role               string   `json:"role"`
	DesktopLogin       string   `json:"desktop_login"`
	Active             bool     `json:"active"`
	PreferredTwoFactor string   `json:"preferred_two_factor_authentication,omitempty"`
	TwoFactorEnabled   []string `json:"two_factor_authentication_enabled"`
	FIDODevices        []string `json:"fido_devices"`
}

func newUserPayload(info *domainAuth.UserInfo) *userPayload {
	return &userPayload{
		ID:                 info.ID.String(),
		Email:              info.Email,
		FirstName:          info.FirstName,
		LastName:           info.LastName,
		FullName:           info.FullName,
		Role:               info.Role,
		DesktopLogin:       info.DesktopLogin,
		Active:             info.Active,
		PreferredTwoFactor: string(info.PreferredTwoFactor),
		TwoFactorEnabled:   factorNames(info.TwoFactorAuthenticationEnabled),
		FIDODevices:        info.FIDODevices,
	}
}

func factorNames(factors []person.Factor) []string {
	names := make([]string, 0, len(factors))
	for _, f := range factors {
		names = append(names, string(f))
	}
	return names
}

// writeJSON serializes v to the response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write JSON response")
	}
}

// writeError writes the generic error envelope.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: true, Message: message})
}

// writeWrongOTP writes the wrong-OTP envelope destructive two-factor
// routes share.
func writeWrongOTP(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: true, Message: message, WrongOTP: true})
}

// writeSuccess writes the plain success envelope.
func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// writeRecoveryCodes returns freshly generated recovery codes, or the
// plain success envelope when enabling a second factor while codes
// already exist.
func writeRecoveryCodes(w http.ResponseWriter, codes []string) {
	if len(codes) == 0 {
		writeSuccess(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"otp_recovery_codes": codes})
}

// writeUnexpectedError handles errors no route-level mapping claimed.
// Validation errors surface as 400s, missing persons as 404s,
// everything else is a 500 with the wrapped message.
func writeUnexpectedError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *shared.ValidationError
	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, validationErr.Message)
	case errors.Is(err, shared.ErrNotFound), errors.Is(err, shared.ErrWrongUser):
		writeError(w, http.StatusNotFound, "User not found.")
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Str("method", r.Method).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// writePasswordPolicyError maps the shared password policy errors, or
// defers to writeUnexpectedError. Change-password, reset-password and
// the login default-password path all reuse it.
func writePasswordPolicyError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, shared.ErrPasswordsNoMatch):
		writeError(w, http.StatusBadRequest, "Confirmation password doesn't match.")
	case errors.Is(err, shared.ErrPasswordTooShort):
		writeError(w, http.StatusBadRequest, "Password is too short.")
	default:
		writeUnexpectedError(w, r, err)
	}
}

// decodeJSON parses the request body into dst. An empty body is
// accepted so routes with all-optional fields work with bare requests.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
