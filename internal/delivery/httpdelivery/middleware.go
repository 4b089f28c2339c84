package httpdelivery

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	domainAuth "github.com/studiotrack/auth-service/internal/domain/auth"
	"github.com/studiotrack/auth-service/internal/domain/person"
	"github.com/studiotrack/auth-service/internal/infrastructure/jwt"
)

// ContextKey is the typed key for request-scoped auth data.
type ContextKey string

// ClaimsKey carries the validated access token claims.
const ClaimsKey ContextKey = "claims"

// restrictedAllowedRoutes lists the method+path pairs a restricted
// token may reach. A restricted token belongs to a person who still
// has to enroll a second factor, so enrollment routes, logout and the
// authenticated check stay open while everything else returns 403.
var restrictedAllowedRoutes = map[string]bool{
	"GET /auth/logout":        true,
	"GET /auth/authenticated": true,
	"PUT /auth/totp":          true,
	"POST /auth/totp":         true,
	"PUT /auth/email-otp":     true,
	"POST /auth/email-otp":    true,
	"PUT /auth/fido":          true,
	"POST /auth/fido":         true,
}

// AuthMiddleware validates bearer tokens and populates the request
// context with their claims.
type AuthMiddleware struct {
	jwtService  *jwt.Service
	authService domainAuth.Service
	personRepo  person.Repository
}

// NewAuthMiddleware creates a new AuthMiddleware.
func NewAuthMiddleware(jwtService *jwt.Service, authService domainAuth.Service, personRepo person.Repository) *AuthMiddleware {
	return &AuthMiddleware{
		jwtService:  jwtService,
		authService: authService,
		personRepo:  personRepo,
	}
}

// RequireUser authenticates the request with an access token. Requests
// carrying a restricted token are rejected with 403 outside the
// enrollment allow-list.
func (m *AuthMiddleware) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r)
		if err != nil {
			log.Debug().Str("path", r.URL.Path).Err(err).Msg("Authentication failed: no token")
			writeError(w, http.StatusUnauthorized, "Authentication required.")
			return
		}

		claims, err := m.jwtService.ValidateAccessToken(token)
		if err != nil {
			log.Debug().Str("path", r.URL.Path).Err(err).Msg("Authentication failed: invalid token")
			writeError(w, http.StatusUnauthorized, "Invalid or expired token.")
			return
		}

		// Revocation check is fail-closed: an unreachable store never
		// lets a token through.
		revoked, err := m.authService.IsRevoked(r.Context(), claims.ID)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to check token revocation")
			writeError(w, http.StatusUnauthorized, "Token has been revoked.")
			return
		}
		if revoked {
			writeError(w, http.StatusUnauthorized, "Token has been revoked.")
			return
		}

		if claims.TwoFactorRequired && !restrictedAllowedRoutes[r.Method+" "+r.URL.Path] {
			writeJSON(w, http.StatusForbidden, errorBody{Error: true, TwoFactorRequired: true})
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin authenticates the request and checks the person's role
// against the database, so a demoted admin loses access without
// waiting for token expiry.
func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return m.RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Authentication required.")
			return
		}

		personID, err := claims.PersonID()
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token.")
			return
		}

		p, err := m.personRepo.GetByID(r.Context(), personID)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Authentication required.")
			return
		}
		if !p.IsAdmin() {
			writeError(w, http.StatusForbidden, "Permission denied.")
			return
		}

		next.ServeHTTP(w, r)
	}))
}

// ClaimsFromContext extracts the access token claims set by
// RequireUser.
func ClaimsFromContext(ctx context.Context) (*jwt.Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*jwt.Claims)
	return claims, ok
}

// extractBearerToken extracts the bearer token from the Authorization
// header.
func extractBearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("missing authorization header")
	}

	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", errors.New("invalid authorization format")
	}

	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", errors.New("empty token")
	}

	return token, nil
}
