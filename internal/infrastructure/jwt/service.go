// Package jwt provides JWT token generation and validation.
package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/studiotrack/auth-service/internal/infrastructure/config"
)

// Custom errors.
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidTokenType = errors.New("invalid token type")
)

// TokenType represents the type of JWT token.
type TokenType string

// Token type constants.
const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// IdentityType distinguishes interactive person tokens from long-lived
// API tokens issued for scripts and bots.
type IdentityType string

// Identity type constants.
const (
	IdentityPerson IdentityType = "person"
	IdentityAPI    IdentityType = "api"
)

// Claims represents the JWT claims carried by every issued token. A
// token with TwoFactorRequired set is restricted to the two-factor
// enrollment routes until the holder enables a factor.
type Claims struct {
	jwt.RegisteredClaims
	TokenType         TokenType    `json:"token_type"`
	IdentityType      IdentityType `json:"identity_type"`
	Email             string       `json:"email"`
	TwoFactorRequired bool         `json:"two_factor_authentication_required,omitempty"`
}

// PersonID returns the subject claim as a UUID.
func (c *Claims) PersonID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return id, nil
}

// Service provides JWT token operations.
type Service struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
}

// NewService creates a new JWT service.
func NewService(cfg *config.JWTConfig) *Service {
	return &Service{
		secret:     []byte(cfg.Secret),
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
		issuer:     cfg.Issuer,
	}
}

// IssuedToken is a single signed token with the identifiers the
// revocation store needs.
type IssuedToken struct {
	Token     string
	TokenID   string
	ExpiresAt time.Time
}

// TokenPair represents an access and refresh token pair.
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}

// GenerateTokenPair generates a new access and refresh token pair for a
// person. restricted marks both tokens as limited to two-factor
// enrollment.
func (s *Service) GenerateTokenPair(personID uuid.UUID, email string, restricted bool) (*TokenPair, error) {
	access, err := s.sign(personID, email, TokenTypeAccess, IdentityPerson, s.accessTTL, restricted)
	if err != nil {
		return nil, err
	}
	refresh, err := s.sign(personID, email, TokenTypeRefresh, IdentityPerson, s.refreshTTL, restricted)
	if err != nil {
		return nil, err
	}
	return &TokenPair{Access: *access, Refresh: *refresh}, nil
}

// GenerateAccessToken generates a standalone access token. Used by the
// refresh flow, which rotates only the access token.
func (s *Service) GenerateAccessToken(personID uuid.UUID, email string, restricted bool) (*IssuedToken, error) {
	return s.sign(personID, email, TokenTypeAccess, IdentityPerson, s.accessTTL, restricted)
}

// GenerateAPIToken generates a long-lived access token for scripts and
// bots. It has no refresh counterpart and is never restricted.
func (s *Service) GenerateAPIToken(personID uuid.UUID, email string, days int) (*IssuedToken, error) {
	return s.sign(personID, email, TokenTypeAccess, IdentityAPI, time.Duration(days)*24*time.Hour, false)
}

func (s *Service) sign(personID uuid.UUID, email string, tokenType TokenType, identity IdentityType, ttl time.Duration, restricted bool) (*IssuedToken, error) {
	now := time.Now()
	exp := now.Add(ttl)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   personID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
		TokenType:         tokenType,
		IdentityType:      identity,
		Email:             email,
		TwoFactorRequired: restricted,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return nil, err
	}

	return &IssuedToken{
		Token:     signed,
		TokenID:   claims.ID,
		ExpiresAt: exp,
	}, nil
}

// ValidateAccessToken validates an access token and returns the claims.
func (s *Service) ValidateAccessToken(tokenString string) (*Claims, error) {
	return s.validateToken(tokenString, TokenTypeAccess)
}

// ValidateRefreshToken validates a refresh token and returns the claims.
func (s *Service) ValidateRefreshToken(tokenString string) (*Claims, error) {
	return s.validateToken(tokenString, TokenTypeRefresh)
}

func (s *Service) validateToken(tokenString string, expectedType TokenType) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.TokenType != expectedType {
		return nil, ErrInvalidTokenType
	}

	return claims, nil
}

// AccessTTL returns the configured access token lifetime.
func (s *Service) AccessTTL() time.Duration {
	return s.accessTTL
}

// RefreshTTL returns the configured refresh token lifetime.
func (s *Service) RefreshTTL() time.Duration {
	return s.refreshTTL
}

// GetAccessTTLSeconds returns the access token TTL in seconds.
func (s *Service) GetAccessTTLSeconds() int64 {
	return int64(s.accessTTL.Seconds())
}
