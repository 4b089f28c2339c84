package httpdelivery

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/studiotrack/auth-service/internal/infrastructure/config"
)

// Server represents the HTTP server.
type Server struct {
	server         *http.Server
	config         *config.ServerConfig
	authHandler    *AuthHandler
	authMiddleware *AuthMiddleware
	rateLimiter    *RateLimiter
	allowedOrigins []string
	corsMaxAge     int
}

// NewServer creates a new HTTP server.
func NewServer(cfg *config.ServerConfig, authHandler *AuthHandler, authMiddleware *AuthMiddleware, rateLimiter *RateLimiter, opts ...Option) *Server {
	s := &Server{
		config:         cfg,
		authHandler:    authHandler,
		authMiddleware: authMiddleware,
		rateLimiter:    rateLimiter,
		allowedOrigins: []string{"http://localhost:8080"},
		corsMaxAge:     300,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Option configures the HTTP server.
type Option func(*Server)

// WithCORS sets CORS allowed origins and max age.
func WithCORS(origins []string, maxAge int) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.allowedOrigins = origins
		}
		if maxAge > 0 {
			s.corsMaxAge = maxAge
		}
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.config.Address(),
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().
		Int("port", s.config.Port).
		Msg("HTTP server starting")

	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Handler builds the full route table. Exposed so tests can drive the
// server through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	h := s.authHandler
	auth := s.authMiddleware

	// Unauthenticated routes, rate limited against brute force.
	public := func(handler http.HandlerFunc) http.Handler {
		return s.rateLimiter.Middleware(handler)
	}
	s.route(mux, "POST /auth/login", public(h.Login))
	s.route(mux, "GET /auth/refresh-token", public(h.RefreshToken))
	s.route(mux, "POST /auth/reset-password", public(h.SendResetPassword))
	s.route(mux, "PUT /auth/reset-password", public(h.ResetPassword))
	s.route(mux, "GET /auth/email-otp", public(h.SendEmailOTP))
	s.route(mux, "GET /auth/fido", public(h.BeginFIDOLogin))

	// Authenticated routes.
	s.route(mux, "GET /auth/logout", auth.RequireUser(http.HandlerFunc(h.Logout)))
	s.route(mux, "GET /auth/authenticated", auth.RequireUser(http.HandlerFunc(h.Authenticated)))
	s.route(mux, "POST /auth/change-password", auth.RequireUser(http.HandlerFunc(h.ChangePassword)))
	s.route(mux, "PUT /auth/totp", auth.RequireUser(http.HandlerFunc(h.PreEnableTOTP)))
	s.route(mux, "POST /auth/totp", auth.RequireUser(http.HandlerFunc(h.EnableTOTP)))
	s.route(mux, "DELETE /auth/totp", auth.RequireUser(http.HandlerFunc(h.DisableTOTP)))
	s.route(mux, "PUT /auth/email-otp", auth.RequireUser(http.HandlerFunc(h.PreEnableEmailOTP)))
	s.route(mux, "POST /auth/email-otp", auth.RequireUser(http.HandlerFunc(h.EnableEmailOTP)))
	s.route(mux, "DELETE /auth/email-otp", auth.RequireUser(http.HandlerFunc(h.DisableEmailOTP)))
	s.route(mux, "PUT /auth/fido", auth.RequireUser(http.HandlerFunc(h.BeginFIDORegistration)))
	s.route(mux, "POST /auth/fido", auth.RequireUser(http.HandlerFunc(h.FinishFIDORegistration)))
	s.route(mux, "DELETE /auth/fido", auth.RequireUser(http.HandlerFunc(h.UnregisterFIDO)))
	s.route(mux, "PUT /auth/recovery-codes", auth.RequireUser(http.HandlerFunc(h.GenerateRecoveryCodes)))
	s.route(mux, "GET /auth/login-logs", auth.RequireUser(http.HandlerFunc(h.LoginLogs)))

	// Admin routes.
	s.route(mux, "DELETE /auth/person/{person_id}/two-factor", auth.RequireAdmin(http.HandlerFunc(h.DisablePersonTwoFactor)))
	s.route(mux, "POST /auth/api-token", auth.RequireAdmin(http.HandlerFunc(h.IssueAPIToken)))

	// Health check endpoints
	mux.HandleFunc("/healthz", s.healthHandler)
	mux.HandleFunc("/readyz", s.readyHandler)
	mux.HandleFunc("/livez", s.liveHandler)

	// Metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// CORS middleware (configurable for browser frontends)
	return cors.New(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           s.corsMaxAge,
	}).Handler(mux)
}

// route registers a pattern with request metrics instrumentation.
func (s *Server) route(mux *http.ServeMux, pattern string, handler http.Handler) {
	mux.Handle(pattern, MetricsMiddleware(pattern, handler))
}

// Health handlers.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`{"status":"healthy"}`)); err != nil {
		log.Warn().Err(err).Msg("Failed to write health response")
	}
}

func (s *Server) readyHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`{"status":"ready"}`)); err != nil {
		log.Warn().Err(err).Msg("Failed to write ready response")
	}
}

func (s *Server) liveHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`{"status":"live"}`)); err != nil {
		log.Warn().Err(err).Msg("Failed to write live response")
	}
}
