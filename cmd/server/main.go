// Package main is the entry point for the authentication service.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	authapp "github.com/studiotrack/auth-service/internal/application/auth"
	"github.com/studiotrack/auth-service/internal/delivery/httpdelivery"
	"github.com/studiotrack/auth-service/internal/infrastructure/config"
	emailinfra "github.com/studiotrack/auth-service/internal/infrastructure/email"
	"github.com/studiotrack/auth-service/internal/infrastructure/jwt"
	ldapinfra "github.com/studiotrack/auth-service/internal/infrastructure/ldap"
	"github.com/studiotrack/auth-service/internal/infrastructure/otp"
	"github.com/studiotrack/auth-service/internal/infrastructure/postgres"
	redisinfra "github.com/studiotrack/auth-service/internal/infrastructure/redis"
	"github.com/studiotrack/auth-service/internal/infrastructure/webauthn"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Service failed")
	}
}

// run contains the main application logic, separated for cleaner error handling.
func run() error {
	zerolog.TimeFieldFormat = time.RFC3339

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	configureLogger(&cfg.Logger)

	log.Info().
		Str("service", cfg.App.Name).
		Str("version", cfg.App.Version).
		Str("environment", cfg.App.Env).
		Str("strategy", cfg.Auth.Strategy).
		Msg("Starting authentication service")

	// Setup database
	db, err := postgres.NewConnection(&cfg.Database)
	if err != nil {
		return err
	}
	defer closeDatabase(db)

	// Setup Redis backed token store. An unreachable server starts the
	// store in degraded mode, revocation checks then fail closed.
	redisClient := redisinfra.NewClient(&cfg.Redis)
	defer closeRedis(redisClient)
	tokenStore := redisinfra.NewStore(redisClient)

	// Setup infrastructure services
	jwtService := jwt.NewService(&cfg.JWT)
	otpService := otp.NewService(&cfg.TOTP)
	mailer := emailinfra.NewService(&cfg.Email)
	directory := ldapinfra.NewClient(&cfg.LDAP)

	fidoService, err := webauthn.NewService(&cfg.WebAuthn)
	if err != nil {
		return err
	}

	// Setup repositories
	personRepo := postgres.NewPersonRepository(db)
	loginLogRepo := postgres.NewLoginLogRepository(db)

	// Setup auth service
	authService := authapp.NewService(
		personRepo, loginLogRepo,
		tokenStore, jwtService, otpService,
		fidoService, directory, mailer,
		cfg,
	)

	// Setup HTTP delivery
	authHandler := httpdelivery.NewAuthHandler(authService, personRepo)
	authMiddleware := httpdelivery.NewAuthMiddleware(jwtService, authService, personRepo)
	rateLimiter := httpdelivery.NewRateLimiter(float64(cfg.RateLimit.RequestsPerSecond))

	httpServer := httpdelivery.NewServer(&cfg.Server,
		authHandler, authMiddleware, rateLimiter,
		httpdelivery.WithCORS(cfg.CORS.AllowedOrigins, cfg.CORS.MaxAge),
	)

	go func() {
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("Server shutdown complete")
	return nil
}

// configureLogger applies the configured level and output format.
func configureLogger(cfg *config.LoggerConfig) {
	if level, err := zerolog.ParseLevel(cfg.Level); err == nil && cfg.Level != "" {
		zerolog.SetGlobalLevel(level)
	}
	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// closeDatabase closes the database connection.
func closeDatabase(db *postgres.DB) {
	if err := db.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close database connection")
	}
}

// closeRedis closes the Redis connection.
func closeRedis(client *redisinfra.Client) {
	if err := client.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close Redis connection")
	}
}
