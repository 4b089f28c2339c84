// Package main seeds the initial admin person into the database.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/studiotrack/auth-service/internal/domain/person"
	"github.com/studiotrack/auth-service/internal/infrastructure/config"
	"github.com/studiotrack/auth-service/internal/infrastructure/password"
	"github.com/studiotrack/auth-service/internal/infrastructure/postgres"
)

const (
	defaultAdminEmail = "admin@studiotrack.local"
	adminFirstName    = "Super"
	adminLastName     = "Admin"
)

func main() {
	// Setup logger
	zerolog.TimeFieldFormat = time.RFC3339
	if os.Getenv("APP_ENV") == "development" || os.Getenv("APP_ENV") == "" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Info().Msg("Starting auth database seeding...")

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Seeding failed")
	}

	log.Info().Msg("Seeding completed successfully")
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Connect to database
	db, err := postgres.NewConnection(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("Failed to close database connection")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	return db.Transaction(ctx, func(tx *sql.Tx) error {
		return seedAdminPerson(ctx, tx, cfg)
	})
}

// seedAdminPerson creates the initial admin so the API is usable on an
// empty database. When a person already exists under the email, their
// role is upgraded to admin instead.
func seedAdminPerson(ctx context.Context, tx *sql.Tx, cfg *config.Config) error {
	email := envOr("SEED_ADMIN_EMAIL", defaultAdminEmail)
	plaintext := envOr("SEED_ADMIN_PASSWORD", cfg.Auth.DefaultPassword)

	if err := password.Validate(plaintext, plaintext, cfg.Password.MinLength); err != nil {
		return fmt.Errorf("admin password rejected by policy: %w", err)
	}

	hash, err := password.Hash(plaintext)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	p, err := person.NewPerson(adminFirstName, adminLastName, email, hash, person.RoleAdmin)
	if err != nil {
		return fmt.Errorf("invalid admin person: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO person (id, email, first_name, last_name, password, role, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, true, $7)
		ON CONFLICT (email) DO NOTHING`,
		p.ID(), p.Email(), p.FirstName(), p.LastName(), p.PasswordHash(), p.Role(), p.CreatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert admin person: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read insert result: %w", err)
	}
	if inserted > 0 {
		log.Info().Str("email", p.Email()).Msg("Admin person created")
		return nil
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE person SET role = $2, updated_at = NOW()
		WHERE email = $1 AND role <> $2`,
		p.Email(), person.RoleAdmin,
	)
	if err != nil {
		return fmt.Errorf("failed to upgrade existing person: %w", err)
	}

	upgraded, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if upgraded > 0 {
		log.Info().Str("email", p.Email()).Msg("Existing person upgraded to admin")
	} else {
		log.Info().Str("email", p.Email()).Msg("Admin person already present")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
