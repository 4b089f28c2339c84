package postgres_test

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/studiotrack/auth-service/internal/infrastructure/config"
	"github.com/studiotrack/auth-service/internal/infrastructure/postgres"
)

func skipIfNoIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test (set INTEGRATION_TEST=true)")
	}
}

func setupTestDB(t *testing.T) *postgres.DB {
	t.Helper()
	skipIfNoIntegration(t)

	cfg := &config.DatabaseConfig{
		Host:            envOrDefault("TEST_DB_HOST", "localhost"),
		Port:            intEnvOrDefault("TEST_DB_PORT", 5432),
		User:            envOrDefault("TEST_DB_USER", "auth"),
		Password:        envOrDefault("TEST_DB_PASSWORD", "auth123"),
		Name:            envOrDefault("TEST_DB_NAME", "auth_db_test"),
		SSLMode:         envOrDefault("TEST_DB_SSLMODE", "disable"),
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}

	db, err := postgres.NewConnection(cfg)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })
	return db
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func intEnvOrDefault(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

// cleanupPerson hard-deletes a person and their login logs so tests
// leave no residue.
func cleanupPerson(t *testing.T, db *postgres.DB, personID fmt.Stringer) {
	t.Helper()
	ctx := context.Background()
	_, _ = db.ExecContext(ctx, "DELETE FROM login_log WHERE person_id = $1", personID.String())
	_, _ = db.ExecContext(ctx, "DELETE FROM person WHERE id = $1", personID.String())
}
