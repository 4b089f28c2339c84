// Package postgres provides PostgreSQL persistence for the auth service.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/studiotrack/auth-service/internal/domain/person"
	"github.com/studiotrack/auth-service/internal/domain/shared"
)

// personColumns is the auth-relevant column list, kept in one place so
// every read path scans the same shape.
const personColumns = `
	id, email, first_name, last_name, password, role, active, is_bot,
	desktop_login, is_generated_from_ldap,
	login_failed_attempts, last_login_failed,
	totp_secret, totp_enabled, email_otp_secret, email_otp_enabled,
	fido_credentials, fido_enabled, otp_recovery_codes,
	preferred_two_factor_authentication,
	expiration_date, created_at, updated_at
	`

// PersonRepository implements person.Repository.
type PersonRepository struct {
	db *DB
}

// NewPersonRepository creates a new PersonRepository.
func NewPersonRepository(db *DB) *PersonRepository {
	return &PersonRepository{db: db}
}

// Create inserts a new person record.
func (r *PersonRepository) Create(ctx context.Context, p *person.Person) error {
	fidoJSON, recoveryJSON, err := marshalFactorState(p)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO person (
			id, email, first_name, last_name, password, role, active, is_bot,
			desktop_login, is_generated_from_ldap,
			login_failed_attempts, last_login_failed,
			totp_secret, totp_enabled, email_otp_secret, email_otp_enabled,
			fido_credentials, fido_enabled, otp_recovery_codes,
			preferred_two_factor_authentication,
			expiration_date, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
	`
	_, err = r.db.ExecContext(ctx, query,
		p.ID(), p.Email(), p.FirstName(), p.LastName(),
		nullString(p.PasswordHash()), p.Role(), p.Active(), p.IsBot(),
		nullString(p.DesktopLogin()), p.IsGeneratedFromLDAP(),
		p.LoginFailedAttempts(), p.LastLoginFailed(),
		nullString(p.TOTPSecret()), p.TOTPEnabled(),
		nullString(p.EmailOTPSecret()), p.EmailOTPEnabled(),
		fidoJSON, p.FIDOEnabled(), recoveryJSON,
		nullString(string(p.PreferredTwoFactor())),
		p.ExpirationDate(), p.CreatedAt(), p.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert person: %w", err)
	}
	return nil
}

// GetByID retrieves a person by ID.
func (r *PersonRepository) GetByID(ctx context.Context, id uuid.UUID) (*person.Person, error) {
	query := `SELECT` + personColumns + `FROM person WHERE id = $1`
	return r.scanOne(ctx, query, id)
}

// GetByEmail retrieves a person by normalized email.
func (r *PersonRepository) GetByEmail(ctx context.Context, email string) (*person.Person, error) {
	query := `SELECT` + personColumns + `FROM person WHERE email = $1`
	return r.scanOne(ctx, query, person.NormalizeEmail(email))
}

// GetByEmailOrDesktopLogin retrieves a person by email or workstation
// login; bot accounts never authenticate interactively and are
// excluded.
func (r *PersonRepository) GetByEmailOrDesktopLogin(ctx context.Context, login string) (*person.Person, error) {
	query := `SELECT` + personColumns + `
		FROM person
		WHERE (email = $1 OR desktop_login = $2) AND is_bot = false`
	return r.scanOne(ctx, query, person.NormalizeEmail(login), login)
}

// Update persists every auth-relevant column.
func (r *PersonRepository) Update(ctx context.Context, p *person.Person) error {
	fidoJSON, recoveryJSON, err := marshalFactorState(p)
	if err != nil {
		return err
	}

	query := `
		UPDATE person SET
			email = $2, first_name = $3, last_name = $4, password = $5,
			role = $6, active = $7, is_bot = $8, desktop_login = $9,
			is_generated_from_ldap = $10,
			login_failed_attempts = $11, last_login_failed = $12,
			totp_secret = $13, totp_enabled = $14,
			email_otp_secret = $15, email_otp_enabled = $16,
			fido_credentials = $17, fido_enabled = $18,
			otp_recovery_codes = $19,
			preferred_two_factor_authentication = $20,
			expiration_date = $21, updated_at = $22
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query,
		p.ID(), p.Email(), p.FirstName(), p.LastName(),
		nullString(p.PasswordHash()), p.Role(), p.Active(), p.IsBot(),
		nullString(p.DesktopLogin()), p.IsGeneratedFromLDAP(),
		p.LoginFailedAttempts(), p.LastLoginFailed(),
		nullString(p.TOTPSecret()), p.TOTPEnabled(),
		nullString(p.EmailOTPSecret()), p.EmailOTPEnabled(),
		fidoJSON, p.FIDOEnabled(), recoveryJSON,
		nullString(string(p.PreferredTwoFactor())),
		p.ExpirationDate(), p.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to update person: %w", err)
	}
	return requireRowAffected(result)
}

// UpdateLoginFailure narrowly persists the throttle counters so a
// failed attempt never touches factor state.
func (r *PersonRepository) UpdateLoginFailure(ctx context.Context, p *person.Person) error {
	query := `
		UPDATE person SET
			login_failed_attempts = $2, last_login_failed = $3, updated_at = $4
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query,
		p.ID(), p.LoginFailedAttempts(), p.LastLoginFailed(), p.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to update login failure counters: %w", err)
	}
	return requireRowAffected(result)
}

// UpdatePassword replaces the stored password hash.
func (r *PersonRepository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	query := `UPDATE person SET password = $2, updated_at = $3 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, passwordHash, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return requireRowAffected(result)
}

// ExistsByEmail reports whether a person with this email exists.
func (r *PersonRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM person WHERE email = $1)`
	if err := r.db.QueryRowContext(ctx, query, person.NormalizeEmail(email)).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check person existence: %w", err)
	}
	return exists, nil
}

func (r *PersonRepository) scanOne(ctx context.Context, query string, args ...interface{}) (*person.Person, error) {
	var row personRow
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&row.ID, &row.Email, &row.FirstName, &row.LastName, &row.Password,
		&row.Role, &row.Active, &row.IsBot,
		&row.DesktopLogin, &row.IsGeneratedFromLDAP,
		&row.LoginFailedAttempts, &row.LastLoginFailed,
		&row.TOTPSecret, &row.TOTPEnabled,
		&row.EmailOTPSecret, &row.EmailOTPEnabled,
		&row.FIDOCredentials, &row.FIDOEnabled, &row.OTPRecoveryCodes,
		&row.PreferredTwoFactor,
		&row.ExpirationDate, &row.CreatedAt, &row.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get person: %w", err)
	}
	return row.toDomain()
}

type personRow struct {
	ID                  uuid.UUID
	Email               string
	FirstName           string
	LastName            string
	Password            sql.NullString
	Role                string
	Active              bool
	IsBot               bool
	DesktopLogin        sql.NullString
	IsGeneratedFromLDAP bool
	LoginFailedAttempts int
	LastLoginFailed     *time.Time
	TOTPSecret          sql.NullString
	TOTPEnabled         bool
	EmailOTPSecret      sql.NullString
	EmailOTPEnabled     bool
	FIDOCredentials     []byte
	FIDOEnabled         bool
	OTPRecoveryCodes    []byte
	PreferredTwoFactor  sql.NullString
	ExpirationDate      *time.Time
	CreatedAt           time.Time
	UpdatedAt           *time.Time
}

func (r *personRow) toDomain() (*person.Person, error) {
	var fidoCredentials []person.FIDOCredential
	if len(r.FIDOCredentials) > 0 {
		if err := json.Unmarshal(r.FIDOCredentials, &fidoCredentials); err != nil {
			return nil, fmt.Errorf("failed to unmarshal fido credentials: %w", err)
		}
	}
	var recoveryCodes []string
	if len(r.OTPRecoveryCodes) > 0 {
		if err := json.Unmarshal(r.OTPRecoveryCodes, &recoveryCodes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal recovery codes: %w", err)
		}
	}

	return person.ReconstructPerson(
		r.ID,
		r.FirstName, r.LastName, r.Email, r.Password.String, r.Role,
		r.Active, r.IsBot,
		r.DesktopLogin.String, r.IsGeneratedFromLDAP,
		r.LoginFailedAttempts, r.LastLoginFailed,
		r.TOTPSecret.String, r.TOTPEnabled,
		r.EmailOTPSecret.String, r.EmailOTPEnabled,
		fidoCredentials, r.FIDOEnabled,
		recoveryCodes,
		person.Factor(r.PreferredTwoFactor.String),
		r.ExpirationDate, r.CreatedAt, r.UpdatedAt,
	), nil
}

// marshalFactorState serializes the jsonb columns, keeping empty state
// as SQL NULL.
func marshalFactorState(p *person.Person) (fidoJSON, recoveryJSON []byte, err error) {
	if creds := p.FIDOCredentials(); len(creds) > 0 {
		fidoJSON, err = json.Marshal(creds)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal fido credentials: %w", err)
		}
	}
	if codes := p.RecoveryCodes(); len(codes) > 0 {
		recoveryJSON, err = json.Marshal(codes)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal recovery codes: %w", err)
		}
	}
	return fidoJSON, recoveryJSON, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func requireRowAffected(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return shared.ErrNotFound
	}
	return nil
}
