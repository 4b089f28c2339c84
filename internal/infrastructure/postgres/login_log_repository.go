// Package postgres provides PostgreSQL persistence for the auth service.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/studiotrack/auth-service/internal/domain/audit"
)

// LoginLogRepository implements audit.Repository.
type LoginLogRepository struct {
	db *DB
}

// NewLoginLogRepository creates a new LoginLogRepository.
func NewLoginLogRepository(db *DB) *LoginLogRepository {
	return &LoginLogRepository{db: db}
}

// Create appends a login log entry.
func (r *LoginLogRepository) Create(ctx context.Context, l *audit.LoginLog) error {
	query := `
		INSERT INTO login_log (id, person_id, ip_address, origin, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query,
		l.ID(), l.PersonID(), l.IPAddress(), l.Origin(), l.CreatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert login log: %w", err)
	}
	return nil
}

// LatestForPerson returns the most recent login logs for a person,
// newest first.
func (r *LoginLogRepository) LatestForPerson(ctx context.Context, personID uuid.UUID, limit int) ([]*audit.LoginLog, error) {
	query := `
		SELECT id, person_id, ip_address, origin, created_at
		FROM login_log
		WHERE person_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, personID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query login logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var logs []*audit.LoginLog
	for rows.Next() {
		var (
			id, pid           uuid.UUID
			ipAddress, origin string
			createdAt         time.Time
		)
		if err := rows.Scan(&id, &pid, &ipAddress, &origin, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan login log: %w", err)
		}
		logs = append(logs, audit.ReconstructLoginLog(id, pid, ipAddress, origin, createdAt))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate login logs: %w", err)
	}
	return logs, nil
}
