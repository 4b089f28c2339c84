// Package audit provides domain logic for login logging.
package audit

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the interface for login log persistence operations.
type Repository interface {
	// Create appends a login log entry.
	Create(ctx context.Context, log *LoginLog) error

	// LatestForPerson returns the most recent entries for a person,
	// newest first.
	LatestForPerson(ctx context.Context, personID uuid.UUID, limit int) ([]*LoginLog, error)
}
