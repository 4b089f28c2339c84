// Package person provides domain logic for person credential records.
package person

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the interface for person persistence operations.
type Repository interface {
	Create(ctx context.Context, p *Person) error
	GetByID(ctx context.Context, id uuid.UUID) (*Person, error)
	GetByEmail(ctx context.Context, email string) (*Person, error)
	// GetByEmailOrDesktopLogin resolves a login identifier the way the
	// login form accepts it: email first, then workstation login. Bot
	// accounts are excluded.
	GetByEmailOrDesktopLogin(ctx context.Context, login string) (*Person, error)

	// Update persists every auth-relevant column of the record.
	Update(ctx context.Context, p *Person) error
	// UpdateLoginFailure narrowly persists the throttle counters.
	UpdateLoginFailure(ctx context.Context, p *Person) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error

	ExistsByEmail(ctx context.Context, email string) (bool, error)
}
