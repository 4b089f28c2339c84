// Package audit provides domain logic for login logging.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// LoginLog records one successful login.
type LoginLog struct {
	id        uuid.UUID
	personID  uuid.UUID
	ipAddress string
	origin    string
	createdAt time.Time
}

// NewLoginLog creates a new login log entry.
func NewLoginLog(personID uuid.UUID, ipAddress, origin string) *LoginLog {
	return &LoginLog{
		id:        uuid.New(),
		personID:  personID,
		ipAddress: ipAddress,
		origin:    origin,
		createdAt: time.Now(),
	}
}

// ReconstructLoginLog reconstructs a LoginLog from persistence.
func ReconstructLoginLog(id, personID uuid.UUID, ipAddress, origin string, createdAt time.Time) *LoginLog {
	return &LoginLog{
		id:        id,
		personID:  personID,
		ipAddress: ipAddress,
		origin:    origin,
		createdAt: createdAt,
	}
}

// ID returns the login log identifier.
func (l *LoginLog) ID() uuid.UUID { return l.id }

// PersonID returns the person who logged in.
func (l *LoginLog) PersonID() uuid.UUID { return l.personID }

// IPAddress returns the client IP address.
func (l *LoginLog) IPAddress() string { return l.ipAddress }

// Origin returns the login origin, "web" or "script".
func (l *LoginLog) Origin() string { return l.origin }

// CreatedAt returns the login time.
func (l *LoginLog) CreatedAt() time.Time { return l.createdAt }
