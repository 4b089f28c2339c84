package auth

import (
	"github.com/rs/zerolog/log"

	"github.com/studiotrack/auth-service/internal/domain/person"
	"github.com/studiotrack/auth-service/internal/domain/shared"
	"github.com/studiotrack/auth-service/internal/infrastructure/config"
	"github.com/studiotrack/auth-service/internal/infrastructure/ldap"
	"github.com/studiotrack/auth-service/internal/infrastructure/password"
)

// verifyPassword dispatches on the configured authentication strategy.
func (s *Service) verifyPassword(p *person.Person, plain string) error {
	switch s.cfg.Auth.Strategy {
	case config.StrategyLocalClassic:
		return s.verifyLocal(p, plain)
	case config.StrategyLocalNoPassword:
		return nil
	case config.StrategyRemoteLDAP:
		return s.verifyLDAP(p, plain)
	default:
		return shared.ErrNoAuthStrategy
	}
}

func (s *Service) verifyLocal(p *person.Person, plain string) error {
	if !password.Verify(plain, p.PasswordHash()) {
		return shared.ErrWrongPassword
	}
	return nil
}

// verifyLDAP binds against the directory for directory-sourced persons.
// Persons created locally fall back to the local strategy when the
// fallback flag allows it, otherwise they cannot authenticate at all
// while LDAP is the active strategy.
func (s *Service) verifyLDAP(p *person.Person, plain string) error {
	if p.IsGeneratedFromLDAP() {
		identity := ldapIdentity(p)
		if err := s.directory.Authenticate(identity, plain); err != nil {
			log.Warn().Err(err).Str("desktop_login", p.DesktopLogin()).Msg("directory authentication failed")
			return shared.ErrWrongPassword
		}
		return nil
	}

	if s.cfg.LDAP.Fallback {
		return s.verifyLocal(p, plain)
	}
	return shared.ErrNoFallback
}

func ldapIdentity(p *person.Person) ldap.Identity {
	return ldap.Identity{
		DesktopLogin: p.DesktopLogin(),
		FullName:     p.FullName(),
	}
}

