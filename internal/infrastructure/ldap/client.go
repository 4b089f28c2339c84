// Package ldap authenticates people against a directory server.
package ldap

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"

	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog/log"

	"github.com/studiotrack/auth-service/internal/infrastructure/config"
)

// Custom errors.
var (
	ErrUnreachable = errors.New("ldap server unreachable")
	ErrBindFailed  = errors.New("ldap bind rejected")
)

// Identity carries the directory attributes a bind needs. Which one is
// used depends on the directory flavor.
type Identity struct {
	DesktopLogin string
	FullName     string
}

// Client authenticates credentials against the configured directory.
type Client struct {
	cfg *config.LDAPConfig
}

// NewClient creates a new LDAP client.
func NewClient(cfg *config.LDAPConfig) *Client {
	return &Client{cfg: cfg}
}

// Authenticate binds to the directory with the person's credentials.
// Returns ErrUnreachable when the server cannot be dialed and
// ErrBindFailed when the directory rejects the credentials.
func (c *Client) Authenticate(identity Identity, password string) error {
	conn, err := c.dial()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("Failed to close LDAP connection")
		}
	}()
	conn.SetTimeout(c.cfg.Timeout)

	switch {
	case c.cfg.IsADSimple:
		// Active Directory with simple binds uses the person's full
		// name as CN.
		err = conn.Bind(fmt.Sprintf("CN=%s,%s", identity.FullName, c.cfg.BaseDN), password)
	case c.cfg.IsAD:
		err = conn.NTLMBind(c.cfg.Domain, identity.DesktopLogin, password)
	default:
		err = conn.Bind(fmt.Sprintf("uid=%s,%s", identity.DesktopLogin, c.cfg.BaseDN), password)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBindFailed, err)
	}
	return nil
}

func (c *Client) dial() (*ldap.Conn, error) {
	dialer := ldap.DialWithDialer(&net.Dialer{Timeout: c.cfg.Timeout})
	if c.useSSL() {
		return ldap.DialURL(
			fmt.Sprintf("ldaps://%s:%d", c.cfg.Host, c.cfg.Port),
			dialer,
			ldap.DialWithTLSConfig(&tls.Config{ServerName: c.cfg.Host, MinVersion: tls.VersionTLS12}),
		)
	}
	return ldap.DialURL(fmt.Sprintf("ldap://%s:%d", c.cfg.Host, c.cfg.Port), dialer)
}

// Active Directory simple binds always go over TLS.
func (c *Client) useSSL() bool {
	return c.cfg.SSL || c.cfg.IsADSimple
}
