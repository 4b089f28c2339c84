// Package webauthn wraps the FIDO2 registration and login ceremonies.
package webauthn

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/studiotrack/auth-service/internal/domain/person"
	"github.com/studiotrack/auth-service/internal/infrastructure/config"
)

// Service wraps the WebAuthn relying party.
type Service struct {
	rp *webauthn.WebAuthn
}

// NewService creates a new WebAuthn service.
func NewService(cfg *config.WebAuthnConfig) (*Service, error) {
	rp, err := webauthn.New(&webauthn.Config{
		RPID:          cfg.RPID,
		RPDisplayName: cfg.RPDisplayName,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure webauthn: %w", err)
	}
	return &Service{rp: rp}, nil
}

// relyingPartyUser adapts a person to the webauthn.User interface. The
// credentials are stored as JSON on the person row.
type relyingPartyUser struct {
	p *person.Person
}

func (u relyingPartyUser) WebAuthnID() []byte {
	id := u.p.ID()
	return id[:]
}

func (u relyingPartyUser) WebAuthnName() string { return u.p.Email() }

func (u relyingPartyUser) WebAuthnDisplayName() string { return u.p.FullName() }

func (u relyingPartyUser) WebAuthnCredentials() []webauthn.Credential {
	stored := u.p.FIDOCredentials()
	creds := make([]webauthn.Credential, 0, len(stored))
	for _, c := range stored {
		var cred webauthn.Credential
		if err := json.Unmarshal(c.Credential, &cred); err != nil {
			continue
		}
		creds = append(creds, cred)
	}
	return creds
}

// BeginRegistration starts a credential creation ceremony. It returns
// the creation options for the browser and the opaque session state to
// stash until the finish call.
func (s *Service) BeginRegistration(p *person.Person) (options json.RawMessage, state []byte, err error) {
	user := relyingPartyUser{p: p}

	// Devices already registered must not be enrolled twice.
	exclusions := make([]protocol.CredentialDescriptor, 0, len(user.WebAuthnCredentials()))
	for _, cred := range user.WebAuthnCredentials() {
		exclusions = append(exclusions, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: cred.ID,
		})
	}

	creation, session, err := s.rp.BeginRegistration(user, webauthn.WithExclusions(exclusions))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin registration: %w", err)
	}
	return marshalCeremony(creation, session)
}

// FinishRegistration validates the browser response against the stashed
// session state and returns the credential to persist.
func (s *Service) FinishRegistration(p *person.Person, state []byte, response json.RawMessage) (json.RawMessage, error) {
	session, err := unmarshalSession(state)
	if err != nil {
		return nil, err
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, fmt.Errorf("failed to parse registration response: %w", err)
	}

	credential, err := s.rp.CreateCredential(relyingPartyUser{p: p}, *session, parsed)
	if err != nil {
		return nil, fmt.Errorf("failed to validate registration: %w", err)
	}

	raw, err := json.Marshal(credential)
	if err != nil {
		return nil, fmt.Errorf("failed to encode credential: %w", err)
	}
	return raw, nil
}

// BeginLogin starts an assertion ceremony against the person's
// registered credentials.
func (s *Service) BeginLogin(p *person.Person) (options json.RawMessage, state []byte, err error) {
	assertion, session, err := s.rp.BeginLogin(relyingPartyUser{p: p})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin login: %w", err)
	}
	return marshalCeremony(assertion, session)
}

// FinishLogin validates the assertion response against the stashed
// session state. On success it returns the device name of the
// credential that signed and its refreshed payload, so the caller can
// persist the updated sign counter.
func (s *Service) FinishLogin(p *person.Person, state []byte, response json.RawMessage) (deviceName string, updated json.RawMessage, err error) {
	session, err := unmarshalSession(state)
	if err != nil {
		return "", nil, err
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(response))
	if err != nil {
		return "", nil, fmt.Errorf("failed to parse login response: %w", err)
	}

	used, err := s.rp.ValidateLogin(relyingPartyUser{p: p}, *session, parsed)
	if err != nil {
		return "", nil, fmt.Errorf("failed to validate login: %w", err)
	}

	for _, stored := range p.FIDOCredentials() {
		var cred webauthn.Credential
		if json.Unmarshal(stored.Credential, &cred) != nil {
			continue
		}
		if bytes.Equal(cred.ID, used.ID) {
			raw, err := json.Marshal(used)
			if err != nil {
				return "", nil, fmt.Errorf("failed to encode credential: %w", err)
			}
			return stored.DeviceName, raw, nil
		}
	}
	return "", nil, nil
}

func marshalCeremony(options any, session *webauthn.SessionData) (json.RawMessage, []byte, error) {
	rawOptions, err := json.Marshal(options)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode ceremony options: %w", err)
	}
	rawSession, err := json.Marshal(session)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode ceremony state: %w", err)
	}
	return rawOptions, rawSession, nil
}

func unmarshalSession(state []byte) (*webauthn.SessionData, error) {
	var session webauthn.SessionData
	if err := json.Unmarshal(state, &session); err != nil {
		return nil, fmt.Errorf("failed to decode ceremony state: %w", err)
	}
	return &session, nil
}
