package phone

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/martinsuchenak/phoned/internal/log"
	"github.com/martinsuchenak/phoned/internal/model"
)

const (
	loginPath  = "/cgi-bin/dologin"
	getPath    = "/cgi-bin/api.values.get"
	setPath    = "/cgi-bin/api.values.post"
	cookieName = "session-identity"

	// bootstrapCookie is the fixed placeholder the firmware demands on the
	// very first login request, before any real session exists. The exact
	// value matters: without it the login endpoint answers with an error
	// page instead of a session id.
	bootstrapCookie = "session-identity=0"

	// sessionLifetime is the client-side expiry margin, kept under the
	// firmware's own 5 minute idle timeout so we re-login proactively
	// instead of hitting a dead session mid-call.
	defaultSessionLifetime = 4 * time.Minute
)

// credentials remembered per address so an expired session can be
// transparently re-established.
type credentials struct {
	username string
	password string
}

// Manager drives the authenticated HTTP management API of a phone. Per
// device address the session moves Unauthenticated -> Active on Login,
// Active -> Expired on expiry, logout or a device-side invalidation, and
// back to Active on re-login.
type Manager struct {
	store    *Store
	client   *http.Client
	lifetime time.Duration
	scheme   string

	credMu sync.RWMutex
	creds  map[string]credentials
}

// NewManager creates a manager backed by the given session store.
func NewManager(store *Store, lifetime time.Duration) *Manager {
	if lifetime <= 0 {
		lifetime = defaultSessionLifetime
	}
	return &Manager{
		store:    store,
		client:   &http.Client{Timeout: 10 * time.Second},
		lifetime: lifetime,
		scheme:   "http",
		creds:    make(map[string]credentials),
	}
}

// apiResponse is the envelope every cgi endpoint answers with.
type apiResponse struct {
	Response string          `json:"response"`
	Body     json.RawMessage `json:"body"`
}

// Login authenticates against the phone at address and stores the resulting
// session, replacing any prior session for that address. On failure nothing
// is stored.
func (m *Manager) Login(ctx context.Context, address, username, password string) (*model.Session, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.scheme+"://"+address+loginPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Cookie", bootstrapCookie)

	resp, err := m.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("login to %s: %w", address, model.ErrTimeout)
		}
		return nil, fmt.Errorf("login to %s: %v: %w", address, err, model.ErrDeviceUnreachable)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("login to %s rejected: %w", address, model.ErrAuthFailure)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("login to %s: unexpected status %d: %w", address, resp.StatusCode, model.ErrProtocol)
	}

	var envelope apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("login to %s: decoding response: %v: %w", address, err, model.ErrProtocol)
	}
	if envelope.Response != "success" {
		return nil, fmt.Errorf("login to %s rejected: %w", address, model.ErrAuthFailure)
	}

	var body struct {
		Sid  string `json:"sid"`
		Role string `json:"role"`
	}
	if err := json.Unmarshal(envelope.Body, &body); err != nil || body.Sid == "" {
		return nil, fmt.Errorf("login to %s: no session id in response: %w", address, model.ErrProtocol)
	}

	session := &model.Session{
		Address:   address,
		ID:        body.Sid,
		Role:      body.Role,
		Cookies:   map[string]string{cookieName: body.Sid},
		Active:    true,
		ExpiresAt: time.Now().Add(m.lifetime),
	}
	// The firmware may also hand back cookies; fold them into the bag.
	for _, c := range resp.Cookies() {
		session.Cookies[c.Name] = c.Value
	}

	m.store.Put(session)
	m.credMu.Lock()
	m.creds[address] = credentials{username: username, password: password}
	m.credMu.Unlock()

	log.Info("Phone login succeeded", "address", address, "role", body.Role)
	return session, nil
}

// Logout invalidates and removes the session for an address.
func (m *Manager) Logout(address string) {
	m.store.Delete(address)
	m.credMu.Lock()
	delete(m.creds, address)
	m.credMu.Unlock()
}

// GetParameters reads the named parameters from the device. Requires a valid
// session; an expired or device-invalidated session is re-established
// exactly once before the call is surfaced as failed.
func (m *Manager) GetParameters(ctx context.Context, session *model.Session, names []string) (map[string]string, error) {
	var values map[string]string
	err := m.withSession(ctx, session, func(s *model.Session) error {
		var err error
		values, err = m.getValues(ctx, s, names)
		return err
	})
	return values, err
}

// SetParameters writes a code/value map to the device under the same session
// rules as GetParameters.
func (m *Manager) SetParameters(ctx context.Context, session *model.Session, params map[string]string) error {
	return m.withSession(ctx, session, func(s *model.Session) error {
		return m.setValues(ctx, s, params)
	})
}

// Reboot triggers a device restart via its trigger code.
func (m *Manager) Reboot(ctx context.Context, session *model.Session) error {
	return m.SetParameters(ctx, session, map[string]string{codeRebootTrigger: "1"})
}

// FactoryReset wipes the device. The confirmation flag is mandatory; without
// it no network call is made.
func (m *Manager) FactoryReset(ctx context.Context, session *model.Session, confirmed bool) error {
	if !confirmed {
		return fmt.Errorf("factory reset of %s: %w", session.Address, model.ErrNotConfirmed)
	}
	return m.SetParameters(ctx, session, map[string]string{codeFactoryResetTrigger: "1"})
}

// DeviceInfo reads the device's model, firmware and MAC.
func (m *Manager) DeviceInfo(ctx context.Context, session *model.Session) (map[string]string, error) {
	return m.GetParameters(ctx, session, []string{"phone_model", "firmware_version", "mac_address"})
}

// GetSIPAccount reads SIP account 1 and translates it out of the P-code
// namespace.
func (m *Manager) GetSIPAccount(ctx context.Context, session *model.Session) (*model.SIPAccountConfig, error) {
	values, err := m.GetParameters(ctx, session, sipAccountCodes)
	if err != nil {
		return nil, err
	}
	cfg := decodeSIPAccount(values)
	return &cfg, nil
}

// SetSIPAccount translates the account into P-codes and writes it.
func (m *Manager) SetSIPAccount(ctx context.Context, session *model.Session, cfg model.SIPAccountConfig) error {
	return m.SetParameters(ctx, session, encodeSIPAccount(cfg))
}

// withSession enforces the session lifecycle around one device call: a
// session invalid locally or rejected by the device is re-established
// exactly once, then the call is retried once. A second rejection surfaces
// as ErrSessionExpired; nothing beyond that single retry happens.
func (m *Manager) withSession(ctx context.Context, session *model.Session, fn func(*model.Session) error) error {
	if session == nil {
		return fmt.Errorf("no session: %w", model.ErrSessionExpired)
	}

	reloggedIn := false
	if !session.Valid() {
		fresh, err := m.relogin(ctx, session.Address)
		if err != nil {
			return err
		}
		*session = *fresh
		reloggedIn = true
	}

	err := fn(session)
	if err == nil || !isSessionInvalid(err) {
		return err
	}
	if reloggedIn {
		return fmt.Errorf("session for %s rejected after re-login: %w", session.Address, model.ErrSessionExpired)
	}

	log.Debug("Device rejected session, re-authenticating once", "address", session.Address)
	fresh, rerr := m.relogin(ctx, session.Address)
	if rerr != nil {
		return rerr
	}
	*session = *fresh

	if err := fn(session); err != nil {
		if isSessionInvalid(err) {
			return fmt.Errorf("session for %s rejected after re-login: %w", session.Address, model.ErrSessionExpired)
		}
		return err
	}
	return nil
}

func (m *Manager) relogin(ctx context.Context, address string) (*model.Session, error) {
	m.credMu.RLock()
	cred, ok := m.creds[address]
	m.credMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no stored credentials for %s: %w", address, model.ErrSessionExpired)
	}
	return m.Login(ctx, address, cred.username, cred.password)
}

// errSessionInvalid marks a device response that says the session is no
// longer recognized; withSession turns it into one re-login attempt.
var errSessionInvalid = errors.New("device no longer recognizes session")

func isSessionInvalid(err error) bool {
	return errors.Is(err, errSessionInvalid)
}

func (m *Manager) getValues(ctx context.Context, session *model.Session, names []string) (map[string]string, error) {
	u := m.scheme + "://" + session.Address + getPath + "?request=" + url.QueryEscape(strings.Join(names, ":"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building parameter read: %w", err)
	}
	req.Header.Set("Cookie", session.CookieHeader())

	envelope, err := m.do(req, session.Address)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(envelope.Body, &raw); err != nil {
		return nil, fmt.Errorf("parameter read from %s: %v: %w", session.Address, err, model.ErrProtocol)
	}
	values := make(map[string]string, len(raw))
	for k, v := range raw {
		values[k] = fmt.Sprintf("%v", v)
	}
	return values, nil
}

func (m *Manager) setValues(ctx context.Context, session *model.Session, params map[string]string) error {
	form := url.Values{}
	for code, value := range params {
		form.Set(code, value)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.scheme+"://"+session.Address+setPath, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("building parameter write: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Cookie", session.CookieHeader())

	_, err = m.do(req, session.Address)
	return err
}

// do executes one cgi request and classifies the response: session
// invalidation, protocol errors and transport failures each map onto their
// own taxonomy entry.
func (m *Manager) do(req *http.Request, address string) (*apiResponse, error) {
	resp, err := m.client.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, fmt.Errorf("request to %s: %w", address, model.ErrTimeout)
		}
		return nil, fmt.Errorf("request to %s: %v: %w", address, err, model.ErrDeviceUnreachable)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, errSessionInvalid
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request to %s: unexpected status %d: %w", address, resp.StatusCode, model.ErrProtocol)
	}

	var envelope apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("request to %s: decoding response: %v: %w", address, err, model.ErrProtocol)
	}
	if envelope.Response != "success" {
		if strings.Contains(strings.ToLower(string(envelope.Body)), "session") {
			return nil, errSessionInvalid
		}
		return nil, fmt.Errorf("request to %s rejected: %s: %w", address, string(envelope.Body), model.ErrProtocol)
	}
	return &envelope, nil
}
