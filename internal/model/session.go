package model

import (
	"sort"
	"strings"
	"time"
)

// Session is an authenticated session against one phone's management API.
// At most one session exists per device address; the session store enforces
// that on Put.
type Session struct {
	Address   string            `json:"address"`
	ID        string            `json:"id"`
	Role      string            `json:"role"`
	Cookies   map[string]string `json:"-"`
	Active    bool              `json:"active"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Valid reports whether the session can still be used: the active flag is set
// and the client-side expiry has not passed.
func (s *Session) Valid() bool {
	return s != nil && s.Active && time.Now().Before(s.ExpiresAt)
}

// CookieHeader renders the session's cookie bag as a Cookie header value in
// deterministic order.
func (s *Session) CookieHeader() string {
	names := make([]string, 0, len(s.Cookies))
	for name := range s.Cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+s.Cookies[name])
	}
	return strings.Join(parts, "; ")
}

// SIPAccountConfig is the semantic view of one SIP account on a phone. It is
// never persisted; the phone layer translates it to and from the firmware's
// flat P-code namespace.
type SIPAccountConfig struct {
	Active       bool   `json:"active"`
	Label        string `json:"label,omitempty"`
	Server       string `json:"server"`
	UserID       string `json:"user_id"`
	AuthID       string `json:"auth_id,omitempty"`
	AuthPassword string `json:"auth_password,omitempty"`
	DisplayName  string `json:"display_name,omitempty"`
}
