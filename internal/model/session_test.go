package model

import (
	"testing"
	"time"
)

func TestSessionValid(t *testing.T) {
	tests := []struct {
		name    string
		session *Session
		want    bool
	}{
		{"nil session", nil, false},
		{"active and unexpired", &Session{Active: true, ExpiresAt: time.Now().Add(time.Minute)}, true},
		{"active but expired", &Session{Active: true, ExpiresAt: time.Now().Add(-time.Minute)}, false},
		{"inactive", &Session{Active: false, ExpiresAt: time.Now().Add(time.Minute)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.session.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSessionCookieHeader(t *testing.T) {
	s := &Session{Cookies: map[string]string{
		"session-identity": "abc123",
		"TrackId":          "xyz",
	}}
	want := "TrackId=xyz; session-identity=abc123"
	if got := s.CookieHeader(); got != want {
		t.Errorf("CookieHeader() = %q, want %q", got, want)
	}
}
