package phone

import (
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/martinsuchenak/phoned/internal/model"
)

func newSession(address string, expiresIn time.Duration) *model.Session {
	return &model.Session{
		Address:   address,
		ID:        "sid-" + address,
		Active:    true,
		ExpiresAt: time.Now().Add(expiresIn),
	}
}

func TestStore_PutReplacesPerAddress(t *testing.T) {
	s := NewStore()

	s.Put(newSession("192.168.1.42", time.Minute))
	second := newSession("192.168.1.42", time.Minute)
	second.ID = "sid-new"
	s.Put(second)

	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want one session per address", s.Len())
	}
	if got := s.Get("192.168.1.42"); got == nil || got.ID != "sid-new" {
		t.Errorf("Get returned %+v, want the replacement session", got)
	}
}

func TestStore_GetUnknownAddress(t *testing.T) {
	s := NewStore()
	if got := s.Get("192.168.1.99"); got != nil {
		t.Errorf("Get on empty store = %+v, want nil", got)
	}
}

func TestStore_DeleteInvalidates(t *testing.T) {
	s := NewStore()
	session := newSession("192.168.1.42", time.Minute)
	s.Put(session)

	s.Delete("192.168.1.42")

	if s.Get("192.168.1.42") != nil {
		t.Error("session still present after Delete")
	}
	if session.Valid() {
		t.Error("deleted session still reports Valid")
	}

	// Deleting again is a no-op.
	s.Delete("192.168.1.42")
}

func TestStore_PurgeExpired(t *testing.T) {
	s := NewStore()
	s.Put(newSession("192.168.1.1", time.Minute))
	s.Put(newSession("192.168.1.2", -time.Minute))
	s.Put(newSession("192.168.1.3", -time.Second))

	if n := s.PurgeExpired(); n != 2 {
		t.Errorf("PurgeExpired() = %d, want 2", n)
	}
	if s.Len() != 1 {
		t.Errorf("Len() after purge = %d, want 1", s.Len())
	}
	if s.Get("192.168.1.1") == nil {
		t.Error("live session was purged")
	}

	// Purging is idempotent.
	if n := s.PurgeExpired(); n != 0 {
		t.Errorf("second PurgeExpired() = %d, want 0", n)
	}
}

// Property: after any sequence of puts and purges, the store never holds an
// expired session and holds at most one session per address.
func TestStore_PurgeProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := NewStore()
		n := rapid.IntRange(1, 20).Draw(t, "sessions")
		addresses := map[string]bool{}

		for i := 0; i < n; i++ {
			addr := fmt.Sprintf("192.168.1.%d", rapid.IntRange(1, 5).Draw(t, fmt.Sprintf("addr%d", i)))
			expired := rapid.Bool().Draw(t, fmt.Sprintf("expired%d", i))
			ttl := time.Minute
			if expired {
				ttl = -time.Minute
			}
			s.Put(newSession(addr, ttl))
			addresses[addr] = true
		}

		s.PurgeExpired()

		if s.Len() > len(addresses) {
			t.Fatalf("store holds %d sessions for %d addresses", s.Len(), len(addresses))
		}
		for addr := range addresses {
			if got := s.Get(addr); got != nil && !got.Valid() {
				t.Fatalf("expired session for %s survived the purge", addr)
			}
		}
	})
}
