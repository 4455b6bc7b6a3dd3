package phone

import (
	"sync"

	"github.com/martinsuchenak/phoned/internal/model"
)

// Store is a concurrency-safe registry of phone sessions holding at most one
// session per device address. It owns the sessions it holds; callers keep
// references only. The store runs no timers itself — PurgeExpired is invoked
// by the scheduler.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*model.Session)}
}

// Put stores a session, replacing any existing session for the same address.
func (s *Store) Put(session *model.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.Address] = session
}

// Get returns the current session for an address, or nil when none exists.
func (s *Store) Get(address string) *model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[address]
}

// Delete removes the session for an address (explicit logout).
func (s *Store) Delete(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[address]; ok {
		session.Active = false
		delete(s.sessions, address)
	}
}

// PurgeExpired evicts every session past its expiry and returns the eviction
// count. Idempotent: a second run on an unchanged store returns zero.
func (s *Store) PurgeExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for address, session := range s.sessions {
		if !session.Valid() {
			session.Active = false
			delete(s.sessions, address)
			purged++
		}
	}
	return purged
}

// Len returns the number of live entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
