package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lirany1/qct-report/pkg/page"
	"github.com/lirany1/qct-report/pkg/renderer"
)

// Session is one rendered studies page and its quick filter state
type Session struct {
	ID string

	mu         sync.Mutex
	controller *page.Controller
	view       renderer.StudiesView
	lastSeen   time.Time
}

// Do runs fn with exclusive access to the page
func (s *Session) Do(fn func(c *page.Controller, view renderer.StudiesView) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.controller, s.view)
}

// SessionStore holds live page sessions and forgets idle ones
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

// NewSessionStore creates a store evicting sessions idle for longer than ttl
func NewSessionStore(ttl time.Duration, now func() time.Time) *SessionStore {
	if now == nil {
		now = time.Now
	}
	return &SessionStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      now,
	}
}

// Create registers a new session for a ready page
func (st *SessionStore) Create(c *page.Controller, view renderer.StudiesView) *Session {
	s := &Session{
		ID:         uuid.New().String(),
		controller: c,
		lastSeen:   st.now(),
	}
	view.SessionID = s.ID
	s.view = view

	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()
	return s
}

// Get returns a live session and marks it as used
func (st *SessionStore) Get(id string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[id]
	if !ok {
		return nil, false
	}
	now := st.now()
	if st.expired(s, now) {
		delete(st.sessions, id)
		return nil, false
	}
	s.lastSeen = now
	return s, true
}

// Evict drops every expired session and returns how many were removed
func (st *SessionStore) Evict() int {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := st.now()
	removed := 0
	for id, s := range st.sessions {
		if st.expired(s, now) {
			delete(st.sessions, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored sessions
func (st *SessionStore) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// expired is called with st.mu held; lastSeen is only written under it
func (st *SessionStore) expired(s *Session, now time.Time) bool {
	return st.ttl > 0 && now.Sub(s.lastSeen) > st.ttl
}
