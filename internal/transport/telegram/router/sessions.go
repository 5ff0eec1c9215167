package router

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionKey scopes a conversation to one user in one chat.
type SessionKey struct {
	ChatID int64
	UserID int64
}

// Session is one active conversation. Values returned by Sessions are
// copies; Data should hold immutable values.
type Session struct {
	ID      string
	Flow    string
	Key     SessionKey
	Data    any
	Started time.Time
	Touched time.Time
}

// Sessions holds at most one conversation per key. A ttl of zero keeps idle
// sessions forever.
type Sessions struct {
	mu  sync.Mutex
	ttl time.Duration
	now func() time.Time
	m   map[SessionKey]*Session
}

func NewSessions(ttl time.Duration) *Sessions {
	return &Sessions{ttl: ttl, now: time.Now, m: map[SessionKey]*Session{}}
}

func (s *Sessions) SetTTL(ttl time.Duration) {
	s.mu.Lock()
	s.ttl = ttl
	s.mu.Unlock()
}

// Begin starts flow for key, replacing any conversation already running there.
func (s *Sessions) Begin(key SessionKey, flow string, data any) Session {
	now := s.now()
	sess := &Session{
		ID:      uuid.NewString(),
		Flow:    flow,
		Key:     key,
		Data:    data,
		Started: now,
		Touched: now,
	}
	s.mu.Lock()
	s.m[key] = sess
	s.mu.Unlock()
	return *sess
}

func (s *Sessions) Get(key SessionKey) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[key]
	if !ok {
		return Session{}, false
	}
	if s.expiredLocked(sess, s.now()) {
		delete(s.m, key)
		return Session{}, false
	}
	return *sess, true
}

// Update stores data when the session under key still has id.
func (s *Sessions) Update(key SessionKey, id string, data any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[key]
	if !ok || sess.ID != id {
		return false
	}
	sess.Data = data
	sess.Touched = s.now()
	return true
}

func (s *Sessions) End(key SessionKey) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[key]
	if !ok {
		return Session{}, false
	}
	delete(s.m, key)
	return *sess, true
}

// EndIf ends the session under key only when it still has id.
func (s *Sessions) EndIf(key SessionKey, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[key]
	if !ok || sess.ID != id {
		return false
	}
	delete(s.m, key)
	return true
}

// Sweep drops expired sessions and returns how many were removed.
func (s *Sessions) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for k, sess := range s.m {
		if s.expiredLocked(sess, now) {
			delete(s.m, k)
			n++
		}
	}
	return n
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

func (s *Sessions) expiredLocked(sess *Session, now time.Time) bool {
	return s.ttl > 0 && now.Sub(sess.Touched) > s.ttl
}
