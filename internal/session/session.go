// Package session implements the session-scoped authentication model: a
// binding of a transport connection to a user id, with expiry extended on
// every valid use.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gmaildispatch/pkg/logger"
)

// Session is an authenticated binding of a connection to a user id.
type Session struct {
	SessionID    string
	UserID       string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastAccessed time.Time
}

func (s Session) expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Store is the process-wide, in-memory session registry. It is a global
// mutable singleton by design — the resource bundle holds exactly one,
// constructed at startup.
type Store struct {
	mu       sync.Mutex
	sessions map[string]Session
	ttl      time.Duration
	log      *zap.Logger
}

// NewStore constructs a Store with the given default session lifetime.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Store{
		sessions: make(map[string]Session),
		ttl:      ttl,
		log:      logger.L().Named("session"),
	}
}

// Create mints a new session for userID and returns it.
func (s *Store) Create(userID string) Session {
	now := time.Now().UTC()
	sess := Session{
		SessionID:    uuid.NewString(),
		UserID:       userID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
		LastAccessed: now,
	}
	s.mu.Lock()
	s.sessions[sess.SessionID] = sess
	s.mu.Unlock()
	s.log.Info("session created", zap.String("user_id", userID), zap.String("session_id", sess.SessionID))
	return sess
}

// Validate checks that sessionID belongs to userID and is not expired. On
// success it extends the session's expiry and refreshes last_accessed,
// strictly forward in time, and returns the updated session.
func (s *Store) Validate(userID, sessionID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	now := time.Now().UTC()
	if sess.UserID != userID || sess.expired(now) {
		return Session{}, false
	}

	sess.LastAccessed = now
	sess.ExpiresAt = now.Add(s.ttl)
	s.sessions[sessionID] = sess
	return sess, true
}

// Invalidate removes a session immediately.
func (s *Store) Invalidate(sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
}

// SweepExpired removes every currently-expired session and returns the
// count removed.
func (s *Store) SweepExpired() int {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if sess.expired(now) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}
