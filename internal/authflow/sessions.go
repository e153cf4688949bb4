// Package authflow implements the conversational authentication engine:
// multi-step registration, login, and password reset dialogs driven by
// chat messages.
package authflow

import (
	"sync"
	"time"

	"github.com/gramgate/gramgate/internal/models"
)

// DefaultIdleTimeout is how long a conversation may sit idle before the
// next message is rejected and the state discarded.
const DefaultIdleTimeout = 10 * time.Minute

// SessionStore holds the in-flight conversation state per user, at most one
// per user id. It also hands out per-user locks so the engine processes one
// message per user at a time while different users proceed concurrently.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*models.ConversationState
	locks    map[string]*userLock
	idle     time.Duration
}

// userLock is reference counted so its map entry can be reaped once the
// last holder releases it, keeping the lock map bounded by concurrency
// rather than by the number of users ever seen.
type userLock struct {
	mu   sync.Mutex
	refs int
}

func NewSessionStore(idle time.Duration) *SessionStore {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return &SessionStore{
		sessions: make(map[string]*models.ConversationState),
		locks:    make(map[string]*userLock),
		idle:     idle,
	}
}

// Acquire takes the per-user lock and returns the release function.
func (s *SessionStore) Acquire(userID string) func() {
	s.mu.Lock()
	l, ok := s.locks[userID]
	if !ok {
		l = &userLock{}
		s.locks[userID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, userID)
		}
		s.mu.Unlock()
	}
}

// Start replaces any existing state for the user with a fresh one.
func (s *SessionStore) Start(userID string, flow models.Flow, stage models.Stage, now time.Time) *models.ConversationState {
	st := &models.ConversationState{
		UserID:    userID,
		Flow:      flow,
		Stage:     stage,
		Collected: make(map[string]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	s.sessions[userID] = st
	s.mu.Unlock()
	return st
}

// Get returns the user's live state, or nil if none exists. Callers must
// hold the user lock while mutating the returned state.
func (s *SessionStore) Get(userID string) *models.ConversationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[userID]
}

// Delete discards the user's state, if any.
func (s *SessionStore) Delete(userID string) {
	s.mu.Lock()
	delete(s.sessions, userID)
	s.mu.Unlock()
}

// IdleTimeout returns the configured idle window.
func (s *SessionStore) IdleTimeout() time.Duration {
	return s.idle
}

// Len returns the number of active conversations.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
