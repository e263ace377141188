package api

import (
	"errors"
	"sync"
	"time"

	"wecare/internal/auth"
	"wecare/internal/kvstore"
)

var ErrSessionExpired = errors.New("session expired")

// Sessions tracks the browsing contexts handed out to remote callers and
// the tokens that identify them.
type Sessions struct {
	store  *kvstore.Store
	issuer *auth.Issuer
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	expires map[string]time.Time
}

func NewSessions(store *kvstore.Store, issuer *auth.Issuer, ttl time.Duration) *Sessions {
	return &Sessions{
		store:   store,
		issuer:  issuer,
		ttl:     ttl,
		now:     time.Now,
		expires: make(map[string]time.Time),
	}
}

func (s *Sessions) Origin() string { return s.store.Origin() }

// Open starts a session and returns it with its token.
func (s *Sessions) Open() (*kvstore.Session, string, error) {
	sess := s.store.Open()
	token, err := s.issuer.Issue(sess.ID(), s.store.Origin())
	if err != nil {
		sess.Close()
		return nil, "", err
	}

	s.mu.Lock()
	s.expires[sess.ID()] = s.now().Add(s.ttl)
	s.mu.Unlock()
	return sess, token, nil
}

// Resolve returns the live session a token refers to.
func (s *Sessions) Resolve(token string) (*kvstore.Session, error) {
	claims, err := s.issuer.Validate(token)
	if err != nil {
		return nil, err
	}
	if claims.Origin != s.store.Origin() {
		return nil, auth.ErrInvalidToken
	}

	sess, ok := s.store.Session(claims.SessionID)
	if !ok {
		return nil, ErrSessionExpired
	}
	return sess, nil
}

func (s *Sessions) Close(id string) {
	s.mu.Lock()
	delete(s.expires, id)
	s.mu.Unlock()

	if sess, ok := s.store.Session(id); ok {
		sess.Close()
	}
}

// Reap closes sessions whose token lifetime has passed and reports how many
// were closed.
func (s *Sessions) Reap() int {
	now := s.now()

	s.mu.Lock()
	var expired []string
	for id, at := range s.expires {
		if !now.Before(at) {
			expired = append(expired, id)
			delete(s.expires, id)
		}
	}
	s.mu.Unlock()

	for _, id := range expired {
		if sess, ok := s.store.Session(id); ok {
			sess.Close()
		}
	}
	return len(expired)
}

func (s *Sessions) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.expires)
}
