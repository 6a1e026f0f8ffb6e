package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type tokenEntry struct {
	userID    string
	expiresAt time.Time
}

// TokenStore issues opaque bearer tokens with a fixed lifetime.
type TokenStore struct {
	mu     sync.Mutex
	ttl    time.Duration
	tokens map[string]tokenEntry
	now    func() time.Time
}

// NewTokenStore creates a store whose tokens expire after ttl.
func NewTokenStore(ttl time.Duration) *TokenStore {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &TokenStore{
		ttl:    ttl,
		tokens: make(map[string]tokenEntry),
		now:    time.Now,
	}
}

// Issue mints a token for userID.
func (s *TokenStore) Issue(userID string) (string, time.Time) {
	token := uuid.NewString()
	expiresAt := s.now().Add(s.ttl).UTC()

	s.mu.Lock()
	s.tokens[token] = tokenEntry{userID: userID, expiresAt: expiresAt}
	s.mu.Unlock()

	return token, expiresAt
}

// Lookup returns the user a live token belongs to. Expired tokens are
// removed.
func (s *TokenStore) Lookup(token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.tokens[token]
	if !ok {
		return "", false
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.tokens, token)
		return "", false
	}
	return entry.userID, true
}

// Revoke invalidates token.
func (s *TokenStore) Revoke(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}
