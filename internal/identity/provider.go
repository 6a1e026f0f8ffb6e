// Package identity supplies the current user's id and short-lived bearer
// credentials to the rest of the client.
package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	ErrNotLoggedIn        = errors.New("not logged in")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Provider exposes the authenticated user. Token must be called before every
// network request; implementations refresh expired credentials themselves.
type Provider interface {
	UserID() (string, bool)
	Token(ctx context.Context) (string, error)
}

// SignOuter is implemented by providers that can drop their session.
type SignOuter interface {
	SignOut()
}

// Static serves a fixed id and token, typically issued out of band.
type Static struct {
	mu     sync.RWMutex
	userID string
	token  string
}

// NewStatic returns a provider for a pre-issued token.
func NewStatic(userID, token string) *Static {
	return &Static{userID: strings.TrimSpace(userID), token: strings.TrimSpace(token)}
}

// UserID returns the configured id, or false after SignOut.
func (s *Static) UserID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID, s.userID != ""
}

// Token returns the configured token.
func (s *Static) Token(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.userID == "" || s.token == "" {
		return "", ErrNotLoggedIn
	}
	return s.token, nil
}

// SignOut forgets the id and token.
func (s *Static) SignOut() {
	s.mu.Lock()
	s.userID = ""
	s.token = ""
	s.mu.Unlock()
}
