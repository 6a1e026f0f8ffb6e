package user

import (
	"strings"
	"sync"
	"time"
)

// Store exposes directory lookups for HTTP handlers.
type Store interface {
	List() []Account
	FindByID(id string) (Account, bool)
	FindByEmail(email string) (Account, bool)
	Upsert(account Account) Account
}

// MemoryStore implements Store with an in-memory map.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]Account
	byEmail map[string]string
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied accounts.
func NewMemoryStore(items []Account) *MemoryStore {
	s := &MemoryStore{
		byID:    make(map[string]Account, len(items)),
		byEmail: make(map[string]string, len(items)),
	}
	for _, item := range items {
		s.Upsert(item)
	}
	return s
}

// List returns all accounts.
func (s *MemoryStore) List() []Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Account, 0, len(s.byID))
	for _, item := range s.byID {
		out = append(out, item)
	}
	return out
}

// FindByID looks up an account by identifier.
func (s *MemoryStore) FindByID(id string) (Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.byID[strings.TrimSpace(id)]
	return item, ok
}

// FindByEmail looks up an account by email, ignoring case.
func (s *MemoryStore) FindByEmail(email string) (Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return Account{}, false
	}
	return s.byID[id], true
}

// Upsert inserts or updates an account. Empty fields keep their previous value.
func (s *MemoryStore) Upsert(account Account) Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byID[account.ID]; ok {
		if account.Email == "" {
			account.Email = existing.Email
		}
		if account.DisplayName == "" {
			account.DisplayName = existing.DisplayName
		}
		if account.Password == "" && len(account.PasswordHash) == 0 {
			account.PasswordHash = existing.PasswordHash
		}
		if existing.Email != "" && normalizeEmail(existing.Email) != normalizeEmail(account.Email) {
			delete(s.byEmail, normalizeEmail(existing.Email))
		}
	}
	if account.Password != "" {
		if hash, err := hashPassword(account.Password); err == nil {
			account.PasswordHash = hash
		}
		account.Password = ""
	}
	if account.UpdatedAt.IsZero() {
		account.UpdatedAt = time.Now().UTC()
	}

	s.byID[account.ID] = account
	if account.Email != "" {
		s.byEmail[normalizeEmail(account.Email)] = account.ID
	}
	return account
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
