package user

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Account is a directory entry known to the relay.
type Account struct {
	ID           string    `json:"uid"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName,omitempty"`
	// Password is the plaintext supplied by configuration. Stores replace it
	// with PasswordHash on insert.
	Password     string    `json:"-"`
	PasswordHash []byte    `json:"-"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// CheckPassword reports whether password matches the stored hash.
func (a Account) CheckPassword(password string) bool {
	if len(a.PasswordHash) == 0 || password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.PasswordHash, []byte(password)) == nil
}

func hashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}

// Seed provides the development accounts used when none are configured.
func Seed() []Account {
	return []Account{
		{ID: "u-alice", Email: "alice@example.com", DisplayName: "Alice", Password: "alice"},
		{ID: "u-bob", Email: "bob@example.com", DisplayName: "Bob", Password: "bob"},
		{ID: "u-carol", Email: "carol@example.com", DisplayName: "Carol", Password: "carol"},
	}
}
