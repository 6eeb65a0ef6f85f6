package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

const (
	DemoUsername = "demo"
	demoPassword = "demo123"
)

// Account is a user allowed to sign in.
type Account struct {
	Username string
	IsDemo   bool
}

// Accounts holds the static demo account and the household members listed
// in FAMILY_USERS.
type Accounts struct {
	demoEnabled bool
	hashes      map[string][]byte
}

// NewAccounts parses a comma-separated "username:bcryptHash" list.
func NewAccounts(demoEnabled bool, familyUsers string) (*Accounts, error) {
	hashes := make(map[string][]byte)
	for _, entry := range strings.Split(familyUsers, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		username, hash, ok := strings.Cut(entry, ":")
		username = strings.TrimSpace(username)
		hash = strings.TrimSpace(hash)
		if !ok || username == "" || hash == "" {
			return nil, fmt.Errorf("family user %q: want username:hash", entry)
		}
		if demoEnabled && username == DemoUsername {
			return nil, fmt.Errorf("family user %q: name reserved for the demo account", username)
		}
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("family user %q: %w", username, err)
		}
		hashes[username] = []byte(hash)
	}
	return &Accounts{demoEnabled: demoEnabled, hashes: hashes}, nil
}

// Count returns the number of family accounts.
func (a *Accounts) Count() int {
	return len(a.hashes)
}

// Authenticate checks the credentials and returns the matching account.
func (a *Accounts) Authenticate(username, password string) (Account, error) {
	if a.demoEnabled && username == DemoUsername {
		if subtle.ConstantTimeCompare([]byte(password), []byte(demoPassword)) == 1 {
			return Account{Username: DemoUsername, IsDemo: true}, nil
		}
		return Account{}, ErrInvalidCredentials
	}

	hash, ok := a.hashes[username]
	if !ok {
		return Account{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return Account{}, ErrInvalidCredentials
	}
	return Account{Username: username}, nil
}

// HashPassword produces a bcrypt hash suitable for FAMILY_USERS.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
