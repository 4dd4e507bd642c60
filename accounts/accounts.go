// Package accounts provides resource-owner account lookup for the
// password grant. The authorization server never stores passwords in
// plaintext; implementations hold bcrypt hashes.
package accounts

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned when the email/password pair does
// not match an account. Unknown email and wrong password are not
// distinguished.
var ErrInvalidCredentials = errors.New("invalid credentials")

// dummyBcryptHash is compared against for unknown emails so lookups
// take the same time either way (bcrypt hash of "test").
const dummyBcryptHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// User is a resource owner account.
type User struct {
	ID    string
	Email string
	Name  string
}

// Store looks up resource owner accounts.
type Store interface {
	// FindByEmailAndPassword returns the user matching the email and
	// password, or ErrInvalidCredentials.
	FindByEmailAndPassword(ctx context.Context, email, password string) (*User, error)
}

type memoryUser struct {
	user         User
	passwordHash string
}

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu     sync.RWMutex
	users  map[string]*memoryUser // lowercase email -> user
	logger *slog.Logger
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory account store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[string]*memoryUser),
		logger: slog.Default(),
	}
}

// SetLogger sets a custom logger
func (s *MemoryStore) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// AddUser registers an account, hashing the password with bcrypt.
// Email matching is case-insensitive.
func (s *MemoryStore) AddUser(user User, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[strings.ToLower(user.Email)] = &memoryUser{
		user:         user,
		passwordHash: string(hash),
	}
	s.logger.Debug("Added user account", "user_id", user.ID)
	return nil
}

// FindByEmailAndPassword returns the matching user or
// ErrInvalidCredentials. Always performs a bcrypt comparison so an
// unknown email cannot be distinguished from a wrong password by
// timing.
func (s *MemoryStore) FindByEmailAndPassword(ctx context.Context, email, password string) (*User, error) {
	s.mu.RLock()
	entry, ok := s.users[strings.ToLower(email)]
	s.mu.RUnlock()

	hashToCompare := dummyBcryptHash
	if ok {
		hashToCompare = entry.passwordHash
	}

	err := bcrypt.CompareHashAndPassword([]byte(hashToCompare), []byte(password))
	if !ok || err != nil {
		return nil, ErrInvalidCredentials
	}

	user := entry.user
	return &user, nil
}
