// Package auth provides a minimal user store for gating the freeze
// endpoints. It carries no influence over OT correctness or convergence.
package auth

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User is a registered account's public shape, returned from Register and
// Login. PasswordHash never leaves the package.
type User struct {
	Username  string
	CreatedAt time.Time
	AIEnabled bool
	IsAdmin   bool
}

type account struct {
	passwordHash []byte
	createdAt    time.Time
	aiEnabled    bool
	isAdmin      bool
}

var (
	ErrUserExists   = errors.New("auth: username already registered")
	ErrInvalidLogin = errors.New("auth: invalid username or password")
)

// Manager is an in-memory user table, bcrypt-hashed. It is safe for
// concurrent use.
type Manager struct {
	mu    sync.RWMutex
	users map[string]account
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{users: make(map[string]account)}
}

// Register creates a new account, rejecting a duplicate username.
func (m *Manager) Register(username, password string, aiEnabled, isAdmin bool) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.users[username]; exists {
		return User{}, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	acc := account{
		passwordHash: hash,
		createdAt:    time.Now(),
		aiEnabled:    aiEnabled,
		isAdmin:      isAdmin,
	}
	m.users[username] = acc

	return User{Username: username, CreatedAt: acc.createdAt, AIEnabled: aiEnabled, IsAdmin: isAdmin}, nil
}

// Login verifies credentials and returns the matched account.
func (m *Manager) Login(username, password string) (User, error) {
	m.mu.RLock()
	acc, ok := m.users[username]
	m.mu.RUnlock()

	if !ok {
		return User{}, ErrInvalidLogin
	}
	if err := bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(password)); err != nil {
		return User{}, ErrInvalidLogin
	}
	return User{Username: username, CreatedAt: acc.createdAt, AIEnabled: acc.aiEnabled, IsAdmin: acc.isAdmin}, nil
}
