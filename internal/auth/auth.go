// Package auth holds the single admin session that gates administrative
// commands.
package auth

import (
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Service checks admin credentials against a bcrypt hash
type Service struct {
	mu       sync.RWMutex
	username string
	hash     []byte
	loggedIn bool
	logger   *zap.Logger
}

// NewService creates the admin auth service. An empty hash disables login.
func NewService(username, passwordHash string, logger *zap.Logger) *Service {
	return &Service{
		username: username,
		hash:     []byte(passwordHash),
		logger:   logger,
	}
}

// Login starts the admin session when the credentials match
func (s *Service) Login(username, password string) bool {
	if len(s.hash) == 0 || username != s.username {
		s.logger.Warn("Admin login rejected", zap.String("username", username))
		return false
	}
	if err := bcrypt.CompareHashAndPassword(s.hash, []byte(password)); err != nil {
		s.logger.Warn("Admin login rejected", zap.String("username", username))
		return false
	}

	s.mu.Lock()
	s.loggedIn = true
	s.mu.Unlock()

	s.logger.Info("Admin logged in", zap.String("username", username))
	return true
}

// Logout ends the admin session
func (s *Service) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedIn = false
}

// IsLoggedIn reports whether an admin session is active
func (s *Service) IsLoggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loggedIn
}

// HashPassword returns a bcrypt hash suitable for ADMIN_PASSWORD_HASH
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
