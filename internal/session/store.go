// Package session persists the bearer token and last-known user between runs.
package session

import (
	"encoding/json"

	"github.com/sirupsen/logrus"

	"conduit-client/internal/domain"
	"conduit-client/internal/storage"
)

const (
	tokenSlot = "auth_token"
	userSlot  = "auth_user"
)

// Store holds the two session slots of one scope. Backend failures never
// escape: reads report absent and writes are logged and dropped.
type Store struct {
	backend  storage.Backend
	tokenKey string
	userKey  string
	logger   *logrus.Logger
}

// NewStore scopes the slots under scope. A nil backend means no durable
// storage is available.
func NewStore(backend storage.Backend, scope string, logger *logrus.Logger) *Store {
	if backend == nil {
		backend = storage.Nop{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	prefix := ""
	if scope != "" {
		prefix = scope + ":"
	}
	return &Store{
		backend:  backend,
		tokenKey: prefix + tokenSlot,
		userKey:  prefix + userSlot,
		logger:   logger,
	}
}

// Token returns the stored bearer token.
func (s *Store) Token() (string, bool) {
	v, found, err := s.backend.Get(s.tokenKey)
	if err != nil {
		s.logger.WithField("key", s.tokenKey).Warnf("read session token: %v", err)
		return "", false
	}
	if !found || len(v) == 0 {
		return "", false
	}
	return string(v), true
}

func (s *Store) SetToken(token string) {
	if err := s.backend.Set(s.tokenKey, []byte(token)); err != nil {
		s.logger.WithField("key", s.tokenKey).Warnf("write session token: %v", err)
	}
}

func (s *Store) RemoveToken() {
	if err := s.backend.Remove(s.tokenKey); err != nil {
		s.logger.WithField("key", s.tokenKey).Warnf("remove session token: %v", err)
	}
}

// User returns the last stored user. A record that no longer decodes is
// treated as absent.
func (s *Store) User() (*domain.User, bool) {
	v, found, err := s.backend.Get(s.userKey)
	if err != nil {
		s.logger.WithField("key", s.userKey).Warnf("read session user: %v", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	var user domain.User
	if err := json.Unmarshal(v, &user); err != nil {
		s.logger.WithField("key", s.userKey).Warnf("decode session user: %v", err)
		return nil, false
	}
	return &user, true
}

func (s *Store) SetUser(user domain.User) {
	data, err := json.Marshal(user)
	if err != nil {
		s.logger.WithField("key", s.userKey).Warnf("encode session user: %v", err)
		return
	}
	if err := s.backend.Set(s.userKey, data); err != nil {
		s.logger.WithField("key", s.userKey).Warnf("write session user: %v", err)
	}
}

func (s *Store) RemoveUser() {
	if err := s.backend.Remove(s.userKey); err != nil {
		s.logger.WithField("key", s.userKey).Warnf("remove session user: %v", err)
	}
}

// Clear removes both slots and nothing else.
func (s *Store) Clear() {
	s.RemoveToken()
	s.RemoveUser()
}

// Snapshot reads both slots at once.
func (s *Store) Snapshot() (string, *domain.User) {
	tok, _ := s.Token()
	user, _ := s.User()
	return tok, user
}
