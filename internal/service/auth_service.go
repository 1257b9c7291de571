package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"conduit-client/internal/apierr"
	"conduit-client/internal/auth"
	"conduit-client/internal/domain"
	"conduit-client/internal/querycache"
)

// AuthClient is the part of auth.Client the service drives.
type AuthClient interface {
	Login(ctx context.Context, email, password string) (domain.Session, error)
	Register(ctx context.Context, username, email, password string) (domain.Session, error)
	CurrentUser(ctx context.Context) (domain.User, error)
	UpdateUser(ctx context.Context, update domain.UserUpdate) (domain.User, error)
	RefreshToken(ctx context.Context) error
	Logout()
	IsAuthenticated() bool
	StoredUser() (*domain.User, bool)
	State() (auth.State, error)
}

// AuthStatus is the signed-in view of the session.
type AuthStatus struct {
	IsAuthenticated bool
	User            *domain.User
}

// AuthService describes the account operations exposed to the view layer.
type AuthService interface {
	Login(ctx context.Context, email, password string) (domain.Session, error)
	Register(ctx context.Context, username, email, password string) (domain.Session, error)
	UpdateUser(ctx context.Context, update domain.UserUpdate) (domain.User, error)
	Logout()
	RefreshToken(ctx context.Context) error
	CurrentUser(ctx context.Context) (*domain.User, error)
	CurrentUserView() querycache.View[domain.User]
	Status(ctx context.Context) (AuthStatus, error)
	State() (auth.State, error)
}

type authService struct {
	client   AuthClient
	cache    *querycache.Cache
	families Families
	logger   *logrus.Logger
}

func NewAuthService(client AuthClient, cache *querycache.Cache, families Families, logger *logrus.Logger) AuthService {
	if logger == nil {
		logger = logrus.New()
	}
	return &authService{
		client:   client,
		cache:    cache,
		families: families,
		logger:   logger,
	}
}

func (s *authService) Login(ctx context.Context, email, password string) (domain.Session, error) {
	sess, err := s.client.Login(ctx, email, password)
	if err != nil {
		s.logger.WithField("email", email).Warnf("login failed: %v", err)
		return domain.Session{}, err
	}
	s.signedIn(sess)
	return sess, nil
}

func (s *authService) Register(ctx context.Context, username, email, password string) (domain.Session, error) {
	sess, err := s.client.Register(ctx, username, email, password)
	if err != nil {
		s.logger.WithField("username", username).Warnf("registration failed: %v", err)
		return domain.Session{}, err
	}
	s.signedIn(sess)
	return sess, nil
}

func (s *authService) signedIn(sess domain.Session) {
	s.cache.Invalidate(authStatusKey)
	if sess.User != nil {
		s.cache.SetValue(currentUserKey, *sess.User)
	}
}

func (s *authService) UpdateUser(ctx context.Context, update domain.UserUpdate) (domain.User, error) {
	user, err := s.client.UpdateUser(ctx, update)
	if err != nil {
		s.forgetOnAuthFailure(err)
		return domain.User{}, err
	}
	s.cache.SetValue(currentUserKey, user)
	s.cache.Invalidate(authStatusKey)
	return user, nil
}

// Logout drops the session and every cached query.
func (s *authService) Logout() {
	s.client.Logout()
	s.cache.Remove(authKey)
	s.cache.Clear()
}

func (s *authService) RefreshToken(ctx context.Context) error {
	if err := s.client.RefreshToken(ctx); err != nil {
		s.logger.Infof("token refresh failed, logging out: %v", err)
		s.Logout()
		return fmt.Errorf("refresh token: %w", err)
	}
	s.cache.Invalidate(currentUserKey)
	return nil
}

// CurrentUser returns the cached profile, or nil without a request when no
// valid token is stored.
func (s *authService) CurrentUser(ctx context.Context) (*domain.User, error) {
	if !s.client.IsAuthenticated() {
		return nil, nil
	}
	user, err := querycache.Fetch(ctx, s.cache, currentUserKey, s.client.CurrentUser, s.families.Identity)
	if err != nil {
		s.forgetOnAuthFailure(err)
		return nil, err
	}
	return &user, nil
}

func (s *authService) CurrentUserView() querycache.View[domain.User] {
	return querycache.Observe[domain.User](s.cache, currentUserKey)
}

// Status prefers the freshly fetched profile over the stored one.
func (s *authService) Status(ctx context.Context) (AuthStatus, error) {
	status, err := querycache.Fetch(ctx, s.cache, authStatusKey, func(context.Context) (AuthStatus, error) {
		user, _ := s.client.StoredUser()
		return AuthStatus{IsAuthenticated: s.client.IsAuthenticated(), User: user}, nil
	}, s.families.AuthStatus)
	if err != nil {
		return AuthStatus{}, fmt.Errorf("auth status: %w", err)
	}
	if view := s.CurrentUserView(); view.HasData {
		user := view.Data
		status.User = &user
	}
	return status, nil
}

func (s *authService) State() (auth.State, error) {
	return s.client.State()
}

// forgetOnAuthFailure drops cached identity once the server has rejected the
// token; the client has already cleared the stored session.
func (s *authService) forgetOnAuthFailure(err error) {
	if errors.Is(err, apierr.ErrAuthenticationRequired) {
		s.cache.Remove(currentUserKey)
		s.cache.Invalidate(authStatusKey)
	}
}
