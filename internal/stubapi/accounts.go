package stubapi

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"conduit-client/internal/domain"
)

// FieldError is a request problem reported against one body field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Field + " " + e.Message
}

var (
	// ErrInvalidCredentials indicates that provided login credentials are incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailTaken is returned when registering or updating to an existing email.
	ErrEmailTaken = &FieldError{Field: "email", Message: "has already been taken"}
	// ErrUsernameTaken is returned when registering or updating to an existing username.
	ErrUsernameTaken = &FieldError{Field: "username", Message: "has already been taken"}
)

func blank(field string) error {
	return &FieldError{Field: field, Message: "can't be blank"}
}

// Accounts handles the user lifecycle behind the Identity API.
type Accounts struct {
	users *userRepository
	cost  int
}

func newAccounts(users *userRepository, cost int) *Accounts {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Accounts{users: users, cost: cost}
}

func (s *Accounts) Register(ctx context.Context, username, email, password string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))

	switch {
	case username == "":
		return nil, blank("username")
	case email == "":
		return nil, blank("email")
	case password == "":
		return nil, blank("password")
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	}
	if _, err := s.users.GetByUsername(ctx, username); err == nil {
		return nil, ErrUsernameTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	a := &account{
		User:         domain.User{Email: email, Username: username},
		PasswordHash: string(hash),
	}
	if _, err := s.users.Create(ctx, a); err != nil {
		return nil, err
	}
	return publicUser(a), nil
}

func (s *Accounts) Authenticate(ctx context.Context, email, password string) (*domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	a, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return publicUser(a), nil
}

func (s *Accounts) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	a, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return publicUser(a), nil
}

// Update applies the non-nil fields of u. Empty bio and image clear them.
func (s *Accounts) Update(ctx context.Context, id int64, u domain.UserUpdate) (*domain.User, error) {
	a, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if u.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*u.Email))
		if email == "" {
			return nil, blank("email")
		}
		if other, err := s.users.GetByEmail(ctx, email); err == nil && other.ID != a.ID {
			return nil, ErrEmailTaken
		}
		a.Email = email
	}
	if u.Username != nil {
		username := strings.TrimSpace(*u.Username)
		if username == "" {
			return nil, blank("username")
		}
		if other, err := s.users.GetByUsername(ctx, username); err == nil && other.ID != a.ID {
			return nil, ErrUsernameTaken
		}
		a.Username = username
	}
	if u.Password != nil {
		if *u.Password == "" {
			return nil, blank("password")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(*u.Password), s.cost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		a.PasswordHash = string(hash)
	}
	if u.Bio != nil {
		a.Bio = emptyToNil(*u.Bio)
	}
	if u.Image != nil {
		a.Image = emptyToNil(*u.Image)
	}

	if err := s.users.Update(ctx, a); err != nil {
		return nil, err
	}
	return publicUser(a), nil
}

func (s *Accounts) Follow(ctx context.Context, followerID int64, author string) error {
	return s.users.Follow(ctx, followerID, author)
}

func (s *Accounts) Following(ctx context.Context, followerID int64) (map[string]bool, error) {
	return s.users.Following(ctx, followerID)
}

func emptyToNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func publicUser(a *account) *domain.User {
	if a == nil {
		return nil
	}
	u := a.User
	return &u
}
