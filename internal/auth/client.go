// Package auth talks to the Identity API and keeps the local session in step
// with it.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"conduit-client/internal/apierr"
	"conduit-client/internal/domain"
	"conduit-client/internal/restclient"
	"conduit-client/internal/session"
	"conduit-client/internal/token"
)

// State is where the client sits in the sign-in lifecycle.
type State string

const (
	StateAnonymous      State = "anonymous"
	StateAuthenticating State = "authenticating"
	StateAuthenticated  State = "authenticated"
	StateError          State = "error"
)

// ErrMissingToken is returned when a login or registration response carries
// no token.
var ErrMissingToken = errors.New("response carried no token")

type credentials struct {
	Username string `json:"username,omitempty"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userEnvelope[T any] struct {
	User T `json:"user"`
}

// authResponse accepts the token either beside the user or inside it; Conduit
// servers differ on this.
type authResponse struct {
	User struct {
		domain.User
		Token string `json:"token"`
	} `json:"user"`
	Token string `json:"token"`
}

func (r authResponse) token() string {
	if r.Token != "" {
		return r.Token
	}
	return r.User.Token
}

// Client is safe for concurrent use.
type Client struct {
	rest   *restclient.Client
	store  *session.Store
	codec  *token.Codec
	logger *logrus.Logger

	mu      sync.Mutex
	state   State
	lastErr error
}

func NewClient(rest *restclient.Client, store *session.Store, codec *token.Codec, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
	}
	c := &Client{
		rest:   rest,
		store:  store,
		codec:  codec,
		logger: logger,
		state:  StateAnonymous,
	}
	if c.IsAuthenticated() {
		c.state = StateAuthenticated
	}
	return c
}

// State returns the current state and, in StateError, the failure that caused it.
func (c *Client) State() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.lastErr
}

func (c *Client) setState(s State, err error) {
	c.mu.Lock()
	c.state = s
	c.lastErr = err
	c.mu.Unlock()
}

// settle moves to authenticated or anonymous depending on the stored token.
func (c *Client) settle() {
	if c.IsAuthenticated() {
		c.setState(StateAuthenticated, nil)
		return
	}
	c.setState(StateAnonymous, nil)
}

// Login exchanges credentials for a token and stores the resulting session.
func (c *Client) Login(ctx context.Context, email, password string) (domain.Session, error) {
	return c.authenticate(ctx, "/users/login", credentials{Email: email, Password: password})
}

// Register creates an account and stores the resulting session.
func (c *Client) Register(ctx context.Context, username, email, password string) (domain.Session, error) {
	return c.authenticate(ctx, "/users", credentials{Username: username, Email: email, Password: password})
}

func (c *Client) authenticate(ctx context.Context, path string, creds credentials) (domain.Session, error) {
	c.setState(StateAuthenticating, nil)

	var res authResponse
	err := c.rest.Do(ctx, restclient.Request{
		Method: http.MethodPost,
		Path:   path,
		Body:   userEnvelope[credentials]{User: creds},
	}, &res)
	if err == nil && res.token() == "" {
		err = ErrMissingToken
	}
	if err != nil {
		c.setState(StateError, err)
		c.logger.WithField("path", path).Warnf("authentication failed: %v", err)
		return domain.Session{}, err
	}

	user := res.User.User
	tok := res.token()
	c.store.SetToken(tok)
	c.store.SetUser(user)
	c.settle()

	authenticated := c.IsAuthenticated()
	if !authenticated {
		c.logger.WithField("user", user.Username).Warn("server issued a token that is already expired or unreadable")
	}
	return domain.Session{User: &user, Token: tok, Authenticated: authenticated}, nil
}

// CurrentUser fetches the profile behind the stored token and refreshes the
// stored user. A 401 clears the session and yields apierr.ErrAuthenticationRequired.
func (c *Client) CurrentUser(ctx context.Context) (domain.User, error) {
	var res userEnvelope[domain.User]
	if err := c.authorized(ctx, http.MethodGet, nil, &res); err != nil {
		return domain.User{}, fmt.Errorf("current user: %w", err)
	}
	c.store.SetUser(res.User)
	c.settle()
	return res.User, nil
}

// UpdateUser sends only the fields set in update and stores the returned user.
func (c *Client) UpdateUser(ctx context.Context, update domain.UserUpdate) (domain.User, error) {
	var res userEnvelope[domain.User]
	body := userEnvelope[domain.UserUpdate]{User: update}
	if err := c.authorized(ctx, http.MethodPut, body, &res); err != nil {
		return domain.User{}, fmt.Errorf("update user: %w", err)
	}
	c.store.SetUser(res.User)
	return res.User, nil
}

// authorized calls /user with the stored bearer token.
func (c *Client) authorized(ctx context.Context, method string, body, out any) error {
	tok, ok := c.store.Token()
	if !ok {
		c.dropSession()
		return apierr.ErrAuthenticationRequired
	}

	err := c.rest.Do(ctx, restclient.Request{
		Method: method,
		Path:   "/user",
		Body:   body,
		Token:  tok,
	}, out)
	if apierr.StatusCode(err) == http.StatusUnauthorized {
		c.logger.WithField("method", method).Info("token rejected, clearing session")
		c.dropSession()
		return fmt.Errorf("%w: %w", apierr.ErrAuthenticationRequired, err)
	}
	return err
}

func (c *Client) dropSession() {
	c.store.Clear()
	c.setState(StateAnonymous, nil)
}

// Logout forgets the local session. No request is made.
func (c *Client) Logout() {
	c.dropSession()
}

// IsAuthenticated reports whether an unexpired token is stored. It never
// contacts the server, so a revoked token still reads as authenticated until
// an authenticated call says otherwise.
func (c *Client) IsAuthenticated() bool {
	tok, ok := c.store.Token()
	if !ok {
		return false
	}
	return !c.codec.IsExpired(tok)
}

// Token returns the stored bearer token.
func (c *Client) Token() (string, bool) {
	return c.store.Token()
}

// StoredUser returns the last user written to the session store.
func (c *Client) StoredUser() (*domain.User, bool) {
	return c.store.User()
}

// Session assembles the current session from the store.
func (c *Client) Session() domain.Session {
	tok, user := c.store.Snapshot()
	return domain.Session{
		User:          user,
		Token:         tok,
		Authenticated: tok != "" && !c.codec.IsExpired(tok),
	}
}

// RefreshToken re-validates the stored token against the server. There is no
// refresh grant, so an expired token cannot be extended; any failure logs out.
func (c *Client) RefreshToken(ctx context.Context) error {
	if !c.IsAuthenticated() {
		c.Logout()
		return fmt.Errorf("refresh token: no valid token: %w", apierr.ErrAuthenticationRequired)
	}
	if _, err := c.CurrentUser(ctx); err != nil {
		c.Logout()
		return err
	}
	return nil
}
