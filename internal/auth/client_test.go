package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus/hooks/test"

	"conduit-client/internal/apierr"
	"conduit-client/internal/clock"
	"conduit-client/internal/domain"
	"conduit-client/internal/restclient"
	"conduit-client/internal/session"
	"conduit-client/internal/storage"
	"conduit-client/internal/token"
)

var (
	ctx   = context.Background()
	start = time.Unix(1_700_000_000, 0)
	alice = domain.User{ID: 1, Email: "a@b.com", Username: "alice"}
)

type fixture struct {
	client *Client
	store  *session.Store
	clock  *clock.Manual
	issuer *token.Issuer
	hits   *atomic.Int32
}

func newFixture(t *testing.T, handler http.HandlerFunc) *fixture {
	t.Helper()
	hits := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	logger, _ := test.NewNullLogger()
	clk := clock.NewManual(start)
	store := session.NewStore(storage.NewMemory(), "test", logger)
	rest := restclient.New(server.URL+"/api", server.Client(), logger)
	return &fixture{
		client: NewClient(rest, store, token.NewCodec(clk), logger),
		store:  store,
		clock:  clk,
		issuer: token.NewIssuer([]byte("secret"), 24*time.Hour, clk),
		hits:   hits,
	}
}

func (f *fixture) mustToken(t *testing.T) string {
	t.Helper()
	tok, err := f.issuer.Issue(alice)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func TestLoginStoresSession(t *testing.T) {
	var tok string
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/users/login" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			User map[string]string `json:"user"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		want := map[string]string{"email": "a@b.com", "password": "secret1"}
		if diff := cmp.Diff(want, body.User); diff != "" {
			t.Errorf("request body mismatch:\n%s", diff)
		}
		writeJSON(w, http.StatusOK, fmt.Sprintf(
			`{"user":{"id":1,"email":"a@b.com","username":"alice","bio":null,"image":null},"token":%q}`, tok))
	})
	tok = f.mustToken(t)

	if f.client.IsAuthenticated() {
		t.Fatal("should start unauthenticated")
	}
	if state, _ := f.client.State(); state != StateAnonymous {
		t.Fatalf("expected anonymous, got %s", state)
	}

	sess, err := f.client.Login(ctx, "a@b.com", "secret1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sess.Authenticated || sess.Token != tok {
		t.Errorf("unexpected session %+v", sess)
	}

	stored, ok := f.store.Token()
	if !ok || stored != tok {
		t.Errorf("store token mismatch: %q", stored)
	}
	user, ok := f.store.User()
	if !ok {
		t.Fatal("no stored user")
	}
	if diff := cmp.Diff(alice, *user); diff != "" {
		t.Error(diff)
	}
	if !f.client.IsAuthenticated() {
		t.Error("expected authenticated after login")
	}
	if state, _ := f.client.State(); state != StateAuthenticated {
		t.Errorf("expected authenticated state, got %s", state)
	}
}

func TestRegisterAcceptsNestedToken(t *testing.T) {
	var tok string
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/users" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body struct {
			User credentials `json:"user"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.User.Username != "alice" {
			t.Errorf("username not sent: %+v", body.User)
		}
		writeJSON(w, http.StatusCreated, fmt.Sprintf(
			`{"user":{"id":1,"email":"a@b.com","username":"alice","bio":null,"image":null,"token":%q}}`, tok))
	})
	tok = f.mustToken(t)

	sess, err := f.client.Register(ctx, "alice", "a@b.com", "Secret1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.Token != tok || sess.User == nil || sess.User.Username != "alice" {
		t.Errorf("unexpected session %+v", sess)
	}
	if stored, _ := f.store.Token(); stored != tok {
		t.Error("nested token was not stored")
	}
}

func TestLoginFailures(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		check   func(error) bool
		message string
	}{
		{
			name:   "validation",
			status: http.StatusUnprocessableEntity,
			body:   `{"errors":{"email or password":["is invalid"]}}`,
			check: func(err error) bool {
				var ve *apierr.ValidationError
				return errors.As(err, &ve)
			},
			message: "is invalid",
		},
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			body:   `oops`,
			check: func(err error) bool {
				var he *apierr.HTTPError
				return errors.As(err, &he) && he.Status == 500
			},
			message: "http error: status 500",
		},
		{
			name:   "missing token",
			status: http.StatusOK,
			body:   `{"user":{"id":1}}`,
			check: func(err error) bool {
				return errors.Is(err, ErrMissingToken)
			},
			message: ErrMissingToken.Error(),
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, c.status, c.body)
			})

			_, err := f.client.Login(ctx, "a@b.com", "bad")
			if !c.check(err) {
				t.Fatalf("unexpected error %v", err)
			}
			if err.Error() != c.message {
				t.Errorf("expected message %q, got %q", c.message, err.Error())
			}
			state, stateErr := f.client.State()
			if state != StateError || stateErr == nil {
				t.Errorf("expected error state, got %s (%v)", state, stateErr)
			}
			if _, ok := f.store.Token(); ok {
				t.Error("failed login stored a token")
			}
		})
	}
}

func TestLoginNetworkError(t *testing.T) {
	logger, _ := test.NewNullLogger()
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	store := session.NewStore(storage.NewMemory(), "", logger)
	client := NewClient(restclient.New(server.URL, nil, logger), store, token.NewCodec(nil), logger)
	_, err := client.Login(ctx, "a@b.com", "secret1")
	var ne *apierr.NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestCurrentUserUnauthorizedClearsSession(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, `{"errors":{"token":["is invalid"]}}`)
	})
	f.store.SetToken(f.mustToken(t))
	f.store.SetUser(alice)

	_, err := f.client.CurrentUser(ctx)
	if !errors.Is(err, apierr.ErrAuthenticationRequired) {
		t.Fatalf("expected ErrAuthenticationRequired, got %v", err)
	}
	if apierr.StatusCode(err) != http.StatusUnauthorized {
		t.Errorf("expected the 401 to stay visible, got %d", apierr.StatusCode(err))
	}
	if _, ok := f.store.Token(); ok {
		t.Error("token survived a 401")
	}
	if _, ok := f.store.User(); ok {
		t.Error("user survived a 401")
	}
	if state, _ := f.client.State(); state != StateAnonymous {
		t.Errorf("expected anonymous, got %s", state)
	}
}

func TestCurrentUserRefreshesStoredUser(t *testing.T) {
	var tok string
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/user" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer "+tok {
			t.Errorf("unexpected Authorization %q", got)
		}
		writeJSON(w, http.StatusOK, `{"user":{"id":1,"email":"a@b.com","username":"alice2","bio":"new","image":null}}`)
	})
	tok = f.mustToken(t)
	f.store.SetToken(tok)
	f.store.SetUser(alice)

	user, err := f.client.CurrentUser(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.Username != "alice2" || user.Bio == nil || *user.Bio != "new" {
		t.Errorf("unexpected user %+v", user)
	}
	stored, _ := f.store.User()
	if stored.Username != "alice2" {
		t.Error("stored user not refreshed")
	}
}

func TestCurrentUserWithoutTokenSkipsNetwork(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{}`)
	})
	f.store.SetUser(alice)

	_, err := f.client.CurrentUser(ctx)
	if !errors.Is(err, apierr.ErrAuthenticationRequired) {
		t.Fatalf("expected ErrAuthenticationRequired, got %v", err)
	}
	if f.hits.Load() != 0 {
		t.Errorf("expected no request, got %d", f.hits.Load())
	}
	if _, ok := f.store.User(); ok {
		t.Error("stale user left behind")
	}
}

func TestUpdateUserSendsOnlyChangedFields(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		var body struct {
			User map[string]any `json:"user"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		want := map[string]any{"bio": "hello"}
		if diff := cmp.Diff(want, body.User); diff != "" {
			t.Errorf("body mismatch:\n%s", diff)
		}
		writeJSON(w, http.StatusOK, `{"user":{"id":1,"email":"a@b.com","username":"alice","bio":"hello","image":null}}`)
	})
	f.store.SetToken(f.mustToken(t))

	bio := "hello"
	user, err := f.client.UpdateUser(ctx, domain.UserUpdate{Bio: &bio})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored, _ := f.store.User()
	if diff := cmp.Diff(user, *stored); diff != "" {
		t.Error(diff)
	}
}

func TestUpdateUserUnauthorized(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	f.store.SetToken(f.mustToken(t))

	bio := "x"
	_, err := f.client.UpdateUser(ctx, domain.UserUpdate{Bio: &bio})
	if !errors.Is(err, apierr.ErrAuthenticationRequired) {
		t.Fatalf("expected ErrAuthenticationRequired, got %v", err)
	}
	if _, ok := f.store.Token(); ok {
		t.Error("token survived a 401")
	}
}

func TestLogout(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("logout must not hit the network")
	})
	f.store.SetToken(f.mustToken(t))
	f.store.SetUser(alice)

	f.client.Logout()
	if f.client.IsAuthenticated() {
		t.Error("still authenticated after logout")
	}
	if s := f.client.Session(); s.Token != "" || s.User != nil || s.Authenticated {
		t.Errorf("session not empty: %+v", s)
	}
}

func TestIsAuthenticatedTracksExpiry(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
	f.store.SetToken(f.mustToken(t))
	if !f.client.IsAuthenticated() {
		t.Fatal("fresh token should authenticate")
	}
	f.clock.Advance(24 * time.Hour)
	if f.client.IsAuthenticated() {
		t.Error("expired token should not authenticate")
	}

	f.store.SetToken("not.a.token")
	if f.client.IsAuthenticated() {
		t.Error("malformed token should not authenticate")
	}
}

func TestRefreshToken(t *testing.T) {
	t.Run("valid token is confirmed", func(t *testing.T) {
		f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `{"user":{"id":1,"email":"a@b.com","username":"alice"}}`)
		})
		f.store.SetToken(f.mustToken(t))
		if err := f.client.RefreshToken(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !f.client.IsAuthenticated() {
			t.Error("refresh should keep the session")
		}
	})

	t.Run("expired token logs out without a request", func(t *testing.T) {
		f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("unexpected request")
		})
		f.store.SetToken(f.mustToken(t))
		f.store.SetUser(alice)
		f.clock.Advance(25 * time.Hour)

		err := f.client.RefreshToken(ctx)
		if !errors.Is(err, apierr.ErrAuthenticationRequired) {
			t.Fatalf("expected ErrAuthenticationRequired, got %v", err)
		}
		if _, ok := f.store.User(); ok {
			t.Error("user survived a failed refresh")
		}
	})

	t.Run("server failure logs out and reports it", func(t *testing.T) {
		f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
		f.store.SetToken(f.mustToken(t))

		err := f.client.RefreshToken(ctx)
		if apierr.StatusCode(err) != http.StatusServiceUnavailable {
			t.Fatalf("expected 503 to surface, got %v", err)
		}
		if _, ok := f.store.Token(); ok {
			t.Error("token survived a failed refresh")
		}
	})
}

func TestNewClientStartsAuthenticatedWithStoredToken(t *testing.T) {
	logger, _ := test.NewNullLogger()
	clk := clock.NewManual(start)
	store := session.NewStore(storage.NewMemory(), "", logger)
	tok, _ := token.NewIssuer([]byte("k"), time.Hour, clk).Issue(alice)
	store.SetToken(tok)

	client := NewClient(restclient.New("http://unused", nil, logger), store, token.NewCodec(clk), logger)
	if state, _ := client.State(); state != StateAuthenticated {
		t.Errorf("expected authenticated, got %s", state)
	}
}
