// Package app wires the clients, cache and services of the Conduit client
// into one value.
package app

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"conduit-client/internal/articles"
	"conduit-client/internal/auth"
	"conduit-client/internal/clock"
	"conduit-client/internal/config"
	"conduit-client/internal/querycache"
	"conduit-client/internal/restclient"
	"conduit-client/internal/service"
	"conduit-client/internal/session"
	"conduit-client/internal/storage"
	"conduit-client/internal/token"
)

// Options configures New. Zero fields take defaults.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Backend    storage.Backend
	Scope      string
	Families   *service.Families
	Retry      *querycache.RetryPolicy
	Clock      clock.Clock
	Logger     *logrus.Logger
}

// App is one signed-in (or anonymous) client session.
type App struct {
	Store    *session.Store
	Client   *auth.Client
	Articles *articles.Client
	Cache    *querycache.Cache
	Auth     service.AuthService
	Feed     service.FeedService
}

func New(opts Options) *App {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	clk := clock.OrSystem(opts.Clock)
	families := service.DefaultFamilies()
	if opts.Families != nil {
		families = *opts.Families
	}

	store := session.NewStore(opts.Backend, opts.Scope, logger)
	rest := restclient.New(opts.BaseURL, opts.HTTPClient, logger)
	client := auth.NewClient(rest, store, token.NewCodec(clk), logger)
	content := articles.NewClient(rest, client)
	cache := querycache.New(querycache.Config{
		Clock:  clk,
		Logger: logger,
		Retry:  opts.Retry,
	})

	return &App{
		Store:    store,
		Client:   client,
		Articles: content,
		Cache:    cache,
		Auth:     service.NewAuthService(client, cache, families, logger),
		Feed:     service.NewFeedService(content, client, cache, families, logger),
	}
}

// FromConfig builds Options from loaded configuration.
func FromConfig(cfg config.Config, backend storage.Backend, logger *logrus.Logger) Options {
	families := service.Families{
		Identity:     family(cfg.Cache.Identity),
		AuthStatus:   family(cfg.Cache.AuthStatus),
		Lists:        family(cfg.Cache.Lists),
		PersonalFeed: family(cfg.Cache.PersonalFeed),
		Tags:         family(cfg.Cache.Tags),
	}
	retry := querycache.DefaultRetryPolicy()
	retry.MaxRetries = cfg.Cache.Retries

	timeout := cfg.API.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return Options{
		BaseURL:    cfg.API.BaseURL,
		HTTPClient: &http.Client{Timeout: timeout},
		Backend:    backend,
		Scope:      cfg.Session.Scope,
		Families:   &families,
		Retry:      &retry,
		Logger:     logger,
	}
}

func family(f config.Family) querycache.Options {
	return querycache.Options{StaleAfter: f.StaleAfter, CollectAfter: f.CollectAfter}
}
