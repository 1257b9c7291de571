package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Family is the cache lifetime of one group of queries.
type Family struct {
	StaleAfter   time.Duration
	CollectAfter time.Duration
}

// Config holds application level configuration aggregated from flags, env and
// config files.
type Config struct {
	API struct {
		BaseURL string
		Timeout time.Duration
	}
	Session struct {
		Path  string
		Scope string
	}
	Log struct {
		Level string
	}
	Cache struct {
		Retries      int
		Identity     Family
		AuthStatus   Family
		Lists        Family
		PersonalFeed Family
		Tags         Family
	}
	Stub struct {
		Addr      string
		Prefix    string
		JWTSecret string
		TokenTTL  time.Duration
		Seed      bool
	}
}

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"api-url":      "api.baseurl",
	"timeout":      "api.timeout",
	"session-path": "session.path",
	"scope":        "session.scope",
	"log-level":    "log.level",
	"addr":         "stub.addr",
	"seed":         "stub.seed",
}

// RegisterFlags adds the flags Load understands to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("api-url", "", "base URL of the Conduit API")
	fs.Duration("timeout", 0, "HTTP request timeout")
	fs.String("session-path", "", "SQLite file holding the session")
	fs.String("scope", "", "session slot prefix")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
}

// Load reads configuration from .env, environment variables, an optional
// config file and, when fs is not nil, the flags that were set on it.
func Load(fs *pflag.FlagSet) (Config, error) {
	// Existing environment wins over .env.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("CONDUIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("api.baseurl", "https://api.realworld.io/api")
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("session.path", "data/session.db")
	v.SetDefault("session.scope", "conduit")
	v.SetDefault("log.level", "info")
	v.SetDefault("cache.retries", 2)
	setFamily(v, "identity", 5*time.Minute, 10*time.Minute)
	setFamily(v, "authstatus", time.Minute, 5*time.Minute)
	setFamily(v, "lists", 5*time.Minute, 10*time.Minute)
	setFamily(v, "personalfeed", 2*time.Minute, 5*time.Minute)
	setFamily(v, "tags", 10*time.Minute, 30*time.Minute)
	v.SetDefault("stub.addr", "127.0.0.1:8081")
	v.SetDefault("stub.prefix", "/api")
	v.SetDefault("stub.jwtsecret", "")
	v.SetDefault("stub.tokenttl", 24*time.Hour)
	v.SetDefault("stub.seed", true)

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.API.BaseURL == "" {
		return Config{}, fmt.Errorf("api.baseurl must not be empty")
	}
	return cfg, nil
}

func setFamily(v *viper.Viper, name string, stale, collect time.Duration) {
	v.SetDefault("cache."+name+".staleafter", stale)
	v.SetDefault("cache."+name+".collectafter", collect)
}
