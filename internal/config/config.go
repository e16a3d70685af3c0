package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	authorizePath = "/login/oauth/authorize"
	tokenPath     = "/login/oauth/access_token"
	apiPath       = "/api/v1"
	callbackPath  = "/token_callback"
)

type Config struct {
	AppPort string `env:"PORT" envDefault:"3000"`

	GiteaURL          string `env:"GITEA_URL"`
	GiteaClientID     string `env:"GITEA_CLIENT_ID"`
	GiteaClientSecret string `env:"GITEA_CLIENT_SECRET"`
	GiteaDiscovery    bool   `env:"GITEA_DISCOVERY" envDefault:"false"`
	GiteaIssuer       string `env:"GITEA_ISSUER"`

	BaseURL string `env:"BASE_URL"`

	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"10s"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	DatabaseDSN string `env:"DATABASE_DSN"`

	SessionTTL   time.Duration `env:"SESSION_TTL" envDefault:"720h"`
	CookieSecure *bool         `env:"COOKIE_SECURE"`

	AuthRateLimit float64 `env:"AUTH_RATE_LIMIT" envDefault:"5"`
	AuthRateBurst int     `env:"AUTH_RATE_BURST" envDefault:"20"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads the process environment. The result is validated and should be
// treated as read-only afterwards.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}

	cfg.GiteaURL = strings.TrimRight(cfg.GiteaURL, "/")
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.GiteaIssuer == "" && cfg.GiteaURL != "" {
		// Gitea advertises its AppURL, trailing slash included, as issuer.
		cfg.GiteaIssuer = cfg.GiteaURL + "/"
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.GiteaURL == "" {
		errs = append(errs, errors.New("GITEA_URL is required"))
	}
	if c.GiteaClientID == "" {
		errs = append(errs, errors.New("GITEA_CLIENT_ID is required"))
	}
	if c.GiteaClientSecret == "" {
		errs = append(errs, errors.New("GITEA_CLIENT_SECRET is required"))
	}
	if c.BaseURL == "" {
		errs = append(errs, errors.New("BASE_URL is required"))
	}
	if c.AppPort == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if c.UpstreamTimeout <= 0 {
		errs = append(errs, errors.New("UPSTREAM_TIMEOUT must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// RedirectURL is the fixed callback registered with the provider.
func (c Config) RedirectURL() string {
	return c.BaseURL + callbackPath
}

func (c Config) AuthURL() string {
	return c.GiteaURL + authorizePath
}

func (c Config) TokenURL() string {
	return c.GiteaURL + tokenPath
}

// APIBaseURL is the prefix every resource path is appended to.
func (c Config) APIBaseURL() string {
	return c.GiteaURL + apiPath
}

// SecureCookies reports whether the session cookie carries the Secure flag.
// Unless set explicitly it follows the scheme of BASE_URL.
func (c Config) SecureCookies() bool {
	if c.CookieSecure != nil {
		return *c.CookieSecure
	}
	return strings.HasPrefix(c.BaseURL, "https://")
}

func (c Config) UseRedis() bool {
	return c.RedisAddr != ""
}

func (c Config) UseDatabase() bool {
	return c.DatabaseDSN != ""
}
