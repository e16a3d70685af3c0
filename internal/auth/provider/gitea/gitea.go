package gitea

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/PercentBoat4164/GiteaOAuth/internal/auth/provider"
	"github.com/PercentBoat4164/GiteaOAuth/internal/logger"
	"github.com/PercentBoat4164/GiteaOAuth/internal/metrics"
)

// Compile-time check that Provider implements provider.OAuthProvider.
var _ provider.OAuthProvider = (*Provider)(nil)

const (
	providerName = "gitea"

	authorizePath = "/login/oauth/authorize"
	tokenPath     = "/login/oauth/access_token"
	apiPath       = "/api/v1"

	defaultRequestTimeout = 10 * time.Second
)

// Config holds Gitea OAuth configuration.
type Config struct {
	// BaseURL is the Gitea root, e.g. https://git.example.com.
	BaseURL string

	ClientID     string
	ClientSecret string

	// RedirectURL is the fixed callback registered with the OAuth app.
	RedirectURL string

	// Endpoint overrides the authorize and token URLs derived from BaseURL,
	// typically with the result of Discover.
	Endpoint *oauth2.Endpoint

	// HTTPClient is used for every upstream call (default: client with RequestTimeout).
	HTTPClient *http.Client

	// RequestTimeout bounds each upstream call whose context has no deadline (default: 10s).
	RequestTimeout time.Duration

	Metrics *metrics.Metrics
}

// Provider talks to a single Gitea instance: token endpoint for the code and
// refresh grants, resource API for authenticated calls.
type Provider struct {
	oauth          *oauth2.Config
	apiBase        string
	httpClient     *http.Client
	requestTimeout time.Duration
	metrics        *metrics.Metrics

	// refreshes collapses concurrent refreshes of the same refresh token.
	refreshes singleflight.Group
}

// NewProvider creates a new Gitea OAuth provider.
func NewProvider(cfg *Config) (*Provider, error) {
	if cfg == nil {
		return nil, errors.New("gitea: config is required")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("gitea: base URL is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("gitea: client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, errors.New("gitea: client secret is required")
	}
	if cfg.RedirectURL == "" {
		return nil, errors.New("gitea: redirect URL is required")
	}

	base := strings.TrimRight(cfg.BaseURL, "/")

	endpoint := oauth2.Endpoint{
		AuthURL:  base + authorizePath,
		TokenURL: base + tokenPath,
	}
	if cfg.Endpoint != nil {
		endpoint.AuthURL = cfg.Endpoint.AuthURL
		endpoint.TokenURL = cfg.Endpoint.TokenURL
	}
	// Gitea accepts client credentials in the form body; pinning the style
	// skips oauth2's auto-detection round trip.
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	logger.Info("gitea provider configured", map[string]any{
		"authorize_url": endpoint.AuthURL,
		"token_url":     endpoint.TokenURL,
		"api_base":      base + apiPath,
		"client_id":     cfg.ClientID,
	})

	return &Provider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
		},
		apiBase:        base + apiPath,
		httpClient:     httpClient,
		requestTimeout: timeout,
		metrics:        cfg.Metrics,
	}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return providerName
}

// AuthCodeURL builds the authorization page URL: response_type=code, the
// client id, the fixed redirect URI, and state.
func (p *Provider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// ensureContextTimeout adds the request timeout unless ctx already has a deadline.
func (p *Provider) ensureContextTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.requestTimeout)
}

// clientContext routes oauth2's token requests through our HTTP client.
func (p *Provider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}
