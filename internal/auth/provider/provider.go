package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/PercentBoat4164/GiteaOAuth/internal/auth"
	"github.com/PercentBoat4164/GiteaOAuth/internal/session"
)

var (
	// ErrMissingTokens is returned without any network call when the session
	// does not hold both an access and a refresh token.
	ErrMissingTokens = errors.New("session has no token pair")

	// ErrRefreshFailed wraps any failure of the refresh-token grant.
	ErrRefreshFailed = errors.New("access token refresh failed")
)

// StatusError reports a non-200 answer from the resource API.
type StatusError struct {
	Path       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("resource %s returned status %d", e.Path, e.StatusCode)
}

// FetchOptions controls a single resource fetch.
type FetchOptions struct {
	AllowRefresh bool
}

type FetchOption func(*FetchOptions)

// WithoutRefresh disables the refresh-and-retry step for a fetch.
func WithoutRefresh() FetchOption {
	return func(o *FetchOptions) {
		o.AllowRefresh = false
	}
}

// ApplyFetchOptions returns the defaults (refresh allowed) with opts applied.
func ApplyFetchOptions(opts ...FetchOption) FetchOptions {
	o := FetchOptions{AllowRefresh: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// OAuthProvider is the contract between the login flow, the guard, and the
// single upstream identity provider. Implementations contain every upstream
// failure and report it as an error; they never panic.
type OAuthProvider interface {
	// Name returns the provider identifier (e.g. "gitea").
	Name() string

	// AuthCodeURL returns the provider's authorization page URL for the
	// authorization-code grant, carrying the given state.
	AuthCodeURL(state string) string

	// ExchangeCode trades an authorization code for tokens. It fails when the
	// response carries no access token. A missing refresh token is tolerated.
	ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error)

	// RefreshAccessToken runs the refresh-token grant and updates the
	// session's tokens in place. It returns ErrMissingTokens when the session
	// lacks either token, leaving the session untouched.
	RefreshAccessToken(ctx context.Context, sess *session.Session) error

	// FetchResource performs an authenticated GET against the resource API.
	// A non-200 answer triggers at most one refresh followed by at most one
	// retry, unless WithoutRefresh is given.
	FetchResource(ctx context.Context, path string, sess *session.Session, opts ...FetchOption) (json.RawMessage, error)

	// CurrentUser fetches the identity of the session's owner.
	CurrentUser(ctx context.Context, sess *session.Session) (*auth.Identity, error)
}
