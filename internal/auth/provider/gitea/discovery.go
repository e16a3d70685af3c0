package gitea

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/PercentBoat4164/GiteaOAuth/internal/logger"
)

// Discover resolves the authorize and token endpoints from the issuer's
// OpenID configuration document. Gitea publishes its AppURL, with trailing
// slash, as issuer.
func Discover(ctx context.Context, issuer string, httpClient *http.Client) (*oauth2.Endpoint, error) {
	if httpClient != nil {
		ctx = oidc.ClientContext(ctx, httpClient)
	}

	oidcProvider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("gitea: discovery for %s: %w", issuer, err)
	}

	ep := oidcProvider.Endpoint()

	logger.Info("gitea endpoints discovered", map[string]any{
		"issuer":        issuer,
		"authorize_url": ep.AuthURL,
		"token_url":     ep.TokenURL,
	})

	return &ep, nil
}
