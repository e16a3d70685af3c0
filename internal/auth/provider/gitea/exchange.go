package gitea

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/PercentBoat4164/GiteaOAuth/internal/auth/provider"
	"github.com/PercentBoat4164/GiteaOAuth/internal/logger"
	"github.com/PercentBoat4164/GiteaOAuth/internal/metrics"
	"github.com/PercentBoat4164/GiteaOAuth/internal/session"
)

// ExchangeCode posts the authorization-code grant to the token endpoint.
// oauth2 rejects responses without an access token, so a returned token
// always carries one. A missing refresh token is logged and tolerated.
func (p *Provider) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	if code == "" {
		p.metrics.RecordExchange(metrics.OutcomeSkipped)
		return nil, errors.New("gitea: authorization code is required")
	}

	ctx, cancel := p.ensureContextTimeout(ctx)
	defer cancel()

	token, err := p.oauth.Exchange(p.clientContext(ctx), code)
	if err != nil {
		p.metrics.RecordExchange(metrics.OutcomeFailure)
		logger.Error("gitea token exchange failed", map[string]any{
			"error": err.Error(),
		})
		return nil, fmt.Errorf("gitea: code exchange: %w", err)
	}

	if token.RefreshToken == "" {
		logger.Warn("gitea token exchange returned no refresh token", nil)
	}

	p.metrics.RecordExchange(metrics.OutcomeSuccess)
	return token, nil
}

// RefreshAccessToken posts the refresh-token grant using the session's
// refresh token. On success the access token is replaced and the refresh
// token only if the provider rotated it. On failure the session is left as is.
func (p *Provider) RefreshAccessToken(ctx context.Context, sess *session.Session) error {
	if !sess.HasTokenPair() {
		p.metrics.RecordRefresh(metrics.OutcomeSkipped)
		return provider.ErrMissingTokens
	}

	refreshToken := sess.RefreshToken

	v, err, shared := p.refreshes.Do(refreshToken, func() (any, error) {
		// Detached from the first caller's cancellation so that one
		// aborted request does not fail every request waiting on it.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.requestTimeout)
		defer cancel()

		src := p.oauth.TokenSource(p.clientContext(rctx), &oauth2.Token{RefreshToken: refreshToken})
		return src.Token()
	})
	if err != nil {
		p.metrics.RecordRefresh(metrics.OutcomeFailure)
		logger.Warn("gitea token refresh failed", map[string]any{
			"error": err.Error(),
		})
		return fmt.Errorf("%w: %w", provider.ErrRefreshFailed, err)
	}

	token := v.(*oauth2.Token)
	if token.AccessToken == "" {
		p.metrics.RecordRefresh(metrics.OutcomeFailure)
		return fmt.Errorf("%w: response missing access_token", provider.ErrRefreshFailed)
	}

	// oauth2 carries the old refresh token over when the provider omits
	// one; SetTokens also ignores an empty value.
	sess.SetTokens(token.AccessToken, token.RefreshToken)

	p.metrics.RecordRefresh(metrics.OutcomeSuccess)
	logger.Debug("gitea access token refreshed", map[string]any{
		"shared":  shared,
		"rotated": token.RefreshToken != refreshToken,
	})
	return nil
}
