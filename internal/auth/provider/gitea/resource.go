package gitea

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/PercentBoat4164/GiteaOAuth/internal/auth"
	"github.com/PercentBoat4164/GiteaOAuth/internal/auth/provider"
	"github.com/PercentBoat4164/GiteaOAuth/internal/logger"
	"github.com/PercentBoat4164/GiteaOAuth/internal/metrics"
	"github.com/PercentBoat4164/GiteaOAuth/internal/session"
)

const (
	currentUserPath = "/user"

	maxResourceBody = 10 << 20
)

// FetchResource GETs {base}/api/v1{path} with the session's access token.
//
// The call is a fixed pipeline: attempt; on a non-200 answer refresh once;
// on a successful refresh attempt exactly once more. Transport failures end
// the pipeline without a refresh.
func (p *Provider) FetchResource(
	ctx context.Context,
	path string,
	sess *session.Session,
	opts ...provider.FetchOption,
) (json.RawMessage, error) {
	o := provider.ApplyFetchOptions(opts...)

	if !sess.HasTokenPair() {
		p.metrics.RecordResource(metrics.OutcomeSkipped)
		return nil, provider.ErrMissingTokens
	}

	body, err := p.get(ctx, path, sess.AccessToken)
	if err == nil {
		return body, nil
	}

	var statusErr *provider.StatusError
	if !o.AllowRefresh || !errors.As(err, &statusErr) {
		return nil, err
	}

	if err := p.RefreshAccessToken(ctx, sess); err != nil {
		return nil, err
	}

	return p.get(ctx, path, sess.AccessToken)
}

// CurrentUser fetches /user and maps it to an identity.
func (p *Provider) CurrentUser(ctx context.Context, sess *session.Session) (*auth.Identity, error) {
	raw, err := p.FetchResource(ctx, currentUserPath, sess)
	if err != nil {
		return nil, err
	}

	var u struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		FullName  string `json:"full_name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
		IsAdmin   bool   `json:"is_admin"`
	}
	if err := json.Unmarshal(raw, &u); err != nil {
		logger.Error("gitea user payload malformed", map[string]any{
			"error": err.Error(),
		})
		return nil, fmt.Errorf("gitea: decode user: %w", err)
	}
	// A null body decodes without error; no id means no user.
	if u.ID == 0 {
		logger.Warn("gitea user payload has no id", nil)
		return nil, errors.New("gitea: user payload has no id")
	}

	return &auth.Identity{
		Provider:       providerName,
		ProviderUserID: strconv.FormatInt(u.ID, 10),
		Login:          u.Login,
		FullName:       u.FullName,
		Email:          u.Email,
		AvatarURL:      u.AvatarURL,
		IsAdmin:        u.IsAdmin,
		Raw:            raw,
	}, nil
}

// get performs exactly one authenticated request.
func (p *Provider) get(ctx context.Context, path, accessToken string) (json.RawMessage, error) {
	ctx, cancel := p.ensureContextTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBase+path, nil)
	if err != nil {
		p.metrics.RecordResource(metrics.OutcomeFailure)
		return nil, fmt.Errorf("gitea: build request: %w", err)
	}
	req.Header.Set("Authorization", "token "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.metrics.RecordResource(metrics.OutcomeFailure)
		logger.Error("gitea api request failed", map[string]any{
			"path":  path,
			"error": err.Error(),
		})
		return nil, fmt.Errorf("gitea: request %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResourceBody))
		p.metrics.RecordResource(metrics.OutcomeFailure)
		logger.Info("gitea api returned non-200", map[string]any{
			"path":   path,
			"status": resp.StatusCode,
		})
		return nil, &provider.StatusError{Path: path, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResourceBody))
	if err != nil {
		p.metrics.RecordResource(metrics.OutcomeFailure)
		return nil, fmt.Errorf("gitea: read %s: %w", path, err)
	}
	if !json.Valid(body) {
		p.metrics.RecordResource(metrics.OutcomeFailure)
		logger.Error("gitea api returned invalid json", map[string]any{
			"path": path,
		})
		return nil, fmt.Errorf("gitea: %s returned invalid JSON", path)
	}

	p.metrics.RecordResource(metrics.OutcomeSuccess)
	return json.RawMessage(body), nil
}
