package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PercentBoat4164/GiteaOAuth/internal/auth"
	"github.com/PercentBoat4164/GiteaOAuth/internal/config"
	"github.com/PercentBoat4164/GiteaOAuth/internal/session"
	"github.com/PercentBoat4164/GiteaOAuth/internal/web"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const userPayload = `{"id":42,"login":"octo","full_name":"Octo Cat","email":"octo@example.com","avatar_url":"","is_admin":false}`

// fakeGitea accepts code "abc" and the refresh tokens it has issued. Only the
// current access token is accepted by the user endpoint.
type fakeGitea struct {
	*httptest.Server

	mu        sync.Mutex
	validAT   string
	grants    []string
	userCalls int
}

func newFakeGitea(t *testing.T) *fakeGitea {
	t.Helper()
	f := &fakeGitea{validAT: "AT1"}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f.mu.Lock()
		defer f.mu.Unlock()
		f.grants = append(f.grants, r.PostForm.Get("grant_type"))

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.PostForm.Get("grant_type") == "authorization_code" && r.PostForm.Get("code") == "abc":
			_, _ = w.Write([]byte(`{"access_token":"AT1","refresh_token":"RT1","token_type":"bearer","expires_in":3600}`))
		case r.PostForm.Get("grant_type") == "refresh_token" && r.PostForm.Get("refresh_token") == "RT1":
			_, _ = w.Write([]byte(`{"access_token":"AT2","token_type":"bearer","expires_in":3600}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
		}
	})
	mux.HandleFunc("GET /api/v1/user", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.userCalls++

		if r.Header.Get("Authorization") != "token "+f.validAT {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(userPayload))
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeGitea) rotateAccessToken(at string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validAT = at
}

func (f *fakeGitea) grantTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.grants...)
}

func testConfig(giteaURL string) config.Config {
	return config.Config{
		AppPort:           "0",
		GiteaURL:          giteaURL,
		GiteaClientID:     "client",
		GiteaClientSecret: "secret",
		GiteaIssuer:       giteaURL + "/",
		BaseURL:           "http://app.test",
		UpstreamTimeout:   5 * time.Second,
		SessionTTL:        session.DefaultTTL,
	}
}

type visitor struct {
	t      *testing.T
	h      http.Handler
	cookie *http.Cookie
}

func (v *visitor) do(method, target string) *httptest.ResponseRecorder {
	v.t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if v.cookie != nil {
		req.AddCookie(v.cookie)
	}
	w := httptest.NewRecorder()
	v.h.ServeHTTP(w, req)
	for _, c := range w.Result().Cookies() {
		if c.Name == session.CookieName {
			v.cookie = c
		}
	}
	return w
}

func newDemoApp(t *testing.T, giteaURL string) *App {
	t.Helper()
	a, err := New(context.Background(), testConfig(giteaURL))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	require.NoError(t, a.AddAuthEndpoint("get", "/userinfo", func(c *gin.Context, user *auth.Identity) {
		c.Data(http.StatusOK, "application/json", user.Raw)
	}))
	require.NoError(t, a.AddEndpoint("GET", "/", web.Handler(http.StatusOK, web.IndexPage)))
	a.NotFound(web.Handler(http.StatusNotFound, web.NotFoundPage))
	return a
}

func login(t *testing.T, v *visitor) {
	t.Helper()

	w := v.do(http.MethodGet, "/gitea_oauth")
	require.Equal(t, http.StatusFound, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/login/oauth/authorize", loc.Path)
	assert.Equal(t, "client", loc.Query().Get("client_id"))
	assert.Equal(t, "http://app.test/token_callback", loc.Query().Get("redirect_uri"))

	state := loc.Query().Get("state")
	require.NotEmpty(t, state)

	w = v.do(http.MethodGet, "/token_callback?code=abc&state="+url.QueryEscape(state))
	require.Equal(t, http.StatusFound, w.Code)
}

func TestLoginReplaysProtectedPage(t *testing.T) {
	gitea := newFakeGitea(t)
	a := newDemoApp(t, gitea.URL)
	v := &visitor{t: t, h: a.Handler()}

	w := v.do(http.MethodGet, "/userinfo")
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/auth", w.Header().Get("Location"))

	w = v.do(http.MethodGet, "/auth")
	assert.Equal(t, http.StatusOK, w.Code)

	login(t, v)

	w = v.do(http.MethodGet, "/userinfo")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, userPayload, w.Body.String())
	assert.Equal(t, []string{"authorization_code"}, gitea.grantTypes())
}

func TestCallbackRedirectsToPendingPage(t *testing.T) {
	gitea := newFakeGitea(t)
	a := newDemoApp(t, gitea.URL)
	v := &visitor{t: t, h: a.Handler()}

	v.do(http.MethodGet, "/userinfo?tab=keys")

	w := v.do(http.MethodGet, "/gitea_oauth")
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)

	w = v.do(http.MethodGet, "/token_callback?code=abc&state="+url.QueryEscape(loc.Query().Get("state")))
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/userinfo?tab=keys", w.Header().Get("Location"))

	// The destination is used once; a second dispatch lands on the root.
	w = v.do(http.MethodGet, "/gitea_oauth")
	assert.Equal(t, "/", w.Header().Get("Location"))
}

func TestExpiredAccessTokenIsRefreshed(t *testing.T) {
	gitea := newFakeGitea(t)
	a := newDemoApp(t, gitea.URL)
	v := &visitor{t: t, h: a.Handler()}

	login(t, v)
	gitea.rotateAccessToken("AT2")

	w := v.do(http.MethodGet, "/userinfo")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, userPayload, w.Body.String())
	assert.Equal(t, []string{"authorization_code", "refresh_token"}, gitea.grantTypes())

	// The refreshed token was persisted, so no further refresh is needed.
	w = v.do(http.MethodGet, "/userinfo")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, gitea.grantTypes(), 2)
}

func TestFailedRefreshSendsVisitorToLogin(t *testing.T) {
	gitea := newFakeGitea(t)
	a := newDemoApp(t, gitea.URL)
	v := &visitor{t: t, h: a.Handler()}

	login(t, v)
	gitea.rotateAccessToken("revoked")

	w := v.do(http.MethodGet, "/userinfo")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/auth", w.Header().Get("Location"))
}

func TestExchangeFailureShowsNotice(t *testing.T) {
	gitea := newFakeGitea(t)
	a := newDemoApp(t, gitea.URL)
	v := &visitor{t: t, h: a.Handler()}

	w := v.do(http.MethodGet, "/gitea_oauth")
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)

	w = v.do(http.MethodGet, "/token_callback?code=wrong&state="+url.QueryEscape(loc.Query().Get("state")))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Empty(t, w.Header().Get("Location"))
	assert.Contains(t, w.Body.String(), "There was a problem with retrieving Gitea Access token.")
}

func TestAddEndpointMethods(t *testing.T) {
	gitea := newFakeGitea(t)
	a := newDemoApp(t, gitea.URL)

	err := a.AddEndpoint("foo", "/thing", func(c *gin.Context) {})
	require.ErrorIs(t, err, ErrUnsupportedMethod)
	assert.Contains(t, err.Error(), "foo")

	err = a.AddAuthEndpoint("TRACE", "/thing", func(c *gin.Context, _ *auth.Identity) {})
	require.ErrorIs(t, err, ErrUnsupportedMethod)

	for _, method := range []string{"post", "Put", "PATCH", "delete"} {
		require.NoError(t, a.AddEndpoint(method, "/thing", func(c *gin.Context) {
			c.String(http.StatusOK, c.Request.Method)
		}))
	}

	v := &visitor{t: t, h: a.Handler()}
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		w := v.do(method, "/thing")
		assert.Equal(t, http.StatusOK, w.Code, method)
		assert.Equal(t, method, w.Body.String())
	}

	w := v.do(http.MethodGet, "/thing")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNotFoundPage(t *testing.T) {
	gitea := newFakeGitea(t)
	a := newDemoApp(t, gitea.URL)
	v := &visitor{t: t, h: a.Handler()}

	w := v.do(http.MethodGet, "/missing")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
}

func TestOperationalRoutesSkipSession(t *testing.T) {
	gitea := newFakeGitea(t)
	a := newDemoApp(t, gitea.URL)
	v := &visitor{t: t, h: a.Handler()}

	w := v.do(http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Nil(t, v.cookie)

	login(t, v)

	w = v.do(http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `gitea_oauth_token_exchanges_total{outcome="success"} 1`)
}

func TestNewFailsWithUnreachableDiscovery(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.GiteaDiscovery = true

	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}
