package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PercentBoat4164/GiteaOAuth/internal/auth/provider"
	"github.com/PercentBoat4164/GiteaOAuth/internal/auth/resolver"
	"github.com/PercentBoat4164/GiteaOAuth/internal/logger"
	"github.com/PercentBoat4164/GiteaOAuth/internal/session"
	"github.com/PercentBoat4164/GiteaOAuth/internal/web"
)

// Fixed routes of the login flow.
const (
	EntryPath    = "/auth"
	LoginPath    = "/gitea_oauth"
	CallbackPath = "/token_callback"

	rootPath = "/"
)

const (
	exchangeFailedNotice = "There was a problem with retrieving Gitea Access token."
	badCallbackNotice    = "The login attempt could not be verified. Please start again from /auth."
)

// Handler implements the redirect dance: entry page, dispatch to the
// provider, and the token callback.
type Handler struct {
	provider provider.OAuthProvider
	resolver resolver.Resolver
}

// NewHandler wires the login flow. resolver may be nil, in which case
// identities are not linked to local users.
func NewHandler(p provider.OAuthProvider, r resolver.Resolver) *Handler {
	return &Handler{
		provider: p,
		resolver: r,
	}
}

// RegisterRoutes mounts the three login routes. Extra middleware, such as a
// rate limiter, applies to dispatch and callback only.
func (h *Handler) RegisterRoutes(r gin.IRoutes, mw ...gin.HandlerFunc) {
	r.GET(EntryPath, h.entry)
	r.GET(LoginPath, chain(mw, h.dispatch)...)
	r.GET(CallbackPath, chain(mw, h.callback)...)

	logger.Debug("login routes registered", map[string]any{
		"entry":    EntryPath,
		"login":    LoginPath,
		"callback": CallbackPath,
	})
}

func chain(mw []gin.HandlerFunc, final gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(mw)+1)
	out = append(out, mw...)
	return append(out, final)
}

func (h *Handler) entry(c *gin.Context) {
	web.Serve(c, http.StatusOK, web.AuthPage)
}

func (h *Handler) dispatch(c *gin.Context) {
	sess := session.FromContext(c)
	if sess == nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	// No token pair yet: send the visitor to the provider's login page.
	if !sess.HasTokenPair() {
		state, err := issueState(sess)
		if err != nil {
			logger.Error("oauth state generation failed", map[string]any{
				"error": err.Error(),
			})
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Redirect(http.StatusFound, h.provider.AuthCodeURL(state))
		return
	}

	// Reached only with a token pair, so a pending destination set by the
	// guard before login is consumed by the callback, not here.
	h.redirectToNext(c, sess)
}

func (h *Handler) callback(c *gin.Context) {
	sess := session.FromContext(c)
	if sess == nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	if errParam := c.Query("error"); errParam != "" {
		sess.TakeState()
		logger.Warn("gitea callback returned error", map[string]any{
			"error": errParam,
			"desc":  c.Query("error_description"),
		})
		c.String(http.StatusBadRequest, badCallbackNotice)
		return
	}

	if !consumeState(sess, c.Query("state")) {
		logger.Warn("gitea callback state mismatch", map[string]any{
			"ip": c.ClientIP(),
		})
		c.String(http.StatusBadRequest, badCallbackNotice)
		return
	}

	code := c.Query("code")
	if code == "" {
		logger.Error("gitea callback missing code", nil)
		c.String(http.StatusBadRequest, badCallbackNotice)
		return
	}

	token, err := h.provider.ExchangeCode(c.Request.Context(), code)
	if err != nil {
		// No retry; the visitor starts over from the entry page.
		c.String(http.StatusBadGateway, exchangeFailedNotice)
		return
	}

	sess.SetTokens(token.AccessToken, token.RefreshToken)
	h.linkIdentity(c.Request.Context(), sess)

	logger.Info("gitea login succeeded", map[string]any{
		"has_refresh_token": token.RefreshToken != "",
		"user_id":           sess.UserID,
		"ip":                c.ClientIP(),
	})

	h.redirectToNext(c, sess)
}

// redirectToNext sends the visitor to the pending destination, clearing it,
// or to the application root.
func (h *Handler) redirectToNext(c *gin.Context, sess *session.Session) {
	if next := sess.TakeNextURI(); next != "" {
		c.Redirect(http.StatusFound, next)
		return
	}
	c.Redirect(http.StatusFound, rootPath)
}

// linkIdentity records the local user behind the new tokens. Failures are
// logged and never block the login.
func (h *Handler) linkIdentity(ctx context.Context, sess *session.Session) {
	if h.resolver == nil {
		return
	}

	identity, err := h.provider.CurrentUser(ctx, sess)
	if err != nil {
		logger.Warn("identity lookup after login failed", map[string]any{
			"error": err.Error(),
		})
		return
	}

	userID, err := h.resolver.Resolve(ctx, identity)
	if err != nil {
		logger.Error("identity linking failed", map[string]any{
			"provider":         identity.Provider,
			"provider_user_id": identity.ProviderUserID,
			"error":            err.Error(),
		})
		return
	}

	sess.SetUserID(userID)
}
