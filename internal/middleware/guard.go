package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PercentBoat4164/GiteaOAuth/internal/auth"
	"github.com/PercentBoat4164/GiteaOAuth/internal/logger"
	"github.com/PercentBoat4164/GiteaOAuth/internal/metrics"
	"github.com/PercentBoat4164/GiteaOAuth/internal/session"
)

// DefaultEntryPath is where unauthenticated visitors are sent.
const DefaultEntryPath = "/auth"

const identityKey = "gitea_oauth.identity"

// IdentityProber resolves the session owner against the provider. Any error
// means the visitor is not authenticated.
type IdentityProber interface {
	CurrentUser(ctx context.Context, sess *session.Session) (*auth.Identity, error)
}

// AuthedHandlerFunc is a handler that only runs for authenticated visitors.
type AuthedHandlerFunc func(c *gin.Context, user *auth.Identity)

// Guard gates handlers behind a verified Gitea session.
type Guard struct {
	prober    IdentityProber
	metrics   *metrics.Metrics
	entryPath string
}

// NewGuard returns a Guard probing identities with prober. m may be nil.
func NewGuard(prober IdentityProber, m *metrics.Metrics) *Guard {
	return &Guard{
		prober:    prober,
		metrics:   m,
		entryPath: DefaultEntryPath,
	}
}

// Wrap returns a gin handler that runs next only after the session's tokens
// have been verified with a live identity probe. Otherwise the requested URI
// is remembered and the visitor is redirected to the entry page.
func (g *Guard) Wrap(next AuthedHandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := session.FromContext(c)
		if sess == nil {
			logger.Error("guard reached without session middleware", map[string]any{
				"path": c.Request.URL.Path,
			})
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		if !sess.HasTokenPair() {
			g.metrics.RecordGuard(metrics.DecisionNoTokens)
			g.deny(c, sess)
			return
		}

		// One round trip per guarded request; the probe may refresh tokens.
		user, err := g.prober.CurrentUser(c.Request.Context(), sess)
		if err != nil {
			g.metrics.RecordGuard(metrics.DecisionProbeFailed)
			logger.Info("guard identity probe failed", map[string]any{
				"path":  c.Request.URL.Path,
				"error": err.Error(),
			})
			g.deny(c, sess)
			return
		}

		g.metrics.RecordGuard(metrics.DecisionAllowed)
		c.Set(identityKey, user)
		next(c, user)
	}
}

func (g *Guard) deny(c *gin.Context, sess *session.Session) {
	sess.SetNextURI(c.Request.URL.RequestURI())
	c.Redirect(http.StatusFound, g.entryPath)
	c.Abort()
}

// IdentityFromContext returns the identity the guard verified for this
// request, if any.
func IdentityFromContext(c *gin.Context) (*auth.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*auth.Identity)
	return user, ok
}
