package session

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PercentBoat4164/GiteaOAuth/internal/logger"
)

const (
	contextKey = "gitea_oauth.session"

	saveTimeout = 5 * time.Second
)

// Middleware attaches the visitor's session to the gin context, creating an
// empty one on first contact, and persists it after the handler returns if it
// is new or was modified.
func Middleware(store Store, opts CookieOptions, ttl time.Duration) gin.HandlerFunc {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var sess *Session
		if id := readCookie(c.Request, opts); id != "" {
			loaded, err := store.Get(ctx, id)
			if err != nil {
				logger.Error("session load failed", map[string]any{
					"error": err.Error(),
				})
				c.AbortWithStatus(http.StatusServiceUnavailable)
				return
			}
			sess = loaded
		}

		if sess == nil {
			id, err := GenerateID()
			if err != nil {
				logger.Error("session id generation failed", map[string]any{
					"error": err.Error(),
				})
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			sess = New(id, time.Now(), ttl)
			SetCookie(c.Writer, sess.ID, sess.ExpiresAt, opts)
		}

		c.Set(contextKey, sess)
		c.Next()

		if !sess.IsNew() && !sess.Modified() {
			return
		}
		// The visitor may be gone by now, but a refreshed token pair must
		// still land in the store.
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
		defer cancel()

		if err := store.Save(saveCtx, sess); err != nil {
			logger.Error("session save failed", map[string]any{
				"error": err.Error(),
				"path":  c.Request.URL.Path,
			})
		}
	}
}

// FromContext returns the session attached by Middleware, or nil.
func FromContext(c *gin.Context) *Session {
	v, ok := c.Get(contextKey)
	if !ok {
		return nil
	}
	s, _ := v.(*Session)
	return s
}

// WithSession attaches s to the gin context directly. Used when the handler
// chain runs without Middleware, as in tests.
func WithSession(c *gin.Context, s *Session) {
	c.Set(contextKey, s)
}
