package app

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PercentBoat4164/GiteaOAuth/internal/auth/handler"
	"github.com/PercentBoat4164/GiteaOAuth/internal/config"
	"github.com/PercentBoat4164/GiteaOAuth/internal/middleware"
	"github.com/PercentBoat4164/GiteaOAuth/internal/session"
)

// setupHTTP builds the engine with the built-in routes. It returns the group
// that carries the session middleware, on which application routes go.
func setupHTTP(cfg config.Config, deps Dependencies, limiter *middleware.RateLimiter) (*gin.Engine, *gin.RouterGroup) {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(deps.Metrics))

	// ----------------------------
	// Operational routes (no session)
	// ----------------------------

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	// ----------------------------
	// Session-backed routes
	// ----------------------------

	routes := router.Group("/", session.Middleware(
		deps.Store,
		session.CookieOptions{Secure: cfg.SecureCookies()},
		cfg.SessionTTL,
	))

	authHandler := handler.NewHandler(deps.Provider, deps.Resolver)
	authHandler.RegisterRoutes(routes, limiter.Middleware())

	return router, routes
}
