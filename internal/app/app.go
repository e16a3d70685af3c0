package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PercentBoat4164/GiteaOAuth/internal/auth/provider"
	"github.com/PercentBoat4164/GiteaOAuth/internal/auth/resolver"
	"github.com/PercentBoat4164/GiteaOAuth/internal/config"
	"github.com/PercentBoat4164/GiteaOAuth/internal/logger"
	"github.com/PercentBoat4164/GiteaOAuth/internal/metrics"
	"github.com/PercentBoat4164/GiteaOAuth/internal/middleware"
	"github.com/PercentBoat4164/GiteaOAuth/internal/session"
)

// ErrUnsupportedMethod is returned when an endpoint is registered with a
// method other than GET, POST, PUT, PATCH or DELETE.
var ErrUnsupportedMethod = errors.New("unsupported HTTP method")

const (
	limiterCleanupInterval = 5 * time.Minute
	limiterMaxIdle         = 30 * time.Minute
)

// Dependencies are the collaborators the server is built from. Resolver and
// Metrics may be nil.
type Dependencies struct {
	Provider provider.OAuthProvider
	Store    session.Store
	Resolver resolver.Resolver
	Metrics  *metrics.Metrics
}

type App struct {
	router     *gin.Engine
	routes     *gin.RouterGroup
	guard      *middleware.Guard
	httpServer *http.Server

	stopBackground context.CancelFunc
	cleanup        func() error
}

// New connects the configured backends and builds the server.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	infra, err := setupInfra(ctx, cfg)
	if err != nil {
		return nil, err
	}

	deps, err := dependencies(ctx, cfg, infra)
	if err != nil {
		_ = infra.Close()
		return nil, err
	}

	a := NewWithDependencies(cfg, deps)
	a.cleanup = infra.Close

	logger.Info("app configured", map[string]any{
		"gitea_api":    cfg.APIBaseURL(),
		"redirect_url": cfg.RedirectURL(),
		"redis":        cfg.UseRedis(),
		"database":     cfg.UseDatabase(),
	})

	return a, nil
}

// NewWithDependencies builds the server around already constructed
// collaborators.
func NewWithDependencies(cfg config.Config, deps Dependencies) *App {
	limiter := middleware.NewRateLimiter(cfg.AuthRateLimit, cfg.AuthRateBurst)
	router, routes := setupHTTP(cfg, deps, limiter)

	bgCtx, stop := context.WithCancel(context.Background())
	go limiter.RunCleanup(bgCtx, limiterCleanupInterval, limiterMaxIdle)

	return &App{
		router: router,
		routes: routes,
		guard:  middleware.NewGuard(deps.Provider, deps.Metrics),
		httpServer: &http.Server{
			Addr:              ":" + cfg.AppPort,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		stopBackground: stop,
	}
}

// AddEndpoint registers a public route. method is matched case-insensitively.
func (a *App) AddEndpoint(method, path string, h gin.HandlerFunc) error {
	m, err := normalizeMethod(method)
	if err != nil {
		return fmt.Errorf("register %s: %w", path, err)
	}
	a.routes.Handle(m, path, h)
	return nil
}

// AddAuthEndpoint registers a route that only authenticated visitors reach.
func (a *App) AddAuthEndpoint(method, path string, h middleware.AuthedHandlerFunc) error {
	m, err := normalizeMethod(method)
	if err != nil {
		return fmt.Errorf("register %s: %w", path, err)
	}
	a.routes.Handle(m, path, a.guard.Wrap(h))
	return nil
}

// NotFound sets the handler for requests that match no route.
func (a *App) NotFound(h gin.HandlerFunc) {
	a.router.NoRoute(h)
}

// Handler exposes the router, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.router
}

// Run serves until Shutdown is called.
func (a *App) Run() error {
	if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) Shutdown(ctx context.Context) error {
	a.stopBackground()

	if err := a.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	if a.cleanup != nil {
		return a.cleanup()
	}
	return nil
}

func normalizeMethod(method string) (string, error) {
	switch m := strings.ToUpper(method); m {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}
}
