package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PercentBoat4164/GiteaOAuth/internal/app"
	"github.com/PercentBoat4164/GiteaOAuth/internal/auth"
	"github.com/PercentBoat4164/GiteaOAuth/internal/config"
	"github.com/PercentBoat4164/GiteaOAuth/internal/logger"
	"github.com/PercentBoat4164/GiteaOAuth/internal/web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init("info")
		logger.Fatal("invalid configuration", map[string]any{
			"error": err.Error(),
		})
	}
	logger.Init(cfg.LogLevel)
	defer logger.Sync()

	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialize app", map[string]any{
			"error": err.Error(),
		})
	}

	if err := registerRoutes(application); err != nil {
		logger.Fatal("route registration failed", map[string]any{
			"error": err.Error(),
		})
	}

	go func() {
		if err := application.Run(); err != nil {
			logger.Fatal("http server failed", map[string]any{
				"error": err.Error(),
			})
		}
	}()

	logger.Info("gitea-oauth started", map[string]any{
		"port": cfg.AppPort,
	})

	<-ctx.Done() // wait for Ctrl+C

	logger.Info("shutdown signal received", nil)

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", map[string]any{
			"error": err.Error(),
		})
		return
	}

	logger.Info("gitea-oauth stopped cleanly", nil)
}

func registerRoutes(a *app.App) error {
	if err := a.AddAuthEndpoint(http.MethodGet, "/userinfo", func(c *gin.Context, user *auth.Identity) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", user.Raw)
	}); err != nil {
		return err
	}
	if err := a.AddEndpoint(http.MethodGet, "/", web.Handler(http.StatusOK, web.IndexPage)); err != nil {
		return err
	}
	if err := a.AddEndpoint(http.MethodGet, "/gitealogo", web.Handler(http.StatusOK, web.GiteaLogo)); err != nil {
		return err
	}
	a.NotFound(web.Handler(http.StatusNotFound, web.NotFoundPage))
	return nil
}
