package app

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/PercentBoat4164/GiteaOAuth/internal/auth/provider/gitea"
	"github.com/PercentBoat4164/GiteaOAuth/internal/auth/resolver"
	"github.com/PercentBoat4164/GiteaOAuth/internal/config"
	"github.com/PercentBoat4164/GiteaOAuth/internal/db"
	"github.com/PercentBoat4164/GiteaOAuth/internal/logger"
	"github.com/PercentBoat4164/GiteaOAuth/internal/metrics"
	"github.com/PercentBoat4164/GiteaOAuth/internal/redis"
	"github.com/PercentBoat4164/GiteaOAuth/internal/session"
)

type Infra struct {
	DB    *db.DB
	Redis *redis.Client
}

// Close releases whichever backends were opened.
func (i *Infra) Close() error {
	var errs []error
	if i.Redis != nil {
		errs = append(errs, i.Redis.Close())
	}
	if i.DB != nil {
		errs = append(errs, i.DB.Close())
	}
	return errors.Join(errs...)
}

func setupInfra(ctx context.Context, cfg config.Config) (*Infra, error) {
	infra := &Infra{}

	if cfg.UseDatabase() {
		database, err := db.Open(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		infra.DB = database
		logger.Info("database ready", nil)
	}

	if cfg.UseRedis() {
		client, err := redis.New(ctx, redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			_ = infra.Close()
			return nil, err
		}
		infra.Redis = client
		logger.Info("redis ready", map[string]any{"addr": cfg.RedisAddr})
	}

	return infra, nil
}

// dependencies builds everything the HTTP layer needs from cfg and infra.
func dependencies(ctx context.Context, cfg config.Config, infra *Infra) (Dependencies, error) {
	m := metrics.New()

	var store session.Store
	if infra.Redis != nil {
		store = session.NewRedisStore(infra.Redis.Client)
	} else {
		logger.Warn("REDIS_ADDR not set, sessions are kept in memory", nil)
		store = session.NewMemoryStore()
	}

	var res resolver.Resolver
	if infra.DB != nil {
		res = resolver.NewDBResolver(infra.DB)
	}

	httpClient := &http.Client{Timeout: cfg.UpstreamTimeout}

	endpoint := &oauth2.Endpoint{
		AuthURL:  cfg.AuthURL(),
		TokenURL: cfg.TokenURL(),
	}
	if cfg.GiteaDiscovery {
		discovered, err := gitea.Discover(ctx, cfg.GiteaIssuer, httpClient)
		if err != nil {
			return Dependencies{}, err
		}
		endpoint = discovered
	}

	p, err := gitea.NewProvider(&gitea.Config{
		BaseURL:        cfg.GiteaURL,
		ClientID:       cfg.GiteaClientID,
		ClientSecret:   cfg.GiteaClientSecret,
		RedirectURL:    cfg.RedirectURL(),
		Endpoint:       endpoint,
		HTTPClient:     httpClient,
		RequestTimeout: cfg.UpstreamTimeout,
		Metrics:        m,
	})
	if err != nil {
		return Dependencies{}, err
	}

	return Dependencies{
		Provider: p,
		Store:    store,
		Resolver: res,
		Metrics:  m,
	}, nil
}
