package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wzwatch/wenzheng-cli/internal/resilience"
	"github.com/wzwatch/wenzheng-cli/internal/store"
	"github.com/wzwatch/wenzheng-cli/pkg/wenzheng"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "wenzheng.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initClient builds the board API client from the api config section.
func initClient() wenzheng.Client {
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.API.RetryAttempts

	opts := []wenzheng.Option{
		wenzheng.WithBaseURL(cfg.API.BaseURL),
		wenzheng.WithRateLimit(cfg.API.RatePerSec, cfg.API.Burst),
		wenzheng.WithRetry(retry),
		wenzheng.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.API.TimeoutSecs) * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		}),
	}
	if cfg.API.UserAgent != "" {
		opts = append(opts, wenzheng.WithUserAgent(cfg.API.UserAgent))
	}
	if len(cfg.API.Headers) > 0 {
		opts = append(opts, wenzheng.WithHeaders(cfg.API.Headers))
	}
	if cfg.API.BreakerThreshold > 0 {
		breaker := resilience.NewBreaker(resilience.BreakerConfig{
			Threshold: cfg.API.BreakerThreshold,
			Cooldown:  time.Duration(cfg.API.BreakerCooldownSecs) * time.Second,
			OnStateChange: func(from, to resilience.BreakerState) {
				zap.L().Warn("api circuit breaker state change",
					zap.Stringer("from", from),
					zap.Stringer("to", to),
				)
			},
		})
		opts = append(opts, wenzheng.WithBreaker(breaker))
	}
	return wenzheng.NewClient(opts...)
}
