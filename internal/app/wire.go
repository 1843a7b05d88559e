package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/densityscalper/internal/cache/redis"
	"github.com/alanyoungcy/densityscalper/internal/config"
	"github.com/alanyoungcy/densityscalper/internal/domain"
	"github.com/alanyoungcy/densityscalper/internal/metrics"
	"github.com/alanyoungcy/densityscalper/internal/notify"
	"github.com/alanyoungcy/densityscalper/internal/service"
	"github.com/alanyoungcy/densityscalper/internal/store/postgres"
)

// Dependencies bundles the optional infrastructure the modes share. Every
// interface field is nil when its backend is disabled.
type Dependencies struct {
	// Redis
	SignalBus   domain.SignalBus
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter
	BookCache   domain.BookCache

	// PostgreSQL
	AuditStore domain.AuditStore

	// Notifications
	Notifier *notify.Notifier

	Metrics *metrics.Registry
}

// alerter returns the notifier as a journal alerter, or nil when no
// sender is configured.
func (d *Dependencies) alerter() service.Alerter {
	if d.Notifier == nil {
		return nil
	}
	return d.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Metrics: metrics.New()}

	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.AuditStore = postgres.NewAuditStore(pgClient.Pool())
		logger.Info("postgres audit log enabled")
	}

	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MaxRetries:   cfg.Redis.MaxRetries,
			TLSEnabled:   cfg.Redis.TLSEnabled,
			StreamMaxLen: cfg.Redis.StreamMaxLen,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.BookCache = redis.NewBookCache(redisClient, redis.DefaultBookTTL)
		logger.Info("redis enabled", slog.String("addr", cfg.Redis.Addr))
	}

	deps.Notifier = notify.FromConfig(notify.Config{
		TelegramToken:     cfg.Notify.TelegramToken,
		TelegramChatID:    cfg.Notify.TelegramChatID,
		DiscordWebhookURL: cfg.Notify.DiscordWebhookURL,
		Events:            cfg.Notify.Events,
	}, logger)

	return deps, cleanup, nil
}
