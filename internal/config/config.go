// Package config defines the scalper's configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/densityscalper/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SCALPER_* environment variables.
type Config struct {
	Broker   BrokerConfig   `toml:"broker"`
	Feed     FeedConfig     `toml:"feed"`
	Scalper  ScalperConfig  `toml:"scalper"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// BrokerConfig holds the broker endpoints, credentials and client limits.
type BrokerConfig struct {
	RestHost           string   `toml:"rest_host"`
	WsHost             string   `toml:"ws_host"`
	Secret             string   `toml:"secret"`
	SecretFile         string   `toml:"secret_file"`
	SecretPassword     string   `toml:"secret_password"`
	AccountID          string   `toml:"account_id"`
	DefaultBoard       string   `toml:"default_board"`
	RequestTimeout     duration `toml:"request_timeout"`
	OrderRatePerSec    float64  `toml:"order_rate_per_sec"`
	OrderBurst         int      `toml:"order_burst"`
	BreakerMaxFailures uint32   `toml:"breaker_max_failures"`
	BreakerOpenTimeout duration `toml:"breaker_open_timeout"`
}

// FeedConfig selects the symbols to stream and the publish cadence.
type FeedConfig struct {
	Symbols         []string `toml:"symbols"`
	Depth           int      `toml:"depth"`
	PublishInterval duration `toml:"publish_interval"`
	ReconnectDelay  duration `toml:"reconnect_delay"`
}

// ScalperConfig holds the strategy parameters. Decimal fields are written
// as quoted strings ("0.002") so they parse exactly.
type ScalperConfig struct {
	Qty                    decimal.Decimal `toml:"qty"`
	OrderQtyIsLots         bool            `toml:"order_qty_is_lots"`
	LiquidityWindowMinutes int             `toml:"liquidity_window_minutes"`
	DensityCoef            decimal.Decimal `toml:"density_coef"`
	MinDayVolumeShares     decimal.Decimal `toml:"min_day_volume_shares"`
	OrderBookSizeIsLots    bool            `toml:"order_book_size_is_lots"`
	EntryOffsetTicks       int             `toml:"entry_offset_ticks"`
	TakeProfitPct          decimal.Decimal `toml:"take_profit_pct"`
	BreakFactor            decimal.Decimal `toml:"break_factor"`
	CooldownMs             int64           `toml:"cooldown_ms"`
	Depth                  int             `toml:"depth"`
	BreakCheckMs           int64           `toml:"break_check_ms"`
	Autostart              bool            `toml:"autostart"`
	DistributedLock        bool            `toml:"distributed_lock"`
	LockTTL                duration        `toml:"lock_ttl"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int64  `toml:"stream_max_len"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// ServerConfig holds the control API settings.
type ServerConfig struct {
	Enabled            bool     `toml:"enabled"`
	Port               int      `toml:"port"`
	CORSOrigins        []string `toml:"cors_origins"`
	APIKey             string   `toml:"api_key"`
	RateLimitPerMinute int      `toml:"rate_limit_per_minute"`
}

// NotifyConfig holds alert channel credentials and the stage filter.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so TOML strings like "250ms" decode.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Defaults returns a Config populated with the stock values.
func Defaults() Config {
	s := domain.DefaultScalperSettings()
	return Config{
		Broker: BrokerConfig{
			RestHost:           "https://api.broker.example",
			WsHost:             "wss://api.broker.example/v1/ws",
			DefaultBoard:       "MISX",
			RequestTimeout:     duration{10 * time.Second},
			OrderRatePerSec:    5,
			OrderBurst:         5,
			BreakerMaxFailures: 5,
			BreakerOpenTimeout: duration{30 * time.Second},
		},
		Feed: FeedConfig{
			Depth:           20,
			PublishInterval: duration{250 * time.Millisecond},
			ReconnectDelay:  duration{300 * time.Millisecond},
		},
		Scalper: ScalperConfig{
			Qty:                    s.Qty,
			OrderQtyIsLots:         s.OrderQtyIsLots,
			LiquidityWindowMinutes: s.LiquidityWindowMinutes,
			DensityCoef:            s.DensityCoef,
			MinDayVolumeShares:     s.MinDayVolumeShares,
			OrderBookSizeIsLots:    s.OrderBookSizeIsLots,
			EntryOffsetTicks:       s.EntryOffsetTicks,
			TakeProfitPct:          s.TakeProfitPct,
			BreakFactor:            s.BreakFactor,
			CooldownMs:             s.CooldownMs,
			Depth:                  s.Depth,
			BreakCheckMs:           s.BreakCheckMs,
			Autostart:              true,
			LockTTL:                duration{2 * time.Minute},
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MaxRetries:   3,
			StreamMaxLen: 10000,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "scalper",
			User:          "scalper",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Server: ServerConfig{
			Enabled:            true,
			Port:               8000,
			CORSOrigins:        []string{"http://localhost:3000"},
			RateLimitPerMinute: 120,
		},
		Notify: NotifyConfig{
			Events: []string{"panic", "emergency_exit", "tp_placement_failed", "error"},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// ToScalperSettings converts the strategy section to domain settings.
func (c *Config) ToScalperSettings() domain.ScalperSettings {
	s := c.Scalper
	return domain.ScalperSettings{
		Qty:                    s.Qty,
		OrderQtyIsLots:         s.OrderQtyIsLots,
		LiquidityWindowMinutes: s.LiquidityWindowMinutes,
		DensityCoef:            s.DensityCoef,
		MinDayVolumeShares:     s.MinDayVolumeShares,
		OrderBookSizeIsLots:    s.OrderBookSizeIsLots,
		EntryOffsetTicks:       s.EntryOffsetTicks,
		TakeProfitPct:          s.TakeProfitPct,
		BreakFactor:            s.BreakFactor,
		CooldownMs:             s.CooldownMs,
		Depth:                  s.Depth,
		BreakCheckMs:           s.BreakCheckMs,
	}
}

var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

const (
	minPublishInterval = 100 * time.Millisecond
	maxPublishInterval = 250 * time.Millisecond
)

// Validate checks Config for invalid or missing values and returns one
// error listing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Broker.RestHost == "" {
		errs = append(errs, "broker: rest_host must not be empty")
	}
	if c.Broker.WsHost == "" {
		errs = append(errs, "broker: ws_host must not be empty")
	}
	if c.Broker.Secret == "" && c.Broker.SecretFile == "" {
		errs = append(errs, "broker: either secret or secret_file must be set")
	}
	if c.Broker.SecretFile != "" && c.Broker.Secret == "" && c.Broker.SecretPassword == "" {
		errs = append(errs, "broker: secret_password is required when secret_file is set")
	}
	if c.Broker.OrderRatePerSec <= 0 {
		errs = append(errs, "broker: order_rate_per_sec must be > 0")
	}
	if c.Broker.OrderBurst < 1 {
		errs = append(errs, "broker: order_burst must be >= 1")
	}

	if len(c.Feed.Symbols) == 0 {
		errs = append(errs, "feed: symbols must list at least one symbol")
	}
	if c.Feed.Depth < 1 {
		errs = append(errs, "feed: depth must be >= 1")
	}
	if p := c.Feed.PublishInterval.Duration; p < minPublishInterval || p > maxPublishInterval {
		errs = append(errs, fmt.Sprintf("feed: publish_interval must be between %s and %s, got %s",
			minPublishInterval, maxPublishInterval, p))
	}
	if c.Feed.ReconnectDelay.Duration <= 0 {
		errs = append(errs, "feed: reconnect_delay must be > 0")
	}

	s := c.Scalper
	one := decimal.NewFromInt(1)
	if !s.Qty.IsPositive() {
		errs = append(errs, "scalper: qty must be > 0")
	}
	if s.LiquidityWindowMinutes < 1 {
		errs = append(errs, "scalper: liquidity_window_minutes must be >= 1")
	}
	if !s.DensityCoef.IsPositive() {
		errs = append(errs, "scalper: density_coef must be > 0")
	}
	if s.MinDayVolumeShares.IsNegative() {
		errs = append(errs, "scalper: min_day_volume_shares must be >= 0")
	}
	if s.EntryOffsetTicks < 0 {
		errs = append(errs, "scalper: entry_offset_ticks must be >= 0")
	}
	if !s.TakeProfitPct.IsPositive() || s.TakeProfitPct.GreaterThanOrEqual(one) {
		errs = append(errs, "scalper: take_profit_pct must be in (0, 1)")
	}
	if !s.BreakFactor.IsPositive() || s.BreakFactor.GreaterThan(one) {
		errs = append(errs, "scalper: break_factor must be in (0, 1]")
	}
	if s.CooldownMs < 0 {
		errs = append(errs, "scalper: cooldown_ms must be >= 0")
	}
	if s.Depth < 1 {
		errs = append(errs, "scalper: depth must be >= 1")
	} else if s.Depth > c.Feed.Depth {
		errs = append(errs, fmt.Sprintf("scalper: depth %d exceeds feed depth %d", s.Depth, c.Feed.Depth))
	}
	if s.BreakCheckMs < 1 {
		errs = append(errs, "scalper: break_check_ms must be >= 1")
	}
	if s.DistributedLock && !c.Redis.Enabled {
		errs = append(errs, "scalper: distributed_lock requires redis.enabled")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.Postgres.Enabled {
		if c.Postgres.DSN == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port < 1 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitPerMinute < 0 {
			errs = append(errs, "server: rate_limit_per_minute must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
