package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Load reads the TOML file at path over the built-in defaults, loads .env
// when present, applies SCALPER_* environment overrides and returns the
// result. The caller must still call Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides copies set SCALPER_* variables over the matching
// fields so secrets can be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	// ── Broker ──
	setStr(&cfg.Broker.RestHost, "SCALPER_BROKER_REST_HOST")
	setStr(&cfg.Broker.WsHost, "SCALPER_BROKER_WS_HOST")
	setStr(&cfg.Broker.Secret, "SCALPER_BROKER_SECRET")
	setStr(&cfg.Broker.SecretFile, "SCALPER_BROKER_SECRET_FILE")
	setStr(&cfg.Broker.SecretPassword, "SCALPER_BROKER_SECRET_PASSWORD")
	setStr(&cfg.Broker.AccountID, "SCALPER_BROKER_ACCOUNT_ID")
	setStr(&cfg.Broker.DefaultBoard, "SCALPER_BROKER_DEFAULT_BOARD")
	setDuration(&cfg.Broker.RequestTimeout, "SCALPER_BROKER_REQUEST_TIMEOUT")
	setFloat64(&cfg.Broker.OrderRatePerSec, "SCALPER_BROKER_ORDER_RATE_PER_SEC")
	setInt(&cfg.Broker.OrderBurst, "SCALPER_BROKER_ORDER_BURST")

	// ── Feed ──
	setStringSlice(&cfg.Feed.Symbols, "SCALPER_FEED_SYMBOLS")
	setInt(&cfg.Feed.Depth, "SCALPER_FEED_DEPTH")
	setDuration(&cfg.Feed.PublishInterval, "SCALPER_FEED_PUBLISH_INTERVAL")
	setDuration(&cfg.Feed.ReconnectDelay, "SCALPER_FEED_RECONNECT_DELAY")

	// ── Scalper ──
	setDecimal(&cfg.Scalper.Qty, "SCALPER_SCALPER_QTY")
	setBool(&cfg.Scalper.OrderQtyIsLots, "SCALPER_SCALPER_ORDER_QTY_IS_LOTS")
	setInt(&cfg.Scalper.LiquidityWindowMinutes, "SCALPER_SCALPER_LIQUIDITY_WINDOW_MINUTES")
	setDecimal(&cfg.Scalper.DensityCoef, "SCALPER_SCALPER_DENSITY_COEF")
	setDecimal(&cfg.Scalper.MinDayVolumeShares, "SCALPER_SCALPER_MIN_DAY_VOLUME_SHARES")
	setBool(&cfg.Scalper.OrderBookSizeIsLots, "SCALPER_SCALPER_ORDER_BOOK_SIZE_IS_LOTS")
	setInt(&cfg.Scalper.EntryOffsetTicks, "SCALPER_SCALPER_ENTRY_OFFSET_TICKS")
	setDecimal(&cfg.Scalper.TakeProfitPct, "SCALPER_SCALPER_TAKE_PROFIT_PCT")
	setDecimal(&cfg.Scalper.BreakFactor, "SCALPER_SCALPER_BREAK_FACTOR")
	setInt64(&cfg.Scalper.CooldownMs, "SCALPER_SCALPER_COOLDOWN_MS")
	setInt(&cfg.Scalper.Depth, "SCALPER_SCALPER_DEPTH")
	setInt64(&cfg.Scalper.BreakCheckMs, "SCALPER_SCALPER_BREAK_CHECK_MS")
	setBool(&cfg.Scalper.Autostart, "SCALPER_SCALPER_AUTOSTART")
	setBool(&cfg.Scalper.DistributedLock, "SCALPER_SCALPER_DISTRIBUTED_LOCK")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "SCALPER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SCALPER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SCALPER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SCALPER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SCALPER_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "SCALPER_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "SCALPER_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "SCALPER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SCALPER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SCALPER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SCALPER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SCALPER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SCALPER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SCALPER_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "SCALPER_POSTGRES_RUN_MIGRATIONS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SCALPER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SCALPER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SCALPER_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SCALPER_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMinute, "SCALPER_SERVER_RATE_LIMIT_PER_MINUTE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SCALPER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SCALPER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SCALPER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SCALPER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SCALPER_MODE")
	setStr(&cfg.LogLevel, "SCALPER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDecimal(dst *decimal.Decimal, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(strings.TrimSpace(v)); err == nil {
			*dst = d
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
